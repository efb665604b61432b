package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"regdesk/internal/conversation/state"
	"regdesk/internal/notify"
	"regdesk/internal/platform/privacy"
	"regdesk/internal/records"
	"regdesk/internal/verification"
	dErrors "regdesk/pkg/domain-errors"
)

// Keys of State.Data written by the registration steps.
const (
	keyCourseID     = "course_id"
	keyCourse       = "course"
	keyCourseDate   = "course_date"
	keyPaymentLink  = "payment_link"
	keyFirstName    = "first_name"
	keyLastName     = "last_name"
	keyFullName     = "full_name"
	keyEmail        = "email"
	keyPhone        = "phone_number"
	keyPayer        = "payer_full_name"
	keyCardNumber   = "pr_card_number"
	keyAmount       = "amount"
	keySubmissionID = "submission_id"
	keyPaidAmount   = "actual_paid_amount"
)

// submissionNamespace seeds deterministic submission ids.
var submissionNamespace = uuid.MustParse("6f1c1f5e-8a51-4c4e-9a0b-0c7e6d1d2a47")

const (
	formPrompt   = "Please fill in the registration form."
	uploadPrompt = "Please upload a clear photo of the front of your PR card."
	lookupPrompt = "What full name was used on the registration?"
	holdMessage  = "Your PR card is with our staff for review. We'll pick up from here as soon as it has been checked."
	chatFallback = "I can help you register for a course or look up an existing registration. Say \"register\" to get started."
)

var (
	registerWords = []string{"register", "registration", "sign up", "signup", "enrol", "enroll", "course", "class", "book"}
	lookupWords   = []string{"retrieve", "status", "look up", "lookup", "already registered", "did i pay", "find my"}
)

type handlers struct {
	catalog    *Catalog
	records    records.Store
	verifier   Verifier
	publisher  Publisher
	chatter    Chatter
	maxUploads int
	logger     *slog.Logger
	now        func() time.Time
}

func (h *handlers) table() map[Step]Handler {
	return map[Step]Handler{
		StepRouter:        h.router,
		StepAskCourse:     h.askCourse,
		StepDisplayForm:   h.displayForm,
		StepStoreInfo:     h.storeInfo,
		StepCheckPRStatus: h.checkPRStatus,
		StepAskPRUpload:   h.askPRUpload,
		StepValidatePR:    h.validatePR,
		StepReviewHold:    h.reviewHold,
		StepPaymentPhase:  h.paymentPhase,
		StepCheckPayment:  h.checkPayment,
		StepPaymentRetry:  h.paymentRetry,
		StepFinalize:      h.finalize,
		StepGeneralChat:   h.generalChat,
		StepLookup:        h.lookup,
	}
}

// prompt is the reminder shown when a wait step receives an empty turn.
func (h *handlers) prompt(step Step) string {
	switch step {
	case StepWaitForCourse:
		return "Which course would you like to register for?\n" + h.catalog.Menu() + tag(UIShowCourseSelector)
	case StepWaitForForm:
		return formPrompt + tag(UIShowRegistrationForm)
	case StepWaitForUpload:
		return uploadPrompt + tag(UIShowUpload)
	case StepWaitForPaymentConf:
		return "Let me know once you've completed the payment and I'll check on it."
	case StepWaitForLookup:
		return lookupPrompt
	case StepAwaitingReview:
		return holdMessage
	}
	return chatFallback
}

func (h *handlers) router(_ context.Context, tc TurnContext) (Outcome, error) {
	text := strings.ToLower(tc.Input.Text)
	switch {
	case containsAny(text, lookupWords):
		return Outcome{Next: StepLookup}, nil
	case containsAny(text, registerWords):
		return Outcome{Next: StepAskCourse}, nil
	}
	return Outcome{Next: StepGeneralChat}, nil
}

func (h *handlers) askCourse(context.Context, TurnContext) (Outcome, error) {
	return Outcome{
		Delta:   Delta{Reset: true},
		Replies: []string{"Which course would you like to register for?\n" + h.catalog.Menu() + tag(UIShowCourseSelector)},
		Next:    StepWaitForCourse,
	}, nil
}

func (h *handlers) displayForm(_ context.Context, tc TurnContext) (Outcome, error) {
	course, ok := h.catalog.Resolve(tc.Input.Text)
	if !ok {
		return Outcome{
			Replies: []string{"I couldn't match that to one of our courses. Please pick one from the list." + tag(UIShowCourseSelector)},
			Next:    StepWaitForCourse,
		}, nil
	}
	title, date := h.catalog.Split(course)
	return Outcome{
		Delta: Delta{Data: map[string]string{
			keyCourseID:    course.ID,
			keyCourse:      title,
			keyCourseDate:  date,
			keyPaymentLink: course.PaymentLink,
		}},
		Replies: []string{fmt.Sprintf("Great choice: %s. %s", course.Name, formPrompt) + tag(UIShowRegistrationForm)},
		Next:    StepWaitForForm,
	}, nil
}

func (h *handlers) storeInfo(ctx context.Context, tc TurnContext) (Outcome, error) {
	form, err := ParseForm(tc.Input.Text)
	if dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeExtraction) {
		return Outcome{
			Replies: []string{fmt.Sprintf("Some details need fixing: %s. %s", err.Error(), formPrompt) + tag(UIShowRegistrationForm)},
			Next:    StepWaitForForm,
		}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	data := tc.State.Data
	course, ok := h.catalog.ByID(data[keyCourseID])
	if !ok {
		return Outcome{}, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("course %q is not in the catalog", data[keyCourseID]))
	}
	submissionID, amount, err := h.register(ctx, tc.State.SessionID, course, form)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Delta: Delta{
			IsPR: ptr(form.IsPR),
			Data: map[string]string{
				keyFirstName:    form.FirstName,
				keyLastName:     form.LastName,
				keyFullName:     form.FullName(),
				keyEmail:        form.Email,
				keyPhone:        form.PhoneNumber,
				keyPayer:        form.PayerFullName(),
				keyCardNumber:   form.PRCardNumber,
				keyAmount:       amount.StringFixed(2),
				keySubmissionID: submissionID,
			},
		},
		Replies: []string{fmt.Sprintf("Thanks, %s. Your registration for %s on %s has been recorded.", form.FirstName, data[keyCourse], data[keyCourseDate])},
		Next:    StepCheckPRStatus,
	}, nil
}

// register stores the registration once per session, course and registrant.
// A retried turn derives the same submission id and finds the existing row.
func (h *handlers) register(ctx context.Context, sessionID string, course Course, form Form) (string, decimal.Decimal, error) {
	title, date := h.catalog.Split(course)
	amount := course.Amount(form.IsPR)
	submissionID := uuid.NewSHA1(submissionNamespace, []byte(strings.Join([]string{
		sessionID, course.ID, date, strings.ToLower(form.FullName()),
	}, "|"))).String()

	existing, err := h.records.Find(ctx, records.Eq(records.ColSubmissionID, submissionID))
	if err != nil {
		return "", decimal.Decimal{}, err
	}
	if len(existing) > 0 {
		h.logger.InfoContext(ctx, "registration already stored",
			"submission_id", submissionID,
			"full_name", privacy.MaskName(form.FullName()),
		)
		return submissionID, amount, nil
	}

	reg := records.Registration{
		FormID:          course.ID,
		SubmissionID:    submissionID,
		FullName:        form.FullName(),
		FirstName:       form.FirstName,
		LastName:        form.LastName,
		Email:           form.Email,
		PhoneNumber:     form.PhoneNumber,
		PRStatus:        form.IsPR,
		PRCardNumber:    form.PRCardNumber,
		AmountOfPayment: amount,
		PayerFullName:   form.PayerFullName(),
		Course:          title,
		CourseDate:      date,
		PaymentLink:     course.PaymentLink,
	}
	if _, err := h.records.Append(ctx, reg.Fields()); err != nil {
		return "", decimal.Decimal{}, err
	}
	h.publish(ctx, notify.Event{
		Kind:       notify.KindRegistrationReceived,
		Recipient:  form.Email,
		FullName:   form.FullName(),
		Course:     title,
		CourseDate: date,
		Message:    fmt.Sprintf("Registration received for %s on %s.", title, date),
		Data:       map[string]string{"submission_id": submissionID, "amount": amount.StringFixed(2)},
	})
	return submissionID, amount, nil
}

func (h *handlers) checkPRStatus(_ context.Context, tc TurnContext) (Outcome, error) {
	if tc.State.IsPR {
		return Outcome{Next: StepAskPRUpload}, nil
	}
	return Outcome{Next: StepPaymentPhase}, nil
}

func (h *handlers) askPRUpload(context.Context, TurnContext) (Outcome, error) {
	return Outcome{
		Replies: []string{"Since you're registering as a permanent resident, we need to verify your PR card. " + uploadPrompt + tag(UIShowUpload)},
		Next:    StepWaitForUpload,
	}, nil
}

func (h *handlers) validatePR(ctx context.Context, tc TurnContext) (Outcome, error) {
	if strings.TrimSpace(tc.Input.ImageRef) == "" {
		return Outcome{
			Replies: []string{"I still need an image of your PR card. " + uploadPrompt + tag(UIShowUpload)},
			Next:    StepWaitForUpload,
		}, nil
	}

	data := tc.State.Data
	attempt := tc.State.RetryCount + 1
	res := h.verifier.Verify(ctx, verification.Request{
		ImageRef: tc.Input.ImageRef,
		Identity: verification.Identity{
			FirstName:  data[keyFirstName],
			LastName:   data[keyLastName],
			FullName:   data[keyFullName],
			CardNumber: data[keyCardNumber],
		},
		Course:     data[keyCourse],
		CourseDate: data[keyCourseDate],
	})

	switch {
	case res.Status == verification.StatusSuccess && res.Valid:
		return Outcome{
			Delta:   Delta{RetryCount: ptr(0), ManualReview: ptr(false)},
			Replies: []string{"Thanks, your PR card has been verified."},
			Next:    StepPaymentPhase,
		}, nil
	case res.Retryable() && attempt < h.maxUploads:
		return Outcome{
			Delta: Delta{RetryCount: ptr(attempt)},
			Replies: []string{fmt.Sprintf("That looks like a general photo ID rather than a PR card. %s (attempt %d of %d)",
				uploadPrompt, attempt, h.maxUploads) + tag(UIShowUpload)},
			Next: StepWaitForUpload,
		}, nil
	}

	h.escalate(ctx, tc.State, tc.Input.ImageRef, attempt, res)
	return Outcome{
		Delta:   Delta{RetryCount: ptr(attempt), ManualReview: ptr(true)},
		Replies: []string{"We couldn't verify your PR card automatically. " + holdMessage},
		Next:    StepAwaitingReview,
	}, nil
}

// escalate hands an unverified PR card to staff. Results that did not flag
// manual review themselves (exhausted retries) are raised with the same code.
func (h *handlers) escalate(ctx context.Context, st *state.State, imageRef string, attempt int, res *verification.Result) {
	reviewErr := res.Err()
	if reviewErr == nil {
		reviewErr = dErrors.New(dErrors.CodeManualReview, strings.Join(res.Reasons, " "))
	}
	data := st.Data
	h.logger.WarnContext(ctx, "pr card routed to manual review",
		"session_id", st.SessionID,
		"full_name", privacy.MaskName(data[keyFullName]),
		"attempts", attempt,
		"error", reviewErr,
	)
	h.publish(ctx, notify.Event{
		Kind:       notify.KindManualReview,
		FullName:   data[keyFullName],
		Course:     data[keyCourse],
		CourseDate: data[keyCourseDate],
		Message:    fmt.Sprintf("PR card for %s needs manual review: %s", data[keyFullName], reviewErr),
		Data: map[string]string{
			"session_id":    st.SessionID,
			"submission_id": data[keySubmissionID],
			"image_ref":     imageRef,
			"attempts":      fmt.Sprint(attempt),
		},
	})
}

// approveCard marks the pending registration's PR card as valid after a staff
// approval. It reports false when no single pending row matches.
func (h *handlers) approveCard(ctx context.Context, st *state.State) (bool, error) {
	data := st.Data
	key := append(records.PendingKey(data[keyFullName], data[keyCourse], data[keyCourseDate]),
		records.Eq(records.ColPRCardNumber, data[keyCardNumber]))
	ok, err := h.records.Update(ctx, records.Fields{
		string(records.ColPRCardValid):           records.FormatBool(true),
		string(records.ColPRCardValidConfidence): "1.00",
	}, key...)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeStoreIO, "record review approval")
	}
	return ok, nil
}

func (h *handlers) reviewHold(context.Context, TurnContext) (Outcome, error) {
	return Outcome{Replies: []string{holdMessage}, Next: StepAwaitingReview}, nil
}

func (h *handlers) paymentPhase(_ context.Context, tc TurnContext) (Outcome, error) {
	data := tc.State.Data
	return Outcome{
		Replies: []string{fmt.Sprintf(
			"The fee for %s is $%s. Please pay using this link: %s\nPlease make the payment under the name %s so we can match it to your registration, then let me know once you're done.",
			data[keyCourse], data[keyAmount], data[keyPaymentLink], data[keyPayer]) + tag(UIShowPayment)},
		Next: StepWaitForPaymentConf,
	}, nil
}

func (h *handlers) checkPayment(ctx context.Context, tc TurnContext) (Outcome, error) {
	id := tc.State.Data[keySubmissionID]
	rows, err := h.records.Find(ctx, records.Eq(records.ColSubmissionID, id))
	if err != nil {
		return Outcome{}, err
	}
	if len(rows) != 1 {
		return Outcome{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("%d registrations for submission %s", len(rows), id))
	}
	reg := records.RegistrationFromRow(rows[0])

	switch {
	case !reg.Paid.IsSet():
		return Outcome{
			Replies: []string{"I haven't received your payment yet. Confirmations can take a few minutes to arrive, so please check with me again shortly."},
			Next:    StepWaitForPaymentConf,
		}, nil
	case reg.PaymentStatus:
		return Outcome{Delta: Delta{PaymentVerified: ptr(true)}, Next: StepFinalize}, nil
	}
	return Outcome{
		Delta: Delta{PaymentVerified: ptr(false), Data: map[string]string{keyPaidAmount: reg.ActualPaidAmount}},
		Next:  StepPaymentRetry,
	}, nil
}

func (h *handlers) paymentRetry(_ context.Context, tc TurnContext) (Outcome, error) {
	data := tc.State.Data
	return Outcome{
		Replies: []string{fmt.Sprintf(
			"We received $%s, which is less than the $%s required. Please make a new payment of the full $%s using this link: %s",
			data[keyPaidAmount], data[keyAmount], data[keyAmount], data[keyPaymentLink]) + tag(UIShowPayment)},
		Next: StepWaitForPaymentConf,
	}, nil
}

func (h *handlers) finalize(_ context.Context, tc TurnContext) (Outcome, error) {
	data := tc.State.Data
	return Outcome{
		Replies: []string{fmt.Sprintf("You're all set! Your place in %s on %s is confirmed. See you there.",
			data[keyCourse], data[keyCourseDate]) + tag(UISuccessCompletion)},
		Next: StepRouter,
	}, nil
}

func (h *handlers) generalChat(ctx context.Context, tc TurnContext) (Outcome, error) {
	if h.chatter == nil || strings.TrimSpace(tc.Input.Text) == "" {
		return Outcome{Replies: []string{chatFallback}, Next: StepRouter}, nil
	}
	reply, err := h.chatter.Chat(ctx, tc.State.History, tc.Input.Text)
	if err != nil || strings.TrimSpace(reply) == "" {
		h.logger.WarnContext(ctx, "chat reply unavailable", "session_id", tc.State.SessionID, "error", err)
		reply = chatFallback
	}
	return Outcome{Replies: []string{reply}, Next: StepRouter}, nil
}

func (h *handlers) lookup(ctx context.Context, tc TurnContext) (Outcome, error) {
	if tc.From != StepWaitForLookup {
		return Outcome{Replies: []string{lookupPrompt}, Next: StepWaitForLookup}, nil
	}
	rows, err := h.records.Find(ctx, records.Eq(records.ColFullName, tc.Input.Text))
	if err != nil {
		return Outcome{}, err
	}
	if len(rows) == 0 {
		return Outcome{
			Replies: []string{"I couldn't find any registrations under that name."},
			Next:    StepRouter,
		}, nil
	}
	var b strings.Builder
	b.WriteString("Here's what I found:")
	for _, row := range rows {
		fmt.Fprintf(&b, "\n- %s on %s: %s", row[records.ColCourse], row[records.ColCourseDate], paymentLabel(records.RegistrationFromRow(row)))
	}
	return Outcome{Replies: []string{b.String()}, Next: StepRouter}, nil
}

func paymentLabel(reg records.Registration) string {
	switch {
	case !reg.Paid.IsSet():
		return "payment pending"
	case reg.PaymentStatus:
		return "paid"
	}
	return "partially paid"
}

func (h *handlers) publish(ctx context.Context, event notify.Event) {
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "failed to publish notification",
			"kind", event.Kind,
			"full_name", privacy.MaskName(event.FullName),
			"error", err,
		)
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

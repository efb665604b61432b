package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"regdesk/internal/conversation/metrics"
	"regdesk/internal/conversation/state"
	"regdesk/internal/llm"
	"regdesk/internal/platform/tracer"
	"regdesk/internal/records"
	"regdesk/internal/verification"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/sync"
)

// StepAssistant is persisted for sessions driven by the Assistant.
const StepAssistant Step = "ASSISTANT"

const (
	maxAssistantRounds = 4
	assistantWindow    = 20
)

// Capability names the model may call. Anything else is rejected.
type Capability string

const (
	CapListCourses       Capability = "list_courses"
	CapRegister          Capability = "register"
	CapVerifyDocument    Capability = "verify_document"
	CapPaymentStatus     Capability = "payment_status"
	CapFindRegistrations Capability = "find_registrations"
)

const assistantPrompt = `You are the registration assistant for a community training centre.
Reply with a single JSON object: {"reply": "<text for the user>", "calls": [{"name": "<capability>", "arguments": {...}}]}.
Leave "calls" empty when you are ready to answer. Capabilities:
- list_courses {}: the course catalog with ids, dates and prices.
- register {"course_id", "first_name", "last_name", "email", "phone_number", "is_pr", "pr_card_number", "payer_first_name", "payer_last_name"}: record a registration.
- verify_document {}: check the PR card image the user attached to this message.
- payment_status {}: payment state of this conversation's registration.
- find_registrations {"full_name"}: course, date and payment state of a person's registrations.
You may end the reply with one of [SHOW_COURSE_SELECTOR], [SHOW_REGISTRATION_FORM], [SHOW_UPLOAD], [SHOW_PAYMENT], [SUCCESS_COMPLETION].
Never invent prices, dates or payment links; use the capability results.`

// Completer produces a JSON object completion.
type Completer interface {
	CompleteJSON(ctx context.Context, messages []llm.Message) (string, error)
}

type assistantReply struct {
	Reply string `json:"reply"`
	Calls []call `json:"calls"`
}

type call struct {
	Name      Capability      `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type callResult struct {
	Name   Capability `json:"name"`
	Result any        `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Assistant is the language-model strategy. The model proposes capability calls,
// the Assistant executes them against the same collaborators the state machine
// uses, and feeds the results back for at most maxAssistantRounds rounds.
type Assistant struct {
	states    state.Store
	completer Completer
	deps      *handlers
	locks     *sync.ShardedMutex
	metrics   *metrics.Metrics
	tracer    tracer.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// NewAssistant accepts the Machine options that apply to it. Panics if required
// dependencies are nil.
func NewAssistant(states state.Store, store records.Store, catalog *Catalog, verifier Verifier, completer Completer, opts ...Option) *Assistant {
	if completer == nil {
		panic("conversation.NewAssistant: completer is required")
	}
	m := New(states, store, catalog, verifier, opts...)
	return &Assistant{
		states:    states,
		completer: completer,
		deps:      m.deps,
		locks:     m.locks,
		metrics:   m.metrics,
		tracer:    m.tracer,
		logger:    m.logger,
		now:       m.now,
	}
}

func (a *Assistant) Turn(ctx context.Context, in Input) (*Reply, error) {
	start := a.now()
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}
	unlock := a.locks.Lock(in.SessionID)
	defer unlock()

	st, err := a.states.Load(ctx, in.SessionID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		st, err = state.New(in.SessionID, string(StepAssistant), a.now().UTC()), nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "load conversation state")
	}

	work := st.Clone()
	text, rounds, err := a.converse(ctx, work, in)
	outcome := "ok"
	if err != nil {
		a.logger.ErrorContext(ctx, "assistant turn failed", "session_id", in.SessionID, "rounds", rounds, "error", err)
		text, outcome = apology, "failed"
		work = st
	}
	work.Step = string(StepAssistant)

	now := a.now().UTC()
	work.Append(
		state.Message{Role: state.RoleUser, Text: userText(in), At: now},
		state.Message{Role: state.RoleAssistant, Text: text, At: now},
	)
	work.UpdatedAt = now
	if err := a.states.Save(ctx, work); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "save conversation state")
	}
	if a.metrics != nil {
		a.metrics.ObserveTurn(outcome, rounds, a.now().Sub(start))
	}
	return &Reply{SessionID: in.SessionID, Text: text, Step: StepAssistant}, nil
}

func (a *Assistant) converse(ctx context.Context, st *state.State, in Input) (string, int, error) {
	messages := a.prompt(st, in)
	for round := 1; round <= maxAssistantRounds; round++ {
		rctx, span := a.tracer.Start(ctx, tracer.SpanAssistantRound,
			tracer.String(tracer.AttrSessionID, st.SessionID), tracer.Int(tracer.AttrHops, round))
		raw, err := a.completer.CompleteJSON(rctx, messages)
		if err != nil {
			span.End(err)
			return "", round, err
		}
		var out assistantReply
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			err = fmt.Errorf("decode assistant reply: %w", err)
			span.End(err)
			return "", round, err
		}
		if len(out.Calls) == 0 {
			span.End(nil)
			if strings.TrimSpace(out.Reply) == "" {
				return "", round, dErrors.New(dErrors.CodeInternal, "assistant returned an empty reply")
			}
			return out.Reply, round, nil
		}

		results := make([]callResult, 0, len(out.Calls))
		for _, c := range out.Calls {
			results = append(results, a.invoke(rctx, st, in, c))
		}
		span.End(nil)
		payload, err := json.Marshal(map[string]any{"results": results})
		if err != nil {
			return "", round, err
		}
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: raw},
			llm.Message{Role: llm.RoleUser, Content: string(payload)},
		)
	}
	return "", maxAssistantRounds, dErrors.New(dErrors.CodeInternal, "assistant did not answer within the round limit")
}

func (a *Assistant) prompt(st *state.State, in Input) []llm.Message {
	history := st.History
	if len(history) > assistantWindow {
		history = history[len(history)-assistantWindow:]
	}
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: assistantPrompt})
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == state.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Text})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: userText(in)})
}

func (a *Assistant) invoke(ctx context.Context, st *state.State, in Input, c call) callResult {
	res := callResult{Name: c.Name}
	var err error
	switch c.Name {
	case CapListCourses:
		res.Result = a.listCourses()
	case CapRegister:
		res.Result, err = a.register(ctx, st, c.Arguments)
	case CapVerifyDocument:
		res.Result, err = a.verifyDocument(ctx, st, in)
	case CapPaymentStatus:
		res.Result, err = a.paymentStatus(ctx, st)
	case CapFindRegistrations:
		res.Result, err = a.findRegistrations(ctx, c.Arguments)
	default:
		err = dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown capability %q", c.Name))
	}
	outcome := "ok"
	if err != nil {
		res.Error, outcome = err.Error(), "error"
	}
	if a.metrics != nil {
		a.metrics.AssistantCalls.WithLabelValues(string(c.Name), outcome).Inc()
	}
	return res
}

type courseView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Price       string `json:"price"`
	NonPRPrice  string `json:"non_pr_price"`
	Description string `json:"description"`
}

func (a *Assistant) listCourses() []courseView {
	var out []courseView
	for _, c := range a.deps.catalog.Courses() {
		title, date := a.deps.catalog.Split(c)
		out = append(out, courseView{
			ID:          c.ID,
			Title:       title,
			Date:        date,
			Price:       c.Amount(true).StringFixed(2),
			NonPRPrice:  c.Amount(false).StringFixed(2),
			Description: c.Description,
		})
	}
	return out
}

func (a *Assistant) register(ctx context.Context, st *state.State, args json.RawMessage) (map[string]string, error) {
	var head struct {
		CourseID string `json:"course_id"`
	}
	if err := json.Unmarshal(args, &head); err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "arguments must be an object")
	}
	course, ok := a.deps.catalog.ByID(head.CourseID)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("no course with id %q", head.CourseID))
	}
	form, err := ParseForm(string(args))
	if err != nil {
		return nil, err
	}
	submissionID, amount, err := a.deps.register(ctx, st.SessionID, course, form)
	if err != nil {
		return nil, err
	}

	title, date := a.deps.catalog.Split(course)
	Delta{
		Reset: true,
		IsPR:  ptr(form.IsPR),
		Data: map[string]string{
			keyCourseID:     course.ID,
			keyCourse:       title,
			keyCourseDate:   date,
			keyPaymentLink:  course.PaymentLink,
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
	}.apply(st)

	return map[string]string{
		"submission_id": submissionID,
		"amount":        amount.StringFixed(2),
		"payment_link":  course.PaymentLink,
		"payer_name":    form.PayerFullName(),
		"needs_pr_card": fmt.Sprint(form.IsPR),
		"course":        title,
		"course_date":   date,
	}, nil
}

func (a *Assistant) verifyDocument(ctx context.Context, st *state.State, in Input) (map[string]any, error) {
	if in.ImageRef == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "no image attached to this message")
	}
	if st.Data[keySubmissionID] == "" || !st.IsPR {
		return nil, dErrors.New(dErrors.CodeConflict, "no PR registration in this conversation")
	}
	data := st.Data
	res := a.deps.verifier.Verify(ctx, verification.Request{
		ImageRef: in.ImageRef,
		Identity: verification.Identity{
			FirstName:  data[keyFirstName],
			LastName:   data[keyLastName],
			FullName:   data[keyFullName],
			CardNumber: data[keyCardNumber],
		},
		Course:     data[keyCourse],
		CourseDate: data[keyCourseDate],
	})
	valid := res.Status == verification.StatusSuccess && res.Valid
	review := !valid && !res.Retryable()
	if review {
		a.deps.escalate(ctx, st, in.ImageRef, st.RetryCount+1, res)
	}
	Delta{ManualReview: ptr(review)}.apply(st)
	return map[string]any{
		"valid":         valid,
		"retry_upload":  res.Retryable(),
		"manual_review": review,
		"reasons":       res.Reasons,
	}, nil
}

func (a *Assistant) paymentStatus(ctx context.Context, st *state.State) (map[string]string, error) {
	id := st.Data[keySubmissionID]
	if id == "" {
		return nil, dErrors.New(dErrors.CodeConflict, "nothing registered in this conversation yet")
	}
	rows, err := a.deps.records.Find(ctx, records.Eq(records.ColSubmissionID, id))
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, dErrors.New(dErrors.CodeNotFound, "registration not found")
	}
	reg := records.RegistrationFromRow(rows[0])
	Delta{PaymentVerified: ptr(reg.Paid.IsSet() && reg.PaymentStatus)}.apply(st)
	return map[string]string{
		"status":       paymentLabel(reg),
		"required":     reg.AmountOfPayment.StringFixed(2),
		"paid":         reg.ActualPaidAmount,
		"payment_link": reg.PaymentLink,
	}, nil
}

func (a *Assistant) findRegistrations(ctx context.Context, args json.RawMessage) ([]map[string]string, error) {
	var in struct {
		FullName string `json:"full_name"`
	}
	if err := json.Unmarshal(args, &in); err != nil || strings.TrimSpace(in.FullName) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "full_name is required")
	}
	rows, err := a.deps.records.Find(ctx, records.Eq(records.ColFullName, in.FullName))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]string{
			"course":      row[records.ColCourse],
			"course_date": row[records.ColCourseDate],
			"payment":     paymentLabel(records.RegistrationFromRow(row)),
		})
	}
	return out, nil
}

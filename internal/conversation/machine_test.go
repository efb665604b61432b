package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"regdesk/internal/conversation"
	"regdesk/internal/conversation/mocks"
	"regdesk/internal/conversation/state"
	stateMocks "regdesk/internal/conversation/state/mocks"
	"regdesk/internal/notify"
	"regdesk/internal/records"
	"regdesk/internal/verification"
	dErrors "regdesk/pkg/domain-errors"
)

const (
	session    = "sess-1"
	sfaTitle   = "Standard First Aid"
	sfaDate    = "2025-12-05"
	nonPRForm  = "First Name: Jane\nLast Name: Doe\nEmail: jane@example.ca\nPhone Number: 604-555-0199\nPR Status: No"
	prCardForm = "First Name: Jane\nLast Name: Doe\nEmail: jane@example.ca\nPhone Number: 604-555-0199\nPR Status: Yes\nPR Card Number: 12-3456-7890"
	imageRef   = "signed.ref.token"
)

type MachineSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	now      time.Time
	states   *state.InMemoryStore
	records  *records.InMemoryStore
	verifier *mocks.MockVerifier
	sink     *notify.MemorySink
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

func (s *MachineSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.now = time.Date(2025, 11, 20, 15, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	s.states = state.NewInMemoryStore(state.DefaultTTL).WithClock(clock)
	s.records = records.NewInMemoryStore(records.WithClock(clock))
	s.verifier = mocks.NewMockVerifier(s.ctrl)
	s.sink = notify.NewMemorySink()
}

func (s *MachineSuite) machine(opts ...conversation.Option) *conversation.Machine {
	catalog := conversation.NewCatalog(conversation.DefaultCourses(), func() time.Time { return s.now })
	base := []conversation.Option{
		conversation.WithPublisher(notify.NewPublisher(s.sink)),
		conversation.WithClock(func() time.Time { return s.now }),
	}
	return conversation.New(s.states, s.records, catalog, s.verifier, append(base, opts...)...)
}

func (s *MachineSuite) turn(m *conversation.Machine, text, image string) *conversation.Reply {
	reply, err := m.Turn(s.ctx, conversation.Input{SessionID: session, Text: text, ImageRef: image})
	s.Require().NoError(err)
	return reply
}

func (s *MachineSuite) persisted() *state.State {
	st, err := s.states.Load(s.ctx, session)
	s.Require().NoError(err)
	return st
}

// toForm drives a fresh session up to the registration form for course 1.
func (s *MachineSuite) toForm(m *conversation.Machine) {
	reply := s.turn(m, "Hi, I'd like to register for a course", "")
	s.Equal(conversation.StepWaitForCourse, reply.Step)
	_, action := conversation.ExtractUIAction(reply.Text)
	s.Equal(conversation.UIShowCourseSelector, action)

	reply = s.turn(m, "1", "")
	s.Require().Equal(conversation.StepWaitForForm, reply.Step)
}

func (s *MachineSuite) pendingRow() records.Row {
	rows, err := s.records.Find(s.ctx, records.Eq(records.ColFullName, "Jane Doe"))
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	return rows[0]
}

func (s *MachineSuite) markPaid(status bool, amount string) {
	ok, err := s.records.Update(s.ctx, records.Fields{
		"Paid":               "True",
		"Payment_Status":     records.FormatBool(status),
		"Actual_Paid_Amount": amount,
	}, records.Eq(records.ColFullName, "Jane Doe"))
	s.Require().NoError(err)
	s.Require().True(ok)
}

func (s *MachineSuite) TestNonPRRegistrationToCompletion() {
	m := s.machine()
	s.toForm(m)

	reply := s.turn(m, nonPRForm, "")
	s.Equal(conversation.StepWaitForPaymentConf, reply.Step)
	text, action := conversation.ExtractUIAction(reply.Text)
	s.Equal(conversation.UIShowPayment, action)
	s.Contains(text, "$141.25")
	s.Contains(text, "zeffy.com")

	row := s.pendingRow()
	s.Equal("141.25", row[records.ColAmountOfPayment])
	s.Equal(sfaTitle, row[records.ColCourse])
	s.Equal(sfaDate, row[records.ColCourseDate])
	s.Equal("False", row[records.ColPRStatus])
	s.NotEmpty(row[records.ColSubmissionID])
	s.Len(s.sink.ByKind(notify.KindRegistrationReceived), 1)

	s.Run("payment not yet seen keeps waiting", func() {
		reply := s.turn(m, "I paid", "")
		s.Equal(conversation.StepWaitForPaymentConf, reply.Step)
		s.Contains(reply.Text, "haven't received")
	})

	s.Run("confirmed payment finalizes", func() {
		s.markPaid(true, "141.25")
		reply := s.turn(m, "I paid", "")
		s.Equal(conversation.StepRouter, reply.Step)
		_, action := conversation.ExtractUIAction(reply.Text)
		s.Equal(conversation.UISuccessCompletion, action)
		s.True(s.persisted().PaymentVerified)
	})
}

func (s *MachineSuite) TestPartialPaymentAsksForFullAmount() {
	m := s.machine()
	s.toForm(m)
	s.turn(m, nonPRForm, "")
	s.markPaid(false, "100.00")

	reply := s.turn(m, "done", "")

	s.Equal(conversation.StepWaitForPaymentConf, reply.Step)
	s.Contains(reply.Text, "$100.00")
	s.Contains(reply.Text, "full $141.25")
	s.False(s.persisted().PaymentVerified)
}

func (s *MachineSuite) TestPRCardVerified() {
	m := s.machine()
	s.toForm(m)

	reply := s.turn(m, prCardForm, "")
	s.Equal(conversation.StepWaitForUpload, reply.Step)
	_, action := conversation.ExtractUIAction(reply.Text)
	s.Equal(conversation.UIShowUpload, action)
	s.True(s.persisted().IsPR)

	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req verification.Request) *verification.Result {
			s.Equal(imageRef, req.ImageRef)
			s.Equal("Jane Doe", req.Identity.FullName)
			s.Equal("12-3456-7890", req.Identity.CardNumber)
			s.Equal(sfaTitle, req.Course)
			s.Equal(sfaDate, req.CourseDate)
			return &verification.Result{Status: verification.StatusSuccess, Valid: true, DocTypes: []verification.DocType{verification.DocPRCard}}
		})

	reply = s.turn(m, "", imageRef)
	s.Equal(conversation.StepWaitForPaymentConf, reply.Step)
	s.Contains(reply.Text, "verified")
	s.Contains(reply.Text, "$125.00")
}

// A text-only turn while an upload is pending re-asks for the image.
func (s *MachineSuite) TestUploadStepWithoutImage() {
	m := s.machine()
	s.toForm(m)
	s.turn(m, prCardForm, "")

	reply := s.turn(m, "here is my card", "")

	s.Equal(conversation.StepWaitForUpload, reply.Step)
	text, action := conversation.ExtractUIAction(reply.Text)
	s.Equal(conversation.UIShowUpload, action)
	s.Contains(text, "image")
	s.Equal(string(conversation.StepWaitForUpload), s.persisted().Step)
}

func (s *MachineSuite) TestGenericPhotoIDRetriesThenReview() {
	m := s.machine(conversation.WithMaxUploads(3))
	s.toForm(m)
	s.turn(m, prCardForm, "")

	generic := &verification.Result{
		Status:       verification.StatusError,
		DocTypes:     []verification.DocType{verification.DocGenericPhotoID},
		ManualReview: true,
		Reasons:      []string{"Looks like a generic photo ID."},
	}
	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(generic).Times(3)

	for attempt := 1; attempt <= 2; attempt++ {
		reply := s.turn(m, "", imageRef)
		s.Equal(conversation.StepWaitForUpload, reply.Step)
		s.Equal(attempt, s.persisted().RetryCount)
	}

	reply := s.turn(m, "", imageRef)
	s.Equal(conversation.StepAwaitingReview, reply.Step)
	st := s.persisted()
	s.True(st.ManualReview)
	s.Equal(3, st.RetryCount)

	events := s.sink.ByKind(notify.KindManualReview)
	s.Require().Len(events, 1)
	s.Equal(session, events[0].Data["session_id"])
	s.Contains(events[0].Message, "Looks like a generic photo ID.")

	s.Run("further turns hold", func() {
		reply := s.turn(m, "any news?", "")
		s.Equal(conversation.StepAwaitingReview, reply.Step)
		s.Contains(reply.Text, "review")
	})
}

func (s *MachineSuite) TestNonRetryableFailureGoesStraightToReview() {
	m := s.machine()
	s.toForm(m)
	s.turn(m, prCardForm, "")
	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(&verification.Result{
		Status:       verification.StatusError,
		DocTypes:     []verification.DocType{verification.DocDriversLicense},
		ManualReview: true,
	})

	reply := s.turn(m, "", imageRef)

	s.Equal(conversation.StepAwaitingReview, reply.Step)
}

func (s *MachineSuite) TestResolveReview() {
	setup := func() *conversation.Machine {
		s.SetupTest()
		m := s.machine(conversation.WithMaxUploads(1))
		s.toForm(m)
		s.turn(m, prCardForm, "")
		s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(&verification.Result{Status: verification.StatusError, ManualReview: true})
		s.Require().Equal(conversation.StepAwaitingReview, s.turn(m, "", imageRef).Step)
		return m
	}

	s.Run("approval continues to payment", func() {
		m := setup()
		reply, err := m.ResolveReview(s.ctx, session, true)
		s.Require().NoError(err)
		s.Equal(conversation.StepWaitForPaymentConf, reply.Step)
		s.Contains(reply.Text, "$125.00")
		s.False(s.persisted().ManualReview)
		s.Equal("True", s.pendingRow()[records.ColPRCardValid])
	})

	s.Run("approval without a pending row still continues", func() {
		m := setup()
		s.markPaid(true, "125.00")
		reply, err := m.ResolveReview(s.ctx, session, true)
		s.Require().NoError(err)
		s.Equal(conversation.StepWaitForPaymentConf, reply.Step)
		s.Empty(s.pendingRow()[records.ColPRCardValid])
	})

	s.Run("rejection asks for a new upload", func() {
		m := setup()
		reply, err := m.ResolveReview(s.ctx, session, false)
		s.Require().NoError(err)
		s.Equal(conversation.StepWaitForUpload, reply.Step)
		s.Equal(0, s.persisted().RetryCount)
	})

	s.Run("session not under review is a conflict", func() {
		s.SetupTest()
		m := s.machine()
		s.toForm(m)
		_, err := m.ResolveReview(s.ctx, session, true)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *MachineSuite) TestEmptyInputAtWaitStepReprompts() {
	m := s.machine()
	s.toForm(m)
	before := s.persisted()

	reply := s.turn(m, "   ", "")

	s.Equal(conversation.StepWaitForForm, reply.Step)
	_, action := conversation.ExtractUIAction(reply.Text)
	s.Equal(conversation.UIShowRegistrationForm, action)
	s.Equal(before.Data, s.persisted().Data)
}

func (s *MachineSuite) TestInvalidFormReprompts() {
	m := s.machine()
	s.toForm(m)

	reply := s.turn(m, "First Name: Jane\nLast Name: Doe\nEmail: not-an-email\nPhone Number: 604-555-0199", "")

	s.Equal(conversation.StepWaitForForm, reply.Step)
	s.Contains(reply.Text, "email must be a valid email")
	rows, err := s.records.Find(s.ctx)
	s.Require().NoError(err)
	s.Empty(rows)
}

func (s *MachineSuite) TestUnknownCourseReprompts() {
	m := s.machine()
	s.turn(m, "register", "")

	reply := s.turn(m, "underwater basket weaving", "")

	s.Equal(conversation.StepWaitForCourse, reply.Step)
	s.Empty(s.persisted().Data)
}

func (s *MachineSuite) TestHandlerFailureKeepsState() {
	cases := map[string]conversation.Handler{
		"error": func(context.Context, conversation.TurnContext) (conversation.Outcome, error) {
			return conversation.Outcome{}, errors.New("boom")
		},
		"panic": func(context.Context, conversation.TurnContext) (conversation.Outcome, error) {
			panic("nil map")
		},
		"illegal transition": func(context.Context, conversation.TurnContext) (conversation.Outcome, error) {
			return conversation.Outcome{
				Delta: conversation.Delta{Data: map[string]string{"course": "tampered"}},
				Next:  conversation.StepFinalize,
			}, nil
		},
	}
	for name, h := range cases {
		s.Run(name, func() {
			s.SetupTest()
			m := s.machine(conversation.WithHandler(conversation.StepDisplayForm, h))
			s.turn(m, "register", "")

			reply := s.turn(m, "1", "")

			s.Equal(conversation.StepWaitForCourse, reply.Step)
			s.Contains(reply.Text, "Sorry, something went wrong")
			st := s.persisted()
			s.Equal(string(conversation.StepWaitForCourse), st.Step)
			s.Empty(st.Data)
			s.Equal(state.RoleAssistant, st.History[len(st.History)-1].Role)
		})
	}
}

// A turn that fails after the record was written must not write it twice on
// resubmission.
func (s *MachineSuite) TestStoreInfoIsIdempotent() {
	calls := 0
	flaky := func(_ context.Context, tc conversation.TurnContext) (conversation.Outcome, error) {
		calls++
		if calls == 1 {
			return conversation.Outcome{}, errors.New("transient")
		}
		return conversation.Outcome{Next: conversation.StepPaymentPhase}, nil
	}
	m := s.machine(conversation.WithHandler(conversation.StepCheckPRStatus, flaky))
	s.toForm(m)

	first := s.turn(m, nonPRForm, "")
	s.Equal(conversation.StepWaitForForm, first.Step)

	second := s.turn(m, nonPRForm, "")
	s.Equal(conversation.StepWaitForPaymentConf, second.Step)

	rows, err := s.records.Find(s.ctx, records.Eq(records.ColFullName, "Jane Doe"))
	s.Require().NoError(err)
	s.Len(rows, 1)
	s.Len(s.sink.ByKind(notify.KindRegistrationReceived), 1)
}

func (s *MachineSuite) TestLookup() {
	m := s.machine()
	s.toForm(m)
	s.turn(m, nonPRForm, "")
	s.markPaid(true, "141.25")

	other := "sess-2"
	reply, err := m.Turn(s.ctx, conversation.Input{SessionID: other, Text: "What is the status of my registration?"})
	s.Require().NoError(err)
	s.Equal(conversation.StepWaitForLookup, reply.Step)

	reply, err = m.Turn(s.ctx, conversation.Input{SessionID: other, Text: "jane doe"})
	s.Require().NoError(err)
	s.Equal(conversation.StepRouter, reply.Step)
	s.Contains(reply.Text, sfaTitle+" on "+sfaDate+": paid")
	s.NotContains(reply.Text, "jane@example.ca")
}

func (s *MachineSuite) TestRouterKeywords() {
	cases := []struct {
		text string
		want conversation.Step
	}{
		{"register", conversation.StepWaitForCourse},
		{"Can I sign up for first aid?", conversation.StepWaitForCourse},
		{"I want to sign up, can you check what's offered?", conversation.StepWaitForCourse},
		{"I'd like to start my registration please", conversation.StepWaitForCourse},
		{"I need to retrieve my details", conversation.StepWaitForLookup},
		{"What's my status?", conversation.StepWaitForLookup},
		{"I already registered, did I pay?", conversation.StepWaitForLookup},
		{"Retrieve my registration", conversation.StepWaitForLookup},
		{"hello there", conversation.StepRouter},
	}
	m := s.machine()
	for i, tc := range cases {
		s.Run(tc.text, func() {
			reply, err := m.Turn(s.ctx, conversation.Input{SessionID: fmt.Sprintf("router-%d", i), Text: tc.text})
			s.Require().NoError(err)
			s.Equal(tc.want, reply.Step)
		})
	}
}

func (s *MachineSuite) TestGeneralChat() {
	s.Run("uses the chatter", func() {
		s.SetupTest()
		chatter := mocks.NewMockChatter(s.ctrl)
		chatter.EXPECT().Chat(gomock.Any(), gomock.Any(), "where is the venue?").Return("It's at UNI-Commons.", nil)
		m := s.machine(conversation.WithChatter(chatter))

		reply := s.turn(m, "where is the venue?", "")

		s.Equal(conversation.StepRouter, reply.Step)
		s.Equal("It's at UNI-Commons.", reply.Text)
	})

	s.Run("falls back when the chatter fails", func() {
		s.SetupTest()
		chatter := mocks.NewMockChatter(s.ctrl)
		chatter.EXPECT().Chat(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("timeout"))
		m := s.machine(conversation.WithChatter(chatter))

		reply := s.turn(m, "hello", "")

		s.Contains(reply.Text, "register")
	})
}

func (s *MachineSuite) TestNewSessionIDWhenMissing() {
	m := s.machine()
	reply, err := m.Turn(s.ctx, conversation.Input{Text: "hello"})
	s.Require().NoError(err)
	s.NotEmpty(reply.SessionID)

	st, err := s.states.Load(s.ctx, reply.SessionID)
	s.Require().NoError(err)
	s.Len(st.History, 2)
}

func (s *MachineSuite) TestSaveFailureIsReturned() {
	states := stateMocks.NewMockStore(s.ctrl)
	states.EXPECT().Load(gomock.Any(), session).Return(nil, dErrors.New(dErrors.CodeNotFound, "session not found"))
	states.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("redis: connection refused"))
	catalog := conversation.NewCatalog(conversation.DefaultCourses(), nil)
	m := conversation.New(states, s.records, catalog, s.verifier)

	_, err := m.Turn(s.ctx, conversation.Input{SessionID: session, Text: "hello"})

	s.True(dErrors.HasCode(err, dErrors.CodeStoreIO))
}

func (s *MachineSuite) TestTurnsOfOneSessionAreSerialised() {
	m := s.machine()
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			_, err := m.Turn(s.ctx, conversation.Input{SessionID: session, Text: "hello"})
			s.NoError(err)
		})
	}
	wg.Wait()

	s.Len(s.persisted().History, 40)
}

func TestNewPanicsOnMissingDeps(t *testing.T) {
	ctrl := gomock.NewController(t)
	states := state.NewInMemoryStore(0)
	store := records.NewInMemoryStore()
	catalog := conversation.NewCatalog(conversation.DefaultCourses(), nil)
	verifier := mocks.NewMockVerifier(ctrl)

	assert.Panics(t, func() { conversation.New(nil, store, catalog, verifier) })
	assert.Panics(t, func() { conversation.New(states, nil, catalog, verifier) })
	assert.Panics(t, func() { conversation.New(states, store, nil, verifier) })
	assert.Panics(t, func() { conversation.New(states, store, catalog, nil) })
}

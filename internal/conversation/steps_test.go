package conversation

import (
	"context"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regdesk/internal/conversation/state"
	"regdesk/internal/records"
	"regdesk/internal/verification"
)

type stubVerifier struct{}

func (stubVerifier) Verify(context.Context, verification.Request) *verification.Result {
	return &verification.Result{Status: verification.StatusSuccess, Valid: true}
}

func newTestMachine(opts ...Option) (*Machine, *state.InMemoryStore) {
	states := state.NewInMemoryStore(0)
	m := New(states, records.NewInMemoryStore(), NewCatalog(DefaultCourses(), nil), stubVerifier{}, opts...)
	return m, states
}

func TestResolveDispatch(t *testing.T) {
	t.Run("wait steps hand input to their consumer", func(t *testing.T) {
		want := map[Step]Step{
			StepWaitForCourse:      StepDisplayForm,
			StepWaitForForm:        StepStoreInfo,
			StepWaitForUpload:      StepValidatePR,
			StepWaitForPaymentConf: StepCheckPayment,
			StepWaitForLookup:      StepLookup,
			StepAwaitingReview:     StepReviewHold,
		}
		for wait, handler := range want {
			entered, tr := Resolve(wait)
			assert.Equal(t, wait, entered)
			assert.Equal(t, handler, tr.Handler, wait)
		}
	})

	t.Run("anything else starts at the router", func(t *testing.T) {
		for _, step := range []Step{StepRouter, StepFinalize, StepStoreInfo, "", "SOMETHING_OLD"} {
			entered, tr := Resolve(step)
			assert.Equal(t, StepRouter, entered, step)
			assert.Equal(t, StepRouter, tr.Handler, step)
		}
	})
}

func TestTransitionTable(t *testing.T) {
	bound := (&handlers{}).table()
	for step, tr := range transitions {
		assert.Contains(t, bound, tr.Handler, "%s has no handler", step)
		assert.NotEmpty(t, tr.Next, step)
		for _, next := range tr.Next {
			_, ok := transitions[next]
			assert.True(t, ok, "%s -> %s leads nowhere", step, next)
		}
	}
}

func TestHopLimit(t *testing.T) {
	saved := maps.Clone(transitions)
	t.Cleanup(func() { transitions = saved })
	transitions[StepCheckPRStatus] = Transition{StepCheckPRStatus, []Step{StepAskPRUpload}}
	transitions[StepAskPRUpload] = Transition{StepAskPRUpload, []Step{StepCheckPRStatus}}

	pingPong := func(next Step) Handler {
		return func(context.Context, TurnContext) (Outcome, error) {
			return Outcome{Replies: []string{"again"}, Next: next}, nil
		}
	}
	m, states := newTestMachine(
		WithHandler(StepRouter, pingPong(StepCheckPRStatus)),
		WithHandler(StepCheckPRStatus, pingPong(StepAskPRUpload)),
		WithHandler(StepAskPRUpload, pingPong(StepCheckPRStatus)),
	)
	transitions[StepRouter] = Transition{StepRouter, []Step{StepCheckPRStatus}}

	reply, err := m.Turn(context.Background(), Input{SessionID: "loop", Text: "hi"})

	require.NoError(t, err)
	assert.Equal(t, apology, reply.Text)
	st, err := states.Load(context.Background(), "loop")
	require.NoError(t, err)
	assert.Equal(t, string(StepRouter), st.Step)
}

func TestDeltaApply(t *testing.T) {
	st := state.New("s", string(StepRouter), time.Now())
	st.Data["course"] = "BJJ"
	st.IsPR = true
	st.RetryCount = 2

	Delta{Data: map[string]string{"email": "a@b.ca"}, RetryCount: ptr(0)}.apply(st)
	assert.Equal(t, "BJJ", st.Data["course"])
	assert.Equal(t, "a@b.ca", st.Data["email"])
	assert.Zero(t, st.RetryCount)
	assert.True(t, st.IsPR)

	Delta{Reset: true, Data: map[string]string{"course": "SFA"}}.apply(st)
	assert.Equal(t, map[string]string{"course": "SFA"}, st.Data)
	assert.False(t, st.IsPR)
}

func TestStepKinds(t *testing.T) {
	assert.True(t, StepWaitForUpload.IsWait())
	assert.False(t, StepValidatePR.IsWait())
	assert.True(t, StepRouter.suspends())
	assert.False(t, StepPaymentPhase.suspends())
}

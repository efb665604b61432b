// Package conversation runs the registration dialogue as a resumable state
// machine. Each turn loads the persisted step, dispatches the bound handler,
// chains through steps that need no input and persists where it stopped.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"regdesk/internal/conversation/metrics"
	"regdesk/internal/conversation/state"
	"regdesk/internal/notify"
	"regdesk/internal/platform/tracer"
	"regdesk/internal/records"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/sync"
)

const apology = "Sorry, something went wrong on our side. Please try that again in a moment."

// Delta is the state change a handler asks for.
type Delta struct {
	Reset           bool
	Data            map[string]string
	IsPR            *bool
	PaymentVerified *bool
	ManualReview    *bool
	RetryCount      *int
}

func (d Delta) apply(st *state.State) {
	if d.Reset {
		st.Data = map[string]string{}
		st.IsPR = false
		st.PaymentVerified = false
		st.ManualReview = false
		st.RetryCount = 0
	}
	if st.Data == nil {
		st.Data = map[string]string{}
	}
	maps.Copy(st.Data, d.Data)
	if d.IsPR != nil {
		st.IsPR = *d.IsPR
	}
	if d.PaymentVerified != nil {
		st.PaymentVerified = *d.PaymentVerified
	}
	if d.ManualReview != nil {
		st.ManualReview = *d.ManualReview
	}
	if d.RetryCount != nil {
		st.RetryCount = *d.RetryCount
	}
}

// Outcome is what a handler returns.
type Outcome struct {
	Delta   Delta
	Replies []string
	Next    Step
}

// TurnContext is the read-only view a handler receives. From is the step the
// machine was in when the handler was entered.
type TurnContext struct {
	State *state.State
	Input Input
	From  Step
}

// Handler is a step function. It must not mutate tc.State.
type Handler func(ctx context.Context, tc TurnContext) (Outcome, error)

// Machine is the finite-state orchestrator.
type Machine struct {
	states   state.Store
	handlers map[Step]Handler
	deps     *handlers
	locks    *sync.ShardedMutex
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the Machine.
type Option func(*Machine)

func WithPublisher(p Publisher) Option {
	return func(m *Machine) {
		if p != nil {
			m.deps.publisher = p
		}
	}
}

func WithChatter(c Chatter) Option {
	return func(m *Machine) {
		m.deps.chatter = c
	}
}

// WithMaxUploads bounds PR card uploads before a document goes to manual review.
func WithMaxUploads(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.deps.maxUploads = n
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) {
		m.metrics = mt
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(m *Machine) {
		if t != nil {
			m.tracer = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
			m.deps.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
			m.deps.now = now
		}
	}
}

// WithHandler replaces the handler bound to step.
func WithHandler(step Step, h Handler) Option {
	return func(m *Machine) {
		if h != nil {
			m.handlers[step] = h
		}
	}
}

// New creates a Machine. Panics if required dependencies are nil.
func New(states state.Store, store records.Store, catalog *Catalog, verifier Verifier, opts ...Option) *Machine {
	if states == nil {
		panic("conversation.New: state store is required")
	}
	if store == nil {
		panic("conversation.New: record store is required")
	}
	if catalog == nil {
		panic("conversation.New: catalog is required")
	}
	if verifier == nil {
		panic("conversation.New: verifier is required")
	}
	deps := &handlers{
		catalog:    catalog,
		records:    store,
		verifier:   verifier,
		publisher:  noopPublisher{},
		maxUploads: 3,
		logger:     slog.Default(),
		now:        time.Now,
	}
	m := &Machine{
		states: states,
		deps:   deps,
		locks:  sync.NewShardedMutex(),
		tracer: tracer.NewNoop(),
		logger: slog.Default(),
		now:    time.Now,
	}
	m.handlers = deps.table()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Turn processes one input. Turns of one session are serialised. Handler
// failures never surface as errors: the user gets an apology and the persisted
// step and data stay as they were. Only state store failures are returned.
func (m *Machine) Turn(ctx context.Context, in Input) (*Reply, error) {
	start := m.now()
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}
	unlock := m.locks.Lock(in.SessionID)
	defer unlock()

	ctx, span := m.tracer.Start(ctx, tracer.SpanTurn, tracer.String(tracer.AttrSessionID, in.SessionID))
	var err error
	defer func() { span.End(err) }()

	st, err := m.load(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	persisted := Step(st.Step)

	var (
		replies []string
		hops    int
		outcome = "ok"
	)
	if persisted.IsWait() && in.blank() {
		replies = []string{m.deps.prompt(persisted)}
		outcome = "reprompt"
	} else {
		entered, tr := Resolve(persisted)
		work := st.Clone()
		var next Step
		var runErr error
		replies, next, hops, runErr = m.run(ctx, work, in, entered, tr, persisted)
		if runErr != nil {
			m.logger.ErrorContext(ctx, "conversation turn failed",
				"session_id", in.SessionID,
				"step", persisted,
				"error", runErr,
			)
			replies = []string{apology}
			outcome = "failed"
		} else {
			st = work
			st.Step = string(next)
		}
	}

	now := m.now().UTC()
	msgs := []state.Message{{Role: state.RoleUser, Text: userText(in), At: now}}
	for _, r := range replies {
		msgs = append(msgs, state.Message{Role: state.RoleAssistant, Text: r, At: now})
	}
	st.Append(msgs...)
	st.UpdatedAt = now
	if err = m.states.Save(ctx, st); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "save conversation state")
	}

	span.SetAttributes(tracer.String(tracer.AttrStep, st.Step), tracer.Int(tracer.AttrHops, hops))
	if m.metrics != nil {
		m.metrics.ObserveTurn(outcome, hops, m.now().Sub(start))
	}
	return &Reply{SessionID: in.SessionID, Text: strings.Join(replies, "\n\n"), Step: Step(st.Step)}, nil
}

// ResolveReview settles a session held in AWAITING_REVIEW. Approval continues to
// payment; rejection asks for a new upload with a fresh attempt budget.
func (m *Machine) ResolveReview(ctx context.Context, sessionID string, approved bool) (*Reply, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	st, err := m.states.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if Step(st.Step) != StepAwaitingReview {
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("session is at %s, not awaiting review", st.Step))
	}

	work := st.Clone()
	Delta{ManualReview: ptr(false), RetryCount: ptr(0)}.apply(work)
	var replies []string
	if approved {
		ok, err := m.deps.approveCard(ctx, work)
		if err != nil {
			return nil, err
		}
		if !ok {
			m.logger.WarnContext(ctx, "approved card has no single pending registration", "session_id", sessionID)
		}
		var next Step
		replies, next, _, err = m.run(ctx, work, Input{SessionID: sessionID}, StepPaymentPhase, transitions[StepPaymentPhase], StepAwaitingReview)
		if err != nil {
			return nil, err
		}
		replies = append([]string{"Good news: our staff verified your PR card."}, replies...)
		work.Step = string(next)
	} else {
		replies = []string{"Our staff could not verify your PR card from that photo. Please upload a clear photo of the front of your card." + tag(UIShowUpload)}
		work.Step = string(StepWaitForUpload)
	}

	now := m.now().UTC()
	for _, r := range replies {
		work.Append(state.Message{Role: state.RoleAssistant, Text: r, At: now})
	}
	work.UpdatedAt = now
	if err := m.states.Save(ctx, work); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "save conversation state")
	}
	return &Reply{SessionID: sessionID, Text: strings.Join(replies, "\n\n"), Step: Step(work.Step)}, nil
}

// State returns the persisted state of a session.
func (m *Machine) State(ctx context.Context, sessionID string) (*state.State, error) {
	return m.states.Load(ctx, sessionID)
}

func (m *Machine) load(ctx context.Context, sessionID string) (*state.State, error) {
	st, err := m.states.Load(ctx, sessionID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return state.New(sessionID, string(StepRouter), m.now().UTC()), nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "load conversation state")
	}
	return st, nil
}

// run chains handlers from entered until a suspending step is reached. It
// mutates st only through handler deltas; on error the caller discards st.
func (m *Machine) run(ctx context.Context, st *state.State, in Input, entered Step, tr Transition, from Step) (replies []string, next Step, hops int, err error) {
	handler := tr.Handler
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", handler, r)
		}
		if err != nil && m.metrics != nil {
			m.metrics.HandlerFailures.WithLabelValues(string(handler)).Inc()
		}
	}()

	step := entered
	for {
		if hops >= maxHops {
			return nil, "", hops, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("hop limit reached at %s", step))
		}
		hops++
		handler = tr.Handler
		h, ok := m.handlers[handler]
		if !ok {
			return nil, "", hops, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("no handler bound to %s", handler))
		}

		out, err := h(ctx, TurnContext{State: st, Input: in, From: from})
		if err != nil {
			return nil, "", hops, fmt.Errorf("%s: %w", handler, err)
		}
		if !tr.Allows(out.Next) {
			return nil, "", hops, dErrors.New(dErrors.CodeInternal,
				fmt.Sprintf("illegal transition %s -> %s", handler, out.Next))
		}
		out.Delta.apply(st)
		replies = append(replies, out.Replies...)
		if m.metrics != nil {
			m.metrics.Transitions.WithLabelValues(string(step), string(out.Next)).Inc()
		}
		if out.Next.suspends() {
			return replies, out.Next, hops, nil
		}

		from, step = step, out.Next
		if tr, ok = transitions[step]; !ok {
			return nil, "", hops, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("no transition for %s", step))
		}
	}
}

func userText(in Input) string {
	if in.ImageRef == "" {
		return in.Text
	}
	if strings.TrimSpace(in.Text) == "" {
		return "(uploaded an image)"
	}
	return in.Text + " (uploaded an image)"
}

func ptr[T any](v T) *T {
	return &v
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, notify.Event) error { return nil }

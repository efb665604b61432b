// Package payments reconciles payment-processor notifications against pending
// registrations.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"regdesk/internal/payments/metrics"
	"regdesk/internal/platform/privacy"
	"regdesk/internal/platform/tracer"
	"regdesk/internal/records"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/sync"
)

// Service extracts a payment from free text and marks exactly one registration paid.
type Service struct {
	store     records.Store
	extractor *Extractor
	locks     *sync.ShardedMutex
	metrics   *metrics.Metrics
	tracer    tracer.Tracer
	logger    *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

func WithVenueMarker(marker string) Option {
	return func(s *Service) {
		s.extractor = NewExtractor(marker)
	}
}

// WithLocks shares the record-key mutex with document verification.
func WithLocks(m *sync.ShardedMutex) Option {
	return func(s *Service) {
		if m != nil {
			s.locks = m
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a reconciliation service. Panics if store is nil.
func New(store records.Store, opts ...Option) *Service {
	if store == nil {
		panic("payments.New: record store is required")
	}
	s := &Service{
		store:     store,
		extractor: NewExtractor(DefaultVenueMarker),
		locks:     sync.NewShardedMutex(),
		tracer:    tracer.NewNoop(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile never returns an error. Extraction and matching faults produce
// StatusError without touching the store.
func (s *Service) Reconcile(ctx context.Context, n Notification) (res *Result) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, tracer.SpanReconcile)

	res = &Result{}
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusError
			res.Message = fmt.Sprintf("Unexpected error while processing payment: %v", r)
		}
		span.SetAttributes(
			tracer.String(tracer.AttrStatus, string(res.Status)),
			tracer.String(tracer.AttrMatchTier, string(res.Tier)),
		)
		span.End(nil)
		s.observe(ctx, n, res, time.Since(start))
	}()

	ev, err := s.extractor.Extract(n.Body)
	if err != nil {
		s.logger.WarnContext(ctx, "payment extraction failed", "notification_id", n.ID, "error", err)
		return res.fail("Failed to extract payment details from email with subject: %s", n.Subject)
	}
	res.Event = ev
	span.SetAttributes(tracer.String(tracer.AttrNameHash, tracer.HashPII(ev.FullName)))

	unlock := s.locks.Lock(sync.Key(ev.FullName, ev.Course, ev.CourseDate))
	defer unlock()

	row, key, tier, err := s.match(ctx, ev)
	if err != nil {
		s.logger.WarnContext(ctx, "payment match failed", "notification_id", n.ID, "error", err)
		return res.fail("Failed to fetch database from email with subject: %s", n.Subject)
	}
	res.Tier = tier

	expected, err := records.ParseAmount(row[records.ColAmountOfPayment])
	if err != nil {
		s.logger.ErrorContext(ctx, "registration has unreadable amount", "notification_id", n.ID, "error", err)
		return res.fail("Invalid amount of payment on the registration for email with subject: %s", n.Subject)
	}
	res.Expected = expected
	paidInFull := expected.LessThanOrEqual(ev.Amount)

	ok, err := s.store.Update(ctx, records.Fields{
		string(records.ColPaid):             string(records.PaidTrue),
		string(records.ColPaymentStatus):    records.FormatBool(paidInFull),
		string(records.ColActualPaidAmount): records.FormatAmount(ev.Amount),
		string(records.ColPayerFullName):    ev.FullName,
	}, key...)
	if err != nil || !ok {
		if err != nil {
			s.logger.ErrorContext(ctx, "payment update failed", "notification_id", n.ID, "error", err)
		}
		return res.fail("Failed to update database from email with subject: %s", n.Subject)
	}

	if !paidInFull {
		res.Status = StatusPartial
		res.Message = fmt.Sprintf("Payment amount %s is less than required %s for email with subject: %s",
			records.FormatAmount(ev.Amount), records.FormatAmount(expected), n.Subject)
		return res
	}
	res.Status = StatusSuccess
	res.Message = "Payment processed successfully."
	return res
}

// match queries both tiers and requires exactly one row across them.
func (s *Service) match(ctx context.Context, ev Event) (records.Row, []records.Match, Tier, error) {
	pendingKey := records.PendingKey(ev.FullName, ev.Course, ev.CourseDate)
	pending, err := s.store.Find(ctx, pendingKey...)
	if err != nil {
		return nil, nil, "", err
	}
	repaymentKey := records.RepaymentKey(ev.FullName, ev.Course, ev.CourseDate)
	repayment, err := s.store.Find(ctx, repaymentKey...)
	if err != nil {
		return nil, nil, "", err
	}

	switch total := len(pending) + len(repayment); {
	case total != 1:
		return nil, nil, "", dErrors.New(dErrors.CodeAmbiguousMatch,
			fmt.Sprintf("%d registrations matched, want exactly one", total))
	case len(pending) == 1:
		return pending[0], pendingKey, TierPending, nil
	default:
		return repayment[0], repaymentKey, TierRepayment, nil
	}
}

func (r *Result) fail(format string, subject string) *Result {
	r.Status = StatusError
	r.Message = fmt.Sprintf(format, subject)
	return r
}

func (s *Service) observe(ctx context.Context, n Notification, res *Result, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveOutcome(string(res.Status), string(res.Tier), d)
		if res.Status == StatusPartial {
			short, _ := res.Expected.Sub(res.Event.Amount).Float64()
			s.metrics.Shortfall.Observe(short)
		}
	}
	level := slog.LevelInfo
	if res.Status != StatusSuccess {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "payment reconciled",
		"notification_id", n.ID,
		"payer", privacy.MaskName(res.Event.FullName),
		"status", res.Status,
		"tier", res.Tier,
		"duration_ms", d.Milliseconds(),
	)
}

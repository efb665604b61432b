// Package reminder nudges registrants who have not paid by the day after they
// registered.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"regdesk/internal/notify"
	"regdesk/internal/platform/privacy"
	"regdesk/internal/records"
)

// Publisher delivers a reminder event.
type Publisher interface {
	Publish(ctx context.Context, event notify.Event) error
}

// Contacts are the support addresses quoted in reminders.
type Contacts struct {
	PR    string
	NonPR string
}

// Scheduler runs the reminder sweep on a cron schedule.
type Scheduler struct {
	store     records.Store
	publisher Publisher
	contacts  Contacts
	schedule  string
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Scheduler)

func WithSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Scheduler. Panics if required dependencies are nil.
func New(store records.Store, publisher Publisher, contacts Contacts, opts ...Option) *Scheduler {
	if store == nil {
		panic("reminder.New: record store is required")
	}
	if publisher == nil {
		panic("reminder.New: publisher is required")
	}
	s := &Scheduler{
		store:     store,
		publisher: publisher,
		contacts:  contacts,
		schedule:  "0 9 * * *",
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the schedule until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "payment reminder run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("parse reminder schedule %q: %w", s.schedule, err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// RunOnce publishes one reminder per unpaid registration created yesterday and
// reports how many were sent.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	yesterday := s.now().UTC().AddDate(0, 0, -1).Format(time.DateOnly)
	rows, err := s.store.Find(ctx, records.Eq(records.ColCreatedAt, yesterday), records.Unset(records.ColPaid))
	if err != nil {
		return 0, fmt.Errorf("find unpaid registrations: %w", err)
	}

	sent := 0
	for _, row := range rows {
		reg := records.RegistrationFromRow(row)
		if reg.Email == "" {
			continue
		}
		if err := s.publisher.Publish(ctx, s.event(reg)); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish payment reminder",
				"full_name", privacy.MaskName(reg.FullName),
				"error", err,
			)
			continue
		}
		sent++
	}
	s.logger.InfoContext(ctx, "payment reminders sent", "date", yesterday, "candidates", len(rows), "sent", sent)
	return sent, nil
}

func (s *Scheduler) event(reg records.Registration) notify.Event {
	contact := s.contacts.NonPR
	if reg.PRStatus {
		contact = s.contacts.PR
	}
	return notify.Event{
		Kind:       notify.KindPaymentReminder,
		Recipient:  reg.Email,
		FullName:   reg.FullName,
		Course:     reg.Course,
		CourseDate: reg.CourseDate,
		Message: fmt.Sprintf(
			"Hi %s, we haven't received your payment of $%s for %s on %s yet. You can pay here: %s. Questions? Contact %s.",
			reg.FirstName, reg.AmountOfPayment.StringFixed(2), reg.Course, reg.CourseDate, reg.PaymentLink, contact),
		Data: map[string]string{
			"submission_id": reg.SubmissionID,
			"contact":       contact,
			"payment_link":  reg.PaymentLink,
		},
	}
}

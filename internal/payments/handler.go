package payments

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"regdesk/internal/notify"
	"regdesk/internal/platform/kafka/consumer"
)

// Reconciler is satisfied by *Service.
type Reconciler interface {
	Reconcile(ctx context.Context, n Notification) *Result
}

// Publisher delivers staff notifications.
type Publisher interface {
	Publish(ctx context.Context, event notify.Event) error
}

// OutcomeEvent builds the staff notification for a partial or failed
// reconciliation. It reports false for a success.
func OutcomeEvent(n Notification, res *Result) (notify.Event, bool) {
	var kind notify.Kind
	switch res.Status {
	case StatusPartial:
		kind = notify.KindPaymentShortfall
	case StatusError:
		kind = notify.KindPaymentFailed
	default:
		return notify.Event{}, false
	}
	data := map[string]string{
		"notification_id": n.ID,
		"subject":         n.Subject,
	}
	if res.Status == StatusPartial {
		data["paid"] = res.Event.Amount.StringFixed(2)
		data["required"] = res.Expected.StringFixed(2)
	}
	return notify.Event{
		Kind:       kind,
		FullName:   res.Event.FullName,
		Course:     res.Event.Course,
		CourseDate: res.Event.CourseDate,
		Message:    res.Message,
		Data:       data,
	}, true
}

// NotificationHandler consumes payment notifications from Kafka.
type NotificationHandler struct {
	reconciler Reconciler
	publisher  Publisher
	logger     *slog.Logger
	retries    uint64
}

func NewNotificationHandler(r Reconciler, p Publisher, logger *slog.Logger) *NotificationHandler {
	if r == nil || p == nil {
		panic("payments.NewNotificationHandler: reconciler and publisher are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHandler{reconciler: r, publisher: p, logger: logger, retries: 3}
}

// Handle never asks the consumer to redeliver: reconciliation is not idempotent
// once a row has been marked paid. Undecodable messages are logged and skipped.
func (h *NotificationHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	var n Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		h.logger.ErrorContext(ctx, "undecodable payment notification",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if n.ID == "" {
		n.ID = string(msg.Key)
	}

	res := h.reconciler.Reconcile(ctx, n)
	event, ok := OutcomeEvent(n, res)
	if !ok {
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(200*time.Millisecond)), h.retries),
		ctx,
	)
	if err := backoff.Retry(func() error { return h.publisher.Publish(ctx, event) }, policy); err != nil {
		h.logger.ErrorContext(ctx, "failed to publish payment outcome",
			"notification_id", n.ID,
			"status", res.Status,
			"error", err,
		)
	}
	return nil
}

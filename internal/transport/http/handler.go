package httptransport

import (
	"context"
	"log/slog"

	"regdesk/internal/conversation"
	"regdesk/internal/notify"
	"regdesk/internal/payments"
	"regdesk/internal/records"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks ChatService,ImageService,ReconcileService,NotificationPublisher,RecordFinder,ReviewService

type ChatService interface {
	Turn(ctx context.Context, in conversation.Input) (*conversation.Reply, error)
}

type ImageService interface {
	Upload(ctx context.Context, filename string, data []byte) (string, error)
	Resolve(ref string) (string, error)
}

type ReconcileService interface {
	Reconcile(ctx context.Context, n payments.Notification) *payments.Result
}

type NotificationPublisher interface {
	Publish(ctx context.Context, event notify.Event) error
}

type RecordFinder interface {
	Find(ctx context.Context, matches ...records.Match) ([]records.Row, error)
}

type ReviewService interface {
	ResolveReview(ctx context.Context, sessionID string, approved bool) (*conversation.Reply, error)
}

// Handler is the thin HTTP layer over the conversation, upload, payment and
// staff services.
type Handler struct {
	chat      ChatService
	images    ImageService
	payments  ReconcileService
	publisher NotificationPublisher
	records   RecordFinder
	reviews   ReviewService
	maxUpload int64
	logger    *slog.Logger
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithPayments enables the payment notification webhook.
func WithPayments(r ReconcileService, p NotificationPublisher) Option {
	return func(h *Handler) {
		h.payments = r
		h.publisher = p
	}
}

// WithAdmin enables the staff endpoints.
func WithAdmin(records RecordFinder, reviews ReviewService) Option {
	return func(h *Handler) {
		h.records = records
		h.reviews = reviews
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// NewHandler creates a Handler. Panics if required dependencies are nil.
func NewHandler(chat ChatService, images ImageService, logger *slog.Logger, opts ...Option) *Handler {
	if chat == nil || images == nil {
		panic("httptransport.NewHandler: chat and image services are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{chat: chat, images: images, maxUpload: 10 << 20, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

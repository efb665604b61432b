package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"regdesk/internal/platform/health"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/middleware/admin"
	request "regdesk/pkg/platform/middleware/request"
)

var errApprovedRequired = dErrors.New(dErrors.CodeValidation, "approved is required")

// RouterConfig carries the cross-cutting pieces of the router.
type RouterConfig struct {
	AdminToken string
	Timeout    time.Duration
	Metrics    *request.Metrics
	Health     *health.Handler
}

// NewRouter wires all public endpoints with middleware.
func NewRouter(h *Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger))
	r.Use(request.LatencyMiddleware(cfg.Metrics, routePattern))

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(cfg.Timeout))
		r.Post("/api/chat", h.handleChat)
		r.Post("/api/upload", h.handleUpload)
		if h.payments != nil {
			r.Post("/api/payments/notifications", h.handlePaymentNotification)
		}
	})

	if h.records != nil && h.reviews != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(admin.RequireAdminToken(cfg.AdminToken, logger))
			r.Use(request.Timeout(cfg.Timeout))
			r.Get("/registrations", h.handleListRegistrations)
			r.Post("/sessions/{sessionID}/review", h.handleResolveReview)
		})
	}
	return r
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

package admin

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/httputil"
	request "regdesk/pkg/platform/middleware/request"
)

type reviewerKey struct{}

// Reviewer returns the staff member identified by X-Admin-Actor-ID, or "" when absent.
func Reviewer(ctx context.Context) string {
	if id, ok := ctx.Value(reviewerKey{}).(string); ok {
		return id
	}
	return ""
}

// RequireAdminToken guards staff endpoints (registration lookup, document review).
// An empty expected token disables the endpoints entirely.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get("X-Admin-Token")
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", request.GetRequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			if actorID := r.Header.Get("X-Admin-Actor-ID"); actorID != "" {
				ctx = context.WithValue(ctx, reviewerKey{}, actorID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

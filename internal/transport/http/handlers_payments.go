package httptransport

import (
	"net/http"
	"strings"

	"regdesk/internal/payments"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/httputil"
	request "regdesk/pkg/platform/middleware/request"
)

type notificationRequest struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (r *notificationRequest) Validate() error {
	if strings.TrimSpace(r.Body) == "" {
		return dErrors.New(dErrors.CodeValidation, "body is required")
	}
	return nil
}

// handlePaymentNotification reconciles one notification synchronously. The
// outcome is reported in the body with 200 for every status; staff are told
// about shortfalls and failures through the publisher.
func (h *Handler) handlePaymentNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[notificationRequest](w, r, h.logger)
	if !ok {
		return
	}
	n := payments.Notification{ID: req.ID, Subject: req.Subject, Body: req.Body}
	if n.ID == "" {
		n.ID = request.GetRequestID(ctx)
	}

	res := h.payments.Reconcile(ctx, n)
	if event, notifyStaff := payments.OutcomeEvent(n, res); notifyStaff && h.publisher != nil {
		if err := h.publisher.Publish(ctx, event); err != nil {
			h.logger.ErrorContext(ctx, "failed to publish payment outcome",
				"request_id", request.GetRequestID(ctx),
				"notification_id", n.ID,
				"error", err,
			)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

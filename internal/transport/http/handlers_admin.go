package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"regdesk/internal/conversation"
	"regdesk/internal/records"
	"regdesk/pkg/platform/httputil"
	"regdesk/pkg/platform/middleware/admin"
	request "regdesk/pkg/platform/middleware/request"
)

var registrationFilters = []struct {
	param string
	col   records.Column
}{
	{"full_name", records.ColFullName},
	{"course", records.ColCourse},
	{"course_date", records.ColCourseDate},
	{"email", records.ColEmail},
}

type registrationsResponse struct {
	Registrations []records.Row `json:"registrations"`
	Total         int           `json:"total"`
}

func (h *Handler) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	var matches []records.Match
	for _, f := range registrationFilters {
		if v := q.Get(f.param); v != "" {
			matches = append(matches, records.Eq(f.col, v))
		}
	}

	rows, err := h.records.Find(ctx, matches...)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list registrations",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if rows == nil {
		rows = []records.Row{}
	}
	httputil.WriteJSON(w, http.StatusOK, registrationsResponse{Registrations: rows, Total: len(rows)})
}

type reviewRequest struct {
	Approved *bool `json:"approved"`
}

func (r *reviewRequest) Validate() error {
	if r.Approved == nil {
		return errApprovedRequired
	}
	return nil
}

type reviewResponse struct {
	SessionID string `json:"session_id"`
	Step      string `json:"step"`
	Response  string `json:"response"`
	UIAction  string `json:"ui_action"`
}

func (h *Handler) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")
	req, ok := httputil.DecodeAndPrepare[reviewRequest](w, r, h.logger)
	if !ok {
		return
	}

	reply, err := h.reviews.ResolveReview(ctx, sessionID, *req.Approved)
	if err != nil {
		h.logger.WarnContext(ctx, "review resolution failed",
			"request_id", request.GetRequestID(ctx),
			"session_id", sessionID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "document review resolved",
		"request_id", request.GetRequestID(ctx),
		"session_id", sessionID,
		"approved", *req.Approved,
		"reviewer", admin.Reviewer(ctx),
	)
	text, action := conversation.ExtractUIAction(reply.Text)
	httputil.WriteJSON(w, http.StatusOK, reviewResponse{
		SessionID: reply.SessionID,
		Step:      string(reply.Step),
		Response:  text,
		UIAction:  string(action),
	})
}

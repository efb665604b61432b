package httptransport

import (
	"net/http"
	"strings"

	"regdesk/internal/conversation"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/httputil"
	request "regdesk/pkg/platform/middleware/request"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	ImageRef  string `json:"image_ref"`
}

func (r *chatRequest) Sanitize() {
	r.Message = strings.TrimSpace(r.Message)
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.ImageRef = strings.TrimSpace(r.ImageRef)
}

func (r *chatRequest) Validate() error {
	if r.Message == "" && r.ImageRef == "" && r.SessionID == "" {
		return dErrors.New(dErrors.CodeValidation, "message or image_ref is required")
	}
	if len(r.Message) > 8000 {
		return dErrors.New(dErrors.CodeValidation, "message must be at most 8000 characters")
	}
	return nil
}

type chatResponse struct {
	Response  string `json:"response"`
	UIAction  string `json:"ui_action"`
	SessionID string `json:"session_id"`
	Step      string `json:"step"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[chatRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.ImageRef != "" {
		if _, err := h.images.Resolve(req.ImageRef); err != nil {
			h.logger.WarnContext(ctx, "rejected image reference",
				"request_id", request.GetRequestID(ctx),
				"session_id", req.SessionID,
				"error", err,
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "image_ref is invalid or expired"))
			return
		}
	}

	reply, err := h.chat.Turn(ctx, conversation.Input{SessionID: req.SessionID, Text: req.Message, ImageRef: req.ImageRef})
	if err != nil {
		h.logger.ErrorContext(ctx, "chat turn failed",
			"request_id", request.GetRequestID(ctx),
			"session_id", req.SessionID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	text, action := conversation.ExtractUIAction(reply.Text)
	httputil.WriteJSON(w, http.StatusOK, chatResponse{
		Response:  text,
		UIAction:  string(action),
		SessionID: reply.SessionID,
		Step:      string(reply.Step),
	})
}

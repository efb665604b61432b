package httptransport

import (
	"errors"
	"io"
	"net/http"

	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/httputil"
	request "regdesk/pkg/platform/middleware/request"
)

type uploadResponse struct {
	ImageRef string `json:"image_ref"`
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "image exceeds size limit"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "could not read upload"))
		return
	}
	if int64(len(data)) > h.maxUpload {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "image exceeds size limit"))
		return
	}

	ref, err := h.images.Upload(ctx, header.Filename, data)
	if err != nil {
		h.logger.WarnContext(ctx, "upload rejected",
			"request_id", request.GetRequestID(ctx),
			"filename", header.Filename,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, uploadResponse{ImageRef: ref})
}

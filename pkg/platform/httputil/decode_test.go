package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "regdesk/pkg/domain-errors"
)

type lookupRequest struct {
	FullName string `json:"full_name"`
	Course   string `json:"course"`
}

// noticeRequest returns a plain error from Validate.
type noticeRequest struct {
	Body string `json:"body"`
}

func (r *noticeRequest) Validate() error {
	if r.Body == "" {
		return errors.New("body is required")
	}
	return nil
}

// turnRequest implements both preparation hooks.
type turnRequest struct {
	Message   string `json:"message"`
	sanitized bool
	validated bool
}

func (r *turnRequest) Sanitize() {
	r.sanitized = true
	r.Message = strings.TrimSpace(r.Message)
}

func (r *turnRequest) Validate() error {
	r.validated = true
	if r.Message == "" {
		return dErrors.New(dErrors.CodeBadRequest, "message is required")
	}
	return nil
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var errResp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	return errResp
}

func TestDecodeJSON(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("successful decode", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"full_name":"Jane Doe","course":"Standard First Aid"}`))
		w := httptest.NewRecorder()

		result, ok := DecodeJSON[lookupRequest](w, req, logger)

		assert.True(t, ok)
		require.NotNil(t, result)
		assert.Equal(t, "Jane Doe", result.FullName)
		assert.Equal(t, "Standard First Aid", result.Course)
	})

	t.Run("invalid JSON returns bad_request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{invalid json}`))
		w := httptest.NewRecorder()

		result, ok := DecodeJSON[lookupRequest](w, req, logger)

		assert.False(t, ok)
		assert.Nil(t, result)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "bad_request", decodeError(t, w)["error"])
	})

	t.Run("empty body returns bad_request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(""))
		w := httptest.NewRecorder()

		_, ok := DecodeJSON[lookupRequest](w, req, logger)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("oversized body is rejected", func(t *testing.T) {
		huge := `{"body":"` + strings.Repeat("a", maxBodyBytes) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge))
		w := httptest.NewRecorder()

		_, ok := DecodeJSON[noticeRequest](w, req, logger)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("sanitizes before validating", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"message":"  I want to register  "}`))
		w := httptest.NewRecorder()

		result, ok := DecodeAndPrepare[turnRequest](w, req, logger)

		assert.True(t, ok)
		require.NotNil(t, result)
		assert.True(t, result.sanitized)
		assert.True(t, result.validated)
		assert.Equal(t, "I want to register", result.Message)
	})

	t.Run("whitespace-only message fails after sanitizing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"message":"   "}`))
		w := httptest.NewRecorder()

		result, ok := DecodeAndPrepare[turnRequest](w, req, logger)

		assert.False(t, ok)
		assert.Nil(t, result)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		errResp := decodeError(t, w)
		assert.Equal(t, "bad_request", errResp["error"], "domain code is preserved")
		assert.Equal(t, "message is required", errResp["error_description"])
	})

	t.Run("plain error is wrapped as validation_error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"body":""}`))
		w := httptest.NewRecorder()

		_, ok := DecodeAndPrepare[noticeRequest](w, req, logger)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		errResp := decodeError(t, w)
		assert.Equal(t, "validation_error", errResp["error"])
		assert.Contains(t, errResp["error_description"], "body is required")
	})
}

func TestPrepareRequest(t *testing.T) {
	assert.NoError(t, PrepareRequest(&noticeRequest{Body: "New CA$125.00 payment received!"}))
	assert.ErrorContains(t, PrepareRequest(&noticeRequest{}), "body is required")
	assert.NoError(t, PrepareRequest(&lookupRequest{}), "types without hooks pass through")
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"extraction", dErrors.New(dErrors.CodeExtraction, "no amount"), http.StatusUnprocessableEntity, "extraction_failed"},
		{"ambiguous", dErrors.New(dErrors.CodeAmbiguousMatch, "two rows"), http.StatusConflict, "ambiguous_match"},
		{"store", dErrors.New(dErrors.CodeStoreIO, "disk full"), http.StatusServiceUnavailable, "store_unavailable"},
		{"unauthorized", dErrors.New(dErrors.CodeUnauthorized, "bad token"), http.StatusUnauthorized, "unauthorized"},
		{"not found", dErrors.New(dErrors.CodeNotFound, "no session"), http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w)["error"])
		})
	}

	t.Run("plain errors hide their message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("pq: connection refused"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}

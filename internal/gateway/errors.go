// ABOUTME: Maps chat and auth errors to HTTP statuses and wire error codes
// ABOUTME: Internal failures are logged and reported without details

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/conversation"
)

// Wire error codes shared by REST bodies and live error frames
const (
	codeUnauthorized     = "unauthorized"
	codeForbidden        = "forbidden"
	codeNotFound         = "not_found"
	codeInvalidInput     = "invalid_input"
	codeInvalidOperation = "invalid_operation"
	codeBadRequest       = "bad_request"
	codeInternal         = "internal"
)

const internalMessage = "internal server error"

// classify returns the HTTP status and wire code for err
func classify(err error) (int, string) {
	switch {
	case auth.IsUnauthorized(err):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, conversation.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, conversation.ErrInvalidOperation):
		return http.StatusBadRequest, codeInvalidOperation
	case errors.Is(err, conversation.ErrInvalidInput), errors.Is(err, errInvalidFrameData):
		return http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, codeBadRequest
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// publicMessage is the error text safe to show a client
func publicMessage(err error, code string) string {
	if code == codeInternal {
		return internalMessage
	}
	return err.Error()
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err and writes the JSON error body
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status, code := classify(err)
	if code == codeInternal {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: publicMessage(err, code), Code: code})
}

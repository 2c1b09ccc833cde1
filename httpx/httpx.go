package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"pactflow/agreement"
	"pactflow/wallet"
)

// RequestIDHeader carries the request id set by the API middleware.
const RequestIDHeader = "X-Request-ID"

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	requestID := w.Header().Get(RequestIDHeader)
	if requestID == "" {
		requestID = NewRequestID()
	}
	resp := map[string]any{
		"request_id": requestID,
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// Classify maps a domain error onto an HTTP status and error code.
func Classify(err error) (int, string) {
	var cce *wallet.ChainCallError
	switch {
	case errors.Is(err, wallet.ErrSessionExpired):
		return http.StatusUnauthorized, "SESSION_EXPIRED"
	case errors.Is(err, agreement.ErrUnauthorized):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, agreement.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, agreement.ErrStateConflict):
		return http.StatusBadRequest, "STATE_CONFLICT"
	case errors.Is(err, agreement.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.As(err, &cce):
		return http.StatusInternalServerError, "CHAIN_CALL_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// WriteDomainError writes err with the status Classify picks. Chain failures
// carry their stage and revert reason as details; unclassified errors hide
// their message.
func WriteDomainError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	message := err.Error()
	var details any

	var cce *wallet.ChainCallError
	switch {
	case errors.As(err, &cce):
		details = map[string]any{"stage": cce.Stage, "method": cce.Method, "reason": cce.Reason}
	case code == "INTERNAL":
		message = "internal error"
	}
	WriteError(w, status, code, message, details)
}

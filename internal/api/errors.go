package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/knx-access/internal/gateway"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes. Bus errors reuse the gateway response codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "unavailable"
	ErrCodeTooLarge    = "payload_too_large"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBusError maps a codec or access port error onto an HTTP status,
// keeping the gateway code so REST and MQTT clients see the same values.
func writeBusError(w http.ResponseWriter, err error) {
	code := gateway.ErrorCode(err)
	writeError(w, statusForCode(code), code, err.Error())
}

func statusForCode(code string) int {
	switch code {
	case gateway.CodeInvalidCommand, gateway.CodeUnknownDPT:
		return http.StatusBadRequest
	case gateway.CodeInvalidValue:
		return http.StatusUnprocessableEntity
	case gateway.CodeReadPending:
		return http.StatusConflict
	case gateway.CodeTimeout:
		return http.StatusGatewayTimeout
	case gateway.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

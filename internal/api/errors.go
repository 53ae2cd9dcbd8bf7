package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-mysensors/internal/entity"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/gateway"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeUnavailable = "gateway_unavailable"
	ErrCodeTimeout     = "timeout"
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

// writeCommandError maps a command failure to a status code.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrUnknownGateway),
		errors.Is(err, registry.ErrNodeNotFound),
		errors.Is(err, registry.ErrChildNotFound),
		errors.Is(err, registry.ErrDeviceNotFound),
		errors.Is(err, entity.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, entity.ErrNotCover):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, protocol.ErrMalformedFrame),
		errors.Is(err, entity.ErrInvalidPosition):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, gateway.ErrSessionNotReady),
		errors.Is(err, gateway.ErrSessionClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		writeInternalError(w, "command failed")
	}
}

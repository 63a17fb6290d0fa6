package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/apperrors"
	"github.com/new-bakery/nga/pkg/logging"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// errorStatus maps an error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrConfiguration):
		return http.StatusBadRequest, "configuration_error"
	case errors.Is(err, apperrors.ErrData):
		return http.StatusBadRequest, "data_error"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrPrecondition):
		return http.StatusConflict, "precondition_failed"
	case errors.Is(err, apperrors.ErrConnectivity):
		return http.StatusBadGateway, "connectivity_error"
	case errors.Is(err, apperrors.ErrLockAcquisition):
		return http.StatusServiceUnavailable, "lock_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError writes err as an error response. Server-side failures
// are logged and reported without detail; the other classes carry the
// sanitized error text.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, action string, err error) {
	status, code := errorStatus(err)
	message := logging.SanitizeError(err)
	if status == http.StatusInternalServerError {
		logger.Error("Failed to "+action, zap.String("error", message))
		message = "Failed to " + action
	} else {
		logger.Debug("Request rejected",
			zap.String("action", action),
			zap.Int("status", status),
			zap.String("error", message))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

func writeOK(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	if err := WriteJSON(w, status, data); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeBadRequest(w http.ResponseWriter, logger *zap.Logger, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

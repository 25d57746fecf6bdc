package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-notification-admin/internal/notifier"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

type validationBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

// writeJSON encodes v with the given status. Encoding errors after the
// header is written can only be logged.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "err", err)
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error, logger *slog.Logger) {
	if ve, ok := notification.AsValidationError(err); ok {
		writeJSON(w, http.StatusBadRequest, validationBody{Error: "validation failed", Fields: ve.Fields}, logger)
		return
	}

	switch {
	case errors.Is(err, notification.ErrNotFound):
		response.WriteJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, notification.ErrInvalidTransition):
		response.WriteJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, notifier.ErrNothingToRetry):
		response.WriteJSONError(w, http.StatusConflict, err.Error())
	case notification.IsResolutionError(err):
		logger.Error("Recipient resolution failed", "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, "recipient directory unavailable")
	case errors.Is(err, notification.ErrTransport):
		logger.Error("Delivery transport fault", "err", err)
		response.WriteJSONError(w, http.StatusServiceUnavailable, "delivery provider unavailable")
	default:
		logger.Error("Request failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

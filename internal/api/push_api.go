package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

const defaultDeliveryLimit = 50

// Sender sends push messages and exposes their delivery audits.
type Sender interface {
	SendPush(ctx context.Context, msg notification.PushMessage) (notification.AuditEntry, error)
	Redispatch(ctx context.Context, deliveryID string) (notification.AuditEntry, error)
	Delivery(ctx context.Context, id string) (notification.AuditEntry, error)
	Deliveries(ctx context.Context, limit int) ([]notification.AuditEntry, error)
}

type PushAPI struct {
	Sender Sender
	Logger *slog.Logger
}

func NewPushAPI(sender Sender, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Sender: sender,
		Logger: logger.With("component", "PushAPI"),
	}
}

// SendPush dispatches a push message and returns its audit entry. Partial
// and total delivery failure are still 200: the report carries the outcome.
func (api *PushAPI) SendPush(w http.ResponseWriter, r *http.Request) {
	var msg notification.PushMessage
	if !decode(w, r, &msg) {
		return
	}
	entry, err := api.Sender.SendPush(r.Context(), msg)
	if err != nil {
		writeError(w, err, api.Logger)
		return
	}
	writeJSON(w, http.StatusOK, entry, api.Logger)
}

func (api *PushAPI) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeliveryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := api.Sender.Deliveries(r.Context(), limit)
	if err != nil {
		writeError(w, err, api.Logger)
		return
	}
	writeJSON(w, http.StatusOK, entries, api.Logger)
}

func (api *PushAPI) GetDelivery(w http.ResponseWriter, r *http.Request) {
	entry, err := api.Sender.Delivery(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, api.Logger)
		return
	}
	writeJSON(w, http.StatusOK, entry, api.Logger)
}

// RetryDelivery re-sends a stored delivery to its failed recipients only.
func (api *PushAPI) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	entry, err := api.Sender.Redispatch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, api.Logger)
		return
	}
	writeJSON(w, http.StatusOK, entry, api.Logger)
}

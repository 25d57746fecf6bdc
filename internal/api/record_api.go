package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// Records is the lifecycle surface of in-app notifications.
type Records interface {
	Create(ctx context.Context, n notification.InAppNotification) (notification.Record, error)
	Get(ctx context.Context, id string) (notification.Record, error)
	List(ctx context.Context, filter notification.ListFilter) ([]notification.Record, error)
	CountUnread(ctx context.Context) (int, error)
	Update(ctx context.Context, id string, patch notification.RecordPatch) (notification.Record, error)
	Delete(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) (notification.Record, error)
	MarkUnread(ctx context.Context, id string) (notification.Record, error)
	MarkAllRead(ctx context.Context) (int, error)
	Publish(ctx context.Context, id string) (notification.Record, error)
	Archive(ctx context.Context, id string) (notification.Record, error)
	Restore(ctx context.Context, id string) (notification.Record, error)
}

type RecordAPI struct {
	Records Records
	Logger  *slog.Logger
}

func NewRecordAPI(records Records, logger *slog.Logger) *RecordAPI {
	return &RecordAPI{
		Records: records,
		Logger:  logger.With("component", "RecordAPI"),
	}
}

func (api *RecordAPI) Create(w http.ResponseWriter, r *http.Request) {
	var in notification.InAppNotification
	if !decode(w, r, &in) {
		return
	}
	rec, err := api.Records.Create(r.Context(), in)
	if err != nil {
		writeError(w, err, api.Logger)
		return
	}
	writeJSON(w, http.StatusCreated, rec, api.Logger)
}

// List accepts unread=true, type=info,warning, status, limit and offset.
func (api *RecordAPI) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := api.Records.List(r.Context(), filter)
	if err != nil {
		writeError(w, err, api.Logger)
		return
	}
	writeJSON(w, http.StatusOK, records, api.Logger)
}

func (api *RecordAPI) Get(w http.ResponseWriter, r *http.Request) {
	api.respond(w, r, api.Records.Get)
}

func (api *RecordAPI) Update(w http.ResponseWriter, r *http.Request) {
	var patch notification.RecordPatch
	if !decode(w, r, &patch) {
		return
	}
	rec, err := api.Records.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err, api.Logger)
		return
	}
	writeJSON(w, http.StatusOK, rec, api.Logger)
}

func (api *RecordAPI) Delete(w http.ResponseWriter, r *http.Request) {
	if err := api.Records.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err, api.Logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *RecordAPI) MarkRead(w http.ResponseWriter, r *http.Request) {
	api.respond(w, r, api.Records.MarkRead)
}

func (api *RecordAPI) MarkUnread(w http.ResponseWriter, r *http.Request) {
	api.respond(w, r, api.Records.MarkUnread)
}

func (api *RecordAPI) Publish(w http.ResponseWriter, r *http.Request) {
	api.respond(w, r, api.Records.Publish)
}

func (api *RecordAPI) Archive(w http.ResponseWriter, r *http.Request) {
	api.respond(w, r, api.Records.Archive)
}

func (api *RecordAPI) Restore(w http.ResponseWriter, r *http.Request) {
	api.respond(w, r, api.Records.Restore)
}

func (api *RecordAPI) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := api.Records.MarkAllRead(r.Context())
	if err != nil {
		writeError(w, err, api.Logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n}, api.Logger)
}

func (api *RecordAPI) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := api.Records.CountUnread(r.Context())
	if err != nil {
		writeError(w, err, api.Logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n}, api.Logger)
}

func (api *RecordAPI) respond(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (notification.Record, error)) {
	rec, err := op(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, api.Logger)
		return
	}
	writeJSON(w, http.StatusOK, rec, api.Logger)
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseFilter(r *http.Request) (notification.ListFilter, error) {
	q := r.URL.Query()
	var filter notification.ListFilter

	if raw := q.Get("unread"); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, filterError("invalid unread")
		}
		filter.OnlyUnread = unread
	}
	if raw := q.Get("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, notification.Type(strings.TrimSpace(t)))
		}
	}
	filter.Status = notification.Status(q.Get("status"))

	var err error
	if filter.Limit, err = nonNegative(q.Get("limit")); err != nil {
		return filter, filterError("invalid limit")
	}
	if filter.Offset, err = nonNegative(q.Get("offset")); err != nil {
		return filter, filterError("invalid offset")
	}
	return filter, nil
}

func nonNegative(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, filterError("negative")
	}
	return n, nil
}

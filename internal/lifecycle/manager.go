// Package lifecycle manages in-app notification records: creation, edits,
// read state, and the draft/published/archived workflow.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// transitions lists the permitted status changes. Re-applying the current
// status is not a transition.
var transitions = map[notification.Status][]notification.Status{
	notification.StatusDraft:     {notification.StatusPublished, notification.StatusArchived},
	notification.StatusPublished: {notification.StatusArchived},
	notification.StatusArchived:  {notification.StatusDraft},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to notification.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Manager struct {
	store  dispatch.RecordStore
	logger *slog.Logger
}

func New(store dispatch.RecordStore, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger.With("component", "LifecycleManager"),
	}
}

// Create validates n and stores it as an unread record. It starts as a draft
// when n.Draft is set and as published otherwise.
func (m *Manager) Create(ctx context.Context, n notification.InAppNotification) (notification.Record, error) {
	n, err := notification.NewInAppNotification(n)
	if err != nil {
		return notification.Record{}, err
	}

	status := notification.StatusPublished
	if n.Draft {
		status = notification.StatusDraft
	}
	rec, err := m.store.Create(ctx, notification.Record{
		Title:   n.Title,
		Message: n.Message,
		Type:    n.Type,
		Link:    n.Link,
		IsRead:  false,
		Status:  status,
	})
	if err != nil {
		m.logger.Error("Failed to create notification", "err", err)
		return notification.Record{}, fmt.Errorf("failed to create notification: %w", err)
	}
	m.logger.Info("Notification created", "id", rec.ID, "status", rec.Status)
	return rec, nil
}

func (m *Manager) Get(ctx context.Context, id string) (notification.Record, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter notification.ListFilter) ([]notification.Record, error) {
	return m.store.List(ctx, filter)
}

func (m *Manager) CountUnread(ctx context.Context) (int, error) {
	return m.store.CountUnread(ctx)
}

// Update applies a partial edit. Fields absent from the patch keep their
// value. The edited record is validated before anything is written, and a
// status change must be a permitted transition from the status the store
// still holds at write time.
func (m *Manager) Update(ctx context.Context, id string, patch notification.RecordPatch) (notification.Record, error) {
	// Content rules are checked before the store is touched.
	if err := patch.Validate(); err != nil {
		return notification.Record{}, err
	}

	current, err := m.store.Get(ctx, id)
	if err != nil {
		return notification.Record{}, err
	}
	if patch.Status != nil && *patch.Status != current.Status && !CanTransition(current.Status, *patch.Status) {
		return notification.Record{}, fmt.Errorf("%w: %s to %s", notification.ErrInvalidTransition, current.Status, *patch.Status)
	}
	if patch.Status != nil && *patch.Status == current.Status {
		patch.Status = nil
		if patch.IsEmpty() {
			return current, nil
		}
	}
	if err := patch.Apply(current).Validate(); err != nil {
		return notification.Record{}, err
	}
	if patch.Status != nil {
		// The transition was checked against current; a concurrent change
		// makes the store reject the write.
		patch.ExpectStatus = &current.Status
	}

	rec, err := m.store.Update(ctx, id, patch)
	if err != nil {
		m.logger.Error("Failed to update notification", "id", id, "err", err)
		return notification.Record{}, err
	}
	return rec, nil
}

// MarkRead sets the read flag. Marking an already read record is a no-op
// that still returns it.
func (m *Manager) MarkRead(ctx context.Context, id string) (notification.Record, error) {
	return m.store.Update(ctx, id, notification.RecordPatch{IsRead: notification.Ptr(true)})
}

func (m *Manager) MarkUnread(ctx context.Context, id string) (notification.Record, error) {
	return m.store.Update(ctx, id, notification.RecordPatch{IsRead: notification.Ptr(false)})
}

// MarkAllRead marks every unread record read and returns how many changed.
func (m *Manager) MarkAllRead(ctx context.Context) (int, error) {
	unread, err := m.store.List(ctx, notification.ListFilter{OnlyUnread: true})
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, r := range unread {
		if _, err := m.MarkRead(ctx, r.ID); err != nil {
			m.logger.Error("Failed to mark notification read", "id", r.ID, "err", err)
			return changed, err
		}
		changed++
	}
	m.logger.Info("Marked all notifications read", "count", changed)
	return changed, nil
}

// Publish moves a draft to published.
func (m *Manager) Publish(ctx context.Context, id string) (notification.Record, error) {
	return m.transition(ctx, id, notification.StatusPublished)
}

// Archive moves a draft or published record to archived.
func (m *Manager) Archive(ctx context.Context, id string) (notification.Record, error) {
	return m.transition(ctx, id, notification.StatusArchived)
}

// Restore moves an archived record back to draft.
func (m *Manager) Restore(ctx context.Context, id string) (notification.Record, error) {
	return m.transition(ctx, id, notification.StatusDraft)
}

// Delete removes the record in any status.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("Notification deleted", "id", id)
	return nil
}

func (m *Manager) transition(ctx context.Context, id string, to notification.Status) (notification.Record, error) {
	current, err := m.store.Get(ctx, id)
	if err != nil {
		return notification.Record{}, err
	}
	if !CanTransition(current.Status, to) {
		return notification.Record{}, fmt.Errorf("%w: %s to %s", notification.ErrInvalidTransition, current.Status, to)
	}
	rec, err := m.store.Update(ctx, id, notification.RecordPatch{Status: &to, ExpectStatus: &current.Status})
	if err != nil {
		m.logger.Error("Failed to change notification status", "id", id, "to", to, "err", err)
		return notification.Record{}, err
	}
	m.logger.Info("Notification status changed", "id", id, "from", current.Status, "to", to)
	return rec, nil
}

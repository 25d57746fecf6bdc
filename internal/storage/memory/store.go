// Package memory provides in-process implementations of the registry, record
// and audit stores. It backs local development and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// Registry holds registered devices keyed by user and recipient.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]map[notification.RecipientID]dispatch.Device
	order   []notification.RecipientID
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]map[notification.RecipientID]dispatch.Device)}
}

func (r *Registry) Register(_ context.Context, user urn.URN, device dispatch.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := user.String()
	if r.devices[key] == nil {
		r.devices[key] = make(map[notification.RecipientID]dispatch.Device)
	}
	if !r.known(device.Recipient) {
		r.order = append(r.order, device.Recipient)
	}
	device.Topics = slices.Clone(device.Topics)
	r.devices[key][device.Recipient] = device
	return nil
}

func (r *Registry) Unregister(_ context.Context, user urn.URN, recipient notification.RecipientID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices[user.String()], recipient)
	r.compact()
	return nil
}

// Prune removes the recipients from every user.
func (r *Registry) Prune(_ context.Context, recipients []notification.RecipientID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, devices := range r.devices {
		for _, id := range recipients {
			delete(devices, id)
		}
	}
	r.compact()
	return nil
}

// LookupAll returns recipients in registration order.
func (r *Registry) LookupAll(_ context.Context) ([]notification.RecipientID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order), nil
}

func (r *Registry) LookupByTopic(_ context.Context, topic string) ([]notification.RecipientID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]notification.RecipientID, 0)
	for _, id := range r.order {
		for _, devices := range r.devices {
			if d, ok := devices[id]; ok && slices.Contains(d.Topics, topic) {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, nil
}

// WebSubscription finds the subscription registered for a push endpoint.
func (r *Registry) WebSubscription(_ context.Context, endpoint string) (dispatch.WebSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id := notification.NewRecipientID(notification.PlatformWeb, endpoint)
	for _, devices := range r.devices {
		if d, ok := devices[id]; ok && d.Web != nil {
			return *d.Web, nil
		}
	}
	return dispatch.WebSubscription{}, notification.ErrNotFound
}

func (r *Registry) known(id notification.RecipientID) bool {
	for _, devices := range r.devices {
		if _, ok := devices[id]; ok {
			return true
		}
	}
	return false
}

// compact drops recipients no user still holds from the registration order.
func (r *Registry) compact() {
	r.order = slices.DeleteFunc(r.order, func(id notification.RecipientID) bool {
		return !r.known(id)
	})
}

// RecordStore keeps in-app records in memory.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]notification.Record
	// seq orders records by insertion; timestamps can collide.
	seq  map[string]int64
	next int64
	now  func() time.Time
}

func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]notification.Record),
		seq:     make(map[string]int64),
		now:     time.Now,
	}
}

func (s *RecordStore) Create(_ context.Context, r notification.Record) (notification.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uuid.NewString()
	r.CreatedAt = s.now().UTC()
	r.UpdatedAt = r.CreatedAt
	s.records[r.ID] = r
	s.next++
	s.seq[r.ID] = s.next
	return r, nil
}

func (s *RecordStore) Update(_ context.Context, id string, patch notification.RecordPatch) (notification.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return notification.Record{}, notification.ErrNotFound
	}
	if err := patch.CheckStatus(r.Status); err != nil {
		return notification.Record{}, err
	}
	r = patch.Apply(r)
	r.UpdatedAt = s.now().UTC()
	s.records[id] = r
	return r, nil
}

func (s *RecordStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return notification.ErrNotFound
	}
	delete(s.records, id)
	delete(s.seq, id)
	return nil
}

func (s *RecordStore) Get(_ context.Context, id string) (notification.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return notification.Record{}, notification.ErrNotFound
	}
	return r, nil
}

// List returns matching records newest first.
func (s *RecordStore) List(_ context.Context, filter notification.ListFilter) ([]notification.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]notification.Record, 0, len(s.records))
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *RecordStore) CountUnread(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if !r.IsRead {
			n++
		}
	}
	return n, nil
}

// AuditStore keeps delivery audit entries in memory.
type AuditStore struct {
	mu      sync.RWMutex
	entries []notification.AuditEntry
	now     func() time.Time
}

func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

func (s *AuditStore) SaveAudit(_ context.Context, entry notification.AuditEntry) (notification.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uuid.NewString()
	entry.CreatedAt = s.now().UTC()
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *AuditStore) GetAudit(_ context.Context, id string) (notification.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return notification.AuditEntry{}, notification.ErrNotFound
}

// ListAudits returns up to limit entries, newest first. A non-positive limit
// returns all of them.
func (s *AuditStore) ListAudits(_ context.Context, limit int) ([]notification.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]notification.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
	}
	return page(out, 0, limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var (
	_ dispatch.Registry           = (*Registry)(nil)
	_ dispatch.RecipientPruner    = (*Registry)(nil)
	_ dispatch.SubscriptionSource = (*Registry)(nil)
	_ dispatch.RecordStore        = (*RecordStore)(nil)
	_ dispatch.AuditStore         = (*AuditStore)(nil)
)

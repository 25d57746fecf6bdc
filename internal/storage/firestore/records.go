package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

const recordsCollection = "notifications"

// RecordStore implements dispatch.RecordStore on the notifications collection.
type RecordStore struct {
	client *firestore.Client
}

func NewRecordStore(client *firestore.Client) *RecordStore {
	return &RecordStore{client: client}
}

type recordDoc struct {
	Title     string    `firestore:"title"`
	Message   string    `firestore:"message"`
	Type      string    `firestore:"type"`
	Link      string    `firestore:"link,omitempty"`
	IsRead    bool      `firestore:"is_read"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func toRecordDoc(r notification.Record) recordDoc {
	return recordDoc{
		Title:     r.Title,
		Message:   r.Message,
		Type:      string(r.Type),
		Link:      r.Link,
		IsRead:    r.IsRead,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (d recordDoc) record(id string) notification.Record {
	return notification.Record{
		ID:        id,
		Title:     d.Title,
		Message:   d.Message,
		Type:      notification.Type(d.Type),
		Link:      d.Link,
		IsRead:    d.IsRead,
		Status:    notification.Status(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (s *RecordStore) Create(ctx context.Context, r notification.Record) (notification.Record, error) {
	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.CreatedAt = now
	r.UpdatedAt = now

	if _, err := s.collection().Doc(r.ID).Create(ctx, toRecordDoc(r)); err != nil {
		return notification.Record{}, fmt.Errorf("failed to create notification: %w", err)
	}
	return r, nil
}

func (s *RecordStore) Update(ctx context.Context, id string, patch notification.RecordPatch) (notification.Record, error) {
	updates := []firestore.Update{{Path: "updated_at", Value: time.Now().UTC()}}
	if patch.Title != nil {
		updates = append(updates, firestore.Update{Path: "title", Value: *patch.Title})
	}
	if patch.Message != nil {
		updates = append(updates, firestore.Update{Path: "message", Value: *patch.Message})
	}
	if patch.Type != nil {
		updates = append(updates, firestore.Update{Path: "type", Value: string(*patch.Type)})
	}
	if patch.Link != nil {
		updates = append(updates, firestore.Update{Path: "link", Value: *patch.Link})
	}
	if patch.IsRead != nil {
		updates = append(updates, firestore.Update{Path: "is_read", Value: *patch.IsRead})
	}
	if patch.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*patch.Status)})
	}

	ref := s.collection().Doc(id)
	var err error
	if patch.ExpectStatus == nil {
		// Update fails with NotFound on a missing document.
		_, err = ref.Update(ctx, updates)
	} else {
		err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			var doc recordDoc
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("failed to decode notification %s: %w", id, err)
			}
			if err := patch.CheckStatus(notification.Status(doc.Status)); err != nil {
				return err
			}
			return tx.Update(ref, updates)
		})
	}
	if err != nil {
		if isNotFound(err) {
			return notification.Record{}, notification.ErrNotFound
		}
		if errors.Is(err, notification.ErrInvalidTransition) {
			return notification.Record{}, err
		}
		return notification.Record{}, fmt.Errorf("failed to update notification %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

func (s *RecordStore) Delete(ctx context.Context, id string) error {
	if _, err := s.collection().Doc(id).Delete(ctx, firestore.Exists); err != nil {
		if isNotFound(err) {
			return notification.ErrNotFound
		}
		return fmt.Errorf("failed to delete notification %s: %w", id, err)
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, id string) (notification.Record, error) {
	snap, err := s.collection().Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return notification.Record{}, notification.ErrNotFound
		}
		return notification.Record{}, fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	var doc recordDoc
	if err := snap.DataTo(&doc); err != nil {
		return notification.Record{}, fmt.Errorf("failed to decode notification %s: %w", id, err)
	}
	return doc.record(snap.Ref.ID), nil
}

// List returns matching records newest first.
func (s *RecordStore) List(ctx context.Context, filter notification.ListFilter) ([]notification.Record, error) {
	q := s.filtered(filter).OrderBy("created_at", firestore.Desc)
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	records := make([]notification.Record, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var doc recordDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode notification %s: %w", snap.Ref.ID, err)
		}
		records = append(records, doc.record(snap.Ref.ID))
	}
	return records, nil
}

func (s *RecordStore) CountUnread(ctx context.Context) (int, error) {
	q := s.filtered(notification.ListFilter{OnlyUnread: true})
	res, err := q.NewAggregationQuery().WithCount("unread").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	v, ok := res["unread"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected aggregation result %T", res["unread"])
	}
	return int(v.GetIntegerValue()), nil
}

func (s *RecordStore) filtered(filter notification.ListFilter) firestore.Query {
	q := s.collection().Query
	if filter.OnlyUnread {
		q = q.Where("is_read", "==", false)
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		q = q.Where("type", "in", types)
	}
	if filter.Status != "" {
		q = q.Where("status", "==", string(filter.Status))
	}
	return q
}

func (s *RecordStore) collection() *firestore.CollectionRef {
	return s.client.Collection(recordsCollection)
}

var _ dispatch.RecordStore = (*RecordStore)(nil)

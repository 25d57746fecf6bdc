package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

const auditsCollection = "deliveries"

// AuditStore implements dispatch.AuditStore on a Mongo collection.
type AuditStore struct {
	coll *mongo.Collection
}

func NewAuditStore(db *mongo.Database) *AuditStore {
	return &AuditStore{coll: db.Collection(auditsCollection)}
}

type auditDoc struct {
	ID         string                          `bson:"_id"`
	RetryOf    string                          `bson:"retry_of,omitempty"`
	Message    notification.PushMessage        `bson:"message"`
	Total      int                             `bson:"total"`
	Succeeded  int                             `bson:"succeeded"`
	Failures   []notification.RecipientFailure `bson:"failures"`
	Status     string                          `bson:"status"`
	StartedAt  time.Time                       `bson:"started_at"`
	FinishedAt time.Time                       `bson:"finished_at"`
	CreatedAt  time.Time                       `bson:"created_at"`
}

func (d auditDoc) entry() notification.AuditEntry {
	failures := d.Failures
	if failures == nil {
		failures = make([]notification.RecipientFailure, 0)
	}
	return notification.AuditEntry{
		ID:      d.ID,
		RetryOf: d.RetryOf,
		DeliveryReport: notification.DeliveryReport{
			Message:    d.Message,
			Total:      d.Total,
			Succeeded:  d.Succeeded,
			Failures:   failures,
			Status:     notification.ReportStatus(d.Status),
			StartedAt:  d.StartedAt,
			FinishedAt: d.FinishedAt,
		},
		CreatedAt: d.CreatedAt,
	}
}

func (s *AuditStore) SaveAudit(ctx context.Context, entry notification.AuditEntry) (notification.AuditEntry, error) {
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	doc := auditDoc{
		ID:         entry.ID,
		RetryOf:    entry.RetryOf,
		Message:    entry.Message,
		Total:      entry.Total,
		Succeeded:  entry.Succeeded,
		Failures:   entry.Failures,
		Status:     string(entry.Status),
		StartedAt:  entry.StartedAt,
		FinishedAt: entry.FinishedAt,
		CreatedAt:  entry.CreatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return notification.AuditEntry{}, fmt.Errorf("failed to save delivery audit: %w", err)
	}
	return entry, nil
}

func (s *AuditStore) GetAudit(ctx context.Context, id string) (notification.AuditEntry, error) {
	var doc auditDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notification.AuditEntry{}, notification.ErrNotFound
	}
	if err != nil {
		return notification.AuditEntry{}, fmt.Errorf("failed to get delivery %s: %w", id, err)
	}
	return doc.entry(), nil
}

// ListAudits returns the newest entries first.
func (s *AuditStore) ListAudits(ctx context.Context, limit int) ([]notification.AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	var docs []auditDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode deliveries: %w", err)
	}

	entries := make([]notification.AuditEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, d.entry())
	}
	return entries, nil
}

var _ dispatch.AuditStore = (*AuditStore)(nil)

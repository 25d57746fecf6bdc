package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

const auditsCollection = "deliveries"

// AuditStore implements dispatch.AuditStore on the deliveries collection.
type AuditStore struct {
	client *firestore.Client
}

func NewAuditStore(client *firestore.Client) *AuditStore {
	return &AuditStore{client: client}
}

type failureDoc struct {
	Recipient string `firestore:"recipient"`
	Reason    string `firestore:"reason"`
	Detail    string `firestore:"detail,omitempty"`
}

type auditDoc struct {
	RetryOf    string                   `firestore:"retry_of,omitempty"`
	Message    notification.PushMessage `firestore:"message"`
	Total      int                      `firestore:"total"`
	Succeeded  int                      `firestore:"succeeded"`
	Failures   []failureDoc             `firestore:"failures"`
	Status     string                   `firestore:"status"`
	StartedAt  time.Time                `firestore:"started_at"`
	FinishedAt time.Time                `firestore:"finished_at"`
	CreatedAt  time.Time                `firestore:"created_at"`
}

func toAuditDoc(e notification.AuditEntry) auditDoc {
	failures := make([]failureDoc, 0, len(e.Failures))
	for _, f := range e.Failures {
		failures = append(failures, failureDoc{Recipient: f.Recipient.String(), Reason: string(f.Reason), Detail: f.Detail})
	}
	return auditDoc{
		RetryOf:    e.RetryOf,
		Message:    e.Message,
		Total:      e.Total,
		Succeeded:  e.Succeeded,
		Failures:   failures,
		Status:     string(e.Status),
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
		CreatedAt:  e.CreatedAt,
	}
}

func (d auditDoc) entry(id string) notification.AuditEntry {
	failures := make([]notification.RecipientFailure, 0, len(d.Failures))
	for _, f := range d.Failures {
		failures = append(failures, notification.RecipientFailure{
			Recipient: notification.RecipientID(f.Recipient),
			Reason:    notification.FailureReason(f.Reason),
			Detail:    f.Detail,
		})
	}
	return notification.AuditEntry{
		ID:      id,
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
	entry.CreatedAt = time.Now().UTC()
	if _, err := s.client.Collection(auditsCollection).Doc(entry.ID).Create(ctx, toAuditDoc(entry)); err != nil {
		return notification.AuditEntry{}, fmt.Errorf("failed to save delivery audit: %w", err)
	}
	return entry, nil
}

func (s *AuditStore) GetAudit(ctx context.Context, id string) (notification.AuditEntry, error) {
	snap, err := s.client.Collection(auditsCollection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return notification.AuditEntry{}, notification.ErrNotFound
		}
		return notification.AuditEntry{}, fmt.Errorf("failed to get delivery %s: %w", id, err)
	}
	var doc auditDoc
	if err := snap.DataTo(&doc); err != nil {
		return notification.AuditEntry{}, fmt.Errorf("failed to decode delivery %s: %w", id, err)
	}
	return doc.entry(snap.Ref.ID), nil
}

// ListAudits returns the newest entries first.
func (s *AuditStore) ListAudits(ctx context.Context, limit int) ([]notification.AuditEntry, error) {
	q := s.client.Collection(auditsCollection).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	entries := make([]notification.AuditEntry, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var doc auditDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode delivery %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.entry(snap.Ref.ID))
	}
	return entries, nil
}

var _ dispatch.AuditStore = (*AuditStore)(nil)

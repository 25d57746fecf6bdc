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

const recordsCollection = "notifications"

// RecordStore implements dispatch.RecordStore on a Mongo collection.
type RecordStore struct {
	coll *mongo.Collection
}

func NewRecordStore(db *mongo.Database) *RecordStore {
	return &RecordStore{coll: db.Collection(recordsCollection)}
}

type recordDoc struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	Message   string    `bson:"message"`
	Type      string    `bson:"type"`
	Link      string    `bson:"link,omitempty"`
	IsRead    bool      `bson:"is_read"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d recordDoc) record() notification.Record {
	return notification.Record{
		ID:        d.ID,
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
	// Mongo keeps milliseconds; truncate so the returned record matches a re-read.
	now := time.Now().UTC().Truncate(time.Millisecond)
	r.ID = uuid.NewString()
	r.CreatedAt = now
	r.UpdatedAt = now

	doc := recordDoc{
		ID:        r.ID,
		Title:     r.Title,
		Message:   r.Message,
		Type:      string(r.Type),
		Link:      r.Link,
		IsRead:    r.IsRead,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return notification.Record{}, fmt.Errorf("failed to create notification: %w", err)
	}
	return r, nil
}

func (s *RecordStore) Update(ctx context.Context, id string, patch notification.RecordPatch) (notification.Record, error) {
	set := bson.D{{Key: "updated_at", Value: time.Now().UTC()}}
	if patch.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *patch.Title})
	}
	if patch.Message != nil {
		set = append(set, bson.E{Key: "message", Value: *patch.Message})
	}
	if patch.Type != nil {
		set = append(set, bson.E{Key: "type", Value: string(*patch.Type)})
	}
	if patch.Link != nil {
		set = append(set, bson.E{Key: "link", Value: *patch.Link})
	}
	if patch.IsRead != nil {
		set = append(set, bson.E{Key: "is_read", Value: *patch.IsRead})
	}
	if patch.Status != nil {
		set = append(set, bson.E{Key: "status", Value: string(*patch.Status)})
	}

	filter := bson.D{{Key: "_id", Value: id}}
	if patch.ExpectStatus != nil {
		filter = append(filter, bson.E{Key: "status", Value: string(*patch.ExpectStatus)})
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc recordDoc
	err := s.coll.FindOneAndUpdate(ctx, filter, bson.D{{Key: "$set", Value: set}}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if patch.ExpectStatus == nil {
			return notification.Record{}, notification.ErrNotFound
		}
		return notification.Record{}, s.statusConflict(ctx, id, patch)
	}
	if err != nil {
		return notification.Record{}, fmt.Errorf("failed to update notification %s: %w", id, err)
	}
	return doc.record(), nil
}

// statusConflict tells a missing record from one whose status no longer
// matches the update filter.
func (s *RecordStore) statusConflict(ctx context.Context, id string, patch notification.RecordPatch) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := patch.CheckStatus(current.Status); err != nil {
		return err
	}
	return fmt.Errorf("%w: status of %s changed during update", notification.ErrInvalidTransition, id)
}

func (s *RecordStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("failed to delete notification %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, id string) (notification.Record, error) {
	var doc recordDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return notification.Record{}, notification.ErrNotFound
	}
	if err != nil {
		return notification.Record{}, fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	return doc.record(), nil
}

// List returns matching records newest first.
func (s *RecordStore) List(ctx context.Context, filter notification.ListFilter) ([]notification.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.coll.Find(ctx, toQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	var docs []recordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}

	records := make([]notification.Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, d.record())
	}
	return records, nil
}

func (s *RecordStore) CountUnread(ctx context.Context) (int, error) {
	n, err := s.coll.CountDocuments(ctx, toQuery(notification.ListFilter{OnlyUnread: true}))
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return int(n), nil
}

func toQuery(filter notification.ListFilter) bson.D {
	q := bson.D{}
	if filter.OnlyUnread {
		q = append(q, bson.E{Key: "is_read", Value: false})
	}
	if len(filter.Types) > 0 {
		types := make(bson.A, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		q = append(q, bson.E{Key: "type", Value: bson.D{{Key: "$in", Value: types}}})
	}
	if filter.Status != "" {
		q = append(q, bson.E{Key: "status", Value: string(filter.Status)})
	}
	return q
}

var _ dispatch.RecordStore = (*RecordStore)(nil)

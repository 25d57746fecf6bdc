// Package firestore persists the recipient registry, in-app records and
// delivery audits in Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	pnotify "github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

const devicesCollection = "devices"

// Registry implements dispatch.Registry on users/{urn}/devices/{hash}.
type Registry struct {
	client *firestore.Client
}

func NewRegistry(client *firestore.Client) *Registry {
	return &Registry{client: client}
}

// deviceRecord is the stored shape of a device. Web devices carry the full
// browser subscription; mobile devices only the token.
type deviceRecord struct {
	Platform        string                       `firestore:"platform"`
	Recipient       string                       `firestore:"recipient"`
	Token           string                       `firestore:"token,omitempty"`
	WebSubscription *pnotify.WebPushSubscription `firestore:"web_subscription,omitempty"`
	Topics          []string                     `firestore:"topics"`
	UpdatedAt       time.Time                    `firestore:"updated_at"`
}

func (r *Registry) Register(ctx context.Context, user urn.URN, device dispatch.Device) error {
	platform, address := device.Recipient.Parse()
	record := deviceRecord{
		Platform:  string(platform),
		Recipient: device.Recipient.String(),
		Topics:    device.Topics,
		UpdatedAt: time.Now().UTC(),
	}
	if record.Topics == nil {
		record.Topics = []string{}
	}
	if device.Web != nil {
		sub := &pnotify.WebPushSubscription{Endpoint: device.Web.Endpoint}
		sub.Keys.P256dh = device.Web.P256dh
		sub.Keys.Auth = device.Web.Auth
		record.WebSubscription = sub
	} else {
		record.Token = address
	}

	if _, err := r.deviceRef(user, device.Recipient).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

func (r *Registry) Unregister(ctx context.Context, user urn.URN, recipient notification.RecipientID) error {
	if _, err := r.deviceRef(user, recipient).Delete(ctx); err != nil {
		return fmt.Errorf("failed to unregister device: %w", err)
	}
	return nil
}

// Prune deletes the recipients from every user that registered them.
func (r *Registry) Prune(ctx context.Context, recipients []notification.RecipientID) error {
	for _, id := range recipients {
		iter := r.client.CollectionGroup(devicesCollection).Where("recipient", "==", id.String()).Documents(ctx)
		docs, err := iter.GetAll()
		if err != nil {
			return fmt.Errorf("failed to find devices to prune: %w", err)
		}
		for _, doc := range docs {
			if _, err := doc.Ref.Delete(ctx); err != nil {
				return fmt.Errorf("failed to prune device %s: %w", doc.Ref.ID, err)
			}
		}
	}
	return nil
}

func (r *Registry) LookupAll(ctx context.Context) ([]notification.RecipientID, error) {
	return r.collect(ctx, r.client.CollectionGroup(devicesCollection).Query)
}

func (r *Registry) LookupByTopic(ctx context.Context, topic string) ([]notification.RecipientID, error) {
	return r.collect(ctx, r.client.CollectionGroup(devicesCollection).Where("topics", "array-contains", topic))
}

// WebSubscription finds the subscription registered for a push endpoint.
func (r *Registry) WebSubscription(ctx context.Context, endpoint string) (dispatch.WebSubscription, error) {
	id := notification.NewRecipientID(notification.PlatformWeb, endpoint)
	iter := r.client.CollectionGroup(devicesCollection).Where("recipient", "==", id.String()).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return dispatch.WebSubscription{}, notification.ErrNotFound
	}
	if err != nil {
		return dispatch.WebSubscription{}, fmt.Errorf("failed to look up web subscription: %w", err)
	}

	var record deviceRecord
	if err := doc.DataTo(&record); err != nil {
		return dispatch.WebSubscription{}, fmt.Errorf("failed to decode device %s: %w", doc.Ref.ID, err)
	}
	if record.WebSubscription == nil {
		return dispatch.WebSubscription{}, notification.ErrNotFound
	}
	return dispatch.WebSubscription{
		Endpoint: record.WebSubscription.Endpoint,
		P256dh:   record.WebSubscription.Keys.P256dh,
		Auth:     record.WebSubscription.Keys.Auth,
	}, nil
}

func (r *Registry) collect(ctx context.Context, q firestore.Query) ([]notification.RecipientID, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	ids := make([]notification.RecipientID, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Corrupt rows are skipped rather than failing the whole lookup.
			continue
		}
		ids = append(ids, notification.RecipientID(record.Recipient))
	}
	return notification.Dedupe(ids), nil
}

// deviceRef: users/{userID}/devices/{recipientHash}
func (r *Registry) deviceRef(user urn.URN, recipient notification.RecipientID) *firestore.DocumentRef {
	return r.client.Collection("users").Doc(user.String()).Collection(devicesCollection).Doc(hashRecipient(recipient))
}

// hashRecipient keeps doc IDs fixed-length; web endpoints are URLs and FCM
// tokens can exceed Firestore's ID limits.
func hashRecipient(id notification.RecipientID) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

var (
	_ dispatch.Registry           = (*Registry)(nil)
	_ dispatch.RecipientPruner    = (*Registry)(nil)
	_ dispatch.SubscriptionSource = (*Registry)(nil)
)

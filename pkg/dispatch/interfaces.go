// Package dispatch defines the contracts between the notification core and
// its external collaborators: the push provider gateways, the recipient
// directory, and the document store.
package dispatch

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// Gateway delivers one message to one recipient.
//
// Recipient-specific failures (expired token, provider rejection, provider
// unavailable, malformed payload) are returned as a failure outcome with a
// nil error. A non-nil error is reserved for faults that prevent any attempt,
// such as missing credentials, and must wrap notification.ErrTransport; any
// other error is recorded against the recipient as provider-unavailable.
type Gateway interface {
	Deliver(ctx context.Context, recipient notification.RecipientID, msg notification.PushMessage) (notification.DeliveryOutcome, error)
}

// Directory is the read side of the recipient registry.
type Directory interface {
	// LookupAll returns every registered recipient.
	LookupAll(ctx context.Context) ([]notification.RecipientID, error)
	// LookupByTopic returns recipients registered under the exact topic name.
	LookupByTopic(ctx context.Context, topic string) ([]notification.RecipientID, error)
}

// Device is one registered delivery target of a user.
type Device struct {
	Recipient notification.RecipientID
	// Web holds the push subscription for web recipients.
	Web    *WebSubscription
	Topics []string
}

// WebSubscription is the browser push subscription of a web recipient.
type WebSubscription struct {
	Endpoint string
	P256dh   []byte
	Auth     []byte
}

// Registry is the write side of the recipient registry, used by the device
// registration API. Implementations are also Directories.
type Registry interface {
	Directory
	Register(ctx context.Context, user urn.URN, device Device) error
	Unregister(ctx context.Context, user urn.URN, recipient notification.RecipientID) error
}

// RecipientPruner removes recipients the provider reported as permanently
// invalid.
type RecipientPruner interface {
	Prune(ctx context.Context, recipients []notification.RecipientID) error
}

// SubscriptionSource looks up the web push subscription behind a web
// recipient. It returns notification.ErrNotFound for unknown endpoints.
type SubscriptionSource interface {
	WebSubscription(ctx context.Context, endpoint string) (WebSubscription, error)
}

// RecordStore persists in-app notification records. It enforces identity
// uniqueness only; business rules live in the lifecycle manager.
type RecordStore interface {
	// Create stores r under a new identity and returns the stored record.
	Create(ctx context.Context, r notification.Record) (notification.Record, error)
	// Update applies the patch and returns the updated record, or
	// notification.ErrNotFound.
	Update(ctx context.Context, id string, patch notification.RecordPatch) (notification.Record, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (notification.Record, error)
	List(ctx context.Context, filter notification.ListFilter) ([]notification.Record, error)
	CountUnread(ctx context.Context) (int, error)
}

// AuditStore persists delivery audit entries for push dispatches.
type AuditStore interface {
	SaveAudit(ctx context.Context, entry notification.AuditEntry) (notification.AuditEntry, error)
	GetAudit(ctx context.Context, id string) (notification.AuditEntry, error)
	ListAudits(ctx context.Context, limit int) ([]notification.AuditEntry, error)
}

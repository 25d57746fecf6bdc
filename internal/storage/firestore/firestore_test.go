//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	fs "github.com/tinywideclouds/go-notification-admin/internal/storage/firestore"
	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

func setupSuite(t *testing.T, projectID string) (context.Context, *firestore.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return ctx, client
}

func TestRegistry_Integration(t *testing.T) {
	ctx, client := setupSuite(t, "test-registry")
	store := fs.NewRegistry(client)

	alice, _ := urn.Parse("urn:sm:user:alice")
	bob, _ := urn.Parse("urn:sm:user:bob")
	endpoint := "https://fcm.googleapis.com/fcm/send/abc-123"
	web := notification.NewRecipientID(notification.PlatformWeb, endpoint)

	require.NoError(t, store.Register(ctx, alice, dispatch.Device{Recipient: "fcm:token-android-1", Topics: []string{"premium"}}))
	require.NoError(t, store.Register(ctx, bob, dispatch.Device{Recipient: "apns:ios-token"}))
	require.NoError(t, store.Register(ctx, bob, dispatch.Device{
		Recipient: web,
		Web:       &dispatch.WebSubscription{Endpoint: endpoint, P256dh: []byte{0x01, 0x02}, Auth: []byte{0x03}},
		Topics:    []string{"premium"},
	}))

	t.Run("lookups", func(t *testing.T) {
		all, err := store.LookupAll(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []notification.RecipientID{"fcm:token-android-1", "apns:ios-token", web}, all)

		premium, err := store.LookupByTopic(ctx, "premium")
		require.NoError(t, err)
		assert.ElementsMatch(t, []notification.RecipientID{"fcm:token-android-1", web}, premium)

		none, err := store.LookupByTopic(ctx, "Premium")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("web subscription round trip", func(t *testing.T) {
		sub, err := store.WebSubscription(ctx, endpoint)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02}, sub.P256dh)
		assert.Equal(t, []byte{0x03}, sub.Auth)

		_, err = store.WebSubscription(ctx, "https://push.example.com/unknown")
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})

	t.Run("unregister and prune", func(t *testing.T) {
		require.NoError(t, store.Unregister(ctx, alice, "fcm:token-android-1"))
		require.NoError(t, store.Prune(ctx, []notification.RecipientID{"apns:ios-token"}))

		all, err := store.LookupAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []notification.RecipientID{web}, all)
	})
}

func TestRecordStore_Integration(t *testing.T) {
	ctx, client := setupSuite(t, "test-records")
	store := fs.NewRecordStore(client)

	first, err := store.Create(ctx, notification.Record{Title: "one", Message: "m", Type: notification.TypeInfo, Status: notification.StatusPublished})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	time.Sleep(5 * time.Millisecond)
	second, err := store.Create(ctx, notification.Record{Title: "two", Message: "m", Type: notification.TypeWarning, Status: notification.StatusDraft})
	require.NoError(t, err)

	t.Run("list newest first with filters", func(t *testing.T) {
		list, err := store.List(ctx, notification.ListFilter{})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)

		warnings, err := store.List(ctx, notification.ListFilter{Types: []notification.Type{notification.TypeWarning}})
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Equal(t, "two", warnings[0].Title)

		paged, err := store.List(ctx, notification.ListFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, first.ID, paged[0].ID)
	})

	t.Run("update and count unread", func(t *testing.T) {
		updated, err := store.Update(ctx, first.ID, notification.RecordPatch{IsRead: notification.Ptr(true)})
		require.NoError(t, err)
		assert.True(t, updated.IsRead)
		assert.Equal(t, "one", updated.Title)

		n, err := store.CountUnread(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("conditional status update", func(t *testing.T) {
		_, err := store.Update(ctx, second.ID, notification.RecordPatch{
			Status:       notification.Ptr(notification.StatusPublished),
			ExpectStatus: notification.Ptr(notification.StatusArchived),
		})
		assert.ErrorIs(t, err, notification.ErrInvalidTransition)

		got, err := store.Get(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusDraft, got.Status)

		_, err = store.Update(ctx, "missing", notification.RecordPatch{
			Status:       notification.Ptr(notification.StatusArchived),
			ExpectStatus: notification.Ptr(notification.StatusDraft),
		})
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})

	t.Run("missing records", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, notification.ErrNotFound)
		_, err = store.Update(ctx, "missing", notification.RecordPatch{IsRead: notification.Ptr(true)})
		assert.ErrorIs(t, err, notification.ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "missing"), notification.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, second.ID))
		_, err := store.Get(ctx, second.ID)
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})
}

func TestAuditStore_Integration(t *testing.T) {
	ctx, client := setupSuite(t, "test-audits")
	store := fs.NewAuditStore(client)

	all := notification.All()
	msg := notification.PushMessage{Title: "t", Body: "b", Audience: &all}
	report := notification.NewReport(msg, []notification.DeliveryOutcome{
		notification.Delivered("fcm:a", "projects/x/messages/1"),
		notification.Failed("fcm:b", notification.ReasonInvalidToken, "unregistered"),
	})

	saved, err := store.SaveAudit(ctx, notification.AuditEntry{DeliveryReport: report})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	got, err := store.GetAudit(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPartialFailure, got.Status)
	assert.Equal(t, 2, got.Total)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, notification.ReasonInvalidToken, got.Failures[0].Reason)
	assert.Equal(t, notification.AudienceAll, got.Message.Audience.Kind)

	retry, err := store.SaveAudit(ctx, notification.AuditEntry{RetryOf: saved.ID, DeliveryReport: report})
	require.NoError(t, err)

	list, err := store.ListAudits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, retry.ID, list[0].ID)
	assert.Equal(t, saved.ID, list[0].RetryOf)

	_, err = store.GetAudit(ctx, "missing")
	assert.ErrorIs(t, err, notification.ErrNotFound)
}

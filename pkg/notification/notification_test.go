package notification_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

func TestRecipientID_Parse(t *testing.T) {
	testCases := []struct {
		id       notification.RecipientID
		platform notification.Platform
		address  string
	}{
		{id: "fcm:abc", platform: notification.PlatformFCM, address: "abc"},
		{id: "apns:0f9a", platform: notification.PlatformAPNS, address: "0f9a"},
		{id: "web:https://push.example.com/sub/1", platform: notification.PlatformWeb, address: "https://push.example.com/sub/1"},
		// Raw FCM registration tokens carry ':' of their own.
		{id: "dTx9:APA91bH-raw", platform: notification.PlatformFCM, address: "dTx9:APA91bH-raw"},
		{id: "plain-token", platform: notification.PlatformFCM, address: "plain-token"},
	}

	for _, tc := range testCases {
		t.Run(tc.id.String(), func(t *testing.T) {
			p, addr := tc.id.Parse()
			assert.Equal(t, tc.platform, p)
			assert.Equal(t, tc.address, addr)
		})
	}

	assert.Equal(t, notification.RecipientID("apns:tok"), notification.NewRecipientID(notification.PlatformAPNS, "tok"))
}

func TestDedupe(t *testing.T) {
	in := []notification.RecipientID{"b", "a", "", "b", "  ", "c", "a"}
	assert.Equal(t, []notification.RecipientID{"b", "a", "c"}, notification.Dedupe(in))
	assert.Empty(t, notification.Dedupe(nil))

	t.Run("bare token and qualified form are the same recipient", func(t *testing.T) {
		in := []notification.RecipientID{"abc", "fcm:abc", "apns:abc", "dTx9:APA91b", "fcm:dTx9:APA91b"}
		assert.Equal(t, []notification.RecipientID{"abc", "apns:abc", "dTx9:APA91b"}, notification.Dedupe(in))
		assert.Equal(t, notification.RecipientID("fcm:abc"), notification.RecipientID("abc").Canonical())
	})
}

func TestNewPushMessage(t *testing.T) {
	t.Run("nil audience targets all", func(t *testing.T) {
		msg, err := notification.NewPushMessage(notification.PushMessage{Title: "Hi", Body: "There"})
		require.NoError(t, err)
		require.NotNil(t, msg.Audience)
		assert.Equal(t, notification.AudienceAll, msg.Audience.Kind)
	})

	t.Run("explicit list is deduplicated and copied", func(t *testing.T) {
		ids := []notification.RecipientID{"x", "y", "x"}
		aud := notification.Audience{Kind: notification.AudienceExplicit, Recipients: ids}
		msg, err := notification.NewPushMessage(notification.PushMessage{Title: "Hi", Body: "There", Audience: &aud})
		require.NoError(t, err)
		assert.Equal(t, []notification.RecipientID{"x", "y"}, msg.Audience.Recipients)

		ids[0] = "mutated"
		aud.Kind = notification.AudienceAll
		assert.Equal(t, notification.AudienceExplicit, msg.Audience.Kind)
		assert.Equal(t, notification.RecipientID("x"), msg.Audience.Recipients[0])
	})

	t.Run("field messages", func(t *testing.T) {
		_, err := notification.NewPushMessage(notification.PushMessage{
			Title:       " ",
			ImageURL:    "ftp://example.com/a.png",
			ClickAction: "//evil.example.com",
		})
		require.Error(t, err)
		ve, ok := notification.AsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, "Title is required", ve.Fields["title"])
		assert.Equal(t, "Notification body is required", ve.Fields["body"])
		assert.Equal(t, "Image URL must start with http:// or https://", ve.Fields["imageUrl"])
		assert.Equal(t, "Click action must be a valid URL or app path", ve.Fields["clickAction"])
	})

	t.Run("unknown audience kind", func(t *testing.T) {
		aud := notification.Audience{Kind: "everyone"}
		_, err := notification.NewPushMessage(notification.PushMessage{Title: "t", Body: "b", Audience: &aud})
		ve, ok := notification.AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, ve.Fields, "audience.kind")
	})

	t.Run("oversized content", func(t *testing.T) {
		_, err := notification.NewPushMessage(notification.PushMessage{Title: strings.Repeat("t", 257), Body: strings.Repeat("b", 2049)})
		ve, ok := notification.AsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, "Title must be at most 256 characters", ve.Fields["title"])
		assert.Equal(t, "Notification body must be at most 2048 characters", ve.Fields["body"])

		// Within every field limit, but multi-byte runes push the total over.
		_, err = notification.NewPushMessage(notification.PushMessage{Title: "t", Body: strings.Repeat("€", 2000)})
		ve, ok = notification.AsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, "Notification content exceeds the 3584 byte push limit", ve.Fields["body"])

		_, err = notification.NewPushMessage(notification.PushMessage{Title: strings.Repeat("t", 256), Body: strings.Repeat("b", 2048)})
		assert.NoError(t, err)
	})

	t.Run("app path click action", func(t *testing.T) {
		_, err := notification.NewPushMessage(notification.PushMessage{Title: "t", Body: "b", ClickAction: "/orders/42"})
		assert.NoError(t, err)
	})
}

func TestIsAbsoluteURL(t *testing.T) {
	assert.True(t, notification.IsAbsoluteURL("https://example.com/x"))
	assert.True(t, notification.IsAbsoluteURL("http://localhost:8080"))
	assert.False(t, notification.IsAbsoluteURL("not-a-url"))
	assert.False(t, notification.IsAbsoluteURL("https://"))
	assert.False(t, notification.IsAbsoluteURL("mailto:a@b.c"))
}

func TestInAppNotification_Validate(t *testing.T) {
	n, err := notification.NewInAppNotification(notification.InAppNotification{Title: "t", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, notification.TypeInfo, n.Type)

	_, err = notification.NewInAppNotification(notification.InAppNotification{
		Title:   "t",
		Message: "",
		Type:    "fatal",
		Link:    "not-a-url",
	})
	ve, ok := notification.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "Message is required", ve.Fields["message"])
	assert.Equal(t, "Link must start with http:// or https://", ve.Fields["link"])
	assert.Contains(t, ve.Fields, "type")
	assert.Contains(t, err.Error(), "link: Link must start")
}

func TestRecordPatch(t *testing.T) {
	r := notification.Record{ID: "1", Title: "Old", Message: "m", Type: notification.TypeInfo, IsRead: true, Status: notification.StatusPublished}

	assert.True(t, notification.RecordPatch{}.IsEmpty())

	patch := notification.RecordPatch{Title: notification.Ptr("New")}
	assert.False(t, patch.IsEmpty())
	updated := patch.Apply(r)
	assert.Equal(t, "New", updated.Title)
	assert.True(t, updated.IsRead)
	assert.Equal(t, notification.StatusPublished, updated.Status)
	assert.Equal(t, "Old", r.Title)

	bad := notification.Record{Title: "t", Message: "m", Type: notification.TypeInfo, Status: "deleted"}
	ve, ok := notification.AsValidationError(bad.Validate())
	require.True(t, ok)
	assert.Contains(t, ve.Fields, "status")
}

func TestListFilter_Matches(t *testing.T) {
	r := notification.Record{Type: notification.TypeWarning, Status: notification.StatusPublished}

	assert.True(t, notification.ListFilter{}.Matches(r))
	assert.True(t, notification.ListFilter{OnlyUnread: true}.Matches(r))
	assert.True(t, notification.ListFilter{Types: []notification.Type{notification.TypeError, notification.TypeWarning}}.Matches(r))
	assert.False(t, notification.ListFilter{Types: []notification.Type{notification.TypeInfo}}.Matches(r))
	assert.False(t, notification.ListFilter{Status: notification.StatusDraft}.Matches(r))

	r.IsRead = true
	assert.False(t, notification.ListFilter{OnlyUnread: true}.Matches(r))
}

func TestNewReport(t *testing.T) {
	msg := notification.PushMessage{Title: "t", Body: "b"}

	empty := notification.NewReport(msg, nil)
	assert.Equal(t, notification.StatusNoRecipients, empty.Status)
	assert.NotNil(t, empty.Failures)

	report := notification.NewReport(msg, []notification.DeliveryOutcome{
		notification.Delivered("a", "m1"),
		notification.Failed("c", notification.ReasonCancelled, ""),
		notification.Failed("b", notification.ReasonInvalidToken, "expired"),
	})
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, notification.StatusPartialFailure, report.Status)
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 1, report.Cancelled())
	assert.Equal(t, []notification.RecipientID{"b", "c"}, report.FailedRecipients())
	assert.Equal(t, []notification.RecipientID{"b"}, report.FailuresWith(notification.ReasonInvalidToken))

	retry, ok := report.RetryMessage()
	require.True(t, ok)
	assert.Equal(t, notification.Explicit("b", "c"), retry.Target())
	assert.Equal(t, "t", retry.Title)

	_, ok = notification.NewReport(msg, []notification.DeliveryOutcome{notification.Delivered("a", "")}).RetryMessage()
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, notification.StatusNoRecipients, notification.Classify(0, 0))
	assert.Equal(t, notification.StatusAllSucceeded, notification.Classify(2, 2))
	assert.Equal(t, notification.StatusAllFailed, notification.Classify(2, 0))
	assert.Equal(t, notification.StatusPartialFailure, notification.Classify(2, 1))
}

func TestRecord_JSONFieldNames(t *testing.T) {
	raw, err := json.Marshal(notification.Record{ID: "1", IsRead: true})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Contains(t, fields, "isRead")
	assert.Contains(t, fields, "createdAt")
	assert.Contains(t, fields, "updatedAt")
	assert.NotContains(t, fields, "link")
}

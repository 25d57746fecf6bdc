package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	pnotify "github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-notification-admin/internal/api"
	"github.com/tinywideclouds/go-notification-admin/internal/storage/memory"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// withUser injects the user handle the auth middleware would set.
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

func tokenRequest(method, platform, userID string, body any) *http.Request {
	raw, _ := json.Marshal(body)
	req := withUser(httptest.NewRequest(method, "/api/v1/devices/"+platform, bytes.NewReader(raw)), userID)
	req.SetPathValue("platform", platform)
	return req
}

func TestDeviceAPI_Tokens(t *testing.T) {
	ctx := context.Background()
	registry := memory.NewRegistry()
	handler := api.NewDeviceAPI(registry, newTestLogger())
	userID := "urn:sm:user:123"

	t.Run("register fcm and apns with topics", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.RegisterToken(w, tokenRequest(http.MethodPut, "fcm", userID, api.RegisterTokenRequest{Token: "fcm-token-abc", Topics: []string{"premium"}}))
		require.Equal(t, http.StatusNoContent, w.Code)

		w = httptest.NewRecorder()
		handler.RegisterToken(w, tokenRequest(http.MethodPut, "apns", userID, api.RegisterTokenRequest{Token: "apns-token"}))
		require.Equal(t, http.StatusNoContent, w.Code)

		all, err := registry.LookupAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []notification.RecipientID{"fcm:fcm-token-abc", "apns:apns-token"}, all)

		premium, err := registry.LookupByTopic(ctx, "premium")
		require.NoError(t, err)
		assert.Equal(t, []notification.RecipientID{"fcm:fcm-token-abc"}, premium)
	})

	t.Run("unregister", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.UnregisterToken(w, tokenRequest(http.MethodDelete, "apns", userID, api.RegisterTokenRequest{Token: "apns-token"}))
		require.Equal(t, http.StatusNoContent, w.Code)

		all, err := registry.LookupAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []notification.RecipientID{"fcm:fcm-token-abc"}, all)
	})

	t.Run("rejections", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.RegisterToken(w, tokenRequest(http.MethodPut, "fcm", userID, api.RegisterTokenRequest{}))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = httptest.NewRecorder()
		handler.RegisterToken(w, tokenRequest(http.MethodPut, "sms", userID, api.RegisterTokenRequest{Token: "x"}))
		assert.Equal(t, http.StatusNotFound, w.Code)

		req := httptest.NewRequest(http.MethodPut, "/api/v1/devices/fcm", bytes.NewBufferString(`{"token":"x"}`))
		req.SetPathValue("platform", "fcm")
		w = httptest.NewRecorder()
		handler.RegisterToken(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestDeviceAPI_Web(t *testing.T) {
	ctx := context.Background()
	registry := memory.NewRegistry()
	handler := api.NewDeviceAPI(registry, newTestLogger())
	userID := "urn:sm:user:web-user"

	endpoint := "https://fcm.googleapis.com/fcm/send/abc-123"
	sub := pnotify.WebPushSubscription{Endpoint: endpoint}
	sub.Keys.P256dh = []byte{0x04, 0x01}
	sub.Keys.Auth = []byte{0x02}

	t.Run("register", func(t *testing.T) {
		body := api.RegisterWebRequest{WebPushSubscription: sub, Topics: []string{"new"}}
		raw, _ := json.Marshal(body)
		w := httptest.NewRecorder()
		handler.RegisterWeb(w, withUser(httptest.NewRequest(http.MethodPut, "/api/v1/devices/web", bytes.NewReader(raw)), userID))
		require.Equal(t, http.StatusNoContent, w.Code)

		stored, err := registry.WebSubscription(ctx, endpoint)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x04, 0x01}, stored.P256dh)

		ids, err := registry.LookupByTopic(ctx, "new")
		require.NoError(t, err)
		assert.Equal(t, []notification.RecipientID{notification.NewRecipientID(notification.PlatformWeb, endpoint)}, ids)
	})

	t.Run("incomplete subscription", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.RegisterWeb(w, withUser(httptest.NewRequest(http.MethodPut, "/", bytes.NewBufferString(`{"endpoint":"https://push.example.com/x"}`)), userID))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unregister", func(t *testing.T) {
		raw, _ := json.Marshal(api.UnregisterWebRequest{Endpoint: endpoint})
		w := httptest.NewRecorder()
		handler.UnregisterWeb(w, withUser(httptest.NewRequest(http.MethodDelete, "/", bytes.NewReader(raw)), userID))
		require.Equal(t, http.StatusNoContent, w.Code)

		_, err := registry.WebSubscription(ctx, endpoint)
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})
}

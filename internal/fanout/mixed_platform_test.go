package fanout_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-notification-admin/internal/fanout"
	"github.com/tinywideclouds/go-notification-admin/internal/platform"
	"github.com/tinywideclouds/go-notification-admin/internal/platform/web"
	"github.com/tinywideclouds/go-notification-admin/notificationadmin/config"
	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

type staticSubscriptions map[string]dispatch.WebSubscription

func (s staticSubscriptions) WebSubscription(_ context.Context, endpoint string) (dispatch.WebSubscription, error) {
	sub, ok := s[endpoint]
	if !ok {
		return dispatch.WebSubscription{}, notification.ErrNotFound
	}
	return sub, nil
}

// A browser subscription made under another VAPID key answers 403. That must
// stay a failure of that one recipient while the mobile sends are reported.
func TestDispatch_MixedPlatformsWithForbiddenWebSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	endpoint := server.URL + "/stale"
	subs := staticSubscriptions{
		endpoint: {Endpoint: endpoint, P256dh: key.PublicKey().Bytes(), Auth: auth},
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	webGateway := web.NewGateway(config.VapidConfig{
		PrivateKey:      privateKey,
		PublicKey:       publicKey,
		SubscriberEmail: "test-runner@tinywideclouds.com",
	}, subs, newTestLogger())

	router := platform.NewRouter(map[notification.Platform]dispatch.Gateway{
		notification.PlatformFCM: succeedAll(),
		notification.PlatformWeb: webGateway,
	}, newTestLogger())

	webID := notification.NewRecipientID(notification.PlatformWeb, endpoint)
	ids := []notification.RecipientID{"fcm:a", "fcm:b", webID}
	audience := notification.Explicit(ids...)

	resolver := new(mockResolver)
	resolver.On("Resolve", mock.Anything, audience).Return(ids, nil)

	d := fanout.New(resolver, router, fanout.Config{MaxInFlight: 3}, newTestLogger())
	report, err := d.Dispatch(context.Background(), validMessage().WithAudience(audience))
	require.NoError(t, err)

	assert.Equal(t, notification.StatusPartialFailure, report.Status)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, webID, report.Failures[0].Recipient)
	assert.Equal(t, notification.ReasonProviderRejected, report.Failures[0].Reason)
}

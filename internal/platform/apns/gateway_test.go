package apns

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func TestDeliver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	msg := notification.PushMessage{Title: "Hello iOS", Body: "b", ClickAction: "/inbox"}

	t.Run("Happy Path - Success", func(t *testing.T) {
		client := new(MockAPNSClient)
		gateway := NewGatewayWithClient(client, "com.test.app", logger)

		client.On("PushWithContext", mock.Anything, mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "token-1" && n.Topic == "com.test.app"
		})).Return(&apns2.Response{StatusCode: http.StatusOK, ApnsID: "apns-1"}, nil)

		outcome, err := gateway.Deliver(ctx, "apns:token-1", msg)
		require.NoError(t, err)
		assert.True(t, outcome.Succeeded())
		assert.Equal(t, "apns-1", outcome.ProviderID)
		client.AssertExpectations(t)
	})

	t.Run("Bad Device Token", func(t *testing.T) {
		client := new(MockAPNSClient)
		gateway := NewGatewayWithClient(client, "com.test.app", logger)
		client.On("PushWithContext", mock.Anything, mock.Anything).Return(&apns2.Response{
			StatusCode: http.StatusBadRequest,
			Reason:     apns2.ReasonBadDeviceToken,
		}, nil)

		outcome, err := gateway.Deliver(ctx, "apns:bad-token", msg)
		require.NoError(t, err)
		assert.Equal(t, notification.ReasonInvalidToken, outcome.Reason)
		assert.Contains(t, outcome.Detail, apns2.ReasonBadDeviceToken)
	})

	t.Run("Rate Limited", func(t *testing.T) {
		client := new(MockAPNSClient)
		gateway := NewGatewayWithClient(client, "com.test.app", logger)
		client.On("PushWithContext", mock.Anything, mock.Anything).Return(&apns2.Response{
			StatusCode: http.StatusTooManyRequests,
			Reason:     apns2.ReasonTooManyRequests,
		}, nil)

		outcome, err := gateway.Deliver(ctx, "apns:token-1", msg)
		require.NoError(t, err)
		assert.Equal(t, notification.ReasonRateLimited, outcome.Reason)
	})

	t.Run("Expired Provider Token - Transport Fault", func(t *testing.T) {
		client := new(MockAPNSClient)
		gateway := NewGatewayWithClient(client, "com.test.app", logger)
		client.On("PushWithContext", mock.Anything, mock.Anything).Return(&apns2.Response{
			StatusCode: http.StatusForbidden,
			Reason:     apns2.ReasonExpiredProviderToken,
		}, nil)

		_, err := gateway.Deliver(ctx, "apns:token-1", msg)
		require.Error(t, err)
		assert.ErrorIs(t, err, notification.ErrTransport)
	})

	t.Run("Network Failure", func(t *testing.T) {
		client := new(MockAPNSClient)
		gateway := NewGatewayWithClient(client, "com.test.app", logger)
		client.On("PushWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		outcome, err := gateway.Deliver(ctx, "apns:token-1", msg)
		require.NoError(t, err)
		assert.Equal(t, notification.ReasonProviderUnavailable, outcome.Reason)
	})
}

func TestClassify(t *testing.T) {
	testCases := map[string]notification.FailureReason{
		apns2.ReasonUnregistered:           notification.ReasonInvalidToken,
		apns2.ReasonDeviceTokenNotForTopic: notification.ReasonInvalidToken,
		apns2.ReasonServiceUnavailable:     notification.ReasonProviderUnavailable,
		apns2.ReasonPayloadTooLarge:        notification.ReasonMalformedPayload,
		apns2.ReasonTopicDisallowed:        notification.ReasonProviderRejected,
	}
	for reason, want := range testCases {
		got, transport := classify(reason)
		assert.False(t, transport, reason)
		assert.Equal(t, want, got, reason)
	}
}

func TestNewGateway_BadKey(t *testing.T) {
	_, err := NewGateway(Config{P8KeyContent: "not a key"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

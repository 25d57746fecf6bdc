// Package apns delivers push messages through the Apple Push Notification
// Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 file.
	P8KeyContent string
	// Development routes pushes to the sandbox environment.
	Development bool
}

type Gateway struct {
	client APNSClient
	topic  string // the app bundle id
	logger *slog.Logger
}

// NewGateway parses the P8 key immediately so bad credentials fail at
// startup.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Development {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return NewGatewayWithClient(client, cfg.BundleID, logger), nil
}

// NewGatewayWithClient uses an already configured client.
func NewGatewayWithClient(client APNSClient, bundleID string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSGateway"),
	}
}

// Deliver sends msg to one device token. The APNs HTTP/2 API is unary, so
// there is nothing to batch.
func (g *Gateway) Deliver(ctx context.Context, recipient notification.RecipientID, msg notification.PushMessage) (notification.DeliveryOutcome, error) {
	deviceToken := recipient.Address()
	if deviceToken == "" {
		return notification.Failed(recipient, notification.ReasonInvalidToken, "empty device token"), nil
	}

	res, err := g.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       g.topic,
		Payload:     buildPayload(msg),
	})
	if err != nil {
		g.logger.Warn("APNs transport failed", "recipient", recipient.String(), "err", err)
		return notification.Failed(recipient, notification.ReasonProviderUnavailable, err.Error()), nil
	}
	if res.Sent() {
		return notification.Delivered(recipient, res.ApnsID), nil
	}

	reason, transport := classify(res.Reason)
	if transport {
		g.logger.Error("APNs rejected provider token", "reason", res.Reason, "status", res.StatusCode)
		return notification.DeliveryOutcome{}, fmt.Errorf("%w: apns: %s", notification.ErrTransport, res.Reason)
	}
	return notification.Failed(recipient, reason, fmt.Sprintf("%d %s", res.StatusCode, res.Reason)), nil
}

func buildPayload(msg notification.PushMessage) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body).
		Sound("default")
	if msg.ImageURL != "" {
		// A notification service extension downloads the image.
		p.MutableContent().Custom("image_url", msg.ImageURL)
	}
	if msg.ClickAction != "" {
		p.Custom("click_action", msg.ClickAction)
	}
	if msg.Sender != "" {
		p.Custom("sender", msg.Sender)
	}
	return p
}

// classify maps an APNs rejection reason to a failure reason. transport is
// true when our provider token is at fault.
// See https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
func classify(reason string) (notification.FailureReason, bool) {
	switch reason {
	case apns2.ReasonInvalidProviderToken, apns2.ReasonExpiredProviderToken, apns2.ReasonMissingProviderToken:
		return "", true
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return notification.ReasonInvalidToken, false
	case apns2.ReasonTooManyRequests, apns2.ReasonTooManyProviderTokenUpdates:
		return notification.ReasonRateLimited, false
	case apns2.ReasonServiceUnavailable, apns2.ReasonInternalServerError, apns2.ReasonShutdown, apns2.ReasonIdleTimeout:
		return notification.ReasonProviderUnavailable, false
	case apns2.ReasonPayloadEmpty, apns2.ReasonPayloadTooLarge:
		return notification.ReasonMalformedPayload, false
	default:
		return notification.ReasonProviderRejected, false
	}
}

// Package fcm delivers push messages through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Gateway struct {
	client MessagingClient
	icon   string
	logger *slog.Logger
}

// NewGateway wraps a Firebase messaging client. icon is the web notification
// icon path and may be empty.
func NewGateway(client MessagingClient, icon string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		icon:   icon,
		logger: logger.With("component", "FCMGateway"),
	}
}

// Deliver sends msg to one registration token. FCM has no true multicast, so
// the fan-out happens upstream and each call is a single Send.
func (g *Gateway) Deliver(ctx context.Context, recipient notification.RecipientID, msg notification.PushMessage) (notification.DeliveryOutcome, error) {
	token := recipient.Address()
	if token == "" {
		return notification.Failed(recipient, notification.ReasonInvalidToken, "empty registration token"), nil
	}

	id, err := g.client.Send(ctx, g.buildMessage(token, msg))
	if err != nil {
		reason, transport := classify(err)
		if transport {
			g.logger.Error("FCM rejected credentials", "err", err)
			return notification.DeliveryOutcome{}, fmt.Errorf("%w: fcm: %v", notification.ErrTransport, err)
		}
		return notification.Failed(recipient, reason, err.Error()), nil
	}
	return notification.Delivered(recipient, id), nil
}

func (g *Gateway) buildMessage(token string, msg notification.PushMessage) *messaging.Message {
	data := make(map[string]string)
	if msg.ClickAction != "" {
		data["click_action"] = msg.ClickAction
	}
	if msg.Sender != "" {
		data["sender"] = msg.Sender
	}

	m := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title:    msg.Title,
			Body:     msg.Body,
			ImageURL: msg.ImageURL,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Title,
				Body:  msg.Body,
				Icon:  g.icon,
				Image: msg.ImageURL,
			},
		},
	}
	if msg.ClickAction != "" {
		m.Android = &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{ClickAction: msg.ClickAction},
		}
	}
	// FCM only accepts HTTPS links for web clients.
	if strings.HasPrefix(msg.ClickAction, "https://") {
		m.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: msg.ClickAction}
	}
	return m
}

// classify maps an FCM error to a failure reason. transport is true when the
// error concerns our credentials rather than the recipient. FCM reports
// per-token codes under generic statuses (SENDER_ID_MISMATCH arrives as
// PERMISSION_DENIED), so the messaging codes are checked first.
func classify(err error) (reason notification.FailureReason, transport bool) {
	switch {
	case messaging.IsUnregistered(err), messaging.IsSenderIDMismatch(err):
		return notification.ReasonInvalidToken, false
	case messaging.IsInvalidArgument(err):
		// Usually an oversized or malformed message, not a dead token.
		return notification.ReasonMalformedPayload, false
	case messaging.IsQuotaExceeded(err):
		return notification.ReasonRateLimited, false
	case messaging.IsThirdPartyAuthError(err):
		return notification.ReasonProviderRejected, false
	case errorutils.IsUnauthenticated(err), errorutils.IsPermissionDenied(err):
		return "", true
	default:
		// Unavailable, internal and network errors.
		return notification.ReasonProviderUnavailable, false
	}
}

// Package web delivers push messages to browsers over the Web Push protocol
// with VAPID authentication.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-notification-admin/notificationadmin/config"
	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

const defaultTTL = 60

type Gateway struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	subs       dispatch.SubscriptionSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGateway creates a web push gateway. subs resolves a recipient's
// endpoint to its stored subscription keys.
func NewGateway(cfg config.VapidConfig, subs dispatch.SubscriptionSource, logger *slog.Logger) *Gateway {
	ttl := cfg.TTLSeconds
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Gateway{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		// The library adds the mailto: scheme itself.
		subscriber: strings.TrimPrefix(cfg.SubscriberEmail, "mailto:"),
		ttl:        ttl,
		subs:       subs,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "WebPushGateway"),
	}
}

type webPayload struct {
	Notification webNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type webNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

// Deliver encrypts and posts msg to the recipient's push endpoint.
func (g *Gateway) Deliver(ctx context.Context, recipient notification.RecipientID, msg notification.PushMessage) (notification.DeliveryOutcome, error) {
	if g.privateKey == "" || g.publicKey == "" {
		return notification.DeliveryOutcome{}, fmt.Errorf("%w: web push: VAPID keys are not configured", notification.ErrTransport)
	}

	endpoint := recipient.Address()
	sub, err := g.subs.WebSubscription(ctx, endpoint)
	if err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			return notification.Failed(recipient, notification.ReasonInvalidToken, "no subscription registered for endpoint"), nil
		}
		g.logger.Error("Failed to load web push subscription", "endpoint", endpoint, "err", err)
		return notification.Failed(recipient, notification.ReasonProviderUnavailable, err.Error()), nil
	}

	body, err := json.Marshal(buildPayload(msg))
	if err != nil {
		return notification.Failed(recipient, notification.ReasonMalformedPayload, err.Error()), nil
	}

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			// Stored keys are raw bytes; the library wants base64.
			P256dh: base64.RawURLEncoding.EncodeToString(sub.P256dh),
			Auth:   base64.RawURLEncoding.EncodeToString(sub.Auth),
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, s, &webpush.Options{
		Subscriber:      g.subscriber,
		VAPIDPublicKey:  g.publicKey,
		VAPIDPrivateKey: g.privateKey,
		TTL:             g.ttl,
		HTTPClient:      g.httpClient,
	})
	if err != nil {
		g.logger.Warn("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		return notification.Failed(recipient, notification.ReasonProviderUnavailable, err.Error()), nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch code := resp.StatusCode; {
	case code == http.StatusCreated || code == http.StatusOK || code == http.StatusAccepted:
		return notification.Delivered(recipient, resp.Header.Get("Location")), nil
	case code == http.StatusGone || code == http.StatusNotFound:
		return notification.Failed(recipient, notification.ReasonInvalidToken, resp.Status), nil
	case code == http.StatusTooManyRequests:
		return notification.Failed(recipient, notification.ReasonRateLimited, resp.Status), nil
	case code == http.StatusBadRequest || code == http.StatusRequestEntityTooLarge:
		return notification.Failed(recipient, notification.ReasonMalformedPayload, resp.Status), nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		// 403 also means the subscription was made under another
		// applicationServerKey, so it stays with this recipient.
		g.logger.Warn("WebPush rejected VAPID authorization", "status", code, "endpoint", sub.Endpoint)
		return notification.Failed(recipient, notification.ReasonProviderRejected, resp.Status), nil
	case code >= 500:
		return notification.Failed(recipient, notification.ReasonProviderUnavailable, resp.Status), nil
	default:
		g.logger.Warn("WebPush rejected", "status", code, "endpoint", sub.Endpoint)
		return notification.Failed(recipient, notification.ReasonProviderRejected, resp.Status), nil
	}
}

func buildPayload(msg notification.PushMessage) webPayload {
	p := webPayload{
		Notification: webNotification{Title: msg.Title, Body: msg.Body, Image: msg.ImageURL},
	}
	if msg.ClickAction != "" || msg.Sender != "" {
		p.Data = make(map[string]string)
		if msg.ClickAction != "" {
			p.Data["click_action"] = msg.ClickAction
		}
		if msg.Sender != "" {
			p.Data["sender"] = msg.Sender
		}
	}
	return p
}

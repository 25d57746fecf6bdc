// Package platform routes each recipient to the gateway of the push
// provider it is registered with.
package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// Router is a dispatch.Gateway that selects the per-platform gateway from the
// recipient's platform prefix.
type Router struct {
	gateways map[notification.Platform]dispatch.Gateway
	logger   *slog.Logger
}

// NewRouter builds a router over the configured gateways. Platforms without
// an entry are treated as missing credentials.
func NewRouter(gateways map[notification.Platform]dispatch.Gateway, logger *slog.Logger) *Router {
	r := &Router{
		gateways: make(map[notification.Platform]dispatch.Gateway, len(gateways)),
		logger:   logger.With("component", "PlatformRouter"),
	}
	for p, g := range gateways {
		if g != nil {
			r.gateways[p] = g
		}
	}
	return r
}

func (r *Router) Deliver(ctx context.Context, recipient notification.RecipientID, msg notification.PushMessage) (notification.DeliveryOutcome, error) {
	p := recipient.Platform()
	g, ok := r.gateways[p]
	if !ok {
		r.logger.Error("No gateway configured for platform", "platform", p)
		return notification.DeliveryOutcome{}, fmt.Errorf("%w: no gateway configured for platform %q", notification.ErrTransport, p)
	}
	return g.Deliver(ctx, recipient, msg)
}

// Platforms lists the platforms that have a gateway.
func (r *Router) Platforms() []notification.Platform {
	out := make([]notification.Platform, 0, len(r.gateways))
	for _, p := range []notification.Platform{notification.PlatformFCM, notification.PlatformAPNS, notification.PlatformWeb} {
		if _, ok := r.gateways[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Package notifier orchestrates a push send: validate, dispatch, record the
// audit entry, and prune recipients the provider reported as gone.
package notifier

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// ErrNothingToRetry is returned when a delivery has no failed recipients.
var ErrNothingToRetry = errors.New("delivery has no failed recipients")

// Dispatcher runs one fan-out dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg notification.PushMessage) (notification.DeliveryReport, error)
}

type Notifier struct {
	dispatcher Dispatcher
	audits     dispatch.AuditStore
	pruner     dispatch.RecipientPruner
	logger     *slog.Logger
}

// Option configures optional Notifier collaborators.
type Option func(*Notifier)

// WithPruner removes invalid-token recipients after each dispatch.
func WithPruner(p dispatch.RecipientPruner) Option {
	return func(n *Notifier) {
		n.pruner = p
	}
}

func New(dispatcher Dispatcher, audits dispatch.AuditStore, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		dispatcher: dispatcher,
		audits:     audits,
		logger:     logger.With("component", "Notifier"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SendPush validates and dispatches msg. The returned entry carries the
// delivery report; its ID is empty if the audit could not be stored.
func (n *Notifier) SendPush(ctx context.Context, msg notification.PushMessage) (notification.AuditEntry, error) {
	msg, err := notification.NewPushMessage(msg)
	if err != nil {
		return notification.AuditEntry{}, err
	}
	return n.send(ctx, msg, "")
}

// Redispatch sends the message of a stored delivery again, addressed only to
// the recipients that did not receive it.
func (n *Notifier) Redispatch(ctx context.Context, deliveryID string) (notification.AuditEntry, error) {
	prev, err := n.audits.GetAudit(ctx, deliveryID)
	if err != nil {
		return notification.AuditEntry{}, err
	}
	msg, ok := prev.RetryMessage()
	if !ok {
		return notification.AuditEntry{}, ErrNothingToRetry
	}
	n.logger.Info("Retrying failed recipients", "delivery_id", deliveryID, "recipients", len(prev.Failures))
	return n.send(ctx, msg, deliveryID)
}

// Delivery returns a stored audit entry.
func (n *Notifier) Delivery(ctx context.Context, id string) (notification.AuditEntry, error) {
	return n.audits.GetAudit(ctx, id)
}

// Deliveries lists recent audit entries, newest first.
func (n *Notifier) Deliveries(ctx context.Context, limit int) ([]notification.AuditEntry, error) {
	return n.audits.ListAudits(ctx, limit)
}

func (n *Notifier) send(ctx context.Context, msg notification.PushMessage, retryOf string) (notification.AuditEntry, error) {
	report, err := n.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		return notification.AuditEntry{}, err
	}

	// Persistence and pruning outlive a caller that has gone away.
	bg := context.WithoutCancel(ctx)

	entry := notification.AuditEntry{RetryOf: retryOf, DeliveryReport: report}
	saved, err := n.audits.SaveAudit(bg, entry)
	if err != nil {
		// Best effort: the messages have already gone out.
		n.logger.Error("Failed to save delivery audit", "status", report.Status, "err", err)
	} else {
		entry = saved
	}

	if invalid := report.FailuresWith(notification.ReasonInvalidToken); n.pruner != nil && len(invalid) > 0 {
		if err := n.pruner.Prune(bg, invalid); err != nil {
			n.logger.Error("Failed to prune invalid recipients", "count", len(invalid), "err", err)
		} else {
			n.logger.Info("Pruned invalid recipients", "count", len(invalid))
		}
	}
	return entry, nil
}

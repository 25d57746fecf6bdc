package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// PushSender is the notifier entry point the pipeline feeds.
type PushSender interface {
	SendPush(ctx context.Context, msg notification.PushMessage) (notification.AuditEntry, error)
}

// NewProcessor sends each request through the notifier.
//
// Invalid requests are dropped (acked). Resolution and transport faults are
// returned so the message is nacked and redelivered; the subscription's
// dead-letter policy bounds how often. Per-recipient failures are already in
// the audit entry and never fail the message.
func NewProcessor(sender PushSender, logger *slog.Logger) messagepipeline.StreamProcessor[notification.PushMessage] {
	logger = logger.With("component", "PushProcessor")

	return func(ctx context.Context, original messagepipeline.Message, request *notification.PushMessage) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)

		entry, err := sender.SendPush(ctx, *request)
		if err != nil {
			if ve, ok := notification.AsValidationError(err); ok {
				procLogger.Warn("Dropping invalid push request", "fields", ve.Fields)
				return nil
			}
			procLogger.Error("Push dispatch failed", "err", err)
			return err
		}

		procLogger.Info("Push dispatched",
			"delivery_id", entry.ID,
			"status", entry.Status,
			"total", entry.Total,
			"succeeded", entry.Succeeded,
		)
		return nil
	}
}

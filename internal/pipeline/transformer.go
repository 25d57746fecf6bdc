// Package pipeline turns Pub/Sub push requests into notifier sends.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// PushRequestTransformer unmarshals a raw message payload into a PushMessage.
// A malformed payload returns skip=true with the error; the streaming service
// nacks it and the subscription's dead-letter policy takes it from there.
func PushRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*notification.PushMessage, bool, error) {
	var push notification.PushMessage
	if err := json.Unmarshal(msg.Payload, &push); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push request from message %s: %w", msg.ID, err)
	}
	return &push, false, nil
}

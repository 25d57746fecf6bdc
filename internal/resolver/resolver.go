// Package resolver turns an audience selector into the concrete set of
// recipient identifiers for a dispatch.
package resolver

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

type Resolver struct {
	directory dispatch.Directory
	logger    *slog.Logger
}

func New(directory dispatch.Directory, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		logger:    logger.With("component", "RecipientResolver"),
	}
}

// Resolve returns the de-duplicated recipients for the audience, in first
// occurrence order. An empty result is valid. Directory failures are wrapped
// in a *notification.ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, audience notification.Audience) ([]notification.RecipientID, error) {
	var (
		ids []notification.RecipientID
		err error
	)

	switch audience.Kind {
	case notification.AudienceExplicit:
		ids = audience.Recipients
	case notification.AudienceTopic:
		if audience.Topic == "" {
			return []notification.RecipientID{}, nil
		}
		ids, err = r.directory.LookupByTopic(ctx, audience.Topic)
	case notification.AudienceAll, "":
		ids, err = r.directory.LookupAll(ctx)
	default:
		return nil, &notification.ValidationError{Fields: map[string]string{
			"audience.kind": "Audience must be one of all, topic, explicit",
		}}
	}
	if err != nil {
		r.logger.Error("Directory lookup failed", "audience", audience.String(), "err", err)
		return nil, &notification.ResolutionError{Audience: audience, Err: err}
	}

	resolved := notification.Dedupe(ids)
	r.logger.Debug("Recipients resolved", "audience", audience.String(), "count", len(resolved))
	return resolved, nil
}

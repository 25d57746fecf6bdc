// Package cache adds a Redis read-aside layer in front of the recipient
// directory, which every broadcast dispatch reads in full.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// generationKey is bumped on every registry write. Lookup keys embed the
// current generation, so a bump invalidates every cached lookup at once.
const generationKey = "notify:recipients:gen"

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns redis.Nil when the key does not exist.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// CachedDirectory is a decorator that adds read-aside caching to a registry.
type CachedDirectory struct {
	store  dispatch.Registry
	cache  CacheClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedDirectory(store dispatch.Registry, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedDirectory {
	return &CachedDirectory{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "CachedDirectory"),
	}
}

// --- READ PATH (Read-Aside) ---

func (d *CachedDirectory) LookupAll(ctx context.Context) ([]notification.RecipientID, error) {
	return d.lookup(ctx, "all", func() ([]notification.RecipientID, error) {
		return d.store.LookupAll(ctx)
	})
}

func (d *CachedDirectory) LookupByTopic(ctx context.Context, topic string) ([]notification.RecipientID, error) {
	return d.lookup(ctx, "topic:"+topic, func() ([]notification.RecipientID, error) {
		return d.store.LookupByTopic(ctx, topic)
	})
}

// WebSubscription is not cached; it is read once per web delivery.
func (d *CachedDirectory) WebSubscription(ctx context.Context, endpoint string) (dispatch.WebSubscription, error) {
	src, ok := d.store.(dispatch.SubscriptionSource)
	if !ok {
		return dispatch.WebSubscription{}, notification.ErrNotFound
	}
	return src.WebSubscription(ctx, endpoint)
}

func (d *CachedDirectory) lookup(ctx context.Context, suffix string, load func() ([]notification.RecipientID, error)) ([]notification.RecipientID, error) {
	gen, err := d.generation(ctx)
	if err != nil {
		// Cache is an optimisation. Serve from the store.
		d.logger.Warn("Directory cache unavailable", "err", err)
		return load()
	}
	key := fmt.Sprintf("notify:recipients:%d:%s", gen, suffix)

	var cached []notification.RecipientID
	if err := d.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := load()
	if err != nil {
		return nil, err
	}
	if err := d.cache.Set(ctx, key, fresh, d.ttl); err != nil {
		d.logger.Warn("Failed to populate directory cache", "key", key, "err", err)
	}
	return fresh, nil
}

func (d *CachedDirectory) generation(ctx context.Context) (int64, error) {
	var gen int64
	err := d.cache.Get(ctx, generationKey, &gen)
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (d *CachedDirectory) Register(ctx context.Context, user urn.URN, device dispatch.Device) error {
	if err := d.store.Register(ctx, user, device); err != nil {
		return err
	}
	return d.invalidate(ctx)
}

// Unregister must clear the cache even when the write was a no-op, so a
// disabled device stops receiving broadcasts immediately.
func (d *CachedDirectory) Unregister(ctx context.Context, user urn.URN, recipient notification.RecipientID) error {
	if err := d.store.Unregister(ctx, user, recipient); err != nil {
		return err
	}
	return d.invalidate(ctx)
}

func (d *CachedDirectory) Prune(ctx context.Context, recipients []notification.RecipientID) error {
	pruner, ok := d.store.(dispatch.RecipientPruner)
	if !ok {
		return nil
	}
	if err := pruner.Prune(ctx, recipients); err != nil {
		return err
	}
	return d.invalidate(ctx)
}

func (d *CachedDirectory) invalidate(ctx context.Context) error {
	if _, err := d.cache.Incr(ctx, generationKey); err != nil {
		return fmt.Errorf("failed to invalidate directory cache: %w", err)
	}
	return nil
}

var (
	_ dispatch.Registry           = (*CachedDirectory)(nil)
	_ dispatch.RecipientPruner    = (*CachedDirectory)(nil)
	_ dispatch.SubscriptionSource = (*CachedDirectory)(nil)
)

// Package fanout implements the multi-recipient dispatch engine: one gateway
// call per resolved recipient, run concurrently under an in-flight limit,
// with every outcome aggregated into a single DeliveryReport.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-notification-admin/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-admin/pkg/notification"
)

// DefaultMaxInFlight is used when Config.MaxInFlight is not positive.
const DefaultMaxInFlight = 16

// Resolver produces the recipients for an audience.
type Resolver interface {
	Resolve(ctx context.Context, audience notification.Audience) ([]notification.RecipientID, error)
}

// Config bounds the load a dispatch puts on the provider.
type Config struct {
	// MaxInFlight caps concurrent gateway calls per dispatch.
	MaxInFlight int
	// RatePerSecond caps gateway calls started per second across all
	// dispatches. Zero disables rate limiting.
	RatePerSecond float64
	Burst         int
	// DeliveryTimeout bounds a single gateway call. Zero means no bound.
	DeliveryTimeout time.Duration
}

type Dispatcher struct {
	resolver        Resolver
	gateway         dispatch.Gateway
	maxInFlight     int64
	limiter         *rate.Limiter
	deliveryTimeout time.Duration
	metrics         *Metrics
	logger          *slog.Logger
}

// Option configures optional Dispatcher collaborators.
type Option func(*Dispatcher)

// WithMetrics records dispatch and delivery metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func New(resolver Resolver, gateway dispatch.Gateway, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver:        resolver,
		gateway:         gateway,
		maxInFlight:     int64(cfg.MaxInFlight),
		deliveryTimeout: cfg.DeliveryTimeout,
		logger:          logger.With("component", "FanOutDispatcher"),
	}
	if d.maxInFlight <= 0 {
		d.maxInFlight = DefaultMaxInFlight
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates msg, resolves its audience and delivers it to every
// recipient, returning only once every started delivery has finished.
//
// Per-recipient failures never abort the dispatch. Validation, resolution
// and transport faults are returned as errors instead of a report. When ctx
// is cancelled, deliveries already in progress complete, no new ones start,
// and the remaining recipients are reported as cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, msg notification.PushMessage) (notification.DeliveryReport, error) {
	if err := msg.Validate(); err != nil {
		return notification.DeliveryReport{}, err
	}

	started := time.Now()
	audience := msg.Target()

	recipients, err := d.resolver.Resolve(ctx, audience)
	if err != nil {
		return notification.DeliveryReport{}, err
	}

	outcomes, err := d.fanOut(ctx, recipients, msg)
	if err != nil {
		d.logger.Error("Dispatch aborted by transport fault", "audience", audience.String(), "recipients", len(recipients), "err", err)
		return notification.DeliveryReport{}, err
	}

	report := notification.NewReport(msg, outcomes)
	report.StartedAt = started
	report.FinishedAt = time.Now()

	d.metrics.observeDispatch(report.Status, report.FinishedAt.Sub(started))
	d.logger.Info("Dispatch complete",
		"audience", audience.String(),
		"status", report.Status,
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed(),
		"cancelled", report.Cancelled(),
	)
	return report, nil
}

func (d *Dispatcher) fanOut(ctx context.Context, recipients []notification.RecipientID, msg notification.PushMessage) ([]notification.DeliveryOutcome, error) {
	if len(recipients) == 0 {
		return nil, nil
	}

	acc := newAccumulator(len(recipients))
	sem := semaphore.NewWeighted(d.maxInFlight)

	// Admission stops on caller cancellation or on the first transport fault.
	admitCtx, stopAdmission := context.WithCancel(ctx)
	defer stopAdmission()
	// Started deliveries are not cut short by caller cancellation.
	deliverCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	launched := 0
	for _, recipient := range recipients {
		if err := d.admit(admitCtx, sem); err != nil {
			break
		}
		launched++
		g.Go(func() error {
			defer sem.Release(1)
			outcome, err := d.deliver(deliverCtx, recipient, msg)
			if err != nil {
				stopAdmission()
				return fmt.Errorf("delivery to %s: %w", recipient, err)
			}
			acc.add(outcome)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	skipped := recipients[launched:]
	for _, recipient := range skipped {
		acc.add(notification.Failed(recipient, notification.ReasonCancelled, "dispatch cancelled before delivery started"))
	}
	d.metrics.observeCancelled(len(skipped))
	if len(skipped) > 0 {
		d.logger.Warn("Dispatch cancelled", "launched", launched, "skipped", len(skipped), "err", ctx.Err())
	}

	return acc.outcomes(), nil
}

// admit blocks until a delivery may start: an in-flight slot is free and the
// rate limiter allows it.
func (d *Dispatcher) admit(ctx context.Context, sem *semaphore.Weighted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			sem.Release(1)
			return err
		}
	}
	// Acquire can succeed on an already cancelled context.
	if err := ctx.Err(); err != nil {
		sem.Release(1)
		return err
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, recipient notification.RecipientID, msg notification.PushMessage) (notification.DeliveryOutcome, error) {
	d.metrics.deliveryStarted()
	defer d.metrics.deliveryFinished()

	if d.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.deliveryTimeout)
		defer cancel()
	}

	outcome, err := d.gateway.Deliver(ctx, recipient, msg)
	if err != nil {
		if errors.Is(err, notification.ErrTransport) {
			return notification.DeliveryOutcome{}, err
		}
		outcome = notification.Failed(recipient, notification.ReasonProviderUnavailable, err.Error())
	}
	outcome.Recipient = recipient
	if outcome.Result == "" {
		outcome.Result = notification.ResultFailure
		outcome.Reason = notification.ReasonProviderRejected
	}

	d.metrics.observeDelivery(outcome)
	if !outcome.Succeeded() {
		d.logger.Debug("Delivery failed", "recipient", recipient.String(), "reason", outcome.Reason, "detail", outcome.Detail)
	}
	return outcome, nil
}

// accumulator is the only state shared between the delivery goroutines of a
// dispatch.
type accumulator struct {
	mu   sync.Mutex
	list []notification.DeliveryOutcome
}

func newAccumulator(capacity int) *accumulator {
	return &accumulator{list: make([]notification.DeliveryOutcome, 0, capacity)}
}

func (a *accumulator) add(o notification.DeliveryOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.list = append(a.list, o)
}

func (a *accumulator) outcomes() []notification.DeliveryOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]notification.DeliveryOutcome(nil), a.list...)
}

package remote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/sony/gobreaker"
)

// BreakerConfig configures the circuit breaker around a remote.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the settings used when none are configured.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      3,
	}
}

// Breaker wraps a remote so that repeated failures open a circuit and later
// calls fail fast with gobreaker.ErrOpenState until the timeout elapses.
// It forwards device registration when the wrapped remote supports it.
type Breaker struct {
	inner    journal.Remote
	cb       *gobreaker.CircuitBreaker
	themes   journal.Collection[journal.Theme]
	insights journal.Collection[journal.Insight]
	profiles journal.Collection[journal.Owner]
}

// NewBreaker decorates inner with a circuit breaker shared by all collections.
func NewBreaker(inner journal.Remote, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("remote circuit breaker state changed",
				"component", "remote",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A missing entity is an answer, not an outage.
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})

	return &Breaker{
		inner:    inner,
		cb:       cb,
		themes:   &breakerCollection[journal.Theme]{inner: inner.Themes(), cb: cb},
		insights: &breakerCollection[journal.Insight]{inner: inner.Insights(), cb: cb},
		profiles: &breakerCollection[journal.Owner]{inner: inner.Profiles(), cb: cb},
	}
}

func (b *Breaker) Themes() journal.Collection[journal.Theme]     { return b.themes }
func (b *Breaker) Insights() journal.Collection[journal.Insight] { return b.insights }
func (b *Breaker) Profiles() journal.Collection[journal.Owner]   { return b.profiles }

// State reports the breaker state ("closed", "half-open" or "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// RegisterDevice forwards to the wrapped remote when it is a registrar.
func (b *Breaker) RegisterDevice(ctx context.Context, ownerID string, d journal.Device) error {
	reg, ok := b.inner.(journal.DeviceRegistrar)
	if !ok {
		return errors.New("remote does not support device registration")
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, reg.RegisterDevice(ctx, ownerID, d)
	})
	return err
}

type breakerCollection[T any] struct {
	inner journal.Collection[T]
	cb    *gobreaker.CircuitBreaker
}

func (c *breakerCollection[T]) ListByOwner(ctx context.Context, ownerID string) ([]T, error) {
	v, err := c.cb.Execute(func() (interface{}, error) {
		return c.inner.ListByOwner(ctx, ownerID)
	})
	if err != nil {
		return nil, err
	}
	items, _ := v.([]T)
	return items, nil
}

func (c *breakerCollection[T]) Insert(ctx context.Context, item T) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.inner.Insert(ctx, item)
	})
	return err
}

func (c *breakerCollection[T]) Update(ctx context.Context, id string, fields journal.Fields) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.inner.Update(ctx, id, fields)
	})
	return err
}

func (c *breakerCollection[T]) Delete(ctx context.Context, id string) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.inner.Delete(ctx, id)
	})
	return err
}

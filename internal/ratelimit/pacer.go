package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum spacing between speed-limit lookups.
const DefaultInterval = 100 * time.Millisecond

// Scope decides whether pipeline runs share one Pacer.
type Scope string

const (
	ScopeRun    Scope = "run"
	ScopeGlobal Scope = "global"
)

// Waiter is anything that can hold a caller back until it may proceed.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Pacer spaces successive Wait calls at least interval apart. The first call
// passes immediately.
type Pacer struct {
	limiter *rate.Limiter
}

func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next slot. It returns ctx.Err() as soon as ctx is
// done, without consuming a slot.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Factory hands out Pacers according to scope.
type Factory struct {
	scope    Scope
	interval time.Duration
	shared   *Pacer
}

func NewFactory(scope Scope, interval time.Duration) *Factory {
	f := &Factory{scope: scope, interval: interval}
	if scope == ScopeGlobal {
		f.shared = NewPacer(interval)
	}
	return f
}

// ForRun returns the Pacer a new pipeline run should use.
func (f *Factory) ForRun() Waiter {
	if f.shared != nil {
		return f.shared
	}
	return NewPacer(f.interval)
}

// Unlimited never waits, beyond honoring cancellation.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}

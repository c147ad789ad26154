package speedlimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/events/internal/cache"
	"fleet-monitor/events/internal/metrics"
	"fleet-monitor/events/internal/ratelimit"
)

const (
	DefaultLimitKmh = 90
	DefaultTimeout  = 2 * time.Second
	DefaultTTL      = 24 * time.Hour
)

// errKeepStale stops a failed background refresh from replacing a real
// limit with the default.
var errKeepStale = errors.New("speed-limit refresh failed, keeping cached value")

// Shared is a second cache level visible to every process, e.g. Redis.
type Shared interface {
	GetSpeedLimit(ctx context.Context, key string) (int, bool, error)
	SetSpeedLimit(ctx context.Context, key string, limitKmh int, ttl time.Duration) error
}

type Options struct {
	DefaultLimit  int
	Timeout       time.Duration
	TTL           time.Duration
	StaleFraction float64
}

// Resolver maps coordinates to a road speed limit in km/h.
//
// Lookups go memory cache, then the optional Shared level, then the Provider.
// Background refreshes skip the Shared level, which holds entries as old as
// the memory ones, and go straight to the Provider. Any provider failure resolves to the default limit, which is cached like a
// real answer so a bad location is not queried again until it expires.
type Resolver struct {
	provider Provider
	shared   Shared
	loader   *cache.Loader[int]
	opts     Options
	logger   *zap.Logger
}

// NewResolver builds a Resolver on top of c. shared may be nil.
func NewResolver(provider Provider, c *cache.Cache[int], shared Shared, opts Options, logger *zap.Logger) *Resolver {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimitKmh
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Resolver{
		provider: provider,
		shared:   shared,
		loader: cache.NewLoader(c, cache.LoaderOptions{
			TTL:            opts.TTL,
			StaleFraction:  opts.StaleFraction,
			RefreshTimeout: opts.Timeout * 2,
		}, logger),
		opts:   opts,
		logger: logger.Named("speedlimit"),
	}
}

// Key rounds coordinates to 4 decimals (~11 m) so nearby points share an entry.
func Key(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// DefaultLimit is the value returned when no limit can be determined.
func (r *Resolver) DefaultLimit() int {
	return r.opts.DefaultLimit
}

// Resolve returns the speed limit at (lat, lon). It never fails: lookups that
// error, time out or find no usable tag yield DefaultLimit. Cache hits skip
// pace; misses wait on it before calling the provider. If ctx is cancelled
// the default is returned at once and nothing is cached on its behalf; a
// lookup other callers are waiting on runs to completion.
func (r *Resolver) Resolve(ctx context.Context, pace ratelimit.Waiter, lat, lon float64) int {
	key := Key(lat, lon)

	limit, cached, err := r.loader.Get(ctx, key, func(ctx context.Context, key string) (int, error) {
		return r.fetch(ctx, pace, key, lat, lon)
	})
	if err != nil {
		return r.opts.DefaultLimit
	}
	if cached {
		metrics.SpeedLimitLookups.WithLabelValues("memory").Inc()
	}
	return limit
}

// Wait blocks until background refreshes have settled.
func (r *Resolver) Wait() {
	r.loader.Wait()
}

func (r *Resolver) fetch(ctx context.Context, pace ratelimit.Waiter, key string, lat, lon float64) (int, error) {
	if r.shared != nil && !cache.Refreshing(ctx) {
		limit, ok, err := r.shared.GetSpeedLimit(ctx, key)
		if err != nil {
			r.logger.Debug("shared speed-limit cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			metrics.SpeedLimitLookups.WithLabelValues("shared").Inc()
			return limit, nil
		}
	}

	if pace != nil {
		if err := pace.Wait(ctx); err != nil {
			return 0, err
		}
	}

	limit, found := r.lookup(ctx, lat, lon)
	if err := ctx.Err(); err != nil {
		// Load deadline passed, not a provider failure.
		return 0, err
	}
	if !found {
		if _, ok := r.loader.Cache().Peek(key); ok {
			return 0, errKeepStale
		}
	}

	if r.shared != nil {
		if err := r.shared.SetSpeedLimit(ctx, key, limit, r.opts.TTL); err != nil {
			r.logger.Debug("shared speed-limit cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return limit, nil
}

// lookup asks the provider. found is false when the default was substituted.
func (r *Resolver) lookup(ctx context.Context, lat, lon float64) (limit int, found bool) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	tags, err := r.provider.MaxSpeedTags(ctx, lat, lon)
	metrics.SpeedLimitLookupDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		r.logger.Warn("speed-limit lookup failed, using default",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.Int("default", r.opts.DefaultLimit),
			zap.Error(err),
		)
		metrics.SpeedLimitLookups.WithLabelValues("fallback").Inc()
		return r.opts.DefaultLimit, false
	}

	for _, tag := range tags {
		if limit, ok := ParseMaxSpeed(tag); ok {
			metrics.SpeedLimitLookups.WithLabelValues("provider").Inc()
			return limit, true
		}
	}

	r.logger.Debug("no usable maxspeed tag, using default",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.Strings("tags", tags),
	)
	metrics.SpeedLimitLookups.WithLabelValues("fallback").Inc()
	return r.opts.DefaultLimit, false
}

package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultStaleFraction is the share of an entry's TTL after which reads
// trigger a background refresh.
const DefaultStaleFraction = 0.8

// LoadFunc fetches the value for key from the source of truth.
type LoadFunc[V any] func(ctx context.Context, key string) (V, error)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	TTL time.Duration

	// StaleFraction defaults to DefaultStaleFraction.
	StaleFraction float64

	// RefreshTimeout bounds background refreshes. Defaults to 10s.
	RefreshTimeout time.Duration

	// LoadTimeout bounds a shared load on a miss. Defaults to 30s.
	LoadTimeout time.Duration
}

type refreshKey struct{}

// Refreshing reports whether ctx belongs to a background refresh rather than
// a load on a miss.
func Refreshing(ctx context.Context) bool {
	return ctx.Value(refreshKey{}) != nil
}

// Loader reads through a Cache with stale-while-revalidate semantics.
//
// A read of a fresh entry returns it. A read of an entry older than
// StaleFraction*TTL returns it and schedules one background refresh for the
// key; further reads while that refresh runs do not schedule another. A miss
// loads synchronously and concurrent misses for one key share a single load.
// The shared load does not inherit any caller's cancellation or deadline: a
// caller whose ctx ends gets ctx.Err() back at once while the others keep
// waiting. Load errors are never cached.
type Loader[V any] struct {
	cache  *Cache[V]
	opts   LoaderOptions
	logger *zap.Logger

	group      singleflight.Group
	refreshing sync.Map // key -> struct{}
	wg         sync.WaitGroup
}

func NewLoader[V any](c *Cache[V], opts LoaderOptions, logger *zap.Logger) *Loader[V] {
	if opts.StaleFraction <= 0 || opts.StaleFraction > 1 {
		opts.StaleFraction = DefaultStaleFraction
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 10 * time.Second
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	return &Loader[V]{
		cache:  c,
		opts:   opts,
		logger: logger.Named("cache-loader"),
	}
}

// Cache returns the underlying cache.
func (l *Loader[V]) Cache() *Cache[V] {
	return l.cache
}

// Get returns the cached value for key, loading it with load on a miss.
// The bool reports whether the value came from the cache.
func (l *Loader[V]) Get(ctx context.Context, key string, load LoadFunc[V]) (V, bool, error) {
	if e, ok := l.cache.Peek(key); ok {
		staleAfter := time.Duration(float64(e.TTL) * l.opts.StaleFraction)
		if e.Age(l.cache.now()) > staleAfter {
			l.refresh(key, load)
		}
		return e.Value, true, nil
	}

	if err := ctx.Err(); err != nil {
		var zero V
		return zero, false, err
	}

	ch := l.group.DoChan(key, func() (any, error) {
		l.wg.Add(1)
		defer l.wg.Done()

		// Another caller may have filled the key while we queued.
		if v, ok := l.cache.Get(key); ok {
			return v, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.LoadTimeout)
		defer cancel()

		v, err := load(loadCtx, key)
		if err != nil {
			return nil, err
		}
		l.cache.Set(key, v, l.opts.TTL)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, false, res.Err
		}
		return res.Val.(V), false, nil
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

func (l *Loader[V]) refresh(key string, load LoadFunc[V]) {
	if _, busy := l.refreshing.LoadOrStore(key, struct{}{}); busy {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.refreshing.Delete(key)

		ctx, cancel := context.WithTimeout(context.Background(), l.opts.RefreshTimeout)
		defer cancel()
		ctx = context.WithValue(ctx, refreshKey{}, true)

		v, err := load(ctx, key)
		if err != nil {
			l.logger.Debug("background refresh failed", zap.String("key", key), zap.Error(err))
			return
		}
		l.cache.Set(key, v, l.opts.TTL)
	}()
}

// Wait blocks until all in-flight background refreshes have finished.
func (l *Loader[V]) Wait() {
	l.wg.Wait()
}

// Package mockapi simulates a slow remote data source.
//
// A Resource serves a fixed collection after an artificial delay, the way a
// network API would, and keeps a TTL response cache in front of itself so
// repeated reads inside the TTL window come back instantly. It exists to
// give examples and tests something realistic to observe without standing
// up a server.
package mockapi

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultDelay = 300 * time.Millisecond
	defaultTTL   = 30 * time.Second

	cacheKeyAll = "all"
)

// Option configures a Resource.
type Option func(*options)

type options struct {
	delay time.Duration
	ttl   time.Duration
}

// WithDelay sets the simulated round-trip latency. The default is 300ms.
func WithDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.delay = d
		}
	}
}

// WithTTL sets how long responses stay cached. The default is 30s.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// Resource is a named collection behind a pretend network boundary.
// All methods are safe for concurrent use.
type Resource[T any] struct {
	name    string
	mu      sync.Mutex
	records []T
	delay   time.Duration
	cache   *ttlcache.Cache[string, []T]
	fetches int64
}

// NewResource creates a Resource serving records. Close it when done to
// stop the cache's expiry loop.
func NewResource[T any](name string, records []T, opts ...Option) *Resource[T] {
	o := options{
		delay: defaultDelay,
		ttl:   defaultTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cache := ttlcache.New[string, []T](
		ttlcache.WithTTL[string, []T](o.ttl),
		// A response cache must go stale on schedule, hits don't extend it.
		ttlcache.WithDisableTouchOnHit[string, []T](),
	)
	go cache.Start()

	return &Resource[T]{
		name:    name,
		records: slices.Clone(records),
		delay:   o.delay,
		cache:   cache,
	}
}

// GetAll returns every record. Cached responses return immediately; a cache
// miss pays the simulated latency first and honors ctx while waiting. The
// returned slice is the caller's own.
func (r *Resource[T]) GetAll(ctx context.Context) ([]T, error) {
	// The expiry loop may not have collected an expired entry yet.
	if item := r.cache.Get(cacheKeyAll); item != nil && !item.IsExpired() {
		log.Debug("serving from cache", "resource", r.name)
		return slices.Clone(item.Value()), nil
	}

	log.Debug("fetching", "resource", r.name, "delay", r.delay)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.delay):
	}

	r.mu.Lock()
	records := slices.Clone(r.records)
	r.fetches++
	r.mu.Unlock()

	r.cache.Set(cacheKeyAll, records, ttlcache.DefaultTTL)
	return slices.Clone(records), nil
}

// Add appends a record and invalidates the cached response, so the next
// GetAll fetches fresh data.
func (r *Resource[T]) Add(record T) {
	r.mu.Lock()
	r.records = append(r.records, record)
	r.mu.Unlock()

	r.cache.Delete(cacheKeyAll)
}

// Fetches reports how many times the backing data was actually read, cache
// hits excluded.
func (r *Resource[T]) Fetches() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

// Name returns the resource name.
func (r *Resource[T]) Name() string {
	return r.name
}

// Close stops the cache's expiry loop.
func (r *Resource[T]) Close() {
	r.cache.Stop()
}

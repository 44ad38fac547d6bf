// Package cache holds computed per-tenant results for a fixed time-to-live.
//
// Each Store caches one kind of result. Concurrent misses for the same tenant
// share a single computation; misses for different tenants never wait on each
// other. Failed computations are not stored. A shared computation outlives the
// caller that started it: callers that give up return their own context error
// while the others still receive the result.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/singleflight"

	"github.com/PratikDhanave/usage-insights-engine/internal/metrics"
)

// DefaultTTL applies when a Store is created with a non-positive TTL.
const DefaultTTL = 120 * time.Second

// DefaultComputeTimeout bounds a shared computation once it no longer follows
// the cancellation of the caller that started it.
const DefaultComputeTimeout = time.Minute

// Option configures a Store.
type Option func(*options)

type options struct {
	clock          quartz.Clock
	computeTimeout time.Duration
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c quartz.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithComputeTimeout bounds each shared computation.
func WithComputeTimeout(d time.Duration) Option {
	return func(o *options) { o.computeTimeout = d }
}

type entry[T any] struct {
	value    T
	storedAt time.Time
}

// Store caches values of type T keyed by tenant id.
type Store[T any] struct {
	kind           string
	ttl            time.Duration
	computeTimeout time.Duration
	clock          quartz.Clock
	group          singleflight.Group

	mu      sync.Mutex
	entries map[int64]entry[T]
	// gen and epoch change on Invalidate and Reset so computations started
	// before them do not repopulate the cache.
	gen   map[int64]uint64
	epoch uint64
}

// New creates an empty Store for one result kind.
func New[T any](kind string, ttl time.Duration, opts ...Option) *Store[T] {
	o := options{clock: quartz.NewReal(), computeTimeout: DefaultComputeTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if o.computeTimeout <= 0 {
		o.computeTimeout = DefaultComputeTimeout
	}
	return &Store[T]{
		kind:           kind,
		ttl:            ttl,
		computeTimeout: o.computeTimeout,
		clock:          o.clock,
		entries: make(map[int64]entry[T]),
		gen:     make(map[int64]uint64),
	}
}

// Kind returns the result kind this store caches.
func (s *Store[T]) Kind() string { return s.kind }

// TTL returns the time-to-live of entries.
func (s *Store[T]) TTL() time.Duration { return s.ttl }

// GetOrCompute returns the cached value of tenantID if it is younger than
// the TTL, otherwise it runs compute and stores the result. compute is never
// called for a hit. If ctx ends first the caller gets ctx.Err() and the
// computation keeps running for the callers sharing it.
func (s *Store[T]) GetOrCompute(ctx context.Context, tenantID int64, compute func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := s.lookup(tenantID); ok {
		metrics.CacheRequestsTotal.WithLabelValues(s.kind, "hit").Inc()
		return v, nil
	}

	key := strconv.FormatInt(tenantID, 10)
	ch := s.group.DoChan(key, func() (any, error) {
		// A computation that finished since the lookup above already stored it.
		if v, ok := s.lookup(tenantID); ok {
			return v, nil
		}

		s.mu.Lock()
		gen, epoch := s.gen[tenantID], s.epoch
		s.mu.Unlock()

		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.computeTimeout)
		defer cancel()

		start := s.clock.Now()
		v, err := compute(computeCtx)
		metrics.CacheComputeDuration.WithLabelValues(s.kind).Observe(s.clock.Since(start).Seconds())
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.gen[tenantID] == gen && s.epoch == epoch {
			s.entries[tenantID] = entry[T]{value: v, storedAt: s.clock.Now()}
		}
		s.mu.Unlock()
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		metrics.CacheRequestsTotal.WithLabelValues(s.kind, "abandoned").Inc()
		return zero, ctx.Err()
	case r := <-ch:
		if r.Shared {
			metrics.CacheRequestsTotal.WithLabelValues(s.kind, "shared").Inc()
		} else {
			metrics.CacheRequestsTotal.WithLabelValues(s.kind, "miss").Inc()
		}
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}

func (s *Store[T]) lookup(tenantID int64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tenantID]
	if !ok {
		var zero T
		return zero, false
	}
	if s.clock.Since(e.storedAt) >= s.ttl {
		delete(s.entries, tenantID)
		var zero T
		return zero, false
	}
	return e.value, true
}

// Invalidate drops the entry of one tenant.
func (s *Store[T]) Invalidate(tenantID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, tenantID)
	s.gen[tenantID]++
}

// Reset drops every entry.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[int64]entry[T])
	s.epoch++
}

// Len returns the number of stored entries, expired or not.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

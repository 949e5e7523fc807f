// Package cache provides a keyed response cache with fresh and stale windows
// and at most one in-flight upstream computation per key.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"treasury-lens/internal/fetch"
	"treasury-lens/internal/observability"
)

// Default cache settings.
const (
	DefaultFreshTTL   = 30 * time.Second
	DefaultStaleTTL   = 10 * time.Minute
	DefaultMaxEntries = 1024
)

// Config holds the temporal thresholds and capacity of a Store.
type Config struct {
	// FreshTTL is how long a value is served without any upstream call.
	FreshTTL time.Duration
	// StaleTTL is how long a value remains usable as a fallback after a failed refresh.
	StaleTTL time.Duration
	// MaxEntries bounds the number of keys kept.
	MaxEntries int
}

func (c Config) withDefaults() Config {
	if c.FreshTTL <= 0 {
		c.FreshTTL = DefaultFreshTTL
	}
	if c.StaleTTL <= 0 {
		c.StaleTTL = DefaultStaleTTL
	}
	if c.StaleTTL < c.FreshTTL {
		c.StaleTTL = c.FreshTTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	return c
}

type entry[V any] struct {
	value     V
	updatedAt time.Time
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger zerolog.Logger
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Store caches values of type V by string key.
type Store[V any] struct {
	name    string
	cfg     Config
	entries *lru.Cache[string, entry[V]]
	flights singleflight.Group
	now     func() time.Time
	logger  zerolog.Logger

	// mu orders result writes against Invalidate.
	mu      sync.Mutex
	loading map[string]*inflight
}

// inflight tracks one running load. An invalidated load still answers its
// waiters but does not store its result.
type inflight struct {
	invalidated bool
}

// New creates a Store. The name labels metrics and logs.
func New[V any](name string, cfg Config, opts ...Option) *Store[V] {
	o := options{now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg = cfg.withDefaults()
	entries, err := lru.New[string, entry[V]](cfg.MaxEntries)
	if err != nil {
		// Only returned for a non-positive size, which withDefaults rules out.
		panic(fmt.Sprintf("cache %s: %v", name, err))
	}

	return &Store[V]{
		name:    name,
		cfg:     cfg,
		entries: entries,
		loading: make(map[string]*inflight),
		now:     o.now,
		logger:  o.logger.With().Str("cache", name).Logger(),
	}
}

// Name returns the store name.
func (s *Store[V]) Name() string {
	return s.name
}

// Get returns the value for key. A fresh entry is returned without calling
// load. Otherwise concurrent callers share a single call to load. If load
// fails and an entry younger than StaleTTL exists, that entry is returned.
//
// The shared load is detached from the cancellation of any single caller;
// a caller whose ctx is done stops waiting and gets KindCanceled.
func (s *Store[V]) Get(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	if v, ok := s.fresh(key); ok {
		observability.RecordCache(s.name, "hit")
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cache %s: load %q panicked: %v", s.name, key, r)
			}
		}()

		if v, ok := s.fresh(key); ok {
			return v, nil
		}

		observability.RecordCache(s.name, "miss")
		l := s.begin(key)
		defer s.finish(key, l, nil)
		v, err := load(detached)
		if err != nil {
			if stale, ok := s.stale(key); ok {
				observability.RecordCache(s.name, "stale")
				s.logger.Warn().Str("key", key).Err(err).Msg("serving stale value after failed refresh")
				return stale, nil
			}
			return nil, err
		}

		if !s.finish(key, l, &entry[V]{value: v, updatedAt: s.now()}) {
			s.logger.Debug().Str("key", key).Msg("discarding result invalidated during load")
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, fetch.New(fetch.KindCanceled, s.name, ctx.Err())
	case res := <-ch:
		if res.Shared {
			observability.RecordCache(s.name, "shared")
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

func (s *Store[V]) begin(key string) *inflight {
	l := &inflight{}
	s.mu.Lock()
	s.loading[key] = l
	s.mu.Unlock()
	return l
}

// finish ends l and stores e unless key was invalidated meanwhile. It
// reports whether e was stored.
func (s *Store[V]) finish(key string, l *inflight, e *entry[V]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading[key] == l {
		delete(s.loading, key)
	}
	if e == nil || l.invalidated {
		return false
	}
	s.entries.Add(key, *e)
	return true
}

func (s *Store[V]) fresh(key string) (V, bool) {
	e, ok := s.entries.Get(key)
	if !ok || s.now().Sub(e.updatedAt) >= s.cfg.FreshTTL {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (s *Store[V]) stale(key string) (V, bool) {
	e, ok := s.entries.Peek(key)
	if !ok || s.now().Sub(e.updatedAt) >= s.cfg.StaleTTL {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Peek returns the stored value and its update time regardless of age.
func (s *Store[V]) Peek(key string) (V, time.Time, bool) {
	e, ok := s.entries.Peek(key)
	return e.value, e.updatedAt, ok
}

// Set stores v for key as of now.
func (s *Store[V]) Set(key string, v V) {
	s.entries.Add(key, entry[V]{value: v, updatedAt: s.now()})
}

// Invalidate removes keys. An in-flight load for a key runs to completion
// for its waiters, but its result is not stored and later callers start a
// new load.
func (s *Store[V]) Invalidate(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if l, ok := s.loading[k]; ok {
			l.invalidated = true
			delete(s.loading, k)
		}
		s.flights.Forget(k)
		s.entries.Remove(k)
	}
}

// Len returns the number of stored entries.
func (s *Store[V]) Len() int {
	return s.entries.Len()
}

// PurgeExpired removes entries older than StaleTTL and returns how many were removed.
func (s *Store[V]) PurgeExpired() int {
	now := s.now()
	removed := 0
	for _, k := range s.entries.Keys() {
		e, ok := s.entries.Peek(k)
		if ok && now.Sub(e.updatedAt) >= s.cfg.StaleTTL {
			s.entries.Remove(k)
			removed++
		}
	}
	return removed
}

// RunJanitor purges expired entries every interval until ctx is done.
func (s *Store[V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.PurgeExpired(); n > 0 {
				s.logger.Debug().Int("removed", n).Msg("purged expired entries")
			}
		}
	}
}

// Package counter provides the CounterStore backends for the rate limiter:
// a Redis store for cluster-consistent accounting and an in-process store
// used as fallback when Redis is unreachable.
package counter

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hemolink/hemolink/core/ratelimit"
)

type memoryEntry struct {
	// fixed window
	windowStart time.Time
	count       int
	// sliding window
	hits []time.Time
	// token bucket
	tokens    float64
	tokenTime time.Time

	lastSeen time.Time
}

// MemoryStore is a process-local CounterStore. It is not shared across
// instances and therefore cannot enforce a cluster-wide quota; callers see
// Degraded=true on results served by it.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[string]*memoryEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithIdleTTL sets how long an untouched key survives before the janitor
// removes it.
func WithIdleTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.idleTTL = d }
}

// WithCleanupEvery sets the janitor interval.
func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[string]*memoryEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) get(key string, now time.Time) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e
}

// FixedWindow implements ratelimit.CounterStore.
func (s *MemoryStore) FixedWindow(_ context.Context, key string, now time.Time, window time.Duration, max int, consume bool) (ratelimit.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key, now)
	start := now.Truncate(window)
	if !e.windowStart.Equal(start) {
		e.windowStart = start
		e.count = 0
	}
	allowed := e.count < max
	if consume && allowed {
		e.count++
	}
	return ratelimit.Outcome{
		Allowed:   allowed,
		Remaining: maxInt(0, max-e.count),
		ResetAt:   start.Add(window),
	}, nil
}

// SlidingWindow implements ratelimit.CounterStore.
func (s *MemoryStore) SlidingWindow(_ context.Context, key string, now time.Time, window time.Duration, max int, consume bool) (ratelimit.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key, now)
	cutoff := now.Add(-window)
	live := e.hits[:0]
	for _, h := range e.hits {
		if h.After(cutoff) {
			live = append(live, h)
		}
	}
	e.hits = live

	allowed := len(e.hits) < max
	if consume && allowed {
		e.hits = append(e.hits, now)
	}
	resetAt := now
	if len(e.hits) > 0 {
		resetAt = e.hits[0].Add(window)
	}
	return ratelimit.Outcome{
		Allowed:   allowed,
		Remaining: maxInt(0, max-len(e.hits)),
		ResetAt:   resetAt,
	}, nil
}

// TokenBucket implements ratelimit.CounterStore. Refill is computed lazily
// from the elapsed time since the last write; there is no background timer.
func (s *MemoryStore) TokenBucket(_ context.Context, key string, now time.Time, window time.Duration, max int, consume bool) (ratelimit.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key, now)
	if e.tokenTime.IsZero() {
		e.tokens = float64(max)
		e.tokenTime = now
	}
	rate := float64(max) / window.Seconds()
	tokens := math.Min(float64(max), e.tokens+now.Sub(e.tokenTime).Seconds()*rate)

	allowed := tokens >= 1
	if consume {
		if allowed {
			tokens--
		}
		e.tokens = tokens
		e.tokenTime = now
	}
	resetAt := now
	if tokens < 1 {
		resetAt = now.Add(time.Duration((1 - tokens) / rate * float64(time.Second)))
	}
	return ratelimit.Outcome{
		Allowed:   allowed,
		Remaining: int(tokens),
		ResetAt:   resetAt,
	}, nil
}

// Reset implements ratelimit.CounterStore.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Cleanup removes keys untouched for longer than the idle TTL.
func (s *MemoryStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor periodically runs Cleanup until the context is cancelled.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

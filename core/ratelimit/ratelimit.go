// Package ratelimit enforces outbound quotas per key. The limiter delegates
// the atomic read-modify-write to a CounterStore; a distributed store (Redis)
// keeps the counters cluster-consistent, while the in-process fallback store
// is explicitly second-class and only used during outages.
package ratelimit

import (
	"context"
	"time"
)

// Algorithm selects the quota accounting strategy.
type Algorithm string

const (
	// FixedWindow resets the count at wall-clock window boundaries. A burst
	// straddling a boundary can admit up to twice the nominal rate; this is
	// an accepted tradeoff.
	FixedWindow Algorithm = "fixed_window"
	// SlidingWindow keeps a timestamp log over the trailing window. Exact,
	// O(n) in burst size, bounded by MaxRequests.
	SlidingWindow Algorithm = "sliding_window"
	// TokenBucket refills MaxRequests tokens per window, computed lazily
	// from elapsed time. No background timer.
	TokenBucket Algorithm = "token_bucket"
)

// FailMode decides the answer when both counter stores are unavailable.
type FailMode string

const (
	// FailClosed denies the check. This is the default.
	FailClosed FailMode = "closed"
	// FailOpen allows the check.
	FailOpen FailMode = "open"
)

// Key identifies a quota scope, e.g. {Scope: "responder:42", Action: "notify"}.
type Key struct {
	Scope  string
	Action string
}

func (k Key) String() string { return k.Scope + ":" + k.Action }

// Config describes one quota.
type Config struct {
	Algorithm   Algorithm     `json:"algorithm"`
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
	FailMode    FailMode      `json:"fail_mode"`
	// StoreTimeout bounds each call to the distributed store before failing
	// over to the local one. A check must never block indefinitely.
	StoreTimeout time.Duration `json:"store_timeout"`
}

// SetDefaults fills the zero fields.
func (c *Config) SetDefaults() {
	if c.Algorithm == "" {
		c.Algorithm = FixedWindow
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = 60
	}
	if c.FailMode == "" {
		c.FailMode = FailClosed
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 250 * time.Millisecond
	}
}

// Result is the answer to a single check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// RetryAfter is positive only when the check was denied.
	RetryAfter time.Duration
	// Degraded is true when the answer came from the local fallback store
	// (or from the FailMode policy) and is therefore not cluster-consistent.
	Degraded bool
}

// Outcome is what a CounterStore reports for one atomic operation.
type Outcome struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// CounterStore performs the atomic accounting for each algorithm. When
// consume is true a hit is registered only if it is allowed; when false the
// state is inspected without modification.
type CounterStore interface {
	FixedWindow(ctx context.Context, key string, now time.Time, window time.Duration, max int, consume bool) (Outcome, error)
	SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, max int, consume bool) (Outcome, error)
	TokenBucket(ctx context.Context, key string, now time.Time, window time.Duration, max int, consume bool) (Outcome, error)
	// Reset clears all state for the key. Only used by explicit resets.
	Reset(ctx context.Context, key string) error
}

package ratelimit

import (
	"context"
	"time"

	"github.com/hemolink/hemolink/core/logger"
)

// Limiter answers quota checks against a primary store, degrading to the
// fallback store on failure. A check never returns an error to the caller.
type Limiter struct {
	primary  CounterStore
	fallback CounterStore
	log      logger.Logger
	now      func() time.Time
}

// New creates a Limiter. fallback may be nil, in which case the FailMode
// policy applies directly when the primary store fails.
func New(primary, fallback CounterStore, log logger.Logger) *Limiter {
	return &Limiter{primary: primary, fallback: fallback, log: log, now: time.Now}
}

// SetNow overrides the clock. Intended for tests.
func (l *Limiter) SetNow(now func() time.Time) { l.now = now }

// Check registers a hit for the key if the quota allows it.
func (l *Limiter) Check(ctx context.Context, key Key, cfg Config) Result {
	return l.do(ctx, key, cfg, true)
}

// Peek inspects the quota without consuming it.
func (l *Limiter) Peek(ctx context.Context, key Key, cfg Config) Result {
	return l.do(ctx, key, cfg, false)
}

// Reset clears the key's counters in both stores.
func (l *Limiter) Reset(ctx context.Context, key Key) error {
	if l.fallback != nil {
		if err := l.fallback.Reset(ctx, key.String()); err != nil {
			return err
		}
	}
	return l.primary.Reset(ctx, key.String())
}

func (l *Limiter) do(ctx context.Context, key Key, cfg Config, consume bool) Result {
	cfg.SetDefaults()
	now := l.now()

	sctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	out, err := l.run(sctx, l.primary, key.String(), now, cfg, consume)
	cancel()
	if err == nil {
		return l.result(out, now)
	}
	l.log.Warnf("rate limit primary store failed for %s, degrading: %v", key, err)

	if l.fallback != nil {
		out, ferr := l.run(ctx, l.fallback, key.String(), now, cfg, consume)
		if ferr == nil {
			res := l.result(out, now)
			res.Degraded = true
			return res
		}
		l.log.Errorf("rate limit fallback store failed for %s: %v", key, ferr)
	}

	if cfg.FailMode == FailOpen {
		return Result{Allowed: true, ResetAt: now.Add(cfg.Window), Degraded: true}
	}
	return Result{
		Allowed:    false,
		ResetAt:    now.Add(cfg.Window),
		RetryAfter: cfg.Window,
		Degraded:   true,
	}
}

func (l *Limiter) run(ctx context.Context, store CounterStore, key string, now time.Time, cfg Config, consume bool) (Outcome, error) {
	switch cfg.Algorithm {
	case SlidingWindow:
		return store.SlidingWindow(ctx, key, now, cfg.Window, cfg.MaxRequests, consume)
	case TokenBucket:
		return store.TokenBucket(ctx, key, now, cfg.Window, cfg.MaxRequests, consume)
	default:
		return store.FixedWindow(ctx, key, now, cfg.Window, cfg.MaxRequests, consume)
	}
}

func (l *Limiter) result(out Outcome, now time.Time) Result {
	res := Result{Allowed: out.Allowed, Remaining: out.Remaining, ResetAt: out.ResetAt}
	if !out.Allowed {
		res.RetryAfter = out.ResetAt.Sub(now)
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Millisecond
		}
	}
	return res
}

package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hemolink/hemolink/core/ratelimit"
	"github.com/hemolink/hemolink/infra/counter"
	"github.com/hemolink/hemolink/infra/logger"
)

// brokenStore fails every operation, simulating an unreachable Redis.
type brokenStore struct{}

func (brokenStore) FixedWindow(context.Context, string, time.Time, time.Duration, int, bool) (ratelimit.Outcome, error) {
	return ratelimit.Outcome{}, errors.New("store down")
}
func (brokenStore) SlidingWindow(context.Context, string, time.Time, time.Duration, int, bool) (ratelimit.Outcome, error) {
	return ratelimit.Outcome{}, errors.New("store down")
}
func (brokenStore) TokenBucket(context.Context, string, time.Time, time.Duration, int, bool) (ratelimit.Outcome, error) {
	return ratelimit.Outcome{}, errors.New("store down")
}
func (brokenStore) Reset(context.Context, string) error { return errors.New("store down") }

func newTestLimiter(t *testing.T, alg ratelimit.Algorithm) (*ratelimit.Limiter, *time.Time, ratelimit.Config) {
	t.Helper()
	lim := ratelimit.New(counter.NewMemoryStore(), nil, logger.NopLogger{})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lim.SetNow(func() time.Time { return now })
	cfg := ratelimit.Config{Algorithm: alg, Window: time.Minute, MaxRequests: 5}
	return lim, &now, cfg
}

func TestLimiterQuotaAndRecovery(t *testing.T) {
	key := ratelimit.Key{Scope: "responder:r1", Action: "notify"}
	for _, alg := range []ratelimit.Algorithm{ratelimit.FixedWindow, ratelimit.SlidingWindow, ratelimit.TokenBucket} {
		t.Run(string(alg), func(t *testing.T) {
			lim, now, cfg := newTestLimiter(t, alg)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				res := lim.Check(ctx, key, cfg)
				if !res.Allowed {
					t.Fatalf("call %d should be allowed", i+1)
				}
				if res.Degraded {
					t.Fatalf("call %d unexpectedly degraded", i+1)
				}
			}
			res := lim.Check(ctx, key, cfg)
			if res.Allowed {
				t.Fatal("6th call should be denied")
			}
			if res.RetryAfter <= 0 {
				t.Fatalf("denied result must carry RetryAfter, got %v", res.RetryAfter)
			}

			*now = now.Add(cfg.Window + time.Second)
			if res := lim.Check(ctx, key, cfg); !res.Allowed {
				t.Fatal("call after window elapsed should succeed")
			}
		})
	}
}

func TestLimiterPeekDoesNotConsume(t *testing.T) {
	lim, _, cfg := newTestLimiter(t, ratelimit.FixedWindow)
	key := ratelimit.Key{Scope: "ip:10.0.0.1", Action: "submit"}
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if res := lim.Peek(ctx, key, cfg); !res.Allowed {
			t.Fatalf("peek %d should not consume quota", i)
		}
	}
	if res := lim.Check(ctx, key, cfg); !res.Allowed || res.Remaining != cfg.MaxRequests-1 {
		t.Fatalf("first consuming check after peeks: allowed=%v remaining=%d", res.Allowed, res.Remaining)
	}
}

func TestLimiterRemainingCountsDown(t *testing.T) {
	lim, _, cfg := newTestLimiter(t, ratelimit.FixedWindow)
	key := ratelimit.Key{Scope: "global", Action: "notify"}
	ctx := context.Background()

	for want := cfg.MaxRequests - 1; want >= 0; want-- {
		res := lim.Check(ctx, key, cfg)
		if res.Remaining != want {
			t.Fatalf("expected remaining %d, got %d", want, res.Remaining)
		}
	}
}

func TestLimiterDegradesToFallback(t *testing.T) {
	lim := ratelimit.New(brokenStore{}, counter.NewMemoryStore(), logger.NopLogger{})
	cfg := ratelimit.Config{Window: time.Minute, MaxRequests: 2}
	key := ratelimit.Key{Scope: "responder:r2", Action: "notify"}
	ctx := context.Background()

	res := lim.Check(ctx, key, cfg)
	if !res.Allowed || !res.Degraded {
		t.Fatalf("expected degraded allow, got allowed=%v degraded=%v", res.Allowed, res.Degraded)
	}
	lim.Check(ctx, key, cfg)
	if res := lim.Check(ctx, key, cfg); res.Allowed {
		t.Fatal("fallback store must still enforce the quota")
	}
}

func TestLimiterFailModes(t *testing.T) {
	key := ratelimit.Key{Scope: "x", Action: "y"}
	ctx := context.Background()

	open := ratelimit.New(brokenStore{}, nil, logger.NopLogger{})
	res := open.Check(ctx, key, ratelimit.Config{Window: time.Minute, MaxRequests: 1, FailMode: ratelimit.FailOpen})
	if !res.Allowed || !res.Degraded {
		t.Fatalf("fail-open should allow, got %+v", res)
	}

	closed := ratelimit.New(brokenStore{}, nil, logger.NopLogger{})
	res = closed.Check(ctx, key, ratelimit.Config{Window: time.Minute, MaxRequests: 1})
	if res.Allowed || res.RetryAfter <= 0 {
		t.Fatalf("fail-closed should deny with RetryAfter, got %+v", res)
	}
}

func TestLimiterReset(t *testing.T) {
	lim, _, cfg := newTestLimiter(t, ratelimit.SlidingWindow)
	key := ratelimit.Key{Scope: "responder:r3", Action: "notify"}
	ctx := context.Background()

	for i := 0; i < cfg.MaxRequests; i++ {
		lim.Check(ctx, key, cfg)
	}
	if res := lim.Check(ctx, key, cfg); res.Allowed {
		t.Fatal("quota should be exhausted")
	}
	if err := lim.Reset(ctx, key); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if res := lim.Check(ctx, key, cfg); !res.Allowed {
		t.Fatal("check after reset should succeed")
	}
}

package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hemolink/hemolink/core/ratelimit"
	"github.com/hemolink/hemolink/infra/counter"
	"github.com/hemolink/hemolink/infra/logger"
)

// startRedis launches a disposable Redis container and returns a connected
// client along with a cleanup function.
func startRedis(ctx context.Context, t *testing.T) (*redis.Client, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("cannot start redis container: %v", err)
	}
	cleanup := func() { _ = cont.Terminate(context.Background()) }

	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb, func() {
		_ = rdb.Close()
		cleanup()
	}
}

func TestRedisCounterStoreAlgorithms(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	rdb, cleanup := startRedis(ctx, t)
	defer cleanup()

	store := counter.NewRedisStore(rdb, counter.WithPrefix("hemotest"))
	lim := ratelimit.New(store, nil, logger.NopLogger{})

	algorithms := []ratelimit.Algorithm{
		ratelimit.FixedWindow,
		ratelimit.SlidingWindow,
		ratelimit.TokenBucket,
	}
	for _, algo := range algorithms {
		t.Run(string(algo), func(t *testing.T) {
			key := ratelimit.Key{Scope: "it:" + string(algo), Action: "notify"}
			cfg := ratelimit.Config{Algorithm: algo, Window: 2 * time.Second, MaxRequests: 3}

			for i := 0; i < 3; i++ {
				res := lim.Check(ctx, key, cfg)
				require.True(t, res.Allowed, "check %d should be allowed", i+1)
				require.False(t, res.Degraded, "check %d must come from redis, not the fallback", i+1)
			}
			res := lim.Check(ctx, key, cfg)
			require.False(t, res.Allowed, "fourth check should be denied")
			require.Positive(t, res.RetryAfter, "denied check must carry retry-after")

			time.Sleep(cfg.Window + 100*time.Millisecond)
			require.True(t, lim.Check(ctx, key, cfg).Allowed, "quota must recover after the window")
		})
	}
}

func TestRedisCounterStoreSharedAcrossClients(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	rdb, cleanup := startRedis(ctx, t)
	defer cleanup()

	// Two limiter instances sharing one Redis must agree on the quota, the
	// way two service replicas would.
	limA := ratelimit.New(counter.NewRedisStore(rdb), nil, logger.NopLogger{})
	limB := ratelimit.New(counter.NewRedisStore(rdb), nil, logger.NopLogger{})

	key := ratelimit.Key{Scope: "responder:shared", Action: "notify"}
	cfg := ratelimit.Config{Window: time.Minute, MaxRequests: 2}

	require.True(t, limA.Check(ctx, key, cfg).Allowed, "first check should pass")
	require.True(t, limB.Check(ctx, key, cfg).Allowed, "second check should pass")
	require.False(t, limA.Check(ctx, key, cfg).Allowed, "third check must see the shared counter")

	require.NoError(t, limA.Reset(ctx, key))
	require.True(t, limB.Check(ctx, key, cfg).Allowed, "reset must clear the shared counter")
}

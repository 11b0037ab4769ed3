package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hemolink/hemolink/config"
	coremetrics "github.com/hemolink/hemolink/core/metrics"
	"github.com/hemolink/hemolink/core/ratelimit"
	coretransport "github.com/hemolink/hemolink/core/transport"
	"github.com/hemolink/hemolink/infra/counter"
	"github.com/hemolink/hemolink/infra/logger"
	inframetrics "github.com/hemolink/hemolink/infra/metrics"
	"github.com/hemolink/hemolink/infra/store/memory"
	"github.com/hemolink/hemolink/infra/store/postgres"
	"github.com/hemolink/hemolink/infra/transport"
	"github.com/hemolink/hemolink/internal/eventbus"
)

// Build assembles a Service from configuration: Postgres persistence when a
// URL is configured (in-memory otherwise), Redis counters with an in-process
// fallback, and the MQTT notification transport. The returned closer releases
// every connection Build opened.
func Build(ctx context.Context, cfg *config.Config) (*Service, func(), error) {
	log := logger.New("app")
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := Deps{Log: log, Bus: eventbus.New()}

	if cfg.Postgres.URL != "" {
		pg, err := postgres.NewStore(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		deps.Requests = pg.Requests()
		deps.Responders = pg.Responders()
		deps.Responses = pg.Responses()
	} else {
		log.Warnf("no postgres url configured, using the in-memory store")
		mem := memory.NewStore()
		deps.Requests = mem.Requests()
		deps.Responders = mem.Responders()
		deps.Responses = mem.Responses()
	}

	local := counter.NewMemoryStore()
	var primary ratelimit.CounterStore = local
	var fallback ratelimit.CounterStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() {
			if err := rdb.Close(); err != nil {
				log.Errorf("redis close: %v", err)
			}
		})
		primary = counter.NewRedisStore(rdb, counter.WithPrefix(cfg.Redis.KeyPrefix))
		fallback = local
	} else {
		log.Warnf("no redis address configured, rate limits are process-local")
	}
	deps.Limiter = ratelimit.New(primary, fallback, log)

	if cfg.MQTT.Broker != "" {
		mt, err := transport.NewMQTTTransport(cfg.MQTT)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("mqtt transport: %w", err)
		}
		closers = append(closers, mt.Close)
		deps.Transport = mt
	} else {
		log.Warnf("no mqtt broker configured, notifications go to the log transport")
		deps.Transport = logTransport{log: logger.New("notifications")}
	}

	deps.Sink = buildSink(cfg, log)
	svc := New(cfg, deps)
	closers = append(closers, deps.Bus.Close)
	return svc, closeAll, nil
}

func buildSink(cfg *config.Config, log logger.Logger) coremetrics.MetricsSink {
	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := inframetrics.NewPromSink(cfg.Metrics)
		if err != nil {
			log.Errorf("prom sink: %v", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, inframetrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}
	case 1:
		return sinks[0]
	default:
		return inframetrics.NewMultiSink(sinks...)
	}
}

// logTransport is the development stand-in for a real delivery backend.
type logTransport struct {
	log logger.Logger
}

func (t logTransport) Send(_ context.Context, recipientID string, p coretransport.Payload) error {
	t.log.Infof("notify %s: request %s needs %d unit(s) of %s (%s)",
		recipientID, p.RequestID, p.Units, p.BloodType, p.Urgency)
	return nil
}

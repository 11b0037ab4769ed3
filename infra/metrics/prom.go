// Package metrics provides concrete sinks for the core metrics contracts.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/hemolink/hemolink/core/metrics"
)

// PromSink records matching events in Prometheus metrics.
type PromSink struct {
	notifications *prometheus.CounterVec
	matches       *prometheus.CounterVec
	sweeps        prometheus.Counter
	sweepExpired  prometheus.Counter
	rateLimits    *prometheus.CounterVec
}

// NewPromSink registers metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_events_total",
		Help: "Total number of notification fan-out events",
	}, []string{"outcome", "degraded"})
	matches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "match_attempts_total",
		Help: "Total number of match arbitrations",
	}, []string{"bound"})
	sweeps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_sweeps_total",
		Help: "Number of expiration sweeps executed",
	})
	sweepExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycle_sweep_expired_total",
		Help: "Number of requests expired by sweeps",
	})
	rateLimits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_decisions_total",
		Help: "Quota decisions answered by the limiter",
	}, []string{"allowed", "degraded"})

	if err := reg.Register(notifications); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			notifications = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(matches); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			matches = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(sweeps); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			sweeps = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(sweepExpired); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			sweepExpired = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(rateLimits); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			rateLimits = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		notifications: notifications,
		matches:       matches,
		sweeps:        sweeps,
		sweepExpired:  sweepExpired,
		rateLimits:    rateLimits,
	}, nil
}

// RecordNotification increments the counter for each notification result.
func (s *PromSink) RecordNotification(res []coremetrics.NotificationResult) error {
	for _, r := range res {
		s.notifications.WithLabelValues(r.Outcome, strconv.FormatBool(r.Degraded)).Inc()
	}
	return nil
}

// RecordMatch increments the arbitration counter.
func (s *PromSink) RecordMatch(ev coremetrics.MatchEvent) error {
	s.matches.WithLabelValues(strconv.FormatBool(ev.Bound)).Inc()
	return nil
}

// RecordSweep counts the sweep and the requests it expired.
func (s *PromSink) RecordSweep(ev coremetrics.SweepEvent) error {
	s.sweeps.Inc()
	s.sweepExpired.Add(float64(ev.Expired))
	return nil
}

// RecordRateLimit counts one quota decision.
func (s *PromSink) RecordRateLimit(ev coremetrics.RateLimitEvent) error {
	s.rateLimits.WithLabelValues(strconv.FormatBool(ev.Allowed), strconv.FormatBool(ev.Degraded)).Inc()
	return nil
}

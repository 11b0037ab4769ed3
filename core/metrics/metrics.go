// Package metrics defines the observability sink contracts. Concrete sinks
// (Prometheus, InfluxDB) live under infra/metrics.
package metrics

import "time"

// NotificationResult is a per-candidate notification event to be recorded.
type NotificationResult struct {
	RequestID   string
	ResponderID string
	Outcome     string
	Attempts    int
	Latency     time.Duration
	Degraded    bool
	Time        time.Time
}

// MetricsSink records notification results for observability purposes.
type MetricsSink interface {
	RecordNotification(results []NotificationResult) error
}

// MatchEvent captures the resolution of a tryMatch call.
type MatchEvent struct {
	RequestID   string
	ResponderID string
	Bound       bool
	Time        time.Time
}

// MatchRecorder records match arbitration outcomes.
type MatchRecorder interface {
	RecordMatch(ev MatchEvent) error
}

// SweepEvent summarizes one lifecycle sweep.
type SweepEvent struct {
	Expired   int
	Escalated int
	Duration  time.Duration
	Time      time.Time
}

// SweepRecorder records sweep summaries.
type SweepRecorder interface {
	RecordSweep(ev SweepEvent) error
}

// RateLimitEvent captures a single quota decision.
type RateLimitEvent struct {
	Key      string
	Allowed  bool
	Degraded bool
	Time     time.Time
}

// RateLimitRecorder records quota decisions.
type RateLimitRecorder interface {
	RecordRateLimit(ev RateLimitEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordNotification([]NotificationResult) error { return nil }
func (NopSink) RecordMatch(MatchEvent) error                  { return nil }
func (NopSink) RecordSweep(SweepEvent) error                  { return nil }
func (NopSink) RecordRateLimit(RateLimitEvent) error          { return nil }

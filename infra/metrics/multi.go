package metrics

import coremetrics "github.com/hemolink/hemolink/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordNotification forwards the records to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordNotification(res []coremetrics.NotificationResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordNotification(res); err != nil {
			return err
		}
	}
	return nil
}

// RecordMatch forwards arbitration outcomes to sinks that support them.
func (m *MultiSink) RecordMatch(ev coremetrics.MatchEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.MatchRecorder); ok {
			if err := rec.RecordMatch(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSweep forwards sweep summaries to sinks that support them.
func (m *MultiSink) RecordSweep(ev coremetrics.SweepEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.SweepRecorder); ok {
			if err := rec.RecordSweep(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordRateLimit forwards quota decisions to sinks that support them.
func (m *MultiSink) RecordRateLimit(ev coremetrics.RateLimitEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.RateLimitRecorder); ok {
			if err := rec.RecordRateLimit(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

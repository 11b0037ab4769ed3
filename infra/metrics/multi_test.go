package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/hemolink/hemolink/core/metrics"
)

type recordSink struct {
	count int
}

func (r *recordSink) RecordNotification([]coremetrics.NotificationResult) error {
	r.count++
	return nil
}

func (r *recordSink) RecordMatch(coremetrics.MatchEvent) error {
	r.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordNotification(nil); err != nil {
		t.Fatalf("record notification: %v", err)
	}
	if err := m.RecordMatch(coremetrics.MatchEvent{}); err != nil {
		t.Fatalf("record match: %v", err)
	}
	if s1.count != 2 || s2.count != 2 {
		t.Fatalf("records not forwarded")
	}
}

func TestMultiSinkSkipsUnsupportedRecorders(t *testing.T) {
	nop := coremetrics.NopSink{}
	s := &recordSink{}
	m := NewMultiSink(nop, s)
	// recordSink does not implement SweepRecorder; only NopSink handles it.
	if err := m.RecordSweep(coremetrics.SweepEvent{Expired: 1}); err != nil {
		t.Fatalf("record sweep: %v", err)
	}
	if s.count != 0 {
		t.Fatalf("sweep must not reach a sink without the recorder")
	}
}

func TestPromSinkCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatal(err)
	}
	results := []coremetrics.NotificationResult{
		{RequestID: "r1", ResponderID: "a", Outcome: "notified", Time: time.Now()},
		{RequestID: "r1", ResponderID: "b", Outcome: "notified", Time: time.Now()},
		{RequestID: "r1", ResponderID: "c", Outcome: "rate_limited", Time: time.Now()},
	}
	if err := sink.RecordNotification(results); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(sink.notifications.WithLabelValues("notified", "false")); got != 2 {
		t.Fatalf("notified count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sink.notifications.WithLabelValues("rate_limited", "false")); got != 1 {
		t.Fatalf("rate_limited count = %v, want 1", got)
	}
	if err := sink.RecordMatch(coremetrics.MatchEvent{Bound: true}); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(sink.matches.WithLabelValues("true")); got != 1 {
		t.Fatalf("match count = %v, want 1", got)
	}
}

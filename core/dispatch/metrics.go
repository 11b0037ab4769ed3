package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sendLatency        *prometheus.HistogramVec
	notificationsTotal *prometheus.CounterVec
	deliveryRate       *prometheus.GaugeVec
	rateLimitedTotal   prometheus.Counter
	retriesTotal       prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.GaugeVec, prometheus.Counter, prometheus.Counter) {
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_send_latency_seconds",
			Help:    "Latency of notification sends, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"urgency"},
	)
	sent := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Number of candidates processed per fan-out outcome",
		},
		[]string{"urgency", "outcome"},
	)
	rate := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_delivery_rate",
			Help: "Fraction of fan-out candidates successfully notified",
		},
		[]string{"urgency"},
	)
	limited := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_rate_limited_total",
			Help: "Number of candidates skipped by quota",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_retries_total",
			Help: "Number of retried send attempts after transient failures",
		},
	)
	return lat, sent, rate, limited, retries
}

func init() {
	sendLatency, notificationsTotal, deliveryRate, rateLimitedTotal, retriesTotal = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(sendLatency, notificationsTotal, deliveryRate, rateLimitedTotal, retriesTotal)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	sendLatency, notificationsTotal, deliveryRate, rateLimitedTotal, retriesTotal = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transport metrics
	EventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_events_sent_total",
			Help: "Total number of events sent by name class",
		},
		[]string{"class"},
	)

	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_events_received_total",
			Help: "Total number of events received by name class",
		},
		[]string{"class"},
	)

	ActiveChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_active_channels",
			Help: "Number of live logical call channels",
		},
	)

	HeartbeatsMissed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_heartbeats_missed_total",
			Help: "Total number of channels failed on heartbeat deadline",
		},
	)

	// Call metrics
	CallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_calls_total",
			Help: "Total number of served calls by method and status",
		},
		[]string{"method", "status"},
	)

	CallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hutch_call_duration_seconds",
			Help:    "Served call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(EventsSent)
	prometheus.MustRegister(EventsReceived)
	prometheus.MustRegister(ActiveChannels)
	prometheus.MustRegister(HeartbeatsMissed)
	prometheus.MustRegister(CallsTotal)
	prometheus.MustRegister(CallDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

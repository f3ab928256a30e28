// Package metrics holds the process-lifetime counters of the upstream executor.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot keys.
const (
	KeyAttempts        = "attempts"
	KeySuccessfulCalls = "successful_calls"
	KeyErrorsTotal     = "errors_total"
	KeyBytesReceived   = "bytes_received"
	KeyLastLatencyMS   = "last_latency_ms"
)

// Sink records executor activity. Counters reset only with the process.
type Sink struct {
	mu            sync.Mutex
	attempts      int64
	successful    int64
	errors        int64
	bytesReceived int64
	lastLatencyMS int64

	registry    *prometheus.Registry
	promCalls   *prometheus.CounterVec
	promBytes   prometheus.Counter
	promLatency prometheus.Histogram
	promLast    prometheus.Gauge
}

// NewSink creates a sink with its own Prometheus registry.
func NewSink(namespace string) *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),
		promCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_calls_total",
				Help:      "Upstream executor activity by outcome",
			},
			[]string{"outcome"},
		),
		promBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_bytes_received_total",
				Help:      "Bytes received from successful upstream calls",
			},
		),
		promLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_latency_seconds",
				Help:      "Upstream round trip latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		promLast: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upstream_last_latency_milliseconds",
				Help:      "Latency of the most recent upstream round trip",
			},
		),
	}
	s.registry.MustRegister(s.promCalls, s.promBytes, s.promLatency, s.promLast)
	return s
}

// RecordAttempt counts one upstream HTTP attempt.
func (s *Sink) RecordAttempt() {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	s.promCalls.WithLabelValues(KeyAttempts).Inc()
}

// RecordSuccess counts a successful call and the bytes it returned.
func (s *Sink) RecordSuccess(bytes int) {
	s.mu.Lock()
	s.successful++
	s.bytesReceived += int64(bytes)
	s.mu.Unlock()
	s.promCalls.WithLabelValues(KeySuccessfulCalls).Inc()
	s.promBytes.Add(float64(bytes))
}

// RecordError counts a call that exhausted every credential.
func (s *Sink) RecordError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
	s.promCalls.WithLabelValues(KeyErrorsTotal).Inc()
}

// RecordLatency stores the latency of the last completed round trip.
func (s *Sink) RecordLatency(d time.Duration) {
	s.mu.Lock()
	s.lastLatencyMS = d.Milliseconds()
	s.mu.Unlock()
	s.promLatency.Observe(d.Seconds())
	s.promLast.Set(float64(d.Milliseconds()))
}

// Snapshot returns the current counters as a flat map.
func (s *Sink) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int64{
		KeyAttempts:        s.attempts,
		KeySuccessfulCalls: s.successful,
		KeyErrorsTotal:     s.errors,
		KeyBytesReceived:   s.bytesReceived,
		KeyLastLatencyMS:   s.lastLatencyMS,
	}
}

// Handler serves the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

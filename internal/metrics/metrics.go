// Package metrics exposes the Prometheus collectors of the relay service that
// are not tied to item lifecycle events.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxLabelLen = 64

var (
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	enqueueTotal                 *prometheus.CounterVec
	activeWorkers                prometheus.Gauge
	rateLimitDelaysSeconds       *prometheus.HistogramVec
	expiredRecordsTotal          prometheus.Counter
	progressEventsDroppedCounter prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itemrelay_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "itemrelay_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		enqueueTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itemrelay_enqueue_total",
				Help: "Items offered to the work queue, labeled by spider and result.",
			},
			[]string{"spider", "result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "itemrelay_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "itemrelay_rate_limit_delays_seconds",
				Help:    "Histogram of per-sink rate limit wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"sink"},
		)

		expiredRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "itemrelay_expired_records_total",
				Help: "Idempotency records removed by expiry sweeps.",
			},
		)

		progressEventsDroppedCounter = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "itemrelay_progress_events_dropped_total",
				Help: "Item events dropped because the progress buffer was full.",
			},
		)
	})
}

// SanitizeLabel bounds a caller-supplied label value such as a spider name. It
// lowercases, keeps [a-z0-9._-], truncates long values and returns "unknown"
// when nothing is left.
func SanitizeLabel(v string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(v)) {
		if b.Len() >= maxLabelLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveEnqueue counts an enqueue attempt; result is "accepted" or "rejected".
func ObserveEnqueue(spider, result string) {
	enqueueTotal.WithLabelValues(SanitizeLabel(spider), result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(sink string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(sink).Observe(duration.Seconds())
}

// ObserveExpired adds n to the expired records counter.
func ObserveExpired(n int64) {
	if n > 0 {
		expiredRecordsTotal.Add(float64(n))
	}
}

// ObserveProgressDropped adds n to the dropped progress events counter.
func ObserveProgressDropped(n int64) {
	if n > 0 {
		progressEventsDroppedCounter.Add(float64(n))
	}
}

// Package metrics exposes prometheus instruments for the dues server.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "dues_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	entriesCreated *prometheus.CounterVec
	confirmations  *prometheus.CounterVec
	batchSize      prometheus.Histogram
	purgedEntries  prometheus.Counter
	exportsTotal   *prometheus.CounterVec
	eventFailures  *prometheus.CounterVec
)

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	registerOnce.Do(func() {
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
		entriesCreated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "entries_created_total",
				Help: "Ledger entries written by payment notices, by plan and result",
			},
			[]string{"plan", "result"},
		)
		confirmations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "confirmations_total",
				Help: "Confirmation requests by kind (single, batch) and result",
			},
			[]string{"kind", "result"},
		)
		batchSize = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "confirmation_batch_size",
				Help:    "Entries per batch confirmation",
				Buckets: []float64{1, 3, 6, 12, 24},
			},
		)
		purgedEntries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "purged_entries_total",
				Help: "Entries removed by purge requests",
			},
		)
		exportsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "exports_total",
				Help: "Ledger exports by format and result",
			},
			[]string{"format", "result"},
		)
		eventFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_publish_failures_total",
				Help: "Payment events that could not be published, by type",
			},
			[]string{"type"},
		)

		prometheus.MustRegister(
			httpRequests, httpLatency,
			entriesCreated, confirmations, batchSize, purgedEntries,
			exportsTotal, eventFailures,
		)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one handled request
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if httpRequests == nil {
		return
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// IncEntryCreated counts one notice entry write
func IncEntryCreated(plan, result string) {
	if entriesCreated == nil {
		return
	}
	entriesCreated.WithLabelValues(plan, result).Inc()
}

// ObserveConfirmation counts a confirmation request of size entries
func ObserveConfirmation(kind, result string, size int) {
	if confirmations == nil {
		return
	}
	confirmations.WithLabelValues(kind, result).Inc()
	if result == ResultSuccess {
		batchSize.Observe(float64(size))
	}
}

// AddPurged counts purged entries
func AddPurged(n int64) {
	if purgedEntries == nil {
		return
	}
	purgedEntries.Add(float64(n))
}

// IncExport counts one export
func IncExport(format, result string) {
	if exportsTotal == nil {
		return
	}
	exportsTotal.WithLabelValues(format, result).Inc()
}

// IncEventFailure counts an event that failed to publish
func IncEventFailure(eventType string) {
	if eventFailures == nil {
		return
	}
	eventFailures.WithLabelValues(eventType).Inc()
}

// Result maps an error to a result label
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

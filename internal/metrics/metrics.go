// Package metrics exposes Prometheus instrumentation for the leaderboard.
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leaderboard"

// Metrics holds every collector the service records into
type Metrics struct {
	registry *prometheus.Registry

	scoreSubmissions  prometheus.Counter
	degradedResponses *prometheus.CounterVec
	cacheFaults       *prometheus.CounterVec
	cacheAvailable    prometheus.Gauge
	cacheRecoveries   prometheus.Counter
	resets            *prometheus.CounterVec
	resetPlayers      prometheus.Counter
	warmupPlayers     prometheus.Counter
	warmupDuration    prometheus.Histogram
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.scoreSubmissions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "score_submissions_total",
		Help:      "Score submissions durably recorded",
	})
	m.degradedResponses = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "degraded_responses_total",
		Help:      "Leaderboard views served without ranking because the cache was unavailable",
	}, []string{"operation"})
	m.cacheFaults = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "faults_total",
		Help:      "Rank cache operations that failed and were downgraded",
	}, []string{"operation"})
	m.cacheAvailable = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "available",
		Help:      "1 when the last liveness probe succeeded",
	})
	m.cacheRecoveries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "recoveries_total",
		Help:      "Observed transitions of the rank cache from unavailable to available",
	})
	m.resets = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resets_total",
		Help:      "Full score resets by trigger and outcome",
	}, []string{"trigger", "outcome"})
	m.resetPlayers = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reset_players_total",
		Help:      "Players whose score was cleared by resets",
	})
	m.warmupPlayers = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "warmup",
		Name:      "players_loaded_total",
		Help:      "Players bulk-loaded into the rank cache by warmup/rebuild",
	})
	m.warmupDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "warmup",
		Name:      "duration_seconds",
		Help:      "Duration of completed cache rebuilds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ScoreSubmitted() {
	if m == nil {
		return
	}
	m.scoreSubmissions.Inc()
}

func (m *Metrics) DegradedResponse(operation string) {
	if m == nil {
		return
	}
	m.degradedResponses.WithLabelValues(operation).Inc()
}

func (m *Metrics) CacheFault(operation string) {
	if m == nil {
		return
	}
	m.cacheFaults.WithLabelValues(operation).Inc()
}

func (m *Metrics) CacheAvailability(available bool) {
	if m == nil {
		return
	}
	if available {
		m.cacheAvailable.Set(1)
		return
	}
	m.cacheAvailable.Set(0)
}

func (m *Metrics) CacheRecovered() {
	if m == nil {
		return
	}
	m.cacheRecoveries.Inc()
}

// Reset records the outcome of a full reset
func (m *Metrics) Reset(trigger string, err error, players int64) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.resets.WithLabelValues(trigger, outcome).Inc()
	if players > 0 {
		m.resetPlayers.Add(float64(players))
	}
}

// Warmup records a completed rebuild
func (m *Metrics) Warmup(loaded int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.warmupPlayers.Add(float64(loaded))
	m.warmupDuration.Observe(elapsed.Seconds())
}

// ObserveHTTP records one finished request
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

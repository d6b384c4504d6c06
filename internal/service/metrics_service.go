package service

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the coordinator.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	wsConnections   prometheus.Gauge
	checkInTotal    *prometheus.CounterVec
	broadcastTotal  *prometheus.CounterVec
	mutateConflicts prometheus.Counter
	cacheLatency    prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	wsConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections",
		Help: "Currently connected websocket clients",
	})

	checkInTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_checkins_total",
		Help: "Check-in attempts by outcome",
	}, []string{"outcome"})

	broadcastTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_broadcasts_total",
		Help: "Broadcast events by name and delivery mode",
	}, []string{"event", "mode"})

	mutateConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_mutate_conflicts_total",
		Help: "Optimistic-concurrency conflicts while mutating session documents",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, wsConnections, checkInTotal, broadcastTotal, mutateConflicts, cacheLatency, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		wsConnections:   wsConnections,
		checkInTotal:    checkInTotal,
		broadcastTotal:  broadcastTotal,
		mutateConflicts: mutateConflicts,
		cacheLatency:    cacheLatency,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records request metrics.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if s == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "path": path, "status": httpStatusLabel(status)}
	s.requestDuration.With(labels).Observe(duration.Seconds())
	s.requestTotal.With(labels).Inc()
}

// ConnectionOpened increments the live connection gauge.
func (s *MetricsService) ConnectionOpened() {
	if s != nil {
		s.wsConnections.Inc()
	}
}

// ConnectionClosed decrements the live connection gauge.
func (s *MetricsService) ConnectionClosed() {
	if s != nil {
		s.wsConnections.Dec()
	}
}

// RecordCheckIn counts a check-in attempt by outcome.
func (s *MetricsService) RecordCheckIn(outcome string) {
	if s != nil {
		s.checkInTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordBroadcast counts one delivered broadcast.
func (s *MetricsService) RecordBroadcast(event, mode string) {
	if s != nil {
		s.broadcastTotal.WithLabelValues(event, mode).Inc()
	}
}

// RecordMutateConflict counts one lost optimistic-concurrency race.
func (s *MetricsService) RecordMutateConflict() {
	if s != nil {
		s.mutateConflicts.Inc()
	}
}

// RecordCacheOperation captures cache hit/miss latencies.
func (s *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if s == nil {
		return
	}
	s.cacheLatency.Observe(duration.Seconds())
	if hit {
		s.cacheHits.Inc()
	} else {
		s.cacheMisses.Inc()
	}
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

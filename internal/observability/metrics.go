package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the security API.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	decisions       *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	auditWrites     *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and access-control collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_access_decisions_total",
		Help: "Access-control decisions by operation and outcome.",
	}, []string{"op", "outcome"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_config_cache_lookups_total",
		Help: "Configuration cache lookups by class and result.",
	}, []string{"class", "result"})
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_audit_writes_total",
		Help: "Audit writes by delivery mode and outcome.",
	}, []string{"mode", "outcome"})
	registry.MustRegister(requests, duration, decisions, lookups, writes)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		decisions:       decisions,
		cacheLookups:    lookups,
		auditWrites:     writes,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Decision counts an access-control outcome.
func (m *Metrics) Decision(op, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(op, outcome).Inc()
}

// CacheHit counts a configuration cache hit.
func (m *Metrics) CacheHit(class string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(class, "hit").Inc()
}

// CacheMiss counts a configuration cache miss.
func (m *Metrics) CacheMiss(class string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(class, "miss").Inc()
}

// AuditWrite counts an audit delivery attempt.
func (m *Metrics) AuditWrite(mode, outcome string) {
	if m == nil {
		return
	}
	m.auditWrites.WithLabelValues(mode, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

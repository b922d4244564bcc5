package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the auth counters.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// MetricsService encapsulates Prometheus instrumentation for the auth service.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	storeDuration   *prometheus.HistogramVec

	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	reuseDetected prometheus.Counter
	csrfRejected  prometheus.Counter
	rateLimited   *prometheus.CounterVec
	cleanupRuns   *prometheus.CounterVec
	cleanupSwept  *prometheus.CounterVec
	auditDropped  prometheus.Counter
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

	storeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "refresh_token_store_duration_seconds",
		Help:    "Duration of refresh token store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refreshes_total",
		Help: "Refresh token exchanges by outcome",
	}, []string{"outcome"})

	reuseDetected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_detected_total",
		Help: "Presentations of refresh tokens that were already rotated",
	})

	csrfRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_csrf_rejections_total",
		Help: "Requests rejected by the CSRF guard",
	})

	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"policy"})

	cleanupRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_token_cleanup_runs_total",
		Help: "Cleanup sweeps by outcome",
	}, []string{"outcome"})

	cleanupSwept := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_token_cleanup_rows_total",
		Help: "Rows affected by cleanup sweeps",
	}, []string{"phase"})

	auditDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_audit_events_dropped_total",
		Help: "Audit events dropped because the queue was unavailable",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, storeDuration, logins, refreshes, reuseDetected,
		csrfRejected, rateLimited, cleanupRuns, cleanupSwept, auditDropped, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		storeDuration:   storeDuration,
		logins:          logins,
		refreshes:       refreshes,
		reuseDetected:   reuseDetected,
		csrfRejected:    csrfRejected,
		rateLimited:     rateLimited,
		cleanupRuns:     cleanupRuns,
		cleanupSwept:    cleanupSwept,
		auditDropped:    auditDropped,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveStoreOperation records refresh token store timing.
func (m *MetricsService) ObserveStoreOperation(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *MetricsService) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *MetricsService) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *MetricsService) RecordReuseDetected() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

func (m *MetricsService) RecordCSRFRejection() {
	if m == nil {
		return
	}
	m.csrfRejected.Inc()
}

func (m *MetricsService) RecordRateLimited(policy string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(policy).Inc()
}

// RecordCleanup tracks one sweep and the rows it touched.
func (m *MetricsService) RecordCleanup(outcome string, softDeleted, purged int64) {
	if m == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(outcome).Inc()
	if softDeleted > 0 {
		m.cleanupSwept.WithLabelValues("soft_delete").Add(float64(softDeleted))
	}
	if purged > 0 {
		m.cleanupSwept.WithLabelValues("purge").Add(float64(purged))
	}
}

func (m *MetricsService) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

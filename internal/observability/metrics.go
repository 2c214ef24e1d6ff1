package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	adjustmentsTotal *prometheus.CounterVec
	txRetriesTotal   prometheus.Counter
	cacheOpsTotal    *prometheus.CounterVec
	quotaDenials     *prometheus.CounterVec
	batchChunkSplits prometheus.Counter
}

// NewMetrics initialises the registry and base instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "Number of HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_stock_adjustments_total",
		Help: "Committed and rejected stock adjustments by type and outcome.",
	}, []string{"type", "outcome"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_stock_tx_retries_total",
		Help: "Transactions re-run after a write conflict.",
	})
	cacheOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_cache_operations_total",
		Help: "Cache operations by key prefix and operation (hit, miss, set, delete).",
	}, []string{"prefix", "op"})
	quotaDenials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_quota_denials_total",
		Help: "Requests rejected by the tenant quota limiter.",
	}, []string{"quota_type"})
	chunkSplits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_batch_chunk_splits_total",
		Help: "Batch chunks split in half after an oversized-transaction failure.",
	})
	registry.MustRegister(requests, duration, adjustments, retries, cacheOps, quotaDenials, chunkSplits)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		adjustmentsTotal: adjustments,
		txRetriesTotal:   retries,
		cacheOpsTotal:    cacheOps,
		quotaDenials:     quotaDenials,
		batchChunkSplits: chunkSplits,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
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

// RecordAdjustment counts one adjustment attempt.
func (m *Metrics) RecordAdjustment(adjustmentType, outcome string) {
	if m == nil {
		return
	}
	m.adjustmentsTotal.WithLabelValues(adjustmentType, outcome).Inc()
}

// RecordTxRetry counts one transaction re-run.
func (m *Metrics) RecordTxRetry() {
	if m == nil {
		return
	}
	m.txRetriesTotal.Inc()
}

// RecordCacheOp counts one cache operation for the given key prefix.
func (m *Metrics) RecordCacheOp(prefix, op string) {
	if m == nil {
		return
	}
	m.cacheOpsTotal.WithLabelValues(prefix, op).Inc()
}

// RecordQuotaDenial counts one quota rejection.
func (m *Metrics) RecordQuotaDenial(quotaType string) {
	if m == nil {
		return
	}
	m.quotaDenials.WithLabelValues(quotaType).Inc()
}

// RecordChunkSplit counts one halving retry in the batch processor.
func (m *Metrics) RecordChunkSplit() {
	if m == nil {
		return
	}
	m.batchChunkSplits.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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

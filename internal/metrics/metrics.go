package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polargen_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polargen_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	extrapolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polargen_extrapolations_total",
			Help: "Total number of Viterna extrapolations by result.",
		},
		[]string{"result"},
	)

	extrapolationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polargen_extrapolation_duration_seconds",
			Help:    "Duration of a single polar extrapolation.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)

	solverRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polargen_solver_runs_total",
			Help: "Total number of external solver runs by result.",
		},
		[]string{"result"},
	)

	solverDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polargen_solver_duration_seconds",
			Help:    "Wall time of a single external solver run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	reportCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polargen_report_cache_total",
			Help: "Solver report cache lookups by result.",
		},
		[]string{"result"},
	)

	storeLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polargen_store_lookups_total",
			Help: "Completed polar store lookups by result.",
		},
		[]string{"result"},
	)

	storeEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polargen_store_entries",
			Help: "Number of completed polars held in memory.",
		},
	)

	batchWorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polargen_batch_workers_active",
			Help: "Number of batch workers currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		extrapolationsTotal,
		extrapolationDurationSeconds,
		solverRunsTotal,
		solverDurationSeconds,
		reportCacheTotal,
		storeLookupsTotal,
		storeEntries,
		batchWorkersActive,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordExtrapolation records one extrapolation and its duration.
func RecordExtrapolation(d time.Duration, err error) {
	extrapolationsTotal.WithLabelValues(resultLabel(err)).Inc()
	extrapolationDurationSeconds.Observe(d.Seconds())
}

// RecordSolverRun records one external solver invocation.
func RecordSolverRun(d time.Duration, err error) {
	solverRunsTotal.WithLabelValues(resultLabel(err)).Inc()
	solverDurationSeconds.Observe(d.Seconds())
}

// IncReportCache counts a report cache lookup.
func IncReportCache(hit bool) {
	if hit {
		reportCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	reportCacheTotal.WithLabelValues("miss").Inc()
}

// IncStoreLookup counts a polar store lookup.
func IncStoreLookup(hit bool) {
	if hit {
		storeLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	storeLookupsTotal.WithLabelValues("miss").Inc()
}

// SetStoreEntries publishes the polar store size.
func SetStoreEntries(n int) {
	storeEntries.Set(float64(n))
}

// AddBatchWorkersActive adjusts the active batch worker gauge by delta.
func AddBatchWorkersActive(delta int) {
	batchWorkersActive.Add(float64(delta))
}

// knownRoutes are recorded with their own path label.
var knownRoutes = map[string]bool{
	"/healthz":             true,
	"/readyz":              true,
	"/metrics":             true,
	"/api/v1/extrapolate":  true,
	"/api/v1/polars":       true,
	"/api/v1/polars/stats": true,
	"/api/v1/runs":         true,
}

// normalizeRoute maps a request path onto a bounded set of labels.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/polars/"); ok {
		if parts := strings.Split(rest, "/"); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return "/api/v1/polars/{airfoil}/{reynolds}"
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}

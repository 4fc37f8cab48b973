// Package api serves extrapolation, stored polars and batch runs over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/star/polargen/internal/auth"
	"github.com/star/polargen/internal/batch"
	"github.com/star/polargen/internal/health"
	"github.com/star/polargen/internal/metrics"
	"github.com/star/polargen/internal/polar"
)

// Config holds API configuration loaded from environment variables.
type Config struct {
	Addr          string
	Auth          auth.Config
	MaxConcurrent int           // In-flight extrapolate/run requests per client IP (default: 4).
	TrustProxy    bool          // Take the client IP from X-Forwarded-For.
	RunTimeout    time.Duration // Limit for one POST /api/v1/runs batch (default: 10m).
}

const (
	defaultRunTimeout = 10 * time.Minute

	// writeGrace leaves room to answer a run that hit RunTimeout.
	writeGrace = 10 * time.Second
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a configured HTTP server. runner may be nil, which
// disables POST /api/v1/runs; base is the batch config runs start from.
func NewServer(cfg Config, store *polar.Store, runner *batch.Runner, base batch.Config, ready health.Check, logger *slog.Logger) *Server {
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}

	h := &Handler{
		store:      store,
		runner:     runner,
		base:       base,
		limiter:    newRequestLimiter(cfg.MaxConcurrent),
		trustProxy: cfg.TrustProxy,
		runTimeout: runTimeout,
		logger:     logger,
	}

	router := mux.NewRouter()
	registerRoutes(router, h)
	router.HandleFunc("/healthz", health.Healthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readyz(ready)).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Build middleware chain: metrics -> logging -> auth -> router.
	var handler http.Handler = router
	handler = auth.Middleware(cfg.Auth)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      runTimeout + writeGrace, // runs answer synchronously
			IdleTimeout:       120 * time.Second,
		},
	}
}

// registerRoutes mounts the /api/v1 endpoints on r itself rather than on a
// PathPrefix subrouter, so a method mismatch answers 405 instead of 404.
func registerRoutes(r *mux.Router, h *Handler) {
	onReject := func(ip string) {
		h.logger.Warn("request limit exceeded", "remote_ip", ip, "current_count", h.limiter.count(ip))
	}

	r.HandleFunc("/api/v1/extrapolate", h.limiter.limit(h.trustProxy, h.HandleExtrapolate, onReject)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/runs", h.limiter.limit(h.trustProxy, h.HandleRuns, onReject)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/polars", h.HandleListPolars).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/polars/stats", h.HandleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/polars/{airfoil}/{reynolds}", h.HandleGetPolar).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, req.Method+" not allowed on "+req.URL.Path)
	})
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			} else if sr.statusCode >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}

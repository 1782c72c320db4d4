// Package http assembles the LeafSight HTTP API: the chi route tree, its
// middleware chain and the server lifecycle.
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LeafSight/internal/interfaces/http/handlers"
	"github.com/turtacn/LeafSight/internal/interfaces/http/middleware"
	"github.com/turtacn/LeafSight/pkg/errors"
)

// RouterConfig aggregates the handlers and middleware settings of the route
// tree.  Nil handlers and middleware are skipped.
type RouterConfig struct {
	HealthHandler    *handlers.HealthHandler
	DiagnosisHandler *handlers.DiagnosisHandler

	CORS        *middleware.CORSConfig
	Logging     *middleware.LoggingConfig
	RateLimiter middleware.RateLimiter
	RateLimit   middleware.RateLimitConfig
	// RequestTimeout bounds API handlers.  Zero disables it.
	RequestTimeout time.Duration

	Logger         logging.Logger
	Metrics        *prometheus.AppMetrics
	MetricsHandler http.Handler
	// MetricsPath defaults to /metrics.
	MetricsPath string
}

// NewRouter constructs the complete HTTP route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(cfg.Metrics))
	if cfg.Logging != nil {
		r.Use(middleware.RequestLogging(cfg.Logger, *cfg.Logging))
	}
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}
	if cfg.RateLimiter != nil {
		r.Use(middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.Metrics))
	}

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	if h := cfg.HealthHandler; h != nil {
		r.Get("/health", h.Health)
		r.Get("/healthz", h.Liveness)
		r.Get("/readyz", h.Readiness)
		r.Get("/api/status", h.Status)
	}

	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}

	if h := cfg.DiagnosisHandler; h != nil {
		r.Group(func(api chi.Router) {
			if cfg.RequestTimeout > 0 {
				api.Use(chimw.Timeout(cfg.RequestTimeout))
			}
			api.Post("/api/predict_disease", h.Predict)
			api.Route("/api/v1", func(v1 chi.Router) {
				registerDiagnosisRoutes(v1, h)
			})
		})
	}

	return r
}

// registerDiagnosisRoutes mounts diagnosis and catalog endpoints.
func registerDiagnosisRoutes(r chi.Router, h *handlers.DiagnosisHandler) {
	r.Route("/diagnoses", func(dr chi.Router) {
		dr.Get("/", h.List)
		dr.Post("/", h.Create)
		dr.Get("/{id}", h.Get)
	})
	r.Route("/crops", func(cr chi.Router) {
		cr.Get("/", h.Crops)
		cr.Get("/{crop}/profiles", h.Profiles)
	})
}

func writeRouteError(w http.ResponseWriter, status int, code errors.ErrorCode, message, path string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(handlers.ErrorResponse{
		Code:    string(code),
		Error:   http.StatusText(status),
		Message: message,
		Path:    path,
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeRouteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "The requested endpoint does not exist", r.URL.Path)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeRouteError(w, http.StatusMethodNotAllowed, errors.ErrCodeBadRequest, "Method "+r.Method+" is not allowed on this endpoint", r.URL.Path)
}

package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
)

// HealthChecker is implemented by dependencies that can report their health.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkerFunc struct {
	name  string
	check func(ctx context.Context) error
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.check(ctx) }

// NewChecker adapts a ping function to HealthChecker.
func NewChecker(name string, check func(ctx context.Context) error) HealthChecker {
	return checkerFunc{name: name, check: check}
}

// HealthHandler serves the health and status endpoints.
type HealthHandler struct {
	service   string
	version   string
	endpoints map[string]string
	checkers  []HealthChecker
	metrics   *prometheus.AppMetrics
	startAt   time.Time
	timeout   time.Duration
}

// HealthOption customises a HealthHandler.
type HealthOption func(*HealthHandler)

// WithCheckers registers dependencies probed by Readiness.
func WithCheckers(checkers ...HealthChecker) HealthOption {
	return func(h *HealthHandler) { h.checkers = append(h.checkers, checkers...) }
}

// WithHealthMetrics reports every probe on the health_check_status gauge.
func WithHealthMetrics(m *prometheus.AppMetrics) HealthOption {
	return func(h *HealthHandler) { h.metrics = m }
}

// WithEndpoints overrides the endpoint map advertised by Status.
func WithEndpoints(endpoints map[string]string) HealthOption {
	return func(h *HealthHandler) { h.endpoints = endpoints }
}

// DefaultEndpoints is the endpoint map advertised by /api/status.
func DefaultEndpoints() map[string]string {
	return map[string]string{
		"disease_detection": "/api/predict_disease",
		"diagnoses":         "/api/v1/diagnoses",
		"crops":             "/api/v1/crops",
		"health":            "/health",
		"metrics":           "/metrics",
	}
}

// NewHealthHandler creates a HealthHandler for the named service.
func NewHealthHandler(service, version string, opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		service:   service,
		version:   version,
		endpoints: DefaultEndpoints(),
		startAt:   time.Now(),
		timeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// LivenessResponse is the response for liveness probe.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ReadinessResponse is the response for readiness probe.
type ReadinessResponse struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

// ComponentCheck represents the health status of a single component.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   h.service,
	})
}

// Status handles GET /api/status.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    "operational",
		Version:   h.version,
		Endpoints: h.endpoints,
	})
}

// Liveness handles GET /healthz.  It never checks dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  time.Since(h.startAt).Truncate(time.Second).String(),
	})
}

// Readiness handles GET /readyz.  Any unhealthy dependency yields 503.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if len(h.checkers) == 0 {
		writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	components := h.checkAll(ctx)
	resp := ReadinessResponse{Status: "ready", Components: components}
	code := http.StatusOK
	for _, c := range components {
		if c.Status != "healthy" {
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, resp)
}

// checkAll runs all health checkers concurrently.
func (h *HealthHandler) checkAll(ctx context.Context) map[string]ComponentCheck {
	results := make(map[string]ComponentCheck, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range h.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			cc := ComponentCheck{
				Status:  "healthy",
				Latency: time.Since(start).Truncate(time.Microsecond).String(),
			}
			up := 1.0
			if err != nil {
				cc.Status = "unhealthy"
				cc.Error = err.Error()
				up = 0
			}
			if h.metrics != nil {
				h.metrics.HealthCheckStatus.WithLabelValues(c.Name()).Set(up)
			}

			mu.Lock()
			results[c.Name()] = cc
			mu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

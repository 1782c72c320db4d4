package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LeafSight/internal/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func newMetrics(t *testing.T) (*prometheus.AppMetrics, prometheus.MetricsCollector) {
	t.Helper()
	c, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "leafsight"}, logging.NewNopLogger())
	require.NoError(t, err)
	return prometheus.NewAppMetrics(c), c
}

func scrape(t *testing.T, c prometheus.MetricsCollector) string {
	t.Helper()
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

// --- request id ---

func TestRequestID_GeneratesUUID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
}

func TestRequestID_KeepsInboundID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "mobile-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "mobile-42", seen)
	assert.Equal(t, "mobile-42", w.Header().Get(RequestIDHeader))
}

func TestRequestID_ReplacesMalformedID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
	h.ServeHTTP(httptest.NewRecorder(), r)

	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
}

func TestGetRequestID_Empty(t *testing.T) {
	assert.Empty(t, GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

// --- logging ---

func TestRequestLogging_Levels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
		msg    string
	}{
		{"ok", http.StatusOK, "info", "HTTP request completed"},
		{"client error", http.StatusUnsupportedMediaType, "warn", "HTTP request completed with client error"},
		{"server error", http.StatusInternalServerError, "error", "HTTP request completed with server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := testutil.NewMockLogger()
			h := RequestID(RequestLogging(logger, DefaultLoggingConfig())(statusHandler(tt.status)))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/diagnoses?crop=tomato", nil))

			msg, ok := logger.Find(tt.level, tt.msg)
			require.True(t, ok)
			status, _ := msg.Field("status")
			assert.Equal(t, tt.status, status)
			path, _ := msg.Field("path")
			assert.Equal(t, "/api/v1/diagnoses?crop=tomato", path)
			id, _ := msg.Field("request_id")
			assert.NotEmpty(t, id)
		})
	}
}

func TestRequestLogging_SlowRequest(t *testing.T) {
	logger := testutil.NewMockLogger()
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	})
	h := RequestLogging(logger, LoggingConfig{SlowThreshold: time.Millisecond})(slow)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/crops", nil))
	assert.True(t, logger.HasMessage("warn", "HTTP request completed (slow)"))
}

func TestRequestLogging_SkipPaths(t *testing.T) {
	logger := testutil.NewMockLogger()
	h := RequestLogging(logger, DefaultLoggingConfig())(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, logger.GetMessages())
}

func TestResponseRecorder_CountsBytes(t *testing.T) {
	rec := newResponseRecorder(httptest.NewRecorder())
	n, err := rec.Write([]byte("hello"))
	require.NoError(t, err)
	rec.WriteHeader(http.StatusTeapot)

	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), rec.bytesWritten)
	assert.Equal(t, http.StatusOK, rec.statusCode)
}

// --- rate limit ---

func TestIPRateLimiter_BurstThenReject(t *testing.T) {
	l := NewIPRateLimiter(1, 2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
	ok, wait := l.Allow("a")
	assert.False(t, ok)
	assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	ok, _ = l.Allow("b")
	assert.True(t, ok, "keys have independent buckets")

	now = now.Add(time.Second)
	ok, _ = l.Allow("a")
	assert.True(t, ok, "bucket refills over time")
}

func TestIPRateLimiter_EvictsIdleClients(t *testing.T) {
	l := NewIPRateLimiter(1, 1, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	assert.Equal(t, 1, l.Len())
}

func TestIPRateLimiter_SetLimits(t *testing.T) {
	l := NewIPRateLimiter(1, 1, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.False(t, ok)

	l.SetLimits(100, 3)
	for i := 0; i < 3; i++ {
		ok, _ = l.Allow("b")
		assert.True(t, ok, "new clients use the new burst")
	}

	now = now.Add(20 * time.Millisecond)
	ok, _ = l.Allow("a")
	assert.True(t, ok, "existing clients refill at the new rate")
}

func TestRateLimit_Rejects(t *testing.T) {
	m, c := newMetrics(t)
	cfg := DefaultRateLimitConfig()
	cfg.Burst = 1
	h := RateLimit(NewIPRateLimiter(0.001, 1, time.Minute), cfg, m)(okHandler())

	send := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/crops", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, send().Code)
	w := send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Contains(t, w.Body.String(), `"code":"COMMON_007"`)
	assert.Contains(t, scrape(t, c), `leafsight_http_rate_limited_total{scope="api_v1"} 1`)
}

func TestRateLimit_LabelsStayBounded(t *testing.T) {
	m, c := newMetrics(t)
	h := RateLimit(NewIPRateLimiter(0.001, 1, time.Minute), DefaultRateLimitConfig(), m)(okHandler())

	paths := make([]string, 0, 200)
	for i := 0; i < 100; i++ {
		paths = append(paths, fmt.Sprintf("/api/v1/diagnoses/%d", i), fmt.Sprintf("/random-%d", i))
	}
	paths = append(paths, "/api/predict_disease")
	for _, p := range paths {
		r := httptest.NewRequest(http.MethodGet, p, nil)
		r.RemoteAddr = "10.0.0.2:5555"
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	var series []string
	for _, line := range strings.Split(scrape(t, c), "\n") {
		if strings.HasPrefix(line, "leafsight_http_rate_limited_total{") {
			series = append(series, line)
		}
	}
	assert.ElementsMatch(t, []string{
		`leafsight_http_rate_limited_total{scope="api"} 1`,
		`leafsight_http_rate_limited_total{scope="api_v1"} 99`,
		`leafsight_http_rate_limited_total{scope="other"} 100`,
	}, series)
}

func TestRateLimitScope(t *testing.T) {
	assert.Equal(t, "api_v1", rateLimitScope("/api/v1/diagnoses/9d1b2c3a"))
	assert.Equal(t, "api", rateLimitScope("/api/predict_disease"))
	assert.Equal(t, "other", rateLimitScope("/"))
	assert.Equal(t, "other", rateLimitScope("/wp-login.php"))
}

func TestRateLimit_SkipPaths(t *testing.T) {
	h := RateLimit(NewIPRateLimiter(0.001, 1, time.Minute), DefaultRateLimitConfig(), nil)(okHandler())
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.9:4242"
	assert.Equal(t, "192.168.1.9", ClientIP(r))

	r.RemoteAddr = "192.168.1.9"
	assert.Equal(t, "192.168.1.9", ClientIP(r))
}

// --- cors ---

func TestCORS_Preflight(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://app.leafsight.io"}
	h := CORS(cfg)(okHandler())

	r := httptest.NewRequest(http.MethodOptions, "/api/predict_disease", nil)
	r.Header.Set("Origin", "https://app.leafsight.io")
	r.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.leafsight.io", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
	assert.Empty(t, w.Body.String())
}

func TestCORS_Origins(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"exact", []string{"https://a.com"}, "https://a.com", "https://a.com"},
		{"case insensitive", []string{"https://A.com"}, "https://a.com", "https://a.com"},
		{"subdomain", []string{"*.leafsight.io"}, "https://m.leafsight.io", "https://m.leafsight.io"},
		{"wildcard", []string{"*"}, "https://x.org", "*"},
		{"disallowed", []string{"https://a.com"}, "https://evil.com", ""},
		{"none configured", nil, "https://a.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCORSConfig()
			cfg.AllowedOrigins = tt.allowed
			h := CORS(cfg)(okHandler())

			r := httptest.NewRequest(http.MethodGet, "/api/v1/crops", nil)
			r.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.want != "" {
				assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), RequestIDHeader)
			}
		})
	}
}

func TestCORS_NoOriginPassesThrough(t *testing.T) {
	h := CORS(DefaultCORSConfig())(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// --- metrics ---

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	m, c := newMetrics(t)
	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/api/v1/diagnoses/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/diagnoses/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/diagnoses/def", nil))

	out := scrape(t, c)
	assert.Contains(t, out, `leafsight_http_requests_total{method="GET",path="/api/v1/diagnoses/{id}",status_code="404"} 2`)
	assert.Contains(t, out, `leafsight_http_active_requests{method="GET"} 0`)
}

func TestMetrics_NilIsPassThrough(t *testing.T) {
	h := Metrics(nil)(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "ok", w.Body.String())
}

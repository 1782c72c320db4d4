package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LeafSight/pkg/errors"
)

// RateLimiter admits or rejects requests by key.
type RateLimiter interface {
	// Allow reports whether a request for key is admitted now and, when it is
	// not, how long the client should wait.
	Allow(key string) (bool, time.Duration)
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained per-client rate.
	RequestsPerSecond float64
	// Burst is the number of requests admitted back to back.
	Burst int
	// IdleTTL evicts limiters of clients not seen for this long.
	IdleTTL time.Duration
	// KeyFunc extracts the client key.  Defaults to the client IP.
	KeyFunc func(r *http.Request) string
	// SkipPaths bypass admission.
	SkipPaths []string
}

// DefaultRateLimitConfig returns the defaults used by the API server.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		IdleTTL:           10 * time.Minute,
		SkipPaths:         []string{"/health", "/healthz", "/readyz", "/metrics"},
	}
}

// ClientIP returns the host part of the request's remote address.  chi's
// RealIP middleware has already rewritten RemoteAddr from X-Forwarded-For or
// X-Real-IP when the server sits behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client key.
type IPRateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	lastScan time.Time
}

// NewIPRateLimiter creates a limiter admitting rps requests per second per
// key with the given burst.
func NewIPRateLimiter(rps float64, burst int, idleTTL time.Duration) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Allow implements RateLimiter.
func (l *IPRateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdle(now)

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now

	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// evictIdle drops limiters idle for longer than idleTTL.  The scan runs at
// most once per idleTTL.  Callers hold l.mu.
func (l *IPRateLimiter) evictIdle(now time.Time) {
	if l.idleTTL <= 0 || now.Sub(l.lastScan) < l.idleTTL {
		return
	}
	l.lastScan = now
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.idleTTL {
			delete(l.clients, key)
		}
	}
}

// SetLimits changes the rate and burst of every current and future client.
func (l *IPRateLimiter) SetLimits(rps float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = rate.Limit(rps)
	l.burst = burst
	now := l.now()
	for _, c := range l.clients {
		c.limiter.SetLimitAt(now, l.limit)
		c.limiter.SetBurstAt(now, burst)
	}
}

// Len returns the number of tracked clients.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// rateLimitScope buckets a raw request path into a fixed label set.  The
// limiter runs before routing, so no route pattern is available.
func rateLimitScope(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/"):
		return "api_v1"
	case strings.HasPrefix(path, "/api/"):
		return "api"
	default:
		return "other"
	}
}

// RateLimit returns middleware rejecting requests over the limit with 429
// and a Retry-After header.  Rejections are counted on metrics when set.
func RateLimit(limiter RateLimiter, config RateLimitConfig, metrics *prometheus.AppMetrics) func(http.Handler) http.Handler {
	skipSet := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skipSet[p] = true
	}
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	limitHeader := strconv.Itoa(config.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipSet[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			allowed, retryAfter := limiter.Allow(keyFunc(r))
			w.Header().Set("X-RateLimit-Limit", limitHeader)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			if metrics != nil {
				metrics.HTTPRateLimited.WithLabelValues(rateLimitScope(r.URL.Path)).Inc()
			}
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":    string(errors.ErrCodeTooManyRequests),
				"error":   "Too Many Requests",
				"message": "rate limit exceeded, please retry later",
			})
		})
	}
}

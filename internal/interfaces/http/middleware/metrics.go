package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
)

// unmatchedRoute labels requests no route matched, keeping arbitrary paths
// out of the label set.
const unmatchedRoute = "unmatched"

// Metrics returns middleware recording request count, latency and size per
// chi route pattern.  A nil metrics disables it.
func Metrics(metrics *prometheus.AppMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			active := metrics.HTTPActiveRequests.WithLabelValues(r.Method)
			active.Inc()
			defer active.Dec()

			start := time.Now()
			rec := newResponseRecorder(w)
			next.ServeHTTP(rec, r)

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			prometheus.RecordHTTPRequest(metrics, r.Method, route, rec.statusCode, time.Since(start), r.ContentLength)
		})
	}
}

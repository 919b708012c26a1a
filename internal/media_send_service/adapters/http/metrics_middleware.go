package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media_send",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint.",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "media_send",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests by endpoint.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

const (
	endpointOther = "other"
	// endpointScrape is not recorded.
	endpointScrape = "metrics"
)

// Endpoints maps route patterns to the endpoint label. Anything else is
// recorded as "other" so scanners cannot grow the label set.
var Endpoints = map[string]string{
	"/healthz":                      "healthz",
	"/metrics":                      endpointScrape,
	"/v1/messages/{messageID}/send": "send",
	"/v1/messages/send-batch":       "send_batch",
}

// NewMetricsMiddleware records request counts and latency for the endpoints
// named in endpoints.
func NewMetricsMiddleware(endpoints map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			endpoint := endpointLabel(r, endpoints)
			if endpoint == endpointScrape {
				return
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			httpRequestDurationSeconds.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		})
	}
}

func endpointLabel(r *http.Request, endpoints map[string]string) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return endpointOther
	}
	if name, ok := endpoints[rctx.RoutePattern()]; ok {
		return name
	}
	return endpointOther
}

package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/mangogate/internal/infra/telemetry"
)

type httpMetrics struct {
	environment string

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newHTTPMetrics() *httpMetrics {
	meter := otel.Meter("infra.server.http")
	m := &httpMetrics{environment: telemetry.Environment()}

	m.requests, _ = meter.Int64Counter("mangogate_http_requests_total",
		metric.WithDescription("HTTP API requests by route and status"),
		metric.WithUnit("{request}"))

	m.duration, _ = meter.Float64Histogram("mangogate_http_request_duration",
		metric.WithDescription("HTTP API request latency by route"),
		metric.WithUnit("ms"))

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument records one request per call under the route template, never
// the raw path.
func (s *httpServer) instrument(route string, next http.Handler) http.Handler {
	m := s.metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil || m.requests == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		attrs := metric.WithAttributes(telemetry.OperationResultAttributes(
			m.environment, r.Method+" "+route, strconv.Itoa(rec.status))...)
		m.requests.Add(r.Context(), 1, attrs)
		m.duration.Record(r.Context(), float64(time.Since(start).Microseconds())/1000, attrs)
	})
}

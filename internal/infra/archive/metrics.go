package archive

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/mangogate/internal/infra/telemetry"
)

type archiveMetrics struct {
	environment string

	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
}

func newArchiveMetrics() *archiveMetrics {
	meter := otel.Meter("infra.archive")
	m := &archiveMetrics{environment: telemetry.Environment()}

	m.requests, _ = meter.Int64Counter("mangogate_archive_requests_total",
		metric.WithDescription("Historical archive HTTP requests by operation and outcome"),
		metric.WithUnit("{request}"))

	m.requestDuration, _ = meter.Float64Histogram("mangogate_archive_request_duration",
		metric.WithDescription("Historical archive request latency including retries"),
		metric.WithUnit("ms"))

	return m
}

func (m *archiveMetrics) record(ctx context.Context, operation string, elapsed time.Duration, err error) {
	if m == nil || m.requests == nil {
		return
	}
	result := telemetry.ResultSuccess
	if err != nil {
		result = telemetry.ResultError
	}
	attrs := metric.WithAttributes(telemetry.OperationResultAttributes(m.environment, operation, result)...)
	m.requests.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

package signer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/infra/telemetry"
)

type signerMetrics struct {
	environment string

	submissions    metric.Int64Counter
	submitDuration metric.Float64Histogram
	confirmations  metric.Int64Counter
}

func newSignerMetrics() *signerMetrics {
	meter := otel.Meter("infra.signer")
	m := &signerMetrics{environment: telemetry.Environment()}

	m.submissions, _ = meter.Int64Counter("mangogate_signer_submissions_total",
		metric.WithDescription("Intents posted to the signing relay by action and outcome"),
		metric.WithUnit("{intent}"))

	m.submitDuration, _ = meter.Float64Histogram("mangogate_signer_submit_duration",
		metric.WithDescription("Relay submission latency including retries and confirmation"),
		metric.WithUnit("ms"))

	m.confirmations, _ = meter.Int64Counter("mangogate_signer_confirmations_total",
		metric.WithDescription("Signature confirmations by method and outcome"),
		metric.WithUnit("{signature}"))

	return m
}

func (m *signerMetrics) recordSubmit(ctx context.Context, action string, elapsed time.Duration, err error) {
	if m == nil || m.submissions == nil {
		return
	}
	attrs := metric.WithAttributes(telemetry.OperationResultAttributes(m.environment, action, result(err))...)
	m.submissions.Add(ctx, 1, attrs)
	m.submitDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

func (m *signerMetrics) recordConfirm(ctx context.Context, method string, err error) {
	if m == nil || m.confirmations == nil {
		return
	}
	m.confirmations.Add(ctx, 1, metric.WithAttributes(
		telemetry.OperationResultAttributes(m.environment, method, result(err))...))
}

func result(err error) string {
	if err == nil {
		return telemetry.ResultSuccess
	}
	if code := errs.CodeOf(err); code != "" {
		return string(code)
	}
	return telemetry.ResultError
}

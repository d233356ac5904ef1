package fills

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/telemetry"
)

type fillMetrics struct {
	environment string

	fills    metric.Int64Counter
	dropped  metric.Int64Counter
	degraded metric.Int64Counter
}

func newFillMetrics() *fillMetrics {
	meter := otel.Meter("app.fills")
	m := &fillMetrics{environment: telemetry.Environment()}

	m.fills, _ = meter.Int64Counter("mangogate_fills_returned_total",
		metric.WithDescription("Fills returned by reconciliation by source"),
		metric.WithUnit("{fill}"))

	m.dropped, _ = meter.Int64Counter("mangogate_fills_deduplicated_total",
		metric.WithDescription("Recent fills dropped because the archive already holds them"),
		metric.WithUnit("{fill}"))

	m.degraded, _ = meter.Int64Counter("mangogate_fills_degraded_total",
		metric.WithDescription("Reconciliations that proceeded without archive data"),
		metric.WithUnit("{read}"))

	return m
}

func (m *fillMetrics) recordFills(ctx context.Context, market string, source schema.FillSource, n int) {
	if m == nil || m.fills == nil || n == 0 {
		return
	}
	m.fills.Add(ctx, int64(n), metric.WithAttributes(
		telemetry.FillAttributes(m.environment, market, string(source))...))
}

func (m *fillMetrics) recordDropped(ctx context.Context, market string, n int) {
	if m == nil || m.dropped == nil || n == 0 {
		return
	}
	m.dropped.Add(ctx, int64(n), metric.WithAttributes(
		telemetry.FillAttributes(m.environment, market, string(schema.FillRecent))...))
}

func (m *fillMetrics) recordDegraded(ctx context.Context, market string, kind schema.MarketKind) {
	if m == nil || m.degraded == nil {
		return
	}
	m.degraded.Add(ctx, 1, metric.WithAttributes(
		telemetry.MarketAttributes(m.environment, market, string(kind), telemetry.ResultDegraded)...))
}

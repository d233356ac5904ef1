package orders

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/infra/telemetry"
)

type orderMetrics struct {
	environment string

	placed    metric.Int64Counter
	cancelled metric.Int64Counter
	rejected  metric.Int64Counter
}

func newOrderMetrics() *orderMetrics {
	meter := otel.Meter("app.orders")
	m := &orderMetrics{environment: telemetry.Environment()}

	m.placed, _ = meter.Int64Counter("mangogate_orders_placed_total",
		metric.WithDescription("Order placements submitted by market, side and type"),
		metric.WithUnit("{order}"))

	m.cancelled, _ = meter.Int64Counter("mangogate_orders_cancelled_total",
		metric.WithDescription("Order cancellations submitted by market and side"),
		metric.WithUnit("{order}"))

	m.rejected, _ = meter.Int64Counter("mangogate_orders_rejected_total",
		metric.WithDescription("Order placements and cancellations that failed, by error code"),
		metric.WithUnit("{order}"))

	return m
}

func (m *orderMetrics) recordPlace(ctx context.Context, market, side, orderType string, err error) {
	if m == nil || m.placed == nil {
		return
	}
	if err != nil {
		m.reject(ctx, market, side, orderType, err)
		return
	}
	m.placed.Add(ctx, 1, metric.WithAttributes(
		telemetry.OrderAttributes(m.environment, market, side, orderType, telemetry.ResultSuccess)...))
}

func (m *orderMetrics) recordCancel(ctx context.Context, market, side string, err error) {
	if m == nil || m.cancelled == nil {
		return
	}
	if err != nil {
		m.reject(ctx, market, side, "cancel", err)
		return
	}
	m.cancelled.Add(ctx, 1, metric.WithAttributes(
		telemetry.OrderAttributes(m.environment, market, side, "", telemetry.ResultSuccess)...))
}

func (m *orderMetrics) reject(ctx context.Context, market, side, orderType string, err error) {
	result := telemetry.ResultError
	if code := errs.CodeOf(err); code != "" {
		result = string(code)
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		telemetry.OrderAttributes(m.environment, market, side, orderType, result)...))
}

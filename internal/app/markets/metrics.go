package markets

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/telemetry"
)

type marketMetrics struct {
	environment string

	decodes       metric.Int64Counter
	bookSideFails metric.Int64Counter
	fetchDuration metric.Float64Histogram
}

func newMarketMetrics() *marketMetrics {
	meter := otel.Meter("app.markets")
	m := &marketMetrics{environment: telemetry.Environment()}

	m.decodes, _ = meter.Int64Counter("mangogate_market_decodes_total",
		metric.WithDescription("Market account decodes by outcome"),
		metric.WithUnit("{market}"))

	m.bookSideFails, _ = meter.Int64Counter("mangogate_book_side_unavailable_total",
		metric.WithDescription("Book sides treated as empty because they were absent or undecodable"),
		metric.WithUnit("{side}"))

	m.fetchDuration, _ = meter.Float64Histogram("mangogate_market_fetch_duration",
		metric.WithDescription("Latency of whole-engine market and book aggregation"),
		metric.WithUnit("ms"))

	return m
}

func (m *marketMetrics) recordDecode(desc schema.MarketDescriptor, err error) {
	if m == nil || m.decodes == nil {
		return
	}
	result := telemetry.ResultSuccess
	if err != nil {
		result = telemetry.ResultError
	}
	m.decodes.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.MarketAttributes(m.environment, desc.Name, string(desc.Kind), result)...))
}

func (m *marketMetrics) recordBookSide(desc schema.MarketDescriptor, side, reason string) {
	if m == nil || m.bookSideFails == nil {
		return
	}
	attrs := telemetry.MarketAttributes(m.environment, desc.Name, string(desc.Kind), "")
	attrs = append(attrs, telemetry.AttrBookSide.String(side), telemetry.AttrReason.String(reason))
	m.bookSideFails.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *marketMetrics) recordFetch(ctx context.Context, operation string, elapsed time.Duration, err error) {
	if m == nil || m.fetchDuration == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	result := telemetry.ResultSuccess
	if err != nil {
		result = telemetry.ResultError
	}
	m.fetchDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(
		telemetry.OperationResultAttributes(m.environment, operation, result)...))
}

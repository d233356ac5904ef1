package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/mangogate/internal/infra/telemetry"
)

type poolGauge struct {
	name        string
	description string
	read        func(*pgxpool.Stat) int32
}

var poolGauges = []poolGauge{
	{"mangogate_db_pool_connections_total", "Total connections (idle + acquired + constructing)", (*pgxpool.Stat).TotalConns},
	{"mangogate_db_pool_connections_idle", "Idle connections ready for checkout", (*pgxpool.Stat).IdleConns},
	{"mangogate_db_pool_connections_acquired", "Connections currently acquired by callers", (*pgxpool.Stat).AcquiredConns},
	{"mangogate_db_pool_connections_constructing", "Connections currently being constructed", (*pgxpool.Stat).ConstructingConns},
}

// ObservePoolMetrics registers observable gauges that report pgx pool health.
func ObservePoolMetrics(pool *pgxpool.Pool, poolName string) {
	if pool == nil {
		return
	}
	normalized := strings.TrimSpace(poolName)
	if normalized == "" {
		normalized = "primary"
	}
	attrs := metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		attribute.String("db_pool", normalized),
	)

	meter := otel.Meter("postgres.pool")
	for _, g := range poolGauges {
		read := g.read
		if _, err := meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.description),
			metric.WithUnit("{connection}"),
			metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
				observer.Observe(int64(read(pool.Stat())), attrs)
				return nil
			}),
		); err != nil {
			return
		}
	}
}

package rpc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/infra/telemetry"
)

type rpcMetrics struct {
	environment string

	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
	retries         metric.Int64Counter
	accounts        metric.Int64Counter
	rotations       metric.Int64Counter
}

func newRPCMetrics() *rpcMetrics {
	meter := otel.Meter("infra.rpc")
	m := &rpcMetrics{environment: telemetry.Environment()}

	m.requests, _ = meter.Int64Counter("mangogate_rpc_requests_total",
		metric.WithDescription("JSON-RPC HTTP requests issued against ledger endpoints"),
		metric.WithUnit("{request}"))

	m.requestDuration, _ = meter.Float64Histogram("mangogate_rpc_request_duration",
		metric.WithDescription("JSON-RPC request latency including retries"),
		metric.WithUnit("ms"))

	m.retries, _ = meter.Int64Counter("mangogate_rpc_retries_total",
		metric.WithDescription("JSON-RPC request retries after transport failures"),
		metric.WithUnit("{retry}"))

	m.accounts, _ = meter.Int64Counter("mangogate_rpc_accounts_fetched_total",
		metric.WithDescription("Accounts read through getMultipleAccounts"),
		metric.WithUnit("{account}"))

	m.rotations, _ = meter.Int64Counter("mangogate_rpc_endpoint_rotations_total",
		metric.WithDescription("Endpoint pool rotations"),
		metric.WithUnit("{rotation}"))

	return m
}

func (m *rpcMetrics) recordRequest(ctx context.Context, method, endpoint string, elapsed time.Duration, err error) {
	if m == nil || m.requests == nil {
		return
	}
	ctx = ensureContext(ctx)
	result := "success"
	if err != nil {
		result = string(errs.CodeOf(err))
		if result == "" {
			result = "error"
		}
	}
	attrs := telemetry.RPCAttributes(m.environment, method, endpoint, result)
	m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.requestDuration != nil {
		m.requestDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attrs...))
	}
}

func (m *rpcMetrics) recordRetry(ctx context.Context, method, endpoint string) {
	if m == nil || m.retries == nil {
		return
	}
	attrs := telemetry.RPCAttributes(m.environment, method, endpoint, "retry")
	m.retries.Add(ensureContext(ctx), 1, metric.WithAttributes(attrs...))
}

func (m *rpcMetrics) recordAccounts(ctx context.Context, total, absent int) {
	if m == nil || m.accounts == nil {
		return
	}
	ctx = ensureContext(ctx)
	m.accounts.Add(ctx, int64(total-absent), metric.WithAttributes(
		telemetry.AttrEnvironment.String(m.environment),
		telemetry.AttrResult.String("present")))
	if absent > 0 {
		m.accounts.Add(ctx, int64(absent), metric.WithAttributes(
			telemetry.AttrEnvironment.String(m.environment),
			telemetry.AttrResult.String("absent")))
	}
}

func (m *rpcMetrics) recordRotation(from, to string, rotated bool) {
	if m == nil || m.rotations == nil {
		return
	}
	result := "rotated"
	if !rotated {
		result = "pinned"
	}
	m.rotations.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.AttrEnvironment.String(m.environment),
		telemetry.AttrEndpoint.String(to),
		telemetry.AttrReason.String(from),
		telemetry.AttrResult.String(result)))
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

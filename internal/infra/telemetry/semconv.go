// Package telemetry provides OpenTelemetry initialization and the attribute
// conventions shared by every mangogate instrument.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys follow OpenTelemetry naming: namespace.attribute_name.
const (
	// AttrEnvironment specifies the deployment environment (development/staging/production) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrEndpoint identifies the ledger RPC endpoint that served a call.
	AttrEndpoint = attribute.Key("rpc.endpoint")
	// AttrMethod names the JSON-RPC method.
	AttrMethod = attribute.Key("rpc.method")
	// AttrMarket carries the market name (e.g. SOL/USDC, BTC-PERP).
	AttrMarket = attribute.Key("market")
	// AttrMarketKind distinguishes spot from perp.
	AttrMarketKind = attribute.Key("market.kind")
	// AttrBookSide labels order book side telemetry.
	AttrBookSide = attribute.Key("book.side")
	// AttrOrderSide labels order telemetry with buy/sell intent.
	AttrOrderSide = attribute.Key("order.side")
	// AttrOrderType distinguishes limit, ioc and postOnly submissions.
	AttrOrderType = attribute.Key("order.type")
	// AttrFillSource is recent or historical.
	AttrFillSource = attribute.Key("fill.source")
	// AttrOperation differentiates operations within a component.
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrReason provides additional free-form context.
	AttrReason = attribute.Key("reason")
	// AttrErrorType categorizes failures by error code.
	AttrErrorType = attribute.Key("error.type")
)

// Result values shared across instruments.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultDegraded = "degraded"
)

// RPCAttributes returns attributes for ledger RPC metrics.
func RPCAttributes(environment, method, endpoint, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrMethod.String(method),
		AttrEndpoint.String(endpoint),
		AttrResult.String(result),
	}
}

// MarketAttributes returns attributes for per-market metrics.
func MarketAttributes(environment, market, kind, result string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrMarket.String(market),
		AttrMarketKind.String(kind),
	}
	if result != "" {
		attrs = append(attrs, AttrResult.String(result))
	}
	return attrs
}

// FillAttributes returns attributes for fill reconciliation metrics.
func FillAttributes(environment, market, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrMarket.String(market),
		AttrFillSource.String(source),
	}
}

// OrderAttributes returns attributes for order-related metrics.
func OrderAttributes(environment, market, side, orderType, result string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrMarket.String(market),
	}
	if side != "" {
		attrs = append(attrs, AttrOrderSide.String(side))
	}
	if orderType != "" {
		attrs = append(attrs, AttrOrderType.String(orderType))
	}
	if result != "" {
		attrs = append(attrs, AttrResult.String(result))
	}
	return attrs
}

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

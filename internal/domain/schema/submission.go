package schema

import "github.com/gagliardetto/solana-go"

// SpotOrderParams is the spot placement shape: limit price in price lots,
// base size in base lots and the quote budget in native units including fees.
type SpotOrderParams struct {
	Market         solana.PublicKey
	MarketIndex    int
	OpenOrders     solana.PublicKey
	Side           Side
	LimitPriceLots int64
	MaxBaseLots    int64
	MaxNativeQuote int64
	TimeInForce    TimeInForce
	ClientID       uint64
}

// PerpOrderParams is the perp placement shape: price and quantity both in lots.
type PerpOrderParams struct {
	Market       solana.PublicKey
	MarketIndex  int
	Side         Side
	PriceLots    int64
	QuantityLots int64
	TimeInForce  TimeInForce
	ClientID     uint64
	ReduceOnly   bool
}

// CancelParams identifies one resting order to cancel. OpenOrders is set for
// spot orders only.
type CancelParams struct {
	Kind        MarketKind
	Market      solana.PublicKey
	MarketIndex int
	Bids        solana.PublicKey
	Asks        solana.PublicKey
	EventQueue  solana.PublicKey
	OpenOrders  solana.PublicKey
	Side        Side
	OrderID     string
	ClientID    string
}

// Submission is the relay's acknowledgement of a state-changing request.
type Submission struct {
	RequestID string `json:"requestId"`
	Signature string `json:"signature"`
	Confirmed bool   `json:"confirmed"`
}

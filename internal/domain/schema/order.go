package schema

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order or fill.
type Side string

const (
	// SideBuy marks bids.
	SideBuy Side = "buy"
	// SideSell marks asks.
	SideSell Side = "sell"
)

// Valid reports whether s is buy or sell.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType selects the placement semantics.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TimeInForce selects the post behaviour of a limit order.
type TimeInForce string

const (
	TIFLimit    TimeInForce = "limit"
	TIFIOC      TimeInForce = "ioc"
	TIFPostOnly TimeInForce = "postOnly"
)

// Order is the common read surface over spot and perp resting orders.
type Order interface {
	Kind() MarketKind
	Side() Side
	Price() decimal.Decimal
	Size() decimal.Decimal
	OrderID() string
	ClientID() string
	Owner() solana.PublicKey
}

// BookOrder holds the fields shared by both order variants.
type BookOrder struct {
	OrderSide     Side             `json:"side"`
	PriceUI       decimal.Decimal  `json:"price"`
	SizeUI        decimal.Decimal  `json:"size"`
	PriceLots     int64            `json:"priceLots"`
	SizeLots      uint64           `json:"sizeLots"`
	ID            string           `json:"orderId"`
	ClientOrderID string           `json:"clientId"`
	OwnerKey      solana.PublicKey `json:"owner"`
}

func (o BookOrder) Side() Side              { return o.OrderSide }
func (o BookOrder) Price() decimal.Decimal  { return o.PriceUI }
func (o BookOrder) Size() decimal.Decimal   { return o.SizeUI }
func (o BookOrder) OrderID() string         { return o.ID }
func (o BookOrder) ClientID() string        { return o.ClientOrderID }
func (o BookOrder) Owner() solana.PublicKey { return o.OwnerKey }

// SpotOrder is a resting order on a spot book. Owner is the open-orders account.
type SpotOrder struct {
	BookOrder
	OpenOrdersSlot uint8 `json:"openOrdersSlot"`
	FeeTier        uint8 `json:"feeTier"`
}

// Kind returns KindSpot.
func (o *SpotOrder) Kind() MarketKind { return KindSpot }

// OpenOrdersAddress returns the open-orders sub-account that owns the order.
func (o *SpotOrder) OpenOrdersAddress() solana.PublicKey { return o.OwnerKey }

// PerpOrder is a resting order on a perp book. Owner is the margin account.
type PerpOrder struct {
	BookOrder
	OwnerSlot   uint8     `json:"ownerSlot"`
	OrderType   uint8     `json:"orderType"`
	BestInitial int64     `json:"bestInitial"`
	Timestamp   time.Time `json:"timestamp"`
}

// Kind returns KindPerp.
func (o *PerpOrder) Kind() MarketKind { return KindPerp }

// OrderInfo pairs a normalized order with the market it rests on.
type OrderInfo struct {
	Order  Order
	Market MarketRef
}

// Kind returns the market kind of the order.
func (i OrderInfo) Kind() MarketKind { return i.Market.Descriptor.Kind }

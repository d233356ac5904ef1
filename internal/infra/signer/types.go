package signer

import "github.com/coachpo/mangogate/internal/domain/schema"

// intent is the signed request body. Lot quantities travel as decimal
// strings so 64-bit values survive JSON number handling on the relay.
type intent struct {
	RequestID string `json:"requestId"`
	Action    Action `json:"action"`
	Owner     string `json:"owner"`
	Account   string `json:"mangoAccount"`
	Group     string `json:"mangoGroup,omitempty"`
	IssuedAt  int64  `json:"issuedAt"`
	Params    any    `json:"params"`
}

type spotPlaceParams struct {
	Market         string `json:"market"`
	MarketIndex    int    `json:"marketIndex"`
	OpenOrders     string `json:"openOrders,omitempty"`
	Side           string `json:"side"`
	LimitPriceLots string `json:"limitPriceLots"`
	MaxBaseLots    string `json:"maxBaseLots"`
	MaxNativeQuote string `json:"maxNativeQuoteQuantity"`
	OrderType      string `json:"orderType"`
	ClientID       string `json:"clientId"`
}

type perpPlaceParams struct {
	Market       string `json:"market"`
	MarketIndex  int    `json:"marketIndex"`
	Side         string `json:"side"`
	PriceLots    string `json:"priceLots"`
	QuantityLots string `json:"quantityLots"`
	OrderType    string `json:"orderType"`
	ClientID     string `json:"clientId"`
	ReduceOnly   bool   `json:"reduceOnly"`
}

type cancelParams struct {
	Market      string `json:"market"`
	MarketIndex int    `json:"marketIndex"`
	Bids        string `json:"bids"`
	Asks        string `json:"asks"`
	EventQueue  string `json:"eventQueue"`
	OpenOrders  string `json:"openOrders,omitempty"`
	Side        string `json:"side"`
	OrderID     string `json:"orderId"`
	ClientID    string `json:"clientId,omitempty"`
}

func newCancelParams(p schema.CancelParams) cancelParams {
	return cancelParams{
		Market:      p.Market.String(),
		MarketIndex: p.MarketIndex,
		Bids:        keyOrEmpty(p.Bids),
		Asks:        keyOrEmpty(p.Asks),
		EventQueue:  keyOrEmpty(p.EventQueue),
		OpenOrders:  keyOrEmpty(p.OpenOrders),
		Side:        string(p.Side),
		OrderID:     p.OrderID,
		ClientID:    p.ClientID,
	}
}

type relayResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error"`
}

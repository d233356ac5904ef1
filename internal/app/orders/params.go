package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
)

var bpsPerUnit = decimal.NewFromInt(10_000)

// spotParams converts a limit request into the spot placement shape. Bids
// reserve the quote budget plus the market's taker fee.
func spotParams(req PlaceOrderRequest, ref schema.MarketRef, acct *schema.Account) (schema.SpotOrderParams, error) {
	market, ok := ref.Decoded.(*schema.SpotMarket)
	if !ok {
		return schema.SpotOrderParams{}, kindMismatch(ref)
	}
	priceLots, baseLots, err := toLots(req, market.LotMath)
	if err != nil {
		return schema.SpotOrderParams{}, err
	}
	quote := decimal.NewFromInt(market.LotMath.QuoteLotSize).
		Mul(decimal.NewFromInt(priceLots)).
		Mul(decimal.NewFromInt(baseLots))
	if req.Side == schema.SideBuy && market.FeeRateBps > 0 {
		fee := decimal.NewFromUint64(market.FeeRateBps).Div(bpsPerUnit)
		quote = quote.Mul(decimal.NewFromInt(1).Add(fee)).Ceil()
	}
	p := schema.SpotOrderParams{
		Market:         ref.Descriptor.Address,
		MarketIndex:    ref.Descriptor.MarketIndex,
		Side:           req.Side,
		LimitPriceLots: priceLots,
		MaxBaseLots:    baseLots,
		MaxNativeQuote: quote.IntPart(),
		TimeInForce:    req.TimeInForce,
		ClientID:       req.ClientID,
	}
	if sub, ok := acct.OpenOrdersFor(ref.Descriptor.MarketIndex); ok {
		p.OpenOrders = sub
	}
	return p, nil
}

func perpParams(req PlaceOrderRequest, ref schema.MarketRef) (schema.PerpOrderParams, error) {
	market, ok := ref.Decoded.(*schema.PerpMarket)
	if !ok {
		return schema.PerpOrderParams{}, kindMismatch(ref)
	}
	priceLots, baseLots, err := toLots(req, market.LotMath)
	if err != nil {
		return schema.PerpOrderParams{}, err
	}
	return schema.PerpOrderParams{
		Market:       ref.Descriptor.Address,
		MarketIndex:  ref.Descriptor.MarketIndex,
		Side:         req.Side,
		PriceLots:    priceLots,
		QuantityLots: baseLots,
		TimeInForce:  req.TimeInForce,
		ClientID:     req.ClientID,
		ReduceOnly:   req.ReduceOnly,
	}, nil
}

func toLots(req PlaceOrderRequest, lots schema.LotMath) (int64, int64, error) {
	priceLots := lots.PriceNumberToLots(req.Price)
	if !priceLots.IsPositive() {
		return 0, 0, invalid(fmt.Sprintf("price %s is below the tick size %s", req.Price, lots.TickSize()))
	}
	baseLots := lots.BaseSizeNumberToLots(req.Size)
	if !baseLots.IsPositive() {
		return 0, 0, invalid(fmt.Sprintf("size %s is below the minimum order size %s", req.Size, lots.MinOrderSize()))
	}
	return priceLots.IntPart(), baseLots.IntPart(), nil
}

func cancelParams(info schema.OrderInfo, market schema.DecodedMarket) schema.CancelParams {
	desc := info.Market.Descriptor
	p := schema.CancelParams{
		Kind:        desc.Kind,
		Market:      desc.Address,
		MarketIndex: desc.MarketIndex,
		Bids:        market.BidsAddress(),
		Asks:        market.AsksAddress(),
		EventQueue:  market.EventQueueAddress(),
		Side:        info.Order.Side(),
		OrderID:     info.Order.OrderID(),
		ClientID:    info.Order.ClientID(),
	}
	if spot, ok := info.Order.(*schema.SpotOrder); ok {
		p.OpenOrders = spot.OpenOrdersAddress()
	}
	return p
}

func kindMismatch(ref schema.MarketRef) error {
	return errs.Decode(component, fmt.Sprintf("market %s did not decode as %s", ref.Descriptor.Name, ref.Descriptor.Kind))
}

func invalid(msg string) error {
	return errs.New(component, errs.CodeInvalid, errs.WithMessage(msg))
}

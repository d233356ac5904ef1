package fills

import (
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/codec"
)

// spotFill converts a spot queue event into a fill. ok is false for events
// that are not fills or carry no paid quantity.
func spotFill(desc schema.MarketDescriptor, lots schema.LotMath, ev codec.SerumEvent) (schema.Fill, bool) {
	if !ev.IsFill() || ev.NativeQuantityPaid == 0 {
		return schema.Fill{}, false
	}
	baseMult := decimal.New(1, lots.BaseDecimals)
	quoteMult := decimal.New(1, lots.QuoteDecimals)
	paid := decimal.NewFromUint64(ev.NativeQuantityPaid)
	released := decimal.NewFromUint64(ev.NativeQuantityReleased)
	fee := decimal.NewFromUint64(ev.NativeFeeOrRebate)
	maker := ev.IsMaker()

	var (
		side            schema.Side
		quoteBeforeFees decimal.Decimal
		baseQty         decimal.Decimal
	)
	if ev.IsBid() {
		side = schema.SideBuy
		baseQty = released
		if maker {
			quoteBeforeFees = paid.Add(fee)
		} else {
			quoteBeforeFees = paid.Sub(fee)
		}
	} else {
		side = schema.SideSell
		baseQty = paid
		if maker {
			quoteBeforeFees = released.Sub(fee)
		} else {
			quoteBeforeFees = released.Add(fee)
		}
	}
	if baseQty.IsZero() {
		return schema.Fill{}, false
	}
	feeCost := fee.Div(quoteMult)
	if maker {
		feeCost = feeCost.Neg()
	}

	return schema.Fill{
		OrderID:    bigString(ev.OrderID),
		SeqNum:     schema.FormatUint(ev.SeqNum),
		ClientID:   clientID(ev.ClientOrderID),
		MarketName: desc.Name,
		MarketKey:  desc.Address.String(),
		MarketKind: schema.KindSpot,
		Side:       side,
		Price:      quoteBeforeFees.Mul(baseMult).Div(quoteMult.Mul(baseQty)),
		Size:       baseQty.Div(baseMult),
		FeeCost:    feeCost,
		Maker:      maker,
		Source:     schema.FillRecent,
	}, true
}

// perpFill converts a perp fill event into a fill seen from account's side.
// ok is false when account is neither maker nor taker.
func perpFill(desc schema.MarketDescriptor, lots schema.LotMath, ev codec.PerpFillEvent, account solana.PublicKey) (schema.Fill, bool) {
	isMaker := ev.Maker.Equals(account)
	if !isMaker && !ev.Taker.Equals(account) {
		return schema.Fill{}, false
	}
	price := lots.PriceLotsToNumber(decimal.NewFromInt(ev.PriceLots))
	size := lots.BaseLotsToNumber(decimal.NewFromInt(ev.QuantityLots))
	out := schema.Fill{
		SeqNum:     schema.FormatUint(ev.SeqNum),
		MarketName: desc.Name,
		MarketKey:  desc.Address.String(),
		MarketKind: schema.KindPerp,
		Price:      price,
		Size:       size,
		Maker:      isMaker,
		Time:       ev.Timestamp,
		Source:     schema.FillRecent,
	}
	if isMaker {
		out.Side = ev.TakerSide.Opposite()
		out.OrderID = bigString(ev.MakerOrderID)
		out.ClientID = clientID(ev.MakerClientOrderID)
		out.FeeCost = price.Mul(size).Mul(ev.MakerFee)
		out.Counterparty = ev.Taker.String()
		return out, true
	}
	out.Side = ev.TakerSide
	out.OrderID = bigString(ev.TakerOrderID)
	out.ClientID = clientID(ev.TakerClientOrderID)
	out.FeeCost = price.Mul(size).Mul(ev.TakerFee)
	out.Counterparty = ev.Maker.String()
	return out, true
}

func clientID(v uint64) string {
	if v == 0 {
		return ""
	}
	return schema.FormatUint(v)
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// survivors returns the recent fills with no historical counterpart.
func survivors(recent, historical []schema.Fill) []schema.Fill {
	out := make([]schema.Fill, 0, len(recent))
	for _, r := range recent {
		if !seen(historical, r) {
			out = append(out, r)
		}
	}
	return out
}

func seen(historical []schema.Fill, recent schema.Fill) bool {
	for _, h := range historical {
		if schema.SameIdentity(h, recent) {
			return true
		}
	}
	return false
}

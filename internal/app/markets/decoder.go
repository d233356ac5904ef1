package markets

import (
	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/codec"
)

// Decoder turns raw market accounts into typed market state.
type Decoder struct{}

// Decode dispatches on the descriptor kind. It never returns a zero-value
// market: an absent account or a layout mismatch is a decode error.
func (Decoder) Decode(desc schema.MarketDescriptor, raw schema.RawAccount) (schema.DecodedMarket, error) {
	if raw.Absent {
		return nil, errs.Decode(component, "market account absent", errs.WithField("market", desc.Name))
	}
	switch desc.Kind {
	case schema.KindSpot:
		market, err := codec.DecodeSpotMarket(desc.Address, raw.Data, desc.BaseDecimals, desc.QuoteDecimals)
		if err != nil {
			return nil, errs.Decode(component, "decode spot market", errs.WithCause(err), errs.WithField("market", desc.Name))
		}
		if !market.OwnAddress.IsZero() && !market.OwnAddress.Equals(desc.Address) {
			return nil, errs.Decode(component, "spot market own address mismatch",
				errs.WithField("market", desc.Name), errs.WithField("ownAddress", market.OwnAddress.String()))
		}
		return market, nil
	case schema.KindPerp:
		market, err := codec.DecodePerpMarket(desc.Address, raw.Data, desc.BaseDecimals, desc.QuoteDecimals)
		if err != nil {
			return nil, errs.Decode(component, "decode perp market", errs.WithCause(err), errs.WithField("market", desc.Name))
		}
		return market, nil
	default:
		return nil, errs.Decode(component, "unknown market kind", errs.WithField("market", desc.Name), errs.WithField("kind", string(desc.Kind)))
	}
}

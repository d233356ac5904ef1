package markets

import (
	"io"
	"log"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/codec"
)

// Normalizer turns decoded book sides into OrderInfo lists.
type Normalizer struct {
	logger  *log.Logger
	now     func() time.Time
	metrics *marketMetrics
}

// NewNormalizer builds a Normalizer. now defaults to time.Now and is used to
// drop perp orders whose time-in-force has lapsed.
func NewNormalizer(logger *log.Logger, now func() time.Time) *Normalizer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{logger: logger, now: now, metrics: newMarketMetrics()}
}

// ListOrders returns one list per market, in the order given. Each list holds
// the market's bids then asks in book order. When owner is non-nil only the
// owner's orders are kept: spot orders whose open-orders account is the
// owner's sub-account for that market, perp orders owned by the margin
// account itself. Markets without decoded state, and sides that are absent or
// fail to decode, contribute no orders.
func (n *Normalizer) ListOrders(markets []schema.MarketRef, accounts map[solana.PublicKey]schema.RawAccount, owner *schema.Account) [][]schema.OrderInfo {
	out := make([][]schema.OrderInfo, len(markets))
	for i, ref := range markets {
		out[i] = n.listMarket(ref, accounts, owner)
	}
	return out
}

func (n *Normalizer) listMarket(ref schema.MarketRef, accounts map[solana.PublicKey]schema.RawAccount, owner *schema.Account) []schema.OrderInfo {
	orders := []schema.OrderInfo{}
	if ref.Decoded == nil {
		return orders
	}
	desc := ref.Descriptor

	var keep func(schema.Order) bool
	if owner != nil {
		switch desc.Kind {
		case schema.KindSpot:
			sub, ok := owner.OpenOrdersFor(desc.MarketIndex)
			if !ok {
				return orders
			}
			keep = func(o schema.Order) bool { return o.Owner().Equals(sub) }
		case schema.KindPerp:
			if owner.Address.IsZero() {
				return orders
			}
			keep = func(o schema.Order) bool { return o.Owner().Equals(owner.Address) }
		}
	}

	for _, side := range []struct {
		name    string
		address solana.PublicKey
	}{
		{"bids", ref.Decoded.BidsAddress()},
		{"asks", ref.Decoded.AsksAddress()},
	} {
		raw, ok := accounts[side.address]
		if !ok || raw.Absent {
			n.logger.Printf("market %s: %s account %s absent, side empty", desc.Name, side.name, side.address)
			n.metrics.recordBookSide(desc, side.name, "absent")
			continue
		}
		decoded, err := n.decodeSide(ref, raw.Data)
		if err != nil {
			n.logger.Printf("market %s: %s undecodable, side empty: %v", desc.Name, side.name, err)
			n.metrics.recordBookSide(desc, side.name, "decode_error")
			continue
		}
		for _, order := range decoded {
			if keep != nil && !keep(order) {
				continue
			}
			orders = append(orders, schema.OrderInfo{Order: order, Market: ref})
		}
	}
	return orders
}

func (n *Normalizer) decodeSide(ref schema.MarketRef, data []byte) ([]schema.Order, error) {
	switch market := ref.Decoded.(type) {
	case *schema.SpotMarket:
		book, err := codec.DecodeSpotBook(data, market)
		if err != nil {
			return nil, err
		}
		out := make([]schema.Order, len(book))
		for i, o := range book {
			out[i] = o
		}
		return out, nil
	case *schema.PerpMarket:
		book, err := codec.DecodePerpBook(data, market, n.now())
		if err != nil {
			return nil, err
		}
		out := make([]schema.Order, len(book))
		for i, o := range book {
			out[i] = o
		}
		return out, nil
	default:
		return nil, nil
	}
}

// SortBook splits orders into bids sorted by price descending and asks sorted
// by price ascending. Equal prices keep their input order.
func SortBook(orders []schema.OrderInfo) (bids, asks []schema.OrderInfo) {
	bids = make([]schema.OrderInfo, 0, len(orders))
	asks = make([]schema.OrderInfo, 0, len(orders))
	for _, o := range orders {
		if o.Order.Side() == schema.SideBuy {
			bids = append(bids, o)
		} else {
			asks = append(asks, o)
		}
	}
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].Order.Price().GreaterThan(bids[j].Order.Price())
	})
	sort.SliceStable(asks, func(i, j int) bool {
		return asks[i].Order.Price().LessThan(asks[j].Order.Price())
	})
	return bids, asks
}

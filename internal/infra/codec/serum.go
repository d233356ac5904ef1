package codec

import (
	"bytes"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/serum"
	"github.com/shopspring/decimal"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
)

// Serum event flag bits.
const (
	EventFlagFill  uint8 = serum.EventFlagFill
	EventFlagOut   uint8 = serum.EventFlagOut
	EventFlagBid   uint8 = serum.EventFlagBid
	EventFlagMaker uint8 = serum.EventFlagMaker
)

const (
	SerumMarketSize  = 388
	SerumEventSize   = int(serum.EVENT_BYTE_SIZE)
	serumTailPadding = 7
	serumQueueHeader = 37
)

var serumMagic = []byte("serum")

// serumAccountHeader is the prefix shared by every serum account.
type serumAccountHeader struct {
	SerumPadding [5]byte
	AccountFlags serum.AccountFlag
}

// serumQueueLayout is the event queue header; the ring follows it.
type serumQueueLayout struct {
	SerumPadding [5]byte
	AccountFlags serum.AccountFlag
	Head         bin.Uint64
	Count        bin.Uint64
	SeqNum       bin.Uint64
}

func checkMagic(padding [5]byte, what string) error {
	if !bytes.Equal(padding[:], serumMagic) {
		return decodeErr("%s: missing serum head padding", what)
	}
	return nil
}

// DecodeSpotMarket decodes a v2 spot market account. Decimals come from configuration
// because the market account only references the mints.
func DecodeSpotMarket(address solana.PublicKey, data []byte, baseDecimals, quoteDecimals int32) (*schema.SpotMarket, error) {
	if len(data) != SerumMarketSize {
		return nil, decodeErr("spot market %s: expected %d bytes, got %d", address, SerumMarketSize, len(data))
	}
	var raw serum.MarketV2
	if err := raw.Decode(data); err != nil {
		return nil, errs.Decode(component, "spot market "+address.String()+": layout mismatch", errs.WithCause(err))
	}
	if err := checkMagic(raw.SerumPadding, "spot market "+address.String()); err != nil {
		return nil, err
	}
	if !raw.AccountFlags.Is(serum.AccountFlagInitialized) || !raw.AccountFlags.Is(serum.AccountFlagMarket) {
		return nil, decodeErr("spot market %s: account flags %#x are not an initialized market", address, uint64(raw.AccountFlags))
	}
	m := &schema.SpotMarket{
		Key:                address,
		AccountFlags:       uint64(raw.AccountFlags),
		OwnAddress:         raw.OwnAddress,
		VaultSignerNonce:   uint64(raw.VaultSignerNonce),
		BaseMint:           raw.BaseMint,
		QuoteMint:          raw.QuoteMint,
		BaseVault:          raw.BaseVault,
		BaseDepositsTotal:  uint64(raw.BaseDepositsTotal),
		BaseFeesAccrued:    uint64(raw.BaseFeesAccrued),
		QuoteVault:         raw.QuoteVault,
		QuoteDepositsTotal: uint64(raw.QuoteDepositsTotal),
		QuoteFeesAccrued:   uint64(raw.QuoteFeesAccrued),
		QuoteDustThreshold: uint64(raw.QuoteDustThreshold),
		RequestQueue:       raw.RequestQueue,
		EventQueue:         raw.EventQueue,
		Bids:               raw.Bids,
		Asks:               raw.Asks,
		FeeRateBps:         uint64(raw.FeeRateBPS),
		LotMath: schema.LotMath{
			BaseLotSize:   int64(raw.BaseLotSize),
			QuoteLotSize:  int64(raw.QuoteLotSize),
			BaseDecimals:  baseDecimals,
			QuoteDecimals: quoteDecimals,
		},
	}
	if m.LotMath.BaseLotSize <= 0 || m.LotMath.QuoteLotSize <= 0 {
		return nil, decodeErr("spot market %s: non-positive lot sizes", address)
	}
	return m, nil
}

// DecodeSpotBook decodes a bids or asks slab and returns its orders in book order:
// best price first, bids descending and asks ascending.
func DecodeSpotBook(data []byte, market *schema.SpotMarket) ([]*schema.SpotOrder, error) {
	var header serumAccountHeader
	if err := decodeLayout(data, &header, "spot book"); err != nil {
		return nil, err
	}
	if err := checkMagic(header.SerumPadding, "spot book"); err != nil {
		return nil, err
	}
	var side schema.Side
	switch {
	case header.AccountFlags.Is(serum.AccountFlagBids):
		side = schema.SideBuy
	case header.AccountFlags.Is(serum.AccountFlagAsks):
		side = schema.SideSell
	default:
		return nil, decodeErr("spot book: account flags %#x are neither bids nor asks", uint64(header.AccountFlags))
	}

	var book serum.Orderbook
	if err := decodeLayout(data, &book, "spot book"); err != nil {
		return nil, err
	}
	err := checkCritbit(len(book.Nodes), book.Root, uint64(book.LeafCount), func(idx uint32) critbitNode {
		switch n := book.Nodes[idx].Impl.(type) {
		case *serum.SlabInnerNode:
			return critbitNode{inner: true, children: n.Children}
		case *serum.SlabLeafNode:
			return critbitNode{leaf: true}
		}
		return critbitNode{}
	})
	if err != nil {
		return nil, err
	}

	lots := market.Lots()
	orders := make([]*schema.SpotOrder, 0, book.LeafCount)
	err = book.Items(side == schema.SideBuy, func(leaf *serum.SlabLeafNode) error {
		priceLots := int64(leaf.Key.Hi)
		quantity := uint64(leaf.Quantity)
		orders = append(orders, &schema.SpotOrder{
			BookOrder: schema.BookOrder{
				OrderSide:     side,
				PriceUI:       lots.PriceLotsToNumber(decimal.NewFromInt(priceLots)),
				SizeUI:        lots.BaseLotsToNumber(decimal.NewFromUint64(quantity)),
				PriceLots:     priceLots,
				SizeLots:      quantity,
				ID:            leaf.Key.BigInt().String(),
				ClientOrderID: schema.FormatUint(uint64(leaf.ClientOrderId)),
				OwnerKey:      leaf.Owner,
			},
			OpenOrdersSlot: leaf.OwnerSlot,
			FeeTier:        leaf.FeeTier,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// SerumEvent is a raw spot event-queue entry.
type SerumEvent struct {
	Flags                  serum.EventFlag
	OpenOrdersSlot         uint8
	FeeTier                uint8
	NativeQuantityReleased uint64
	NativeQuantityPaid     uint64
	NativeFeeOrRebate      uint64
	OrderID                *big.Int
	OpenOrders             solana.PublicKey
	ClientOrderID          uint64
	SeqNum                 uint64
}

// IsFill reports whether the event records a fill.
func (e SerumEvent) IsFill() bool { return e.Flags.IsFill() }

// IsBid reports whether the event belongs to the bid side.
func (e SerumEvent) IsBid() bool { return e.Flags.IsBid() }

// IsMaker reports whether the event belongs to the maker.
func (e SerumEvent) IsMaker() bool { return e.Flags.IsMaker() }

// DecodeSpotEvents returns up to limit events, newest first. The whole ring is
// read, consumed entries included, so recent fills survive the crank.
func DecodeSpotEvents(data []byte, limit int) ([]SerumEvent, error) {
	var header serumQueueLayout
	if err := decodeLayout(data, &header, "spot event queue"); err != nil {
		return nil, err
	}
	if err := checkMagic(header.SerumPadding, "spot event queue"); err != nil {
		return nil, err
	}
	if !header.AccountFlags.Is(serum.AccountFlagEventQueue) {
		return nil, decodeErr("spot event queue: account flags %#x lack event queue bit", uint64(header.AccountFlags))
	}
	if len(data) < serumQueueHeader+serumTailPadding {
		return nil, decodeErr("spot event queue: header truncated")
	}
	allocLen := (len(data) - serumQueueHeader - serumTailPadding) / SerumEventSize
	if allocLen == 0 {
		return nil, nil
	}
	n := allocLen
	if limit > 0 && limit < n {
		n = limit
	}
	head := int(uint64(header.Head) % uint64(allocLen))
	count := int(uint64(header.Count) % uint64(allocLen+1))
	seqNum := uint64(header.SeqNum)

	dec := bin.NewBinDecoder(data)
	events := make([]SerumEvent, 0, n)
	for i := 0; i < n; i++ {
		idx := (head + count + allocLen - 1 - i) % allocLen
		var raw serum.Event
		if err := decodeAt(dec, serumQueueHeader+idx*SerumEventSize, &raw, "spot event queue"); err != nil {
			return nil, err
		}
		ev := SerumEvent{
			Flags:                  raw.Flag,
			OpenOrdersSlot:         raw.OwnerSlot,
			FeeTier:                raw.FeeTier,
			NativeQuantityReleased: raw.NativeQtyReleased,
			NativeQuantityPaid:     raw.NativeQtyPaid,
			NativeFeeOrRebate:      raw.NativeFeeOrRebate,
			OrderID:                bin.Uint128(raw.OrderID).BigInt(),
			OpenOrders:             raw.Owner,
			ClientOrderID:          raw.ClientOrderID,
		}
		if uint64(i) < seqNum {
			ev.SeqNum = seqNum - 1 - uint64(i)
		}
		events = append(events, ev)
	}
	return events, nil
}

// IsOpenOrdersAccount reports whether data is an initialized open-orders account.
func IsOpenOrdersAccount(data []byte) bool {
	var header serumAccountHeader
	if len(data) < len(serumMagic)+8+serumTailPadding || bin.NewBinDecoder(data).Decode(&header) != nil {
		return false
	}
	if !bytes.Equal(header.SerumPadding[:], serumMagic) {
		return false
	}
	return header.AccountFlags.Is(serum.AccountFlagInitialized) && header.AccountFlags.Is(serum.AccountFlagOpenOrders)
}

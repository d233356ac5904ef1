package codec

import (
	"math/big"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/coachpo/mangogate/internal/domain/schema"
)

// DataType tags the first byte of every mango account.
type DataType uint8

const (
	DataMangoGroup DataType = iota
	DataMangoAccount
	DataRootBank
	DataNodeBank
	DataPerpMarket
	DataBids
	DataAsks
	DataMangoCache
	DataEventQueue
)

const (
	PerpMarketSize   = 320
	bookSideHeader   = 40
	bookNodeSize     = 88
	mangoQueueHeader = 32
	PerpEventSize    = 200
	MaxPairs         = 15
	MaxTokens        = 16
	perpAccountSize  = 96
	MangoAccountMin  = 1080 + MaxPairs*perpAccountSize
)

// Perp event types.
const (
	PerpEventFill      uint8 = 0
	PerpEventOut       uint8 = 1
	PerpEventLiquidate uint8 = 2
)

type metaDataLayout struct {
	DataType      uint8
	Version       uint8
	IsInitialized bool
	Padding       [5]byte
}

func (m metaDataLayout) check(want DataType, what string) error {
	if DataType(m.DataType) != want {
		return decodeErr("%s: data type %d, expected %d", what, m.DataType, want)
	}
	if !m.IsInitialized {
		return decodeErr("%s: account not initialized", what)
	}
	return nil
}

type liquidityMiningLayout struct {
	Rate               bin.Int128
	MaxDepthBps        bin.Int128
	PeriodStart        uint64
	TargetPeriodLength uint64
	MngoLeft           uint64
	MngoPerPeriod      uint64
}

type perpMarketLayout struct {
	Meta            metaDataLayout
	MangoGroup      solana.PublicKey
	Bids            solana.PublicKey
	Asks            solana.PublicKey
	EventQueue      solana.PublicKey
	QuoteLotSize    int64
	BaseLotSize     int64
	LongFunding     bin.Int128
	ShortFunding    bin.Int128
	OpenInterest    int64
	LastUpdated     uint64
	SeqNum          uint64
	FeesAccrued     bin.Int128
	LiquidityMining liquidityMiningLayout
	MngoVault       solana.PublicKey
}

// DecodePerpMarket decodes a perp market account.
func DecodePerpMarket(address solana.PublicKey, data []byte, baseDecimals, quoteDecimals int32) (*schema.PerpMarket, error) {
	what := "perp market " + address.String()
	if len(data) < PerpMarketSize {
		return nil, decodeErr("%s: expected at least %d bytes, got %d", what, PerpMarketSize, len(data))
	}
	var raw perpMarketLayout
	if err := decodeLayout(data, &raw, what); err != nil {
		return nil, err
	}
	if err := raw.Meta.check(DataPerpMarket, what); err != nil {
		return nil, err
	}
	m := &schema.PerpMarket{
		Key:          address,
		DataType:     raw.Meta.DataType,
		Version:      raw.Meta.Version,
		MangoGroup:   raw.MangoGroup,
		Bids:         raw.Bids,
		Asks:         raw.Asks,
		EventQueue:   raw.EventQueue,
		LongFunding:  i80f48(raw.LongFunding),
		ShortFunding: i80f48(raw.ShortFunding),
		OpenInterest: raw.OpenInterest,
		LastUpdated:  raw.LastUpdated,
		SeqNum:       raw.SeqNum,
		FeesAccrued:  i80f48(raw.FeesAccrued),
		MngoVault:    raw.MngoVault,
		LotMath: schema.LotMath{
			QuoteLotSize:  raw.QuoteLotSize,
			BaseLotSize:   raw.BaseLotSize,
			BaseDecimals:  baseDecimals,
			QuoteDecimals: quoteDecimals,
		},
	}
	if m.LotMath.BaseLotSize <= 0 || m.LotMath.QuoteLotSize <= 0 {
		return nil, decodeErr("%s: non-positive lot sizes", what)
	}
	return m, nil
}

// Book side nodes share the serum slab tags but are 88 bytes wide.
var bookNodeDef = bin.NewVariantDefinition(bin.Uint32TypeIDEncoding, []bin.VariantType{
	{Name: "uninitialized", Type: (*bookUnusedNode)(nil)},
	{Name: "inner_node", Type: (*bookInnerNode)(nil)},
	{Name: "leaf_node", Type: (*bookLeafNode)(nil)},
	{Name: "free_node", Type: (*bookUnusedNode)(nil)},
	{Name: "last_free_node", Type: (*bookUnusedNode)(nil)},
})

type bookNode struct {
	bin.BaseVariant
}

func (n *bookNode) UnmarshalWithDecoder(dec *bin.Decoder) error {
	return n.BaseVariant.UnmarshalBinaryVariant(dec, bookNodeDef)
}

type bookUnusedNode struct {
	Padding [bookNodeSize - 4]byte
}

type bookInnerNode struct {
	PrefixLen uint32
	Key       bin.Int128
	Children  [2]uint32
	Padding   [56]byte
}

type bookLeafNode struct {
	OwnerSlot     uint8
	OrderType     uint8
	Version       uint8
	TimeInForce   uint8
	Key           bin.Int128
	Owner         solana.PublicKey
	Quantity      int64
	ClientOrderID uint64
	BestInitial   int64
	Timestamp     uint64
}

func (l *bookLeafNode) expired(nowSec uint64) bool {
	return l.TimeInForce != 0 && nowSec >= l.Timestamp+uint64(l.TimeInForce)
}

type bookSideLayout struct {
	Meta         metaDataLayout
	BumpIndex    uint64 `bin:"sizeof=Nodes"`
	FreeListLen  uint64
	FreeListHead uint32
	Root         uint32
	LeafCount    uint64
	Nodes        []*bookNode
}

func (b *bookSideLayout) node(idx uint32) critbitNode {
	switch n := b.Nodes[idx].Impl.(type) {
	case *bookInnerNode:
		return critbitNode{inner: true, children: n.Children}
	case *bookLeafNode:
		return critbitNode{leaf: true}
	}
	return critbitNode{}
}

// items visits leaves in key order. The slab must have passed checkCritbit.
func (b *bookSideLayout) items(descending bool, f func(*bookLeafNode)) {
	if b.LeafCount == 0 {
		return
	}
	stack := []uint32{b.Root}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch n := b.Nodes[idx].Impl.(type) {
		case *bookInnerNode:
			if descending {
				stack = append(stack, n.Children[0], n.Children[1])
			} else {
				stack = append(stack, n.Children[1], n.Children[0])
			}
		case *bookLeafNode:
			f(n)
		}
	}
}

// DecodePerpBook decodes a perp book side and returns its live orders in book order.
// Orders whose time in force has elapsed at now are skipped.
func DecodePerpBook(data []byte, market *schema.PerpMarket, now time.Time) ([]*schema.PerpOrder, error) {
	if len(data) < bookSideHeader {
		return nil, decodeErr("perp book: %d bytes is shorter than header", len(data))
	}
	var side schema.Side
	switch DataType(data[0]) {
	case DataBids:
		side = schema.SideBuy
	case DataAsks:
		side = schema.SideSell
	default:
		return nil, decodeErr("perp book: data type %d is neither bids nor asks", data[0])
	}
	var book bookSideLayout
	if err := decodeLayout(data, &book, "perp book"); err != nil {
		return nil, err
	}
	if err := checkCritbit(len(book.Nodes), book.Root, book.LeafCount, book.node); err != nil {
		return nil, err
	}

	lots := market.Lots()
	nowSec := uint64(now.Unix())
	orders := make([]*schema.PerpOrder, 0, book.LeafCount)
	book.items(side == schema.SideBuy, func(leaf *bookLeafNode) {
		if leaf.expired(nowSec) {
			return
		}
		priceLots := int64(leaf.Key.Hi)
		orders = append(orders, &schema.PerpOrder{
			BookOrder: schema.BookOrder{
				OrderSide:     side,
				PriceUI:       lots.PriceLotsToNumber(decimal.NewFromInt(priceLots)),
				SizeUI:        lots.BaseLotsToNumber(decimal.NewFromInt(leaf.Quantity)),
				PriceLots:     priceLots,
				SizeLots:      uint64(leaf.Quantity),
				ID:            leaf.Key.BigInt().String(),
				ClientOrderID: schema.FormatUint(leaf.ClientOrderID),
				OwnerKey:      leaf.Owner,
			},
			OwnerSlot:   leaf.OwnerSlot,
			OrderType:   leaf.OrderType,
			BestInitial: leaf.BestInitial,
			Timestamp:   time.Unix(int64(leaf.Timestamp), 0).UTC(),
		})
	})
	return orders, nil
}

type perpQueueLayout struct {
	Meta   metaDataLayout
	Head   uint64
	Count  uint64
	SeqNum uint64
}

type perpFillLayout struct {
	EventType          uint8
	TakerSide          uint8
	MakerSlot          uint8
	MakerOut           bool
	Version            uint8
	MarketFeesApplied  bool
	Padding            [2]byte
	Timestamp          uint64
	SeqNum             uint64
	Maker              solana.PublicKey
	MakerOrderID       bin.Int128
	MakerClientOrderID uint64
	MakerFee           bin.Int128
	BestInitial        int64
	MakerTimestamp     uint64
	Taker              solana.PublicKey
	TakerOrderID       bin.Int128
	TakerClientOrderID uint64
	TakerFee           bin.Int128
	Price              int64
	Quantity           int64
}

// PerpFillEvent is a decoded perp fill.
type PerpFillEvent struct {
	TakerSide          schema.Side
	MakerSlot          uint8
	MakerOut           bool
	Timestamp          time.Time
	SeqNum             uint64
	Maker              solana.PublicKey
	MakerOrderID       *big.Int
	MakerClientOrderID uint64
	MakerFee           decimal.Decimal
	BestInitial        int64
	MakerTimestamp     time.Time
	Taker              solana.PublicKey
	TakerOrderID       *big.Int
	TakerClientOrderID uint64
	TakerFee           decimal.Decimal
	PriceLots          int64
	QuantityLots       int64
}

// DecodePerpFills returns up to limit fill events, newest first.
func DecodePerpFills(data []byte, limit int) ([]PerpFillEvent, error) {
	if len(data) < mangoQueueHeader {
		return nil, decodeErr("perp event queue: %d bytes is shorter than header", len(data))
	}
	var header perpQueueLayout
	if err := decodeLayout(data, &header, "perp event queue"); err != nil {
		return nil, err
	}
	if err := header.Meta.check(DataEventQueue, "perp event queue"); err != nil {
		return nil, err
	}
	allocLen := uint64((len(data) - mangoQueueHeader) / PerpEventSize)
	if allocLen == 0 {
		return nil, nil
	}
	available := header.SeqNum
	if available > allocLen-1 {
		available = allocLen - 1
	}
	if limit > 0 && uint64(limit) < available {
		available = uint64(limit)
	}
	endIndex := header.SeqNum % allocLen
	dec := bin.NewBinDecoder(data)
	fills := make([]PerpFillEvent, 0, available)
	for i := uint64(1); i <= available; i++ {
		idx := (endIndex + allocLen - i) % allocLen
		var raw perpFillLayout
		if err := decodeAt(dec, mangoQueueHeader+int(idx)*PerpEventSize, &raw, "perp event queue"); err != nil {
			return nil, err
		}
		if raw.EventType != PerpEventFill {
			continue
		}
		fills = append(fills, raw.event())
	}
	return fills, nil
}

func (f *perpFillLayout) event() PerpFillEvent {
	takerSide := schema.SideBuy
	if f.TakerSide == 1 {
		takerSide = schema.SideSell
	}
	return PerpFillEvent{
		TakerSide:          takerSide,
		MakerSlot:          f.MakerSlot,
		MakerOut:           f.MakerOut,
		Timestamp:          time.Unix(int64(f.Timestamp), 0).UTC(),
		SeqNum:             f.SeqNum,
		Maker:              f.Maker,
		MakerOrderID:       f.MakerOrderID.BigInt(),
		MakerClientOrderID: f.MakerClientOrderID,
		MakerFee:           i80f48(f.MakerFee),
		BestInitial:        f.BestInitial,
		MakerTimestamp:     time.Unix(int64(f.MakerTimestamp), 0).UTC(),
		Taker:              f.Taker,
		TakerOrderID:       f.TakerOrderID.BigInt(),
		TakerClientOrderID: f.TakerClientOrderID,
		TakerFee:           i80f48(f.TakerFee),
		PriceLots:          f.Price,
		QuantityLots:       f.Quantity,
	}
}

type perpAccountLayout struct {
	BasePosition        int64
	QuotePosition       bin.Int128
	LongSettledFunding  bin.Int128
	ShortSettledFunding bin.Int128
	BidsQuantity        int64
	AsksQuantity        int64
	TakerBase           int64
	TakerQuote          int64
	MngoAccrued         uint64
}

type mangoAccountLayout struct {
	Meta              metaDataLayout
	MangoGroup        solana.PublicKey
	Owner             solana.PublicKey
	InMarginBasket    [MaxPairs]bool
	NumInMarginBasket uint8
	Deposits          [MaxTokens]bin.Int128
	Borrows           [MaxTokens]bin.Int128
	SpotOpenOrders    [MaxPairs]solana.PublicKey
	PerpAccounts      [MaxPairs]perpAccountLayout
}

// PerpPosition is the per-market perp state of a margin account.
type PerpPosition struct {
	BasePositionLots int64
	QuotePosition    decimal.Decimal
	BidsQuantity     int64
	AsksQuantity     int64
	TakerBase        int64
	TakerQuote       int64
}

// MangoAccountView holds the margin account fields the aggregation paths read.
type MangoAccountView struct {
	Group          solana.PublicKey
	Owner          solana.PublicKey
	SpotOpenOrders [MaxPairs]solana.PublicKey
	PerpAccounts   [MaxPairs]PerpPosition
}

// DecodeMangoAccount decodes the owner, spot open-orders references and perp
// positions of a margin account.
func DecodeMangoAccount(data []byte) (*MangoAccountView, error) {
	if len(data) < MangoAccountMin {
		return nil, decodeErr("mango account: expected at least %d bytes, got %d", MangoAccountMin, len(data))
	}
	var raw mangoAccountLayout
	if err := decodeLayout(data, &raw, "mango account"); err != nil {
		return nil, err
	}
	if err := raw.Meta.check(DataMangoAccount, "mango account"); err != nil {
		return nil, err
	}
	view := &MangoAccountView{
		Group:          raw.MangoGroup,
		Owner:          raw.Owner,
		SpotOpenOrders: raw.SpotOpenOrders,
	}
	for i, pa := range raw.PerpAccounts {
		view.PerpAccounts[i] = PerpPosition{
			BasePositionLots: pa.BasePosition,
			QuotePosition:    i80f48(pa.QuotePosition),
			BidsQuantity:     pa.BidsQuantity,
			AsksQuantity:     pa.AsksQuantity,
			TakerBase:        pa.TakerBase,
			TakerQuote:       pa.TakerQuote,
		}
	}
	return view, nil
}

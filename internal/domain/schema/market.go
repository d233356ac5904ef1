// Package schema defines the canonical market, order and fill models shared by the gateway.
package schema

import (
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// MarketKind distinguishes spot order-book markets from perpetual-futures markets.
type MarketKind string

const (
	// KindSpot identifies a spot order-book market.
	KindSpot MarketKind = "spot"
	// KindPerp identifies a perpetual-futures market.
	KindPerp MarketKind = "perp"
)

// Valid reports whether the kind is one of the supported variants.
func (k MarketKind) Valid() bool {
	return k == KindSpot || k == KindPerp
}

// MarketDescriptor is the static description of one configured market.
type MarketDescriptor struct {
	Name              string           `json:"name"`
	Kind              MarketKind       `json:"kind"`
	BaseSymbol        string           `json:"baseSymbol"`
	QuoteSymbol       string           `json:"quoteSymbol"`
	BaseDecimals      int32            `json:"baseDecimals"`
	QuoteDecimals     int32            `json:"quoteDecimals"`
	MarketIndex       int              `json:"marketIndex"`
	Address           solana.PublicKey `json:"publicKey"`
	BidsAddress       solana.PublicKey `json:"bidsKey"`
	AsksAddress       solana.PublicKey `json:"asksKey"`
	EventQueueAddress solana.PublicKey `json:"eventsKey"`
}

// IsPerp reports whether the descriptor names a perpetual market.
func (d MarketDescriptor) IsPerp() bool { return d.Kind == KindPerp }

// DisplayName returns the venue-style market name used by API clients.
func (d MarketDescriptor) DisplayName() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	if d.Kind == KindPerp {
		return d.BaseSymbol + "-PERP"
	}
	return d.BaseSymbol + "/" + d.QuoteSymbol
}

// LotMath converts between on-chain lot units and UI decimal values.
type LotMath struct {
	BaseLotSize   int64
	QuoteLotSize  int64
	BaseDecimals  int32
	QuoteDecimals int32
}

func (l LotMath) baseMultiplier() decimal.Decimal {
	return decimal.New(1, l.BaseDecimals)
}

func (l LotMath) quoteMultiplier() decimal.Decimal {
	return decimal.New(1, l.QuoteDecimals)
}

// PriceLotsToNumber converts a price expressed in lots into a UI price.
func (l LotMath) PriceLotsToNumber(lots decimal.Decimal) decimal.Decimal {
	if l.BaseLotSize == 0 {
		return decimal.Zero
	}
	num := lots.Mul(decimal.NewFromInt(l.QuoteLotSize)).Mul(l.baseMultiplier())
	den := decimal.NewFromInt(l.BaseLotSize).Mul(l.quoteMultiplier())
	return num.Div(den)
}

// BaseLotsToNumber converts a quantity expressed in base lots into a UI size.
func (l LotMath) BaseLotsToNumber(lots decimal.Decimal) decimal.Decimal {
	return lots.Mul(decimal.NewFromInt(l.BaseLotSize)).Div(l.baseMultiplier())
}

// PriceNumberToLots converts a UI price into price lots, rounded to the nearest lot.
func (l LotMath) PriceNumberToLots(price decimal.Decimal) decimal.Decimal {
	if l.QuoteLotSize == 0 {
		return decimal.Zero
	}
	num := price.Mul(l.quoteMultiplier()).Mul(decimal.NewFromInt(l.BaseLotSize))
	den := decimal.NewFromInt(l.QuoteLotSize).Mul(l.baseMultiplier())
	return num.Div(den).Round(0)
}

// BaseSizeNumberToLots converts a UI size into base lots, rounded to the nearest lot.
func (l LotMath) BaseSizeNumberToLots(size decimal.Decimal) decimal.Decimal {
	if l.BaseLotSize == 0 {
		return decimal.Zero
	}
	return size.Mul(l.baseMultiplier()).Div(decimal.NewFromInt(l.BaseLotSize)).Round(0)
}

// TickSize is the smallest representable price increment.
func (l LotMath) TickSize() decimal.Decimal {
	return l.PriceLotsToNumber(decimal.NewFromInt(1))
}

// MinOrderSize is the smallest representable size increment.
func (l LotMath) MinOrderSize() decimal.Decimal {
	return l.BaseLotsToNumber(decimal.NewFromInt(1))
}

// DecodedMarket is the typed, kind-specific view of a market account.
type DecodedMarket interface {
	Kind() MarketKind
	Address() solana.PublicKey
	BidsAddress() solana.PublicKey
	AsksAddress() solana.PublicKey
	EventQueueAddress() solana.PublicKey
	Lots() LotMath
}

// SpotMarket is a decoded spot order-book market state.
type SpotMarket struct {
	Key                solana.PublicKey
	AccountFlags       uint64
	OwnAddress         solana.PublicKey
	VaultSignerNonce   uint64
	BaseMint           solana.PublicKey
	QuoteMint          solana.PublicKey
	BaseVault          solana.PublicKey
	BaseDepositsTotal  uint64
	BaseFeesAccrued    uint64
	QuoteVault         solana.PublicKey
	QuoteDepositsTotal uint64
	QuoteFeesAccrued   uint64
	QuoteDustThreshold uint64
	RequestQueue       solana.PublicKey
	EventQueue         solana.PublicKey
	Bids               solana.PublicKey
	Asks               solana.PublicKey
	FeeRateBps         uint64
	LotMath            LotMath
}

func (m *SpotMarket) Kind() MarketKind                    { return KindSpot }
func (m *SpotMarket) Address() solana.PublicKey           { return m.Key }
func (m *SpotMarket) BidsAddress() solana.PublicKey       { return m.Bids }
func (m *SpotMarket) AsksAddress() solana.PublicKey       { return m.Asks }
func (m *SpotMarket) EventQueueAddress() solana.PublicKey { return m.EventQueue }
func (m *SpotMarket) Lots() LotMath                       { return m.LotMath }

// PerpMarket is a decoded perpetual-futures market state.
type PerpMarket struct {
	Key          solana.PublicKey
	DataType     uint8
	Version      uint8
	MangoGroup   solana.PublicKey
	Bids         solana.PublicKey
	Asks         solana.PublicKey
	EventQueue   solana.PublicKey
	LongFunding  decimal.Decimal
	ShortFunding decimal.Decimal
	OpenInterest int64
	LastUpdated  uint64
	SeqNum       uint64
	FeesAccrued  decimal.Decimal
	MngoVault    solana.PublicKey
	LotMath      LotMath
}

func (m *PerpMarket) Kind() MarketKind                    { return KindPerp }
func (m *PerpMarket) Address() solana.PublicKey           { return m.Key }
func (m *PerpMarket) BidsAddress() solana.PublicKey       { return m.Bids }
func (m *PerpMarket) AsksAddress() solana.PublicKey       { return m.Asks }
func (m *PerpMarket) EventQueueAddress() solana.PublicKey { return m.EventQueue }
func (m *PerpMarket) Lots() LotMath                       { return m.LotMath }

// MarketRef pairs a descriptor with its decoded state.
type MarketRef struct {
	Descriptor MarketDescriptor
	Decoded    DecodedMarket
}

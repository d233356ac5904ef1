package schema

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// RawAccount is the result of reading one on-chain address.
type RawAccount struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
	Absent   bool
}

// Account is the caller's margin account as seen by the aggregation paths.
// PerpBasePositions holds the non-zero perp base positions in lots by market index.
type Account struct {
	Address           solana.PublicKey
	Owner             solana.PublicKey
	Group             solana.PublicKey
	SpotOpenOrders    map[int]solana.PublicKey
	PerpBasePositions map[int]int64
}

// Position sides.
const (
	PositionLong  = "long"
	PositionShort = "short"
)

// Position is the account's open perp position on one market. Break-even
// price and pnl need the fill history and oracle price and stay nil.
type Position struct {
	Future               string           `json:"future"`
	Side                 string           `json:"side"`
	Size                 decimal.Decimal  `json:"size"`
	NetSize              decimal.Decimal  `json:"netSize"`
	RecentBreakEvenPrice *decimal.Decimal `json:"recentBreakEvenPrice"`
	RecentPnl            *decimal.Decimal `json:"recentPnl"`
}

// NewPosition builds the position for a signed base position in lots.
func NewPosition(future string, baseLots int64, lots LotMath) Position {
	net := lots.BaseLotsToNumber(decimal.NewFromInt(baseLots))
	side := PositionLong
	if baseLots < 0 {
		side = PositionShort
	}
	return Position{Future: future, Side: side, Size: net.Abs(), NetSize: net}
}

// OpenOrdersFor returns the open-orders sub-account for a spot market index.
func (a *Account) OpenOrdersFor(marketIndex int) (solana.PublicKey, bool) {
	if a == nil || a.SpotOpenOrders == nil {
		return solana.PublicKey{}, false
	}
	key, ok := a.SpotOpenOrders[marketIndex]
	if !ok || key.IsZero() {
		return solana.PublicKey{}, false
	}
	return key, true
}

// NormalizeID renders an identifier as a canonical decimal string when it is numeric.
// Non-numeric identifiers are returned trimmed.
func NormalizeID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return trimmed
	}
	return value.String()
}

// FormatUint renders an unsigned identifier in canonical form.
func FormatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

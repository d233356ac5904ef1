package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// FillSource records where a fill was observed.
type FillSource string

const (
	// FillRecent marks fills read from the live event queue.
	FillRecent FillSource = "recent"
	// FillHistorical marks fills read from the archive.
	FillHistorical FillSource = "historical"
)

// Fill is a normalized trade execution involving the caller's account.
type Fill struct {
	OrderID      string          `json:"orderId,omitempty"`
	SeqNum       string          `json:"seqNum,omitempty"`
	ClientID     string          `json:"clientId,omitempty"`
	MarketName   string          `json:"marketName"`
	MarketKey    string          `json:"marketAddress,omitempty"`
	MarketKind   MarketKind      `json:"marketKind"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	FeeCost      decimal.Decimal `json:"feeCost"`
	Maker        bool            `json:"maker"`
	Counterparty string          `json:"counterparty,omitempty"`
	Time         time.Time       `json:"time,omitzero"`
	Source       FillSource      `json:"source"`
}

// SameIdentity reports whether recent denotes the same execution as historical.
// The historical copy decides the identity field: its order id when present, else its sequence number.
func SameIdentity(historical, recent Fill) bool {
	if historical.OrderID != "" {
		return historical.OrderID == recent.OrderID
	}
	return historical.SeqNum != "" && historical.SeqNum == recent.SeqNum
}

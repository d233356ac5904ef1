package archive

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/mangogate/internal/domain/schema"
)

// flexID accepts identifiers the archives emit as JSON strings, integers or
// null, and keeps them in canonical decimal form.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(schema.NormalizeID(s))
		return nil
	}
	*f = flexID(schema.NormalizeID(string(data)))
	return nil
}

// flexTime accepts RFC 3339 strings and unix timestamps in seconds or
// milliseconds.
type flexTime struct{ time.Time }

func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			f.Time = t.UTC()
			return nil
		}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return err
	}
	f.Time = unixTime(n)
	return nil
}

func unixTime(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}

type envelope[T any] struct {
	Success *bool  `json:"success"`
	Status  string `json:"s"`
	Data    []T    `json:"data"`
}

type spotFillRecord struct {
	OrderID       flexID          `json:"orderId"`
	SeqNum        flexID          `json:"seqNum"`
	ClientOrderID flexID          `json:"clientOrderId"`
	MarketName    string          `json:"marketName"`
	Address       string          `json:"address"`
	Side          string          `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	FeeCost       decimal.Decimal `json:"feeCost"`
	Maker         bool            `json:"maker"`
	OpenOrders    string          `json:"openOrders"`
	LoadTimestamp flexTime        `json:"loadTimestamp"`
}

func (r spotFillRecord) fill() schema.Fill {
	return schema.Fill{
		OrderID:    string(r.OrderID),
		SeqNum:     string(r.SeqNum),
		ClientID:   nonZeroID(r.ClientOrderID),
		MarketName: r.MarketName,
		MarketKey:  r.Address,
		MarketKind: schema.KindSpot,
		Side:       parseSide(r.Side),
		Price:      r.Price,
		Size:       r.Size,
		FeeCost:    r.FeeCost,
		Maker:      r.Maker,
		Time:       r.LoadTimestamp.Time,
		Source:     schema.FillHistorical,
	}
}

type perpFillRecord struct {
	SeqNum             flexID          `json:"seqNum"`
	MarketName         string          `json:"marketName"`
	Address            string          `json:"address"`
	Maker              string          `json:"maker"`
	MakerOrderID       flexID          `json:"makerOrderId"`
	MakerClientOrderID flexID          `json:"makerClientOrderId"`
	MakerFee           decimal.Decimal `json:"makerFee"`
	Taker              string          `json:"taker"`
	TakerOrderID       flexID          `json:"takerOrderId"`
	TakerClientOrderID flexID          `json:"takerClientOrderId"`
	TakerFee           decimal.Decimal `json:"takerFee"`
	TakerSide          string          `json:"takerSide"`
	Price              decimal.Decimal `json:"price"`
	Quantity           decimal.Decimal `json:"quantity"`
	LoadTimestamp      flexTime        `json:"loadTimestamp"`
}

// fill renders the record from account's side of the trade. Fees are rates
// and are charged on the notional.
func (r perpFillRecord) fill(account solana.PublicKey) schema.Fill {
	out := schema.Fill{
		SeqNum:     string(r.SeqNum),
		MarketName: r.MarketName,
		MarketKey:  r.Address,
		MarketKind: schema.KindPerp,
		Price:      r.Price,
		Size:       r.Quantity,
		Time:       r.LoadTimestamp.Time,
		Source:     schema.FillHistorical,
	}
	takerSide := parseSide(r.TakerSide)
	notional := r.Price.Mul(r.Quantity)
	if r.Maker == account.String() {
		out.Maker = true
		out.Side = takerSide.Opposite()
		out.OrderID = string(r.MakerOrderID)
		out.ClientID = nonZeroID(r.MakerClientOrderID)
		out.FeeCost = notional.Mul(r.MakerFee)
		out.Counterparty = r.Taker
		return out
	}
	out.Side = takerSide
	out.OrderID = string(r.TakerOrderID)
	out.ClientID = nonZeroID(r.TakerClientOrderID)
	out.FeeCost = notional.Mul(r.TakerFee)
	out.Counterparty = r.Maker
	return out
}

// Trade is one public execution on a market.
type Trade struct {
	ID          string          `json:"id"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	Side        schema.Side     `json:"side"`
	Liquidation bool            `json:"liquidation"`
	Time        time.Time       `json:"time"`
}

type tradeRecord struct {
	OrderID flexID          `json:"orderId"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Side    string          `json:"side"`
	Time    flexTime        `json:"time"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// tvHistory is the column-oriented TradingView history response.
type tvHistory struct {
	Status string            `json:"s"`
	Time   []float64         `json:"t"`
	Open   []decimal.Decimal `json:"o"`
	High   []decimal.Decimal `json:"h"`
	Low    []decimal.Decimal `json:"l"`
	Close  []decimal.Decimal `json:"c"`
	Volume []decimal.Decimal `json:"v"`
}

func (h tvHistory) candles() []Candle {
	n := len(h.Time)
	for _, col := range [][]decimal.Decimal{h.Open, h.High, h.Low, h.Close, h.Volume} {
		n = min(n, len(col))
	}
	out := make([]Candle, n)
	for i := range n {
		out[i] = Candle{
			Time:   unixTime(h.Time[i]),
			Open:   h.Open[i],
			High:   h.High[i],
			Low:    h.Low[i],
			Close:  h.Close[i],
			Volume: h.Volume[i],
		}
	}
	return out
}

type volumeStats struct {
	Data struct {
		Volume decimal.Decimal `json:"volume"`
	} `json:"data"`
}

func parseSide(raw string) schema.Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "bid":
		return schema.SideBuy
	case "sell", "ask":
		return schema.SideSell
	default:
		return schema.Side(raw)
	}
}

func nonZeroID(id flexID) string {
	if id == "0" {
		return ""
	}
	return string(id)
}

package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/app/markets"
	"github.com/coachpo/mangogate/internal/domain/schema"
)

const (
	defaultDepth      = 20
	maxDepth          = 100
	defaultResolution = "60"
	defaultCandleSpan = 24 * time.Hour
)

type marketDTO struct {
	Name           string           `json:"name"`
	Address        string           `json:"address"`
	BaseCurrency   string           `json:"baseCurrency"`
	QuoteCurrency  string           `json:"quoteCurrency"`
	Type           string           `json:"type"`
	Underlying     string           `json:"underlying"`
	Ask            *decimal.Decimal `json:"ask"`
	Bid            *decimal.Decimal `json:"bid"`
	Last           *decimal.Decimal `json:"last"`
	Price          *decimal.Decimal `json:"price"`
	PriceIncrement *decimal.Decimal `json:"priceIncrement"`
	SizeIncrement  *decimal.Decimal `json:"sizeIncrement"`
	Change1h       *decimal.Decimal `json:"change1h"`
	Change24h      *decimal.Decimal `json:"change24h"`
	ChangeBod      *decimal.Decimal `json:"changeBod"`
	QuoteVolume24h *decimal.Decimal `json:"quoteVolume24h"`
	VolumeUsd24h   *decimal.Decimal `json:"volumeUsd24h"`
}

type orderBookDTO struct {
	Asks [][2]decimal.Decimal `json:"asks"`
	Bids [][2]decimal.Decimal `json:"bids"`
}

type candleDTO struct {
	Time      int64           `json:"time"`
	StartTime time.Time       `json:"startTime"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

func (s *httpServer) listMarkets(w http.ResponseWriter, r *http.Request) {
	s.writeMarkets(w, r, "")
}

// handleMarket serves /api/markets/{name}[/orderbook|/trades|/candles]. Spot
// names contain a slash, so the view is taken from the last segment.
func (s *httpServer) handleMarket(w http.ResponseWriter, r *http.Request) {
	name, view := splitMarketPath(strings.Trim(strings.TrimPrefix(r.URL.Path, marketDetailPrefix), "/"))
	if name == "" {
		writeError(w, http.StatusNotFound, "market name required")
		return
	}
	if !s.validMarket(w, name) {
		return
	}
	switch view {
	case "orderbook":
		s.orderBook(w, r, name)
	case "trades":
		s.trades(w, r, name)
	case "candles":
		s.candles(w, r, name)
	default:
		s.writeMarkets(w, r, name)
	}
}

func splitMarketPath(rest string) (name, view string) {
	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return rest, ""
	}
	switch tail := rest[idx+1:]; tail {
	case "orderbook", "trades", "candles":
		return rest[:idx], tail
	default:
		return rest, ""
	}
}

func (s *httpServer) writeMarkets(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()
	var (
		set   markets.MarketSet
		books [][]schema.OrderInfo
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		set, err = s.markets.FetchAllMarkets(ctx, name)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		books, err = s.markets.FetchAllBidsAndAsks(ctx, false, name)
		return err
	})
	if err := p.Wait(); err != nil {
		s.writeErr(w, r, err)
		return
	}

	byMarket := make(map[string][]schema.OrderInfo, len(books))
	for _, list := range books {
		for _, info := range list {
			key := info.Market.Descriptor.Name
			byMarket[key] = append(byMarket[key], info)
		}
	}
	dtos := iter.Map(set.Entries, func(e *markets.MarketEntry) marketDTO {
		return s.marketDetail(ctx, *e, byMarket[e.Descriptor.Name])
	})
	writeResult(w, dtos)
}

func (s *httpServer) marketDetail(ctx context.Context, e markets.MarketEntry, book []schema.OrderInfo) marketDTO {
	desc := e.Descriptor
	dto := marketDTO{
		Name:          desc.Name,
		Address:       desc.Address.String(),
		BaseCurrency:  desc.BaseSymbol,
		QuoteCurrency: desc.QuoteSymbol,
		Type:          "spot",
		Underlying:    desc.BaseSymbol,
	}
	if desc.IsPerp() {
		dto.Type = "futures"
	}
	if e.Market != nil {
		lots := e.Market.Lots()
		dto.PriceIncrement = ptr(lots.TickSize())
		dto.SizeIncrement = ptr(lots.MinOrderSize())
	}
	bids, asks := markets.SortBook(book)
	if len(bids) > 0 {
		dto.Bid = ptr(bids[0].Order.Price())
	}
	if len(asks) > 0 {
		dto.Ask = ptr(asks[0].Order.Price())
	}
	if s.marketData != nil {
		s.fillStatistics(ctx, desc, &dto)
	}
	return dto
}

// fillStatistics adds archive-derived figures. Each one is best effort: a
// failing archive leaves its field null.
func (s *httpServer) fillStatistics(ctx context.Context, desc schema.MarketDescriptor, dto *marketDTO) {
	now := s.now().UTC()
	bod := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	p := pool.New()
	p.Go(func() {
		trades, err := s.marketData.Trades(ctx, desc.Address)
		if err != nil {
			s.logger.Printf("market %s trades: %v", desc.Name, err)
			return
		}
		if len(trades) > 0 {
			dto.Last = ptr(trades[0].Price)
			dto.Price = ptr(trades[0].Price)
		}
	})
	p.Go(func() { dto.Change1h = s.change(ctx, desc.Name, "60", now.Add(-time.Hour), now) })
	p.Go(func() { dto.Change24h = s.change(ctx, desc.Name, "1D", now.Add(-24*time.Hour), now) })
	p.Go(func() { dto.ChangeBod = s.change(ctx, desc.Name, "1", bod, now) })
	if desc.IsPerp() {
		p.Go(func() {
			volume, err := s.marketData.PerpVolume(ctx, desc.Address)
			if err != nil {
				s.logger.Printf("market %s volume: %v", desc.Name, err)
				return
			}
			dto.QuoteVolume24h = ptr(volume)
			dto.VolumeUsd24h = ptr(volume)
		})
	}
	p.Wait()
}

// change is the relative move from the first open to the last close over the
// window.
func (s *httpServer) change(ctx context.Context, market, resolution string, from, to time.Time) *decimal.Decimal {
	candles, err := s.marketData.Candles(ctx, market, resolution, from, to)
	if err != nil {
		s.logger.Printf("market %s candles %s: %v", market, resolution, err)
		return nil
	}
	if len(candles) == 0 || candles[0].Open.IsZero() {
		return nil
	}
	open := candles[0].Open
	return ptr(candles[len(candles)-1].Close.Sub(open).Div(open))
}

func (s *httpServer) orderBook(w http.ResponseWriter, r *http.Request, name string) {
	depth := defaultDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < defaultDepth || n > maxDepth {
			writeError(w, http.StatusBadRequest, "Depth should be a number between 20 and 100!")
			return
		}
		depth = n
	}

	lists, err := s.markets.FetchAllBidsAndAsks(r.Context(), false, name)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var all []schema.OrderInfo
	for _, l := range lists {
		all = append(all, l...)
	}
	bids, asks := markets.SortBook(all)
	writeResult(w, orderBookDTO{Asks: levels(asks, depth), Bids: levels(bids, depth)})
}

func levels(orders []schema.OrderInfo, depth int) [][2]decimal.Decimal {
	if len(orders) > depth {
		orders = orders[:depth]
	}
	out := make([][2]decimal.Decimal, 0, len(orders))
	for _, o := range orders {
		out = append(out, [2]decimal.Decimal{o.Order.Price(), o.Order.Size()})
	}
	return out
}

func (s *httpServer) trades(w http.ResponseWriter, r *http.Request, name string) {
	if s.marketData == nil {
		s.writeErr(w, r, errs.NotSupported("market data archive is not configured"))
		return
	}
	desc, _ := s.markets.Registry().ByName(name)
	trades, err := s.marketData.Trades(r.Context(), desc.Address)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeResult(w, trades)
}

func (s *httpServer) candles(w http.ResponseWriter, r *http.Request, name string) {
	if s.marketData == nil {
		s.writeErr(w, r, errs.NotSupported("market data archive is not configured"))
		return
	}
	q := r.URL.Query()
	resolution := q.Get("resolution")
	if resolution == "" {
		resolution = defaultResolution
	}
	to := s.now()
	if raw := q.Get("end_time"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end_time must be epoch seconds")
			return
		}
		to = time.Unix(sec, 0)
	}
	from := to.Add(-defaultCandleSpan)
	if raw := q.Get("start_time"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_time must be epoch seconds")
			return
		}
		from = time.Unix(sec, 0)
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "start_time must be before end_time")
		return
	}

	candles, err := s.marketData.Candles(r.Context(), name, resolution, from, to)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]candleDTO, 0, len(candles))
	for _, c := range candles {
		out = append(out, candleDTO{
			Time:      c.Time.Unix(),
			StartTime: c.Time.UTC(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	writeResult(w, out)
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

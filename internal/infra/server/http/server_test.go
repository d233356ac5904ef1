package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/app/fills"
	"github.com/coachpo/mangogate/internal/app/markets"
	"github.com/coachpo/mangogate/internal/app/orders"
	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/archive"
	"github.com/coachpo/mangogate/internal/infra/config"
)

var (
	testLots = schema.LotMath{BaseLotSize: 100_000, QuoteLotSize: 100, BaseDecimals: 9, QuoteDecimals: 6}
	testNow  = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
)

type fakeMarkets struct {
	registry *markets.Registry
	decoded  map[string]schema.DecodedMarket
	books    map[string][]schema.OrderInfo
	err      error
}

func (f *fakeMarkets) Registry() *markets.Registry { return f.registry }

func (f *fakeMarkets) FetchAllMarkets(_ context.Context, name string) (markets.MarketSet, error) {
	if f.err != nil {
		return markets.MarketSet{}, f.err
	}
	var set markets.MarketSet
	for _, desc := range f.registry.Filter(name) {
		set.Entries = append(set.Entries, markets.MarketEntry{Descriptor: desc, Market: f.decoded[desc.Name]})
	}
	return set, nil
}

func (f *fakeMarkets) FetchAllBidsAndAsks(_ context.Context, _ bool, name string) ([][]schema.OrderInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out [][]schema.OrderInfo
	for _, desc := range f.registry.Filter(name) {
		out = append(out, f.books[desc.Name])
	}
	return out, nil
}

type fakeOrders struct {
	mu        sync.Mutex
	open      []schema.OrderInfo
	placed    []orders.PlaceOrderRequest
	cancelled []string
	report    orders.CancelReport
	err       error
}

func (f *fakeOrders) OpenOrders(context.Context, string) ([]schema.OrderInfo, error) {
	return f.open, f.err
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req orders.PlaceOrderRequest) (schema.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if f.err != nil {
		return schema.Submission{}, f.err
	}
	return schema.Submission{RequestID: "req-1", Signature: "5sig"}, nil
}

func (f *fakeOrders) CancelAllOrders(context.Context) (orders.CancelReport, error) {
	var failures []error
	for _, res := range f.report.Results {
		failures = append(failures, res.Err)
	}
	return f.report, errors.Join(failures...)
}

func (f *fakeOrders) CancelByOrderID(_ context.Context, id string) (schema.Submission, error) {
	return f.cancel("order:"+id, id)
}

func (f *fakeOrders) CancelByClientID(_ context.Context, id string) (schema.Submission, error) {
	return f.cancel("client:"+id, id)
}

func (f *fakeOrders) cancel(call, id string) (schema.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, call)
	if id == "404" {
		return schema.Submission{}, errs.OrderNotFound("Order not found!")
	}
	return schema.Submission{RequestID: "req-2", Signature: "cancel-" + id}, nil
}

type fakeFills struct {
	result fills.Result
	err    error
	names  []string
}

func (f *fakeFills) FetchAllFills(_ context.Context, name string) (fills.Result, error) {
	f.names = append(f.names, name)
	return f.result, f.err
}

type fakePositions struct {
	positions []schema.Position
	err       error
}

func (f *fakePositions) FetchPositions(context.Context) ([]schema.Position, error) {
	return f.positions, f.err
}

type fakeMarketData struct {
	mu      sync.Mutex
	trades  []archive.Trade
	candles []archive.Candle
	calls   []string
	volume  int
}

func (f *fakeMarketData) Trades(context.Context, solana.PublicKey) ([]archive.Trade, error) {
	return f.trades, nil
}

func (f *fakeMarketData) Candles(_ context.Context, symbol, resolution string, from, to time.Time) ([]archive.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join([]string{symbol, resolution, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)}, " "))
	return f.candles, nil
}

func (f *fakeMarketData) PerpVolume(context.Context, solana.PublicKey) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume++
	return decimal.NewFromInt(1234), nil
}

type env struct {
	handler    http.Handler
	markets    *fakeMarkets
	orders     *fakeOrders
	fills      *fakeFills
	positions  *fakePositions
	marketData *fakeMarketData
	healthErr  error
}

func newEnv(t *testing.T) *env {
	t.Helper()
	key := func() string { return solana.NewWallet().PublicKey().String() }
	registry, err := markets.LoadRegistry([]config.GroupConfig{{
		Name:           "mainnet.1",
		PublicKey:      key(),
		MangoProgramID: key(),
		SerumProgramID: key(),
		SpotMarkets: []config.MarketConfig{{
			Name: "SOL/USDC", PublicKey: key(), MarketIndex: 3, BaseDecimals: 9, QuoteDecimals: 6,
		}},
		PerpMarkets: []config.MarketConfig{{
			Name: "SOL-PERP", PublicKey: key(), MarketIndex: 3, BaseSymbol: "SOL", BaseDecimals: 9, QuoteDecimals: 6,
		}},
	}}, "mainnet.1")
	require.NoError(t, err)
	spot, _ := registry.ByName("SOL/USDC")
	perp, _ := registry.ByName("SOL-PERP")

	e := &env{
		markets: &fakeMarkets{
			registry: registry,
			decoded: map[string]schema.DecodedMarket{
				"SOL/USDC": &schema.SpotMarket{Key: spot.Address, LotMath: testLots},
				"SOL-PERP": &schema.PerpMarket{Key: perp.Address, LotMath: testLots},
			},
			books: map[string][]schema.OrderInfo{
				"SOL/USDC": {
					spotOrder(spot, schema.SideBuy, "19.5", "1", "1", "0"),
					spotOrder(spot, schema.SideSell, "21", "2", "2", "0"),
					spotOrder(spot, schema.SideBuy, "20", "3", "3", "0"),
					spotOrder(spot, schema.SideSell, "20.5", "4", "4", "0"),
				},
			},
		},
		orders:    &fakeOrders{},
		fills:     &fakeFills{},
		positions: &fakePositions{},
		marketData: &fakeMarketData{
			trades:  []archive.Trade{{ID: "9", Price: decimal.RequireFromString("20.25"), Size: decimal.NewFromInt(1), Side: schema.SideBuy, Time: testNow}},
			candles: []archive.Candle{
				{Time: testNow.Add(-time.Hour), Open: decimal.NewFromInt(20), Close: decimal.NewFromInt(21)},
				{Time: testNow, Open: decimal.NewFromInt(21), Close: decimal.NewFromInt(22)},
			},
		},
	}
	e.handler = NewHandler(Options{
		Markets:    e.markets,
		Orders:     e.orders,
		Fills:      e.fills,
		Positions:  e.positions,
		MarketData: e.marketData,
		Health:     func(context.Context) error { return e.healthErr },
		Now:        func() time.Time { return testNow },
	})
	return e
}

func spotOrder(desc schema.MarketDescriptor, side schema.Side, price, size, id, client string) schema.OrderInfo {
	return schema.OrderInfo{
		Market: schema.MarketRef{Descriptor: desc},
		Order: &schema.SpotOrder{BookOrder: schema.BookOrder{
			OrderSide: side, PriceUI: decimal.RequireFromString(price), SizeUI: decimal.RequireFromString(size),
			ID: id, ClientOrderID: client,
		}},
	}
}

func (e *env) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type resultOf[T any] struct {
	Success bool        `json:"success"`
	Result  T           `json:"result"`
	Errors  []errorItem `json:"errors"`
}

func TestListMarkets(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/markets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(headerRequestID))

	body := decodeBody[resultOf[[]marketDTO]](t, rec)
	require.True(t, body.Success)
	require.Len(t, body.Result, 2)

	spot, perp := body.Result[0], body.Result[1]
	require.Equal(t, "SOL/USDC", spot.Name)
	require.Equal(t, "spot", spot.Type)
	require.Equal(t, "20", spot.Bid.String())
	require.Equal(t, "20.5", spot.Ask.String())
	require.Equal(t, "20.25", spot.Last.String())
	require.Equal(t, "1", spot.PriceIncrement.String())
	require.Equal(t, "0.0001", spot.SizeIncrement.String())
	require.Equal(t, "0.1", spot.Change1h.String())
	require.Nil(t, spot.VolumeUsd24h)

	require.Equal(t, "futures", perp.Type)
	require.Equal(t, "SOL", perp.Underlying)
	require.Nil(t, perp.Bid)
	require.Equal(t, "1234", perp.VolumeUsd24h.String())
	require.Equal(t, 1, e.marketData.volume)
}

func TestMarketDetailAndValidation(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/markets/SOL-PERP", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[resultOf[[]marketDTO]](t, rec)
	require.Len(t, body.Result, 1)
	require.Equal(t, "SOL-PERP", body.Result[0].Name)

	rec = e.do(t, http.MethodGet, "/api/markets/BTC-PERP", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Market BTC-PERP not supported!", decodeBody[errorBody](t, rec).Errors[0].Msg)
}

func TestOrderBookSortedAndCut(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/markets/SOL/USDC/orderbook", "")
	require.Equal(t, http.StatusOK, rec.Code)
	book := decodeBody[resultOf[orderBookDTO]](t, rec).Result
	require.Len(t, book.Bids, 2)
	require.Equal(t, "20", book.Bids[0][0].String())
	require.Equal(t, "19.5", book.Bids[1][0].String())
	require.Equal(t, "20.5", book.Asks[0][0].String())
	require.Equal(t, "4", book.Asks[0][1].String())

	rec = e.do(t, http.MethodGet, "/api/markets/SOL%2FUSDC/orderbook?depth=100", "")
	require.Equal(t, http.StatusOK, rec.Code)

	for _, depth := range []string{"5", "101", "x"} {
		rec = e.do(t, http.MethodGet, "/api/markets/SOL/USDC/orderbook?depth="+depth, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, depth)
	}
}

func TestTradesAndCandles(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/markets/SOL-PERP/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trades := decodeBody[resultOf[[]archive.Trade]](t, rec).Result
	require.Len(t, trades, 1)
	require.Equal(t, "9", trades[0].ID)

	rec = e.do(t, http.MethodGet, "/api/markets/SOL-PERP/candles?resolution=1D&start_time=1700000000&end_time=1700086400", "")
	require.Equal(t, http.StatusOK, rec.Code)
	candles := decodeBody[resultOf[[]candleDTO]](t, rec).Result
	require.Len(t, candles, 2)
	require.Equal(t, testNow.Unix(), candles[1].Time)
	require.Contains(t, e.marketData.calls, "SOL-PERP 1D 2023-11-14T22:13:20Z 2023-11-15T22:13:20Z")

	rec = e.do(t, http.MethodGet, "/api/markets/SOL-PERP/candles?start_time=9&end_time=3", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrdersRendersDTO(t *testing.T) {
	e := newEnv(t)
	perp, _ := e.markets.registry.ByName("SOL-PERP")
	spot, _ := e.markets.registry.ByName("SOL/USDC")
	e.orders.open = []schema.OrderInfo{
		spotOrder(spot, schema.SideBuy, "20", "1", "11", "0"),
		{Market: schema.MarketRef{Descriptor: perp}, Order: &schema.PerpOrder{
			BookOrder: schema.BookOrder{OrderSide: schema.SideSell, PriceUI: decimal.NewFromInt(25), SizeUI: decimal.NewFromInt(2), ID: "22", ClientOrderID: "77"},
			Timestamp: time.Unix(1_700_000_000, 0),
		}},
	}

	rec := e.do(t, http.MethodGet, "/api/orders?market=SOL-PERP", "")
	require.Equal(t, http.StatusOK, rec.Code)
	raw := decodeBody[resultOf[[]map[string]any]](t, rec).Result
	require.Len(t, raw, 2)
	require.NotContains(t, raw[0], "clientId")
	require.NotContains(t, raw[0], "createdAt")
	require.Equal(t, "77", raw[1]["clientId"])
	require.Equal(t, "2023-11-14T22:13:20Z", raw[1]["createdAt"])
	require.Equal(t, "open", raw[1]["status"])

	rec = e.do(t, http.MethodGet, "/api/orders?market=DOGE-PERP", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrder(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/orders",
		`{"market":"SOL-PERP","side":"buy","price":20.5,"type":"limit","size":1.25,"ioc":true,"clientId":12}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, e.orders.placed, 1)
	req := e.orders.placed[0]
	require.Equal(t, schema.TIFIOC, req.TimeInForce)
	require.Equal(t, uint64(12), req.ClientID)
	require.True(t, req.Price.Equal(decimal.RequireFromString("20.5")))

	placed := decodeBody[resultOf[placedOrderDTO]](t, rec).Result
	require.Equal(t, "5sig", placed.Signature)
	require.Equal(t, "12", *placed.ClientID)
	require.True(t, testNow.Equal(placed.CreatedAt))
}

func TestPlaceOrderErrors(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/orders", `{"market":"DOGE/USDC","side":"buy","price":1,"size":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, e.orders.placed)

	rec = e.do(t, http.MethodPost, "/api/orders", `{"market":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	e.orders.err = errs.NotSupported("Not implemented!")
	rec = e.do(t, http.MethodPost, "/api/orders", `{"market":"SOL-PERP","side":"buy","type":"market","size":1}`)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
	require.Equal(t, "Not implemented!", decodeBody[errorBody](t, rec).Errors[0].Msg)
}

func TestCancelRoutes(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodDelete, "/api/orders/by_client_id/77", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/orders/123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cancel-123", decodeBody[resultOf[schema.Submission]](t, rec).Result.Signature)

	rec = e.do(t, http.MethodDelete, "/api/orders/404", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Order not found!", decodeBody[errorBody](t, rec).Errors[0].Msg)

	require.Equal(t, []string{"client:77", "order:123", "order:404"}, e.orders.cancelled)
}

func TestCancelAllReportsPartialFailure(t *testing.T) {
	e := newEnv(t)
	spot, _ := e.markets.registry.ByName("SOL/USDC")
	e.orders.report = orders.CancelReport{Results: []orders.CancelResult{
		{Order: spotOrder(spot, schema.SideBuy, "20", "1", "1", "0"), Submission: schema.Submission{Signature: "a"}},
		{Order: spotOrder(spot, schema.SideSell, "21", "1", "2", "5"), Err: errs.New("signer", errs.CodeSubmission, errs.WithMessage("rejected"))},
	}}

	rec := e.do(t, http.MethodDelete, "/api/orders", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody[resultOf[cancelAllDTO]](t, rec)
	require.False(t, body.Success)
	require.Len(t, body.Result.Cancelled, 1)
	require.Len(t, body.Result.Failed, 1)
	require.Equal(t, "5", body.Result.Failed[0].ClientID)
	require.Equal(t, "rejected", body.Result.Failed[0].Error)
	require.Len(t, body.Errors, 1)

	e.orders.report = orders.CancelReport{}
	rec = e.do(t, http.MethodDelete, "/api/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListFillsDegraded(t *testing.T) {
	e := newEnv(t)
	e.fills.result = fills.Result{
		Fills:    []schema.Fill{{OrderID: "1", MarketName: "SOL-PERP", Source: schema.FillRecent}},
		Degraded: true,
		Warnings: []error{errs.New("fills", errs.CodeDegraded, errs.WithMessage("archive unavailable for SOL-PERP"))},
	}

	rec := e.do(t, http.MethodGet, "/api/fills?market=SOL-PERP", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[fillsBody](t, rec)
	require.True(t, body.Degraded)
	require.Equal(t, []string{"archive unavailable for SOL-PERP"}, body.Warnings)
	require.Len(t, body.Result, 1)
	require.Equal(t, []string{"SOL-PERP"}, e.fills.names)

	e.fills.err = errs.Transport("rpc", errors.New("ledger unreachable"))
	rec = e.do(t, http.MethodGet, "/api/fills", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestListPositions(t *testing.T) {
	e := newEnv(t)
	e.positions.positions = []schema.Position{
		schema.NewPosition("SOL-PERP", -25, testLots),
	}

	rec := e.do(t, http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"success":true,"result":[{"future":"SOL-PERP","side":"short","size":"0.0025","netSize":"-0.0025","recentBreakEvenPrice":null,"recentPnl":null}]}`,
		rec.Body.String())

	e.positions.err = errs.Transport("rpc", errors.New("ledger unreachable"))
	require.Equal(t, http.StatusBadGateway, e.do(t, http.MethodGet, "/api/positions", "").Code)
	require.Equal(t, http.StatusMethodNotAllowed, e.do(t, http.MethodPost, "/api/positions", "").Code)
}

func TestListPositionsWithoutAccount(t *testing.T) {
	handler := NewHandler(Options{Markets: newEnv(t).markets})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthAndMethods(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "").Code)

	e.healthErr = errors.New("no endpoint")
	require.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/healthz", "").Code)

	rec := e.do(t, http.MethodPut, "/api/orders", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "DELETE, GET, POST", rec.Header().Get("Allow"))

	require.Equal(t, http.StatusNoContent, e.do(t, http.MethodOptions, "/api/orders", "").Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.New("orders", errs.CodeInvalid), http.StatusBadRequest},
		{errs.New("markets", errs.CodeNotFound, errs.WithCanonicalCode(errs.CanonicalInvalidSymbol)), http.StatusBadRequest},
		{errs.OrderNotFound("Order not found!"), http.StatusNotFound},
		{errs.NotSupported("x"), http.StatusNotImplemented},
		{errs.Transport("rpc", errors.New("down")), http.StatusBadGateway},
		{errs.Transport("rpc", errors.New("429"), errs.WithCanonicalCode(errs.CanonicalRateLimited)), http.StatusServiceUnavailable},
		{errs.New("fills", errs.CodeDegraded), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), "%v", tc.err)
	}
}

package orders

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/app/markets"
	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/config"
)

var testLots = schema.LotMath{BaseLotSize: 100_000, QuoteLotSize: 100, BaseDecimals: 9, QuoteDecimals: 6}

type fakeMarkets struct {
	registry *markets.Registry
	refs     map[string]schema.MarketRef
	open     [][]schema.OrderInfo
	account  *schema.Account
	loads    int
}

func (f *fakeMarkets) Registry() *markets.Registry { return f.registry }

func (f *fakeMarkets) LoadMarket(_ context.Context, name string) (schema.MarketRef, error) {
	f.loads++
	ref, ok := f.refs[name]
	if !ok {
		return schema.MarketRef{}, errs.New("markets", errs.CodeNotFound, errs.WithMessage("unknown market"))
	}
	return ref, nil
}

func (f *fakeMarkets) FetchAllMarkets(context.Context, string) (markets.MarketSet, error) {
	var set markets.MarketSet
	for _, desc := range f.registry.Markets() {
		ref := f.refs[desc.Name]
		set.Entries = append(set.Entries, markets.MarketEntry{Descriptor: desc, Market: ref.Decoded})
	}
	return set, nil
}

func (f *fakeMarkets) FetchAllBidsAndAsks(context.Context, bool, string) ([][]schema.OrderInfo, error) {
	return f.open, nil
}

func (f *fakeMarkets) RefreshAccount(context.Context) (*schema.Account, error) {
	return f.account, nil
}

type call struct {
	action string
	spot   schema.SpotOrderParams
	perp   schema.PerpOrderParams
	cancel schema.CancelParams
}

type fakeSubmitter struct {
	mu     sync.Mutex
	calls  []call
	failOn string
}

func (f *fakeSubmitter) record(c call, id string) (schema.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.failOn != "" && f.failOn == id {
		return schema.Submission{}, errs.New("signer", errs.CodeSubmission, errs.WithMessage("rejected"))
	}
	return schema.Submission{RequestID: "req", Signature: "sig-" + c.action}, nil
}

func (f *fakeSubmitter) PlaceSpotOrder(_ context.Context, p schema.SpotOrderParams) (schema.Submission, error) {
	return f.record(call{action: "placeSpot", spot: p}, "")
}

func (f *fakeSubmitter) PlacePerpOrder(_ context.Context, p schema.PerpOrderParams) (schema.Submission, error) {
	return f.record(call{action: "placePerp", perp: p}, "")
}

func (f *fakeSubmitter) CancelSpotOrder(_ context.Context, p schema.CancelParams) (schema.Submission, error) {
	return f.record(call{action: "cancelSpot", cancel: p}, p.OrderID)
}

func (f *fakeSubmitter) CancelPerpOrder(_ context.Context, p schema.CancelParams) (schema.Submission, error) {
	return f.record(call{action: "cancelPerp", cancel: p}, p.OrderID)
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	markets    *fakeMarkets
	submitter  *fakeSubmitter
	manager    *Manager
	spot, perp schema.MarketRef
	openOrders solana.PublicKey
}

func newKey() solana.PublicKey { return solana.NewWallet().PublicKey() }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	spotKey, perpKey := newKey(), newKey()
	registry, err := markets.LoadRegistry([]config.GroupConfig{{
		Name:           "mainnet.1",
		PublicKey:      newKey().String(),
		MangoProgramID: newKey().String(),
		SerumProgramID: newKey().String(),
		SpotMarkets: []config.MarketConfig{{
			Name: "SOL/USDC", PublicKey: spotKey.String(), MarketIndex: 3, BaseDecimals: 9, QuoteDecimals: 6,
		}},
		PerpMarkets: []config.MarketConfig{{
			Name: "SOL-PERP", PublicKey: perpKey.String(), MarketIndex: 3, BaseSymbol: "SOL", BaseDecimals: 9, QuoteDecimals: 6,
		}},
	}}, "mainnet.1")
	require.NoError(t, err)

	spotDesc, ok := registry.ByName("SOL/USDC")
	require.True(t, ok)
	perpDesc, ok := registry.ByName("SOL-PERP")
	require.True(t, ok)

	f := &fixture{
		spot: schema.MarketRef{Descriptor: spotDesc, Decoded: &schema.SpotMarket{
			Key: spotKey, Bids: newKey(), Asks: newKey(), EventQueue: newKey(), FeeRateBps: 22, LotMath: testLots,
		}},
		perp: schema.MarketRef{Descriptor: perpDesc, Decoded: &schema.PerpMarket{
			Key: perpKey, Bids: newKey(), Asks: newKey(), EventQueue: newKey(), LotMath: testLots,
		}},
		openOrders: newKey(),
		submitter:  &fakeSubmitter{},
	}
	f.markets = &fakeMarkets{
		registry: registry,
		refs:     map[string]schema.MarketRef{"SOL/USDC": f.spot, "SOL-PERP": f.perp},
		account:  &schema.Account{Address: newKey(), SpotOpenOrders: map[int]solana.PublicKey{3: f.openOrders}},
	}
	f.manager = NewManager(f.markets, f.submitter, nil)
	return f
}

func (f *fixture) spotOrder(id, client string, side schema.Side) schema.OrderInfo {
	return schema.OrderInfo{Market: f.spot, Order: &schema.SpotOrder{BookOrder: schema.BookOrder{
		OrderSide: side, ID: id, ClientOrderID: client, OwnerKey: f.openOrders,
	}}}
}

func (f *fixture) perpOrder(id, client string, side schema.Side) schema.OrderInfo {
	return schema.OrderInfo{Market: f.perp, Order: &schema.PerpOrder{BookOrder: schema.BookOrder{
		OrderSide: side, ID: id, ClientOrderID: client, OwnerKey: f.markets.account.Address,
	}}}
}

func limit(market string, side schema.Side, size, price string) PlaceOrderRequest {
	return PlaceOrderRequest{
		Market: market,
		Side:   side,
		Size:   decimal.RequireFromString(size),
		Price:  decimal.RequireFromString(price),
	}
}

func TestPlaceOrderRejectsMarketOrders(t *testing.T) {
	f := newFixture(t)
	req := limit("SOL-PERP", schema.SideBuy, "1", "20")
	req.Type = schema.OrderTypeMarket

	_, err := f.manager.PlaceOrder(context.Background(), req)
	require.True(t, errs.IsCode(err, errs.CodeUnsupported), "got %v", err)
	require.Zero(t, f.submitter.count())
}

func TestPlaceOrderValidatesRequest(t *testing.T) {
	f := newFixture(t)
	cases := map[string]PlaceOrderRequest{
		"side":  limit("SOL-PERP", "hold", "1", "20"),
		"size":  limit("SOL-PERP", schema.SideBuy, "0", "20"),
		"price": limit("SOL-PERP", schema.SideBuy, "1", "-1"),
		"tif":   {Market: "SOL-PERP", Side: schema.SideBuy, Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), TimeInForce: "fok"},
		"tick":  limit("SOL-PERP", schema.SideBuy, "1", "0.0001"),
		"lots":  limit("SOL-PERP", schema.SideBuy, "0.00001", "20"),
	}
	for name, req := range cases {
		_, err := f.manager.PlaceOrder(context.Background(), req)
		require.True(t, errs.IsCode(err, errs.CodeInvalid), "%s: got %v", name, err)
	}
	require.Zero(t, f.submitter.count())
}

func TestPlaceOrderUnknownMarket(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.PlaceOrder(context.Background(), limit("BTC-PERP", schema.SideBuy, "1", "20"))
	var e *errs.E
	require.True(t, errors.As(err, &e))
	require.Equal(t, errs.CanonicalInvalidSymbol, e.Canonical)
	require.Zero(t, f.markets.loads)
}

func TestPlacePerpOrderConvertsToLots(t *testing.T) {
	f := newFixture(t)
	req := limit("SOL-PERP", schema.SideSell, "1.5", "20.4")
	req.TimeInForce = schema.TIFPostOnly
	req.ClientID = 77
	req.ReduceOnly = true

	sub, err := f.manager.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "sig-placePerp", sub.Signature)
	require.Len(t, f.submitter.calls, 1)
	require.Equal(t, schema.PerpOrderParams{
		Market:       f.perp.Descriptor.Address,
		MarketIndex:  3,
		Side:         schema.SideSell,
		PriceLots:    20,
		QuantityLots: 15_000,
		TimeInForce:  schema.TIFPostOnly,
		ClientID:     77,
		ReduceOnly:   true,
	}, f.submitter.calls[0].perp)
}

func TestPlaceSpotOrderReservesFeeInclusiveQuote(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.PlaceOrder(context.Background(), limit("sol/usdc", schema.SideBuy, "1.5", "20"))
	require.NoError(t, err)
	_, err = f.manager.PlaceOrder(context.Background(), limit("SOL/USDC", schema.SideSell, "1.5", "20"))
	require.NoError(t, err)

	require.Len(t, f.submitter.calls, 2)
	buy, sell := f.submitter.calls[0].spot, f.submitter.calls[1].spot
	require.Equal(t, f.openOrders, buy.OpenOrders)
	require.Equal(t, schema.TIFLimit, buy.TimeInForce)
	require.Equal(t, int64(20), buy.LimitPriceLots)
	require.Equal(t, int64(15_000), buy.MaxBaseLots)
	// 100 * 20 * 15000 = 30_000_000, plus 22 bps.
	require.Equal(t, int64(30_066_000), buy.MaxNativeQuote)
	require.Equal(t, int64(30_000_000), sell.MaxNativeQuote)
}

func TestPlaceOrderWithoutSubmitter(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.markets, nil, nil)

	_, err := m.PlaceOrder(context.Background(), limit("SOL-PERP", schema.SideBuy, "1", "20"))
	require.True(t, errs.IsCode(err, errs.CodeUnsupported))
	_, err = m.CancelOrder(context.Background(), f.perpOrder("1", "0", schema.SideBuy), nil)
	require.True(t, errs.IsCode(err, errs.CodeUnsupported))
}

func TestCancelOrderDispatchesByKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.CancelOrder(ctx, f.spotOrder("11", "0", schema.SideBuy), nil)
	require.NoError(t, err)
	_, err = f.manager.CancelOrder(ctx, f.perpOrder("22", "5", schema.SideSell), f.perp.Decoded)
	require.NoError(t, err)

	require.Len(t, f.submitter.calls, 2)
	spot, perp := f.submitter.calls[0], f.submitter.calls[1]
	require.Equal(t, "cancelSpot", spot.action)
	require.Equal(t, f.openOrders, spot.cancel.OpenOrders)
	require.Equal(t, f.spot.Decoded.BidsAddress(), spot.cancel.Bids)
	require.Equal(t, "cancelPerp", perp.action)
	require.Equal(t, "5", perp.cancel.ClientID)
	require.True(t, perp.cancel.OpenOrders.IsZero())
	require.Equal(t, 1, f.markets.loads, "a supplied market is not reloaded")
}

func TestCancelByOrderIDNotFound(t *testing.T) {
	f := newFixture(t)
	f.markets.open = [][]schema.OrderInfo{{f.spotOrder("11", "0", schema.SideBuy)}, {f.perpOrder("22", "0", schema.SideSell)}}

	_, err := f.manager.CancelByOrderID(context.Background(), "99")
	var e *errs.E
	require.True(t, errors.As(err, &e))
	require.Equal(t, errs.CodeNotFound, e.Code)
	require.Equal(t, errs.CanonicalOrderNotFound, e.Canonical)
	require.Zero(t, f.submitter.count())
}

func TestCancelByClientIDNormalizesIDs(t *testing.T) {
	f := newFixture(t)
	f.markets.open = [][]schema.OrderInfo{{f.spotOrder("11", "0", schema.SideBuy)}, {f.perpOrder("22", "77", schema.SideSell)}}

	sub, err := f.manager.CancelByClientID(context.Background(), "077")
	require.NoError(t, err)
	require.Equal(t, "sig-cancelPerp", sub.Signature)
	require.Len(t, f.submitter.calls, 1)
	require.Equal(t, "22", f.submitter.calls[0].cancel.OrderID)

	matches, err := f.manager.OrdersByOrderID(context.Background(), "11")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, schema.KindSpot, matches[0].Kind())
}

func TestCancelAllOrdersCollectsEveryOutcome(t *testing.T) {
	f := newFixture(t)
	f.markets.open = [][]schema.OrderInfo{
		{f.spotOrder("11", "0", schema.SideBuy), f.spotOrder("12", "0", schema.SideSell)},
		{f.perpOrder("22", "0", schema.SideSell)},
	}
	f.submitter.failOn = "12"

	report, err := f.manager.CancelAllOrders(context.Background())
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeSubmission))
	require.Len(t, report.Results, 3)
	require.Equal(t, 2, report.Succeeded())
	failed := report.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, "12", failed[0].Order.Order.OrderID())
	require.Equal(t, 3, f.submitter.count(), "one failure does not stop the rest")
	require.Zero(t, f.markets.loads, "markets come from the bulk fetch")
}

func TestCancelAllOrdersWithNothingOpen(t *testing.T) {
	f := newFixture(t)
	report, err := f.manager.CancelAllOrders(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Results)
}

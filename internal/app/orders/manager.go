// Package orders places and cancels orders for the margin account.
package orders

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/app/markets"
	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/observability"
)

const component = "orders"

// Markets is the read side the manager resolves orders through.
type Markets interface {
	Registry() *markets.Registry
	LoadMarket(ctx context.Context, name string) (schema.MarketRef, error)
	FetchAllMarkets(ctx context.Context, name string) (markets.MarketSet, error)
	FetchAllBidsAndAsks(ctx context.Context, ownOnly bool, name string) ([][]schema.OrderInfo, error)
	RefreshAccount(ctx context.Context) (*schema.Account, error)
}

// Submitter signs and submits state-changing instructions.
type Submitter interface {
	PlaceSpotOrder(ctx context.Context, params schema.SpotOrderParams) (schema.Submission, error)
	PlacePerpOrder(ctx context.Context, params schema.PerpOrderParams) (schema.Submission, error)
	CancelSpotOrder(ctx context.Context, params schema.CancelParams) (schema.Submission, error)
	CancelPerpOrder(ctx context.Context, params schema.CancelParams) (schema.Submission, error)
}

// PlaceOrderRequest is a logical order; the manager derives the venue shape.
type PlaceOrderRequest struct {
	Market      string
	Type        schema.OrderType
	Side        schema.Side
	Size        decimal.Decimal
	Price       decimal.Decimal
	TimeInForce schema.TimeInForce
	ClientID    uint64
	ReduceOnly  bool
}

// Manager drives placement and cancellation.
type Manager struct {
	markets   Markets
	submitter Submitter
	logger    *log.Logger
	metrics   *orderMetrics
}

// NewManager wires a Manager. A nil submitter leaves the manager read-only:
// lookups work and every state change fails as unsupported.
func NewManager(m Markets, submitter Submitter, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		markets:   m,
		submitter: submitter,
		logger:    logger,
		metrics:   newOrderMetrics(),
	}
}

// PlaceOrder validates req, resolves its market and submits it.
func (m *Manager) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (sub schema.Submission, err error) {
	defer func() {
		m.metrics.recordPlace(ctx, req.Market, string(req.Side), string(req.TimeInForce), err)
	}()

	if req.Type == schema.OrderTypeMarket {
		return schema.Submission{}, errs.NotSupported("Not implemented!")
	}
	if req.Type == "" {
		req.Type = schema.OrderTypeLimit
	}
	if req.Type != schema.OrderTypeLimit {
		return schema.Submission{}, invalid(fmt.Sprintf("unknown order type %q", req.Type))
	}
	if !req.Side.Valid() {
		return schema.Submission{}, invalid(fmt.Sprintf("side must be buy or sell, got %q", req.Side))
	}
	switch req.TimeInForce {
	case "":
		req.TimeInForce = schema.TIFLimit
	case schema.TIFLimit, schema.TIFIOC, schema.TIFPostOnly:
	default:
		return schema.Submission{}, invalid(fmt.Sprintf("unknown time in force %q", req.TimeInForce))
	}
	if !req.Size.IsPositive() {
		return schema.Submission{}, invalid("size must be positive")
	}
	if !req.Price.IsPositive() {
		return schema.Submission{}, invalid("limit orders require a positive price")
	}
	if m.submitter == nil {
		return schema.Submission{}, errs.NotSupported("order submission is not configured")
	}

	desc, err := m.resolve(req.Market)
	if err != nil {
		return schema.Submission{}, err
	}
	ref, err := m.markets.LoadMarket(ctx, desc.Name)
	if err != nil {
		return schema.Submission{}, err
	}

	switch desc.Kind {
	case schema.KindPerp:
		sub, err = m.placePerp(ctx, req, ref)
	case schema.KindSpot:
		sub, err = m.placeSpot(ctx, req, ref)
	default:
		return schema.Submission{}, kindMismatch(ref)
	}
	if err != nil {
		m.logger.Printf("place %s %s %s@%s on %s failed: %v", req.Side, req.TimeInForce, req.Size, req.Price, desc.Name, err)
		return sub, err
	}
	m.logger.Printf("placed %s %s %s@%s on %s: %s", req.Side, req.TimeInForce, req.Size, req.Price, desc.Name, sub.Signature)
	return sub, nil
}

func (m *Manager) placePerp(ctx context.Context, req PlaceOrderRequest, ref schema.MarketRef) (schema.Submission, error) {
	params, err := perpParams(req, ref)
	if err != nil {
		return schema.Submission{}, err
	}
	return m.submitter.PlacePerpOrder(ctx, params)
}

func (m *Manager) placeSpot(ctx context.Context, req PlaceOrderRequest, ref schema.MarketRef) (schema.Submission, error) {
	acct, err := m.markets.RefreshAccount(ctx)
	if err != nil {
		return schema.Submission{}, err
	}
	params, err := spotParams(req, ref, acct)
	if err != nil {
		return schema.Submission{}, err
	}
	return m.submitter.PlaceSpotOrder(ctx, params)
}

// resolve maps "SOL-PERP" to the perp market of base SOL and "SOL/USDC" to
// the spot market of base SOL.
func (m *Manager) resolve(name string) (schema.MarketDescriptor, error) {
	kind, sep := schema.KindSpot, "/"
	if strings.Contains(name, "PERP") {
		kind, sep = schema.KindPerp, "-"
	}
	base, _, _ := strings.Cut(name, sep)
	desc, ok := m.markets.Registry().ByBaseSymbolAndKind(base, kind)
	if !ok {
		return schema.MarketDescriptor{}, errs.New(component, errs.CodeInvalid,
			errs.WithMessage("unknown market"),
			errs.WithCanonicalCode(errs.CanonicalInvalidSymbol),
			errs.WithField("market", name))
	}
	return desc, nil
}

// CancelOrder cancels one resting order. market may carry an already decoded
// market for the order; it is loaded when nil.
func (m *Manager) CancelOrder(ctx context.Context, info schema.OrderInfo, market schema.DecodedMarket) (sub schema.Submission, err error) {
	desc := info.Market.Descriptor
	defer func() {
		m.metrics.recordCancel(ctx, desc.Name, string(info.Order.Side()), err)
	}()
	if m.submitter == nil {
		return schema.Submission{}, errs.NotSupported("order submission is not configured")
	}
	if market == nil {
		ref, err := m.markets.LoadMarket(ctx, desc.Name)
		if err != nil {
			return schema.Submission{}, err
		}
		market = ref.Decoded
	}

	params := cancelParams(info, market)
	switch order := info.Order.(type) {
	case *schema.SpotOrder:
		if desc.Kind != schema.KindSpot {
			return schema.Submission{}, kindMismatch(info.Market)
		}
		sub, err = m.submitter.CancelSpotOrder(ctx, params)
	case *schema.PerpOrder:
		if desc.Kind != schema.KindPerp {
			return schema.Submission{}, kindMismatch(info.Market)
		}
		sub, err = m.submitter.CancelPerpOrder(ctx, params)
	default:
		return schema.Submission{}, fmt.Errorf("cancel order: unsupported order type %T", order)
	}
	if err != nil {
		m.logger.Printf("cancel %s on %s failed: %v", params.OrderID, desc.Name, err)
		return sub, err
	}
	m.logger.Printf("cancelled %s on %s: %s", params.OrderID, desc.Name, sub.Signature)
	return sub, nil
}

// CancelResult is the outcome of one cancellation in a bulk cancel.
type CancelResult struct {
	Order      schema.OrderInfo
	Submission schema.Submission
	Err        error
}

// CancelReport lists every cancellation attempted by CancelAllOrders in
// registry order.
type CancelReport struct {
	Results []CancelResult
}

// Succeeded counts cancellations that were submitted.
func (r CancelReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the failed cancellations.
func (r CancelReport) Failed() []CancelResult {
	var out []CancelResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// CancelAllOrders cancels every open order of the account concurrently. One
// failure does not stop the others; the report carries each outcome and the
// returned error aggregates the failures.
func (m *Manager) CancelAllOrders(ctx context.Context) (CancelReport, error) {
	var (
		set   markets.MarketSet
		lists [][]schema.OrderInfo
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		set, err = m.markets.FetchAllMarkets(ctx, "")
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		lists, err = m.markets.FetchAllBidsAndAsks(ctx, true, "")
		return err
	})
	if err := p.Wait(); err != nil {
		return CancelReport{}, err
	}

	open := flatten(lists)
	results := iter.Map(open, func(info *schema.OrderInfo) CancelResult {
		var market schema.DecodedMarket
		if e, ok := set.ByAddress(info.Market.Descriptor.Address); ok && e.Market != nil {
			market = e.Market
		}
		sub, err := m.CancelOrder(ctx, *info, market)
		if err != nil {
			err = fmt.Errorf("%s order %s: %w", info.Market.Descriptor.Name, info.Order.OrderID(), err)
		}
		return CancelResult{Order: *info, Submission: sub, Err: err}
	})

	report := CancelReport{Results: results}
	failures := make([]error, 0, len(results))
	for _, res := range results {
		failures = append(failures, res.Err)
	}
	err := observability.AggregateErrors("cancel_all_orders", failures,
		observability.Field{Key: "orders", Value: len(results)})
	m.logger.Printf("cancel all: %d of %d cancellations submitted", report.Succeeded(), len(results))
	return report, err
}

// CancelByOrderID cancels the account's first open order with id.
func (m *Manager) CancelByOrderID(ctx context.Context, id string) (schema.Submission, error) {
	matches, err := m.OrdersByOrderID(ctx, id)
	if err != nil {
		return schema.Submission{}, err
	}
	if len(matches) == 0 {
		return schema.Submission{}, notFound("order id", id)
	}
	return m.CancelOrder(ctx, matches[0], nil)
}

// CancelByClientID cancels the account's first open order with client id.
func (m *Manager) CancelByClientID(ctx context.Context, id string) (schema.Submission, error) {
	matches, err := m.OrdersByClientID(ctx, id)
	if err != nil {
		return schema.Submission{}, err
	}
	if len(matches) == 0 {
		return schema.Submission{}, notFound("client id", id)
	}
	return m.CancelOrder(ctx, matches[0], nil)
}

// OrdersByOrderID lists the account's open orders whose order id equals id.
func (m *Manager) OrdersByOrderID(ctx context.Context, id string) ([]schema.OrderInfo, error) {
	return m.match(ctx, id, schema.Order.OrderID)
}

// OrdersByClientID lists the account's open orders whose client id equals id.
func (m *Manager) OrdersByClientID(ctx context.Context, id string) ([]schema.OrderInfo, error) {
	return m.match(ctx, id, schema.Order.ClientID)
}

// OpenOrders lists the account's open orders on markets matching name (all
// when empty).
func (m *Manager) OpenOrders(ctx context.Context, name string) ([]schema.OrderInfo, error) {
	lists, err := m.markets.FetchAllBidsAndAsks(ctx, true, name)
	if err != nil {
		return nil, err
	}
	return flatten(lists), nil
}

func (m *Manager) match(ctx context.Context, id string, field func(schema.Order) string) ([]schema.OrderInfo, error) {
	want := schema.NormalizeID(id)
	if want == "" {
		return []schema.OrderInfo{}, nil
	}
	open, err := m.OpenOrders(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]schema.OrderInfo, 0, 1)
	for _, info := range open {
		if schema.NormalizeID(field(info.Order)) == want {
			out = append(out, info)
		}
	}
	return out, nil
}

func flatten(lists [][]schema.OrderInfo) []schema.OrderInfo {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]schema.OrderInfo, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func notFound(what, id string) error {
	e := errs.OrderNotFound("Order not found!")
	errs.WithField(strings.ReplaceAll(what, " ", "_"), id)(e)
	return e
}

// Package fills merges recent on-chain fills with archived fill history.
package fills

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/gagliardetto/solana-go"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/app/markets"
	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/codec"
)

const (
	component = "fills"

	// DefaultRecentLimit bounds how many queue events are scanned per market.
	DefaultRecentLimit = 10000
)

// Archive serves fill history. Spot history is keyed by open-orders
// sub-account, perp history by margin account.
type Archive interface {
	SpotFills(ctx context.Context, openOrders solana.PublicKey) ([]schema.Fill, error)
	PerpFills(ctx context.Context, account solana.PublicKey) ([]schema.Fill, error)
}

// Recorder persists fills observed on chain.
type Recorder interface {
	RecordFills(ctx context.Context, owner solana.PublicKey, fills []schema.Fill) error
}

// Fetcher is the batched ledger read surface.
type Fetcher interface {
	FetchMany(ctx context.Context, keys []solana.PublicKey) ([]schema.RawAccount, error)
}

// MarketSource supplies decoded markets and the refreshed margin account.
type MarketSource interface {
	FetchAllMarkets(ctx context.Context, name string) (markets.MarketSet, error)
	RefreshAccount(ctx context.Context) (*schema.Account, error)
}

// Options tunes a Reconciler.
type Options struct {
	RecentLimit int
	Recorder    Recorder
	Logger      *log.Logger
}

// Result is a reconciled fill list. Degraded is set when archive history was
// unavailable for at least one market; Warnings says which.
type Result struct {
	Fills    []schema.Fill
	Degraded bool
	Warnings []error
}

// Reconciler lists the margin account's fills.
type Reconciler struct {
	markets     MarketSource
	fetcher     Fetcher
	archive     Archive
	recorder    Recorder
	recentLimit int
	logger      *log.Logger
	metrics     *fillMetrics
}

// NewReconciler wires a Reconciler.
func NewReconciler(source MarketSource, fetcher Fetcher, archive Archive, opts Options) *Reconciler {
	limit := opts.RecentLimit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Reconciler{
		markets:     source,
		fetcher:     fetcher,
		archive:     archive,
		recorder:    opts.Recorder,
		recentLimit: limit,
		logger:      logger,
		metrics:     newFillMetrics(),
	}
}

// plan is one market the account can have fills on. owner is the spot
// sub-account or the margin account for perps.
type plan struct {
	desc   schema.MarketDescriptor
	market schema.DecodedMarket
	owner  solana.PublicKey
}

type history struct {
	fills []schema.Fill
	err   error
}

// FetchAllFills returns the account's fills on every market matching name
// (all when empty): surviving recent fills in registry order followed by all
// archived fills. Ledger read failures fail the call; archive failures only
// degrade it.
func (r *Reconciler) FetchAllFills(ctx context.Context, name string) (Result, error) {
	var (
		set  markets.MarketSet
		acct *schema.Account
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		set, err = r.markets.FetchAllMarkets(ctx, name)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		acct, err = r.markets.RefreshAccount(ctx)
		if markets.IsAccountAbsent(err) {
			r.logger.Printf("margin account absent, no fills: %v", err)
			acct, err = nil, nil
		}
		return err
	})
	if err := p.Wait(); err != nil {
		return Result{}, err
	}
	if acct == nil {
		return Result{Fills: []schema.Fill{}}, nil
	}

	plans := r.plan(set, acct)
	if len(plans) == 0 {
		return Result{Fills: []schema.Fill{}}, nil
	}

	var (
		queues    []schema.RawAccount
		spotHist  []history
		perpHist  history
		wantPerps = hasPerp(plans)
	)
	p = pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		keys := make([]solana.PublicKey, len(plans))
		for i, pl := range plans {
			keys[i] = pl.market.EventQueueAddress()
		}
		var err error
		queues, err = r.fetcher.FetchMany(ctx, keys)
		return err
	})
	p.Go(func(ctx context.Context) error {
		spotHist = iter.Map(plans, func(pl *plan) history {
			if pl.desc.Kind != schema.KindSpot {
				return history{}
			}
			fills, err := r.archive.SpotFills(ctx, pl.owner)
			return history{fills: fills, err: err}
		})
		return nil
	})
	if wantPerps {
		p.Go(func(ctx context.Context) error {
			fills, err := r.archive.PerpFills(ctx, acct.Address)
			perpHist = history{fills: fills, err: err}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return Result{}, err
	}

	var res Result
	if wantPerps && perpHist.err != nil {
		r.degrade(ctx, &res, "perp", schema.KindPerp, perpHist.err)
		perpHist.fills = nil
	}

	recent := make([]schema.Fill, 0)
	historical := make([]schema.Fill, 0)
	for i, pl := range plans {
		var hist []schema.Fill
		switch pl.desc.Kind {
		case schema.KindSpot:
			if spotHist[i].err != nil {
				r.degrade(ctx, &res, pl.desc.Name, schema.KindSpot, spotHist[i].err)
			}
			hist = labelSpot(spotHist[i].fills, pl.desc)
			historical = append(historical, hist...)
		case schema.KindPerp:
			hist = perpHistoryFor(perpHist.fills, pl.desc)
		}

		mine, err := r.recent(pl, queues[i])
		if err != nil {
			r.logger.Printf("market %s: recent fills unavailable: %v", pl.desc.Name, err)
			res.Warnings = append(res.Warnings, err)
			continue
		}
		kept := survivors(mine, hist)
		r.metrics.recordDropped(ctx, pl.desc.Name, len(mine)-len(kept))
		r.metrics.recordFills(ctx, pl.desc.Name, schema.FillRecent, len(kept))
		r.metrics.recordFills(ctx, pl.desc.Name, schema.FillHistorical, len(hist))
		recent = append(recent, kept...)
		r.record(ctx, pl, kept)
	}
	if wantPerps {
		historical = append(historical, perpHistoryFor(perpHist.fills, perpFilter(plans, name))...)
	}

	res.Fills = append(recent, historical...)
	return res, nil
}

func (r *Reconciler) plan(set markets.MarketSet, acct *schema.Account) []plan {
	plans := make([]plan, 0, len(set.Entries))
	for _, e := range set.Entries {
		if e.Market == nil {
			continue
		}
		switch e.Descriptor.Kind {
		case schema.KindSpot:
			sub, ok := acct.OpenOrdersFor(e.Descriptor.MarketIndex)
			if !ok {
				continue
			}
			plans = append(plans, plan{desc: e.Descriptor, market: e.Market, owner: sub})
		case schema.KindPerp:
			plans = append(plans, plan{desc: e.Descriptor, market: e.Market, owner: acct.Address})
		}
	}
	return plans
}

func (r *Reconciler) recent(pl plan, queue schema.RawAccount) ([]schema.Fill, error) {
	if queue.Absent {
		return nil, errs.Decode(component, fmt.Sprintf("event queue %s for %s absent", queue.Address, pl.desc.Name))
	}
	lots := pl.market.Lots()
	out := make([]schema.Fill, 0)
	switch pl.desc.Kind {
	case schema.KindSpot:
		events, err := codec.DecodeSpotEvents(queue.Data, r.recentLimit)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if !ev.OpenOrders.Equals(pl.owner) {
				continue
			}
			if f, ok := spotFill(pl.desc, lots, ev); ok {
				out = append(out, f)
			}
		}
	case schema.KindPerp:
		events, err := codec.DecodePerpFills(queue.Data, r.recentLimit)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if f, ok := perpFill(pl.desc, lots, ev, pl.owner); ok {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func (r *Reconciler) record(ctx context.Context, pl plan, fills []schema.Fill) {
	if r.recorder == nil || len(fills) == 0 {
		return
	}
	if err := r.recorder.RecordFills(ctx, pl.owner, fills); err != nil {
		r.logger.Printf("market %s: record fills: %v", pl.desc.Name, err)
	}
}

func (r *Reconciler) degrade(ctx context.Context, res *Result, market string, kind schema.MarketKind, cause error) {
	r.logger.Printf("%s fill history unavailable, using recent fills only: %v", market, cause)
	r.metrics.recordDegraded(ctx, market, kind)
	res.Degraded = true
	res.Warnings = append(res.Warnings, errs.New(component, errs.CodeDegraded,
		errs.WithMessage("fill history unavailable"),
		errs.WithField("market", market),
		errs.WithCause(cause)))
}

func labelSpot(fills []schema.Fill, desc schema.MarketDescriptor) []schema.Fill {
	out := make([]schema.Fill, len(fills))
	for i, f := range fills {
		if f.MarketName == "" {
			f.MarketName = desc.Name
		}
		if f.MarketKey == "" {
			f.MarketKey = desc.Address.String()
		}
		f.MarketKind = schema.KindSpot
		out[i] = f
	}
	return out
}

// perpHistoryFor keeps archived perp fills belonging to desc. Fills that name
// no market are kept everywhere. A zero desc keeps everything.
func perpHistoryFor(fills []schema.Fill, desc schema.MarketDescriptor) []schema.Fill {
	out := make([]schema.Fill, 0, len(fills))
	for _, f := range fills {
		if desc.Name == "" || belongsTo(f, desc) {
			out = append(out, f)
		}
	}
	return out
}

func belongsTo(f schema.Fill, desc schema.MarketDescriptor) bool {
	if f.MarketName == "" && f.MarketKey == "" {
		return true
	}
	return f.MarketName == desc.Name || f.MarketKey == desc.Address.String()
}

// perpFilter selects which archived perp fills are returned: all of them
// without a market filter, else those of the one filtered market.
func perpFilter(plans []plan, name string) schema.MarketDescriptor {
	if name == "" {
		return schema.MarketDescriptor{}
	}
	for _, pl := range plans {
		if pl.desc.Kind == schema.KindPerp {
			return pl.desc
		}
	}
	return schema.MarketDescriptor{}
}

func hasPerp(plans []plan) bool {
	for _, pl := range plans {
		if pl.desc.Kind == schema.KindPerp {
			return true
		}
	}
	return false
}

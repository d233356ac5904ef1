package markets

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
)

// Fetcher is the batched ledger read surface.
type Fetcher interface {
	FetchMany(ctx context.Context, keys []solana.PublicKey) ([]schema.RawAccount, error)
}

// AccountSource refreshes the caller's margin account.
type AccountSource interface {
	Refresh(ctx context.Context) (*schema.Account, error)
}

// MarketEntry is one market of a MarketSet. Exactly one of Market and Err is set.
type MarketEntry struct {
	Descriptor schema.MarketDescriptor
	Market     schema.DecodedMarket
	Err        error
}

// Ref returns the entry as a MarketRef; Decoded is nil when decoding failed.
func (e MarketEntry) Ref() schema.MarketRef {
	return schema.MarketRef{Descriptor: e.Descriptor, Decoded: e.Market}
}

// MarketSet is the result of one market refresh, keyed by market address in
// registry order.
type MarketSet struct {
	Entries []MarketEntry
}

// ByAddress returns the entry for a market account address.
func (s MarketSet) ByAddress(address solana.PublicKey) (MarketEntry, bool) {
	for _, e := range s.Entries {
		if e.Descriptor.Address.Equals(address) {
			return e, true
		}
	}
	return MarketEntry{}, false
}

// Refs returns every entry as a MarketRef in registry order.
func (s MarketSet) Refs() []schema.MarketRef {
	out := make([]schema.MarketRef, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Ref()
	}
	return out
}

// Decoded returns the refs of the markets that decoded successfully.
func (s MarketSet) Decoded() []schema.MarketRef {
	out := make([]schema.MarketRef, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Market != nil {
			out = append(out, e.Ref())
		}
	}
	return out
}

// Service composes the registry, fetcher, decoder and normalizer into the
// whole-engine market and book reads.
type Service struct {
	registry   *Registry
	fetcher    Fetcher
	accounts   AccountSource
	decoder    Decoder
	normalizer *Normalizer
	logger     *log.Logger
	metrics    *marketMetrics
}

// NewService wires a Service. accounts may be nil when no margin account is
// configured; ownership-filtered reads then fail.
func NewService(registry *Registry, fetcher Fetcher, accounts AccountSource, normalizer *Normalizer, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if normalizer == nil {
		normalizer = NewNormalizer(logger, nil)
	}
	return &Service{
		registry:   registry,
		fetcher:    fetcher,
		accounts:   accounts,
		normalizer: normalizer,
		logger:     logger,
		metrics:    newMarketMetrics(),
	}
}

// Registry returns the service's registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// FetchAllMarkets reads and decodes every market matching name (all when
// empty) in one batched read. A market that fails to decode is reported on
// its own entry and does not affect the others.
func (s *Service) FetchAllMarkets(ctx context.Context, name string) (set MarketSet, err error) {
	start := time.Now()
	defer func() { s.metrics.recordFetch(ctx, "fetch_markets", time.Since(start), err) }()

	descs := s.registry.Filter(name)
	if len(descs) == 0 {
		return MarketSet{Entries: []MarketEntry{}}, nil
	}
	keys := make([]solana.PublicKey, len(descs))
	for i, d := range descs {
		keys[i] = d.Address
	}
	raws, err := s.fetcher.FetchMany(ctx, keys)
	if err != nil {
		return MarketSet{}, err
	}
	return MarketSet{Entries: s.decodeAll(descs, raws)}, nil
}

// LoadMarket reads and decodes one market by name.
func (s *Service) LoadMarket(ctx context.Context, name string) (schema.MarketRef, error) {
	desc, err := s.registry.Resolve(name)
	if err != nil {
		return schema.MarketRef{}, err
	}
	raws, err := s.fetcher.FetchMany(ctx, []solana.PublicKey{desc.Address})
	if err != nil {
		return schema.MarketRef{}, err
	}
	market, err := s.decoder.Decode(desc, raws[0])
	s.metrics.recordDecode(desc, err)
	if err != nil {
		return schema.MarketRef{}, err
	}
	return schema.MarketRef{Descriptor: desc, Decoded: market}, nil
}

// RefreshAccount re-reads the caller's margin account.
func (s *Service) RefreshAccount(ctx context.Context) (*schema.Account, error) {
	if s.accounts == nil {
		return nil, errNoAccount()
	}
	return s.accounts.Refresh(ctx)
}

// FetchAllBidsAndAsks returns one order list per market matching name (all
// when empty), in registry order. Markets and book sides are read together
// in one batch wherever the registry already knows the book addresses. With
// ownOnly set the margin account is refreshed first, concurrently with the
// book read, and only its orders are kept.
func (s *Service) FetchAllBidsAndAsks(ctx context.Context, ownOnly bool, name string) (lists [][]schema.OrderInfo, err error) {
	start := time.Now()
	defer func() { s.metrics.recordFetch(ctx, "fetch_books", time.Since(start), err) }()

	descs := s.registry.Filter(name)
	if len(descs) == 0 {
		return [][]schema.OrderInfo{}, nil
	}
	if ownOnly && s.accounts == nil {
		return nil, errNoAccount()
	}

	var (
		owner    *schema.Account
		entries  []MarketEntry
		accounts map[solana.PublicKey]schema.RawAccount
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	if ownOnly {
		p.Go(func(ctx context.Context) error {
			acct, err := s.ownedAccount(ctx)
			owner = acct
			return err
		})
	}
	p.Go(func(ctx context.Context) error {
		var err error
		entries, accounts, err = s.readBooks(ctx, descs)
		return err
	})
	if err := p.Wait(); err != nil {
		return nil, err
	}

	refs := make([]schema.MarketRef, len(entries))
	for i, e := range entries {
		refs[i] = e.Ref()
	}
	return s.normalizer.ListOrders(refs, accounts, owner), nil
}

// FetchPositions returns the margin account's open perp positions in registry
// order. A margin account missing on chain holds none.
func (s *Service) FetchPositions(ctx context.Context) (positions []schema.Position, err error) {
	start := time.Now()
	defer func() { s.metrics.recordFetch(ctx, "fetch_positions", time.Since(start), err) }()

	if s.accounts == nil {
		return nil, errNoAccount()
	}
	var descs []schema.MarketDescriptor
	for _, d := range s.registry.Filter("") {
		if d.Kind == schema.KindPerp {
			descs = append(descs, d)
		}
	}

	var (
		owner   *schema.Account
		entries []MarketEntry
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		acct, err := s.ownedAccount(ctx)
		owner = acct
		return err
	})
	if len(descs) > 0 {
		p.Go(func(ctx context.Context) error {
			keys := make([]solana.PublicKey, len(descs))
			for i, d := range descs {
				keys[i] = d.Address
			}
			raws, err := s.fetcher.FetchMany(ctx, keys)
			if err != nil {
				return err
			}
			entries = s.decodeAll(descs, raws)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	positions = []schema.Position{}
	for _, e := range entries {
		lots := owner.PerpBasePositions[e.Descriptor.MarketIndex]
		if lots == 0 {
			continue
		}
		if e.Market == nil {
			s.logger.Printf("market %s: position of %d lots skipped, market not decoded", e.Descriptor.Name, lots)
			continue
		}
		positions = append(positions, schema.NewPosition(e.Descriptor.DisplayName(), lots, e.Market.Lots()))
	}
	return positions, nil
}

// readBooks fetches markets and their book sides. Known book addresses ride
// along with the market accounts; the rest are read in a second batch once
// the market headers are decoded.
func (s *Service) readBooks(ctx context.Context, descs []schema.MarketDescriptor) ([]MarketEntry, map[solana.PublicKey]schema.RawAccount, error) {
	keys := make([]solana.PublicKey, 0, len(descs)*3)
	for _, d := range descs {
		keys = append(keys, d.Address)
	}
	for _, d := range descs {
		if !d.BidsAddress.IsZero() && !d.AsksAddress.IsZero() {
			keys = append(keys, d.BidsAddress, d.AsksAddress)
		}
	}
	raws, err := s.fetcher.FetchMany(ctx, keys)
	if err != nil {
		return nil, nil, err
	}
	accounts := make(map[solana.PublicKey]schema.RawAccount, len(raws))
	for i, raw := range raws[len(descs):] {
		accounts[keys[len(descs)+i]] = raw
	}
	entries := s.decodeAll(descs, raws[:len(descs)])

	var missing []solana.PublicKey
	for _, e := range entries {
		if e.Market == nil {
			continue
		}
		for _, side := range []solana.PublicKey{e.Market.BidsAddress(), e.Market.AsksAddress()} {
			if _, ok := accounts[side]; !ok {
				missing = append(missing, side)
			}
		}
	}
	if len(missing) > 0 {
		extra, err := s.fetcher.FetchMany(ctx, missing)
		if err != nil {
			return nil, nil, err
		}
		for i, raw := range extra {
			accounts[missing[i]] = raw
		}
	}
	return entries, accounts, nil
}

func (s *Service) decodeAll(descs []schema.MarketDescriptor, raws []schema.RawAccount) []MarketEntry {
	indexes := make([]int, len(descs))
	for i := range indexes {
		indexes[i] = i
	}
	return iter.Map(indexes, func(i *int) MarketEntry {
		desc := descs[*i]
		market, err := s.decoder.Decode(desc, raws[*i])
		s.metrics.recordDecode(desc, err)
		if err != nil {
			s.logger.Printf("market %s: %v", desc.Name, err)
			return MarketEntry{Descriptor: desc, Err: err}
		}
		return MarketEntry{Descriptor: desc, Market: market}
	})
}

// ownedAccount refreshes the margin account for an ownership filter. A margin
// account missing on chain owns nothing.
func (s *Service) ownedAccount(ctx context.Context) (*schema.Account, error) {
	acct, err := s.accounts.Refresh(ctx)
	if IsAccountAbsent(err) {
		s.logger.Printf("margin account absent, no owned orders: %v", err)
		return &schema.Account{SpotOpenOrders: map[int]solana.PublicKey{}}, nil
	}
	return acct, err
}

// IsAccountAbsent reports whether err says the margin account does not exist on chain.
func IsAccountAbsent(err error) bool {
	return errs.IsCode(err, errs.CodeNotFound) && errs.CanonicalOf(err) == errs.CanonicalAccountAbsent
}

func errNoAccount() error {
	return errs.New(component, errs.CodeConfig,
		errs.WithMessage("no margin account configured"),
		errs.WithCanonicalCode(errs.CanonicalAccountAbsent))
}

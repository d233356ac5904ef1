package markets

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/codec/codectest"
	"github.com/coachpo/mangogate/internal/infra/config"
	"github.com/coachpo/mangogate/internal/infra/rpc"
)

type fakeLedger struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	calls    [][]solana.PublicKey
	err      error
}

func (f *fakeLedger) FetchMany(_ context.Context, keys []solana.PublicKey) ([]schema.RawAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, append([]solana.PublicKey(nil), keys...))
	out := make([]schema.RawAccount, len(keys))
	for i, k := range keys {
		data, ok := f.accounts[k]
		out[i] = schema.RawAccount{Address: k, Data: data, Absent: !ok}
	}
	return out, nil
}

func (f *fakeLedger) ProgramAccounts(context.Context, solana.PublicKey, ...rpc.MemcmpFilter) ([]schema.RawAccount, error) {
	return nil, nil
}

type fakeAccount struct {
	acct  *schema.Account
	err   error
	calls int
}

func (f *fakeAccount) Refresh(context.Context) (*schema.Account, error) {
	f.calls++
	return f.acct, f.err
}

func newKey() solana.PublicKey { return solana.NewWallet().PublicKey() }

// world is a two-market group: SOL/USDC spot without configured book keys
// and SOL-PERP with them.
type world struct {
	ledger   *fakeLedger
	registry *Registry
	account  *fakeAccount

	spot, spotBids, spotAsks solana.PublicKey
	perp, perpBids, perpAsks solana.PublicKey
	accountAddr, subAccount  solana.PublicKey
	stranger                 solana.PublicKey
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		spot: newKey(), spotBids: newKey(), spotAsks: newKey(),
		perp: newKey(), perpBids: newKey(), perpAsks: newKey(),
		accountAddr: newKey(), subAccount: newKey(), stranger: newKey(),
	}
	groups := []config.GroupConfig{{
		Name:           "mainnet.1",
		PublicKey:      newKey().String(),
		MangoProgramID: newKey().String(),
		SerumProgramID: newKey().String(),
		QuoteSymbol:    "USDC",
		SpotMarkets: []config.MarketConfig{{
			Name: "SOL/USDC", PublicKey: w.spot.String(), MarketIndex: 3,
			BaseDecimals: 9, QuoteDecimals: 6,
		}},
		PerpMarkets: []config.MarketConfig{{
			Name: "SOL-PERP", PublicKey: w.perp.String(), MarketIndex: 3,
			BaseSymbol: "SOL", BaseDecimals: 9, QuoteDecimals: 6,
			BidsKey: w.perpBids.String(), AsksKey: w.perpAsks.String(), EventsKey: newKey().String(),
		}},
	}}
	registry, err := LoadRegistry(groups, "mainnet.1")
	require.NoError(t, err)
	w.registry = registry

	w.ledger = &fakeLedger{accounts: map[solana.PublicKey][]byte{
		w.spot: codectest.SpotMarketAccount(codectest.SerumMarket{
			Bids: w.spotBids, Asks: w.spotAsks, EventQueue: newKey(),
			BaseLotSize: 100_000, QuoteLotSize: 100,
		}),
		w.spotBids: codectest.SpotBookAccount(true,
			codectest.Leaf{PriceLots: 100, Seq: 1, Owner: w.subAccount, Quantity: 5},
			codectest.Leaf{PriceLots: 101, Seq: 2, Owner: w.stranger, Quantity: 3},
		),
		w.spotAsks: codectest.SpotBookAccount(false,
			codectest.Leaf{PriceLots: 110, Seq: 3, Owner: w.subAccount, Quantity: 1},
		),
		w.perp: codectest.PerpMarketAccount(codectest.PerpMarket{
			Bids: w.perpBids, Asks: w.perpAsks, EventQueue: newKey(),
			BaseLotSize: 100_000, QuoteLotSize: 100,
		}),
		w.perpBids: codectest.PerpBookAccount(true,
			codectest.Leaf{PriceLots: 50, Seq: 1, Owner: w.accountAddr, Quantity: 2},
		),
		w.perpAsks: codectest.PerpBookAccount(false,
			codectest.Leaf{PriceLots: 60, Seq: 2, Owner: w.stranger, Quantity: 4},
			codectest.Leaf{PriceLots: 55, Seq: 3, Owner: w.accountAddr, Quantity: 1, ClientOrderID: 77},
		),
	}}
	w.account = &fakeAccount{acct: &schema.Account{
		Address:        w.accountAddr,
		SpotOpenOrders: map[int]solana.PublicKey{3: w.subAccount},
	}}
	return w
}

func (w *world) service() *Service {
	now := func() time.Time { return time.Unix(1_700_000_000, 0) }
	return NewService(w.registry, w.ledger, w.account, NewNormalizer(nil, now), nil)
}

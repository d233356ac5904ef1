// Package account resolves and refreshes the caller's margin account.
package account

import (
	"context"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/codec"
	"github.com/coachpo/mangogate/internal/infra/rpc"
)

const (
	component = "account"

	groupOffset = 8
	ownerOffset = 40
)

// Fetcher is the ledger read surface the loader needs.
type Fetcher interface {
	FetchMany(ctx context.Context, keys []solana.PublicKey) ([]schema.RawAccount, error)
	ProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.MemcmpFilter) ([]schema.RawAccount, error)
}

// Discover lists the margin accounts owner holds in group, sorted by address,
// and returns preferred when it is one of them, otherwise the first.
func Discover(ctx context.Context, fetcher Fetcher, program, group, owner solana.PublicKey, preferred string) (solana.PublicKey, error) {
	accounts, err := fetcher.ProgramAccounts(ctx, program,
		rpc.MemcmpFilter{Offset: groupOffset, Bytes: group},
		rpc.MemcmpFilter{Offset: ownerOffset, Bytes: owner},
	)
	if err != nil {
		return solana.PublicKey{}, err
	}
	keys := make([]solana.PublicKey, 0, len(accounts))
	for _, acct := range accounts {
		keys = append(keys, acct.Address)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	if preferred = strings.TrimSpace(preferred); preferred != "" {
		want, err := solana.PublicKeyFromBase58(preferred)
		if err != nil {
			return solana.PublicKey{}, errs.Config("invalid margin account address", errs.WithCause(err), errs.WithField("account", preferred))
		}
		for _, key := range keys {
			if key.Equals(want) {
				return key, nil
			}
		}
		return solana.PublicKey{}, errs.Config("margin account not owned by wallet",
			errs.WithField("account", preferred), errs.WithField("owner", owner.String()))
	}
	if len(keys) == 0 {
		return solana.PublicKey{}, errs.Config("wallet has no margin account in group",
			errs.WithField("owner", owner.String()), errs.WithField("group", group.String()))
	}
	return keys[0], nil
}

// Loader re-reads one margin account and its spot open-orders sub-accounts.
type Loader struct {
	fetcher Fetcher
	address solana.PublicKey
	logger  *log.Logger
}

// NewLoader binds a Loader to the margin account at address.
func NewLoader(fetcher Fetcher, address solana.PublicKey, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Loader{fetcher: fetcher, address: address, logger: logger}
}

// Address returns the margin account address.
func (l *Loader) Address() solana.PublicKey {
	return l.address
}

// Refresh reads the margin account and keeps the spot sub-accounts that exist
// on chain as initialized open-orders accounts, along with its open perp
// positions.
func (l *Loader) Refresh(ctx context.Context) (*schema.Account, error) {
	raws, err := l.fetcher.FetchMany(ctx, []solana.PublicKey{l.address})
	if err != nil {
		return nil, err
	}
	if len(raws) != 1 || raws[0].Absent {
		return nil, errs.New(component, errs.CodeNotFound,
			errs.WithMessage("margin account not found"),
			errs.WithCanonicalCode(errs.CanonicalAccountAbsent),
			errs.WithField("account", l.address.String()))
	}
	view, err := codec.DecodeMangoAccount(raws[0].Data)
	if err != nil {
		return nil, err
	}

	indexes := make([]int, 0, len(view.SpotOpenOrders))
	keys := make([]solana.PublicKey, 0, len(view.SpotOpenOrders))
	for idx, key := range view.SpotOpenOrders {
		if key.IsZero() {
			continue
		}
		indexes = append(indexes, idx)
		keys = append(keys, key)
	}

	acct := &schema.Account{
		Address:           l.address,
		Owner:             view.Owner,
		Group:             view.Group,
		SpotOpenOrders:    make(map[int]solana.PublicKey, len(keys)),
		PerpBasePositions: make(map[int]int64),
	}
	for idx, pa := range view.PerpAccounts {
		if pa.BasePositionLots != 0 {
			acct.PerpBasePositions[idx] = pa.BasePositionLots
		}
	}
	if len(keys) == 0 {
		return acct, nil
	}
	sub, err := l.fetcher.FetchMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	for i, raw := range sub {
		if raw.Absent || !codec.IsOpenOrdersAccount(raw.Data) {
			l.logger.Printf("margin account %s: open orders %s for market %d missing, ignored", l.address, keys[i], indexes[i])
			continue
		}
		acct.SpotOpenOrders[indexes[i]] = keys[i]
	}
	return acct, nil
}

// Owns reports whether owner is the account's wallet.
func Owns(acct *schema.Account, owner solana.PublicKey) bool {
	return acct != nil && acct.Owner.Equals(owner)
}

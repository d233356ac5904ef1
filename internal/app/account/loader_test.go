package account

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/mangogate/errs"
	"github.com/coachpo/mangogate/internal/domain/schema"
	"github.com/coachpo/mangogate/internal/infra/codec/codectest"
	"github.com/coachpo/mangogate/internal/infra/rpc"
)

type ledger struct {
	accounts map[solana.PublicKey][]byte
	fetches  [][]solana.PublicKey
	err      error
}

func (l *ledger) FetchMany(_ context.Context, keys []solana.PublicKey) ([]schema.RawAccount, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.fetches = append(l.fetches, keys)
	out := make([]schema.RawAccount, len(keys))
	for i, k := range keys {
		data, ok := l.accounts[k]
		out[i] = schema.RawAccount{Address: k, Data: data, Absent: !ok}
	}
	return out, nil
}

func (l *ledger) ProgramAccounts(_ context.Context, _ solana.PublicKey, filters ...rpc.MemcmpFilter) ([]schema.RawAccount, error) {
	var out []schema.RawAccount
	for key, data := range l.accounts {
		match := true
		for _, f := range filters {
			end := int(f.Offset) + 32
			if len(data) < end || solana.PublicKeyFromBytes(data[f.Offset:end]) != f.Bytes {
				match = false
				break
			}
		}
		if match {
			out = append(out, schema.RawAccount{Address: key, Data: data})
		}
	}
	return out, nil
}

func newKey() solana.PublicKey { return solana.NewWallet().PublicKey() }

func TestDiscoverSortsAndPrefers(t *testing.T) {
	group, owner, other := newKey(), newKey(), newKey()
	l := &ledger{accounts: map[solana.PublicKey][]byte{}}
	var mine []solana.PublicKey
	for i := 0; i < 3; i++ {
		k := newKey()
		mine = append(mine, k)
		l.accounts[k] = codectest.MangoAccount(group, owner, nil)
	}
	l.accounts[newKey()] = codectest.MangoAccount(group, other, nil)
	l.accounts[newKey()] = codectest.MangoAccount(newKey(), owner, nil)

	first := mine[0]
	for _, k := range mine[1:] {
		if k.String() < first.String() {
			first = k
		}
	}

	got, err := Discover(context.Background(), l, newKey(), group, owner, "")
	require.NoError(t, err)
	require.Equal(t, first, got)

	got, err = Discover(context.Background(), l, newKey(), group, owner, mine[2].String())
	require.NoError(t, err)
	require.Equal(t, mine[2], got)
}

func TestDiscoverFailures(t *testing.T) {
	group, owner := newKey(), newKey()
	l := &ledger{accounts: map[solana.PublicKey][]byte{}}

	_, err := Discover(context.Background(), l, newKey(), group, owner, "")
	require.True(t, errs.IsCode(err, errs.CodeConfig))

	l.accounts[newKey()] = codectest.MangoAccount(group, owner, nil)
	_, err = Discover(context.Background(), l, newKey(), group, owner, newKey().String())
	require.True(t, errs.IsCode(err, errs.CodeConfig))

	_, err = Discover(context.Background(), l, newKey(), group, owner, "not-base58!")
	require.True(t, errs.IsCode(err, errs.CodeConfig))
}

func TestRefreshKeepsLiveOpenOrders(t *testing.T) {
	group, owner, address := newKey(), newKey(), newKey()
	live, missing, wrong := newKey(), newKey(), newKey()
	l := &ledger{accounts: map[solana.PublicKey][]byte{
		address: codectest.MangoAccount(group, owner, map[int]solana.PublicKey{1: live, 3: missing, 5: wrong}),
		live:    codectest.OpenOrdersAccount(newKey(), address),
		wrong:   make([]byte, 200),
	}}

	acct, err := NewLoader(l, address, nil).Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, owner, acct.Owner)
	require.Equal(t, group, acct.Group)
	require.True(t, Owns(acct, owner))

	key, ok := acct.OpenOrdersFor(1)
	require.True(t, ok)
	require.Equal(t, live, key)
	_, ok = acct.OpenOrdersFor(3)
	require.False(t, ok)
	_, ok = acct.OpenOrdersFor(5)
	require.False(t, ok)

	require.Len(t, l.fetches, 2)
	require.Len(t, l.fetches[1], 3, "only non-zero sub-accounts are read")
}

func TestRefreshWithoutSubAccountsIsOneRead(t *testing.T) {
	address := newKey()
	l := &ledger{accounts: map[solana.PublicKey][]byte{
		address: codectest.MangoAccount(newKey(), newKey(), nil),
	}}
	acct, err := NewLoader(l, address, nil).Refresh(context.Background())
	require.NoError(t, err)
	require.Empty(t, acct.SpotOpenOrders)
	require.Len(t, l.fetches, 1)
}

func TestRefreshErrors(t *testing.T) {
	address := newKey()
	l := &ledger{accounts: map[solana.PublicKey][]byte{}}
	_, err := NewLoader(l, address, nil).Refresh(context.Background())
	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CanonicalAccountAbsent, e.Canonical)

	l.accounts[address] = []byte{1, 2, 3}
	_, err = NewLoader(l, address, nil).Refresh(context.Background())
	require.True(t, errs.IsCode(err, errs.CodeDecode))

	boom := errors.New("transport down")
	_, err = NewLoader(&ledger{err: boom}, address, nil).Refresh(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestRefreshReadsPerpPositions(t *testing.T) {
	address := newKey()
	raw := codectest.MangoAccount(newKey(), newKey(), nil)
	codectest.SetPerpBasePosition(raw, 3, -25)
	l := &ledger{accounts: map[solana.PublicKey][]byte{address: raw}}

	acct, err := NewLoader(l, address, nil).Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[int]int64{3: -25}, acct.PerpBasePositions)
}

package rpc

import (
	"context"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/coachpo/mangogate/internal/domain/schema"
)

// Fetcher reads accounts through whichever client the pool currently holds.
type Fetcher struct {
	pool *EndpointPool
}

// NewFetcher binds a Fetcher to pool.
func NewFetcher(pool *EndpointPool) *Fetcher {
	return &Fetcher{pool: pool}
}

// FetchMany reads keys in as few round trips as the chunk size allows.
func (f *Fetcher) FetchMany(ctx context.Context, keys []solana.PublicKey) ([]schema.RawAccount, error) {
	return f.pool.Current().GetMultipleAccounts(ctx, keys)
}

// ProgramAccounts lists accounts owned by program matching filters.
func (f *Fetcher) ProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...MemcmpFilter) ([]schema.RawAccount, error) {
	return f.pool.Current().GetProgramAccounts(ctx, program, filters...)
}

// SignatureStatuses reports confirmation state for signatures.
func (f *Fetcher) SignatureStatuses(ctx context.Context, signatures ...string) ([]*solanarpc.SignatureStatusesResult, error) {
	return f.pool.Current().GetSignatureStatuses(ctx, signatures...)
}

// WSEndpoint returns the pubsub URL of the current client.
func (f *Fetcher) WSEndpoint() string {
	return f.pool.Current().WSEndpoint()
}

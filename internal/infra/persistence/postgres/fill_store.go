package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coachpo/mangogate/internal/domain/schema"
)

// FillStore is the Postgres-backed fill archive. Spot fills are keyed by the
// open-orders sub-account, perp fills by the margin account.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore constructs a FillStore backed by the provided pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const (
	fillInsertSQL = `
INSERT INTO fills (
    owner_address,
    market_kind,
    market_name,
    market_address,
    order_id,
    seq_num,
    client_order_id,
    side,
    price,
    size,
    fee_cost,
    maker,
    counterparty,
    traded_at
)
VALUES (
    @owner,
    @kind,
    @market_name,
    @market_address,
    @order_id,
    @seq_num,
    @client_order_id,
    @side,
    @price::numeric,
    @size::numeric,
    @fee_cost::numeric,
    @maker,
    @counterparty,
    @traded_at
)
ON CONFLICT ON CONSTRAINT fills_identity DO NOTHING;
`

	fillSelectSQL = `
SELECT
    market_kind,
    market_name,
    market_address,
    order_id,
    seq_num,
    client_order_id,
    side,
    price::text,
    size::text,
    fee_cost::text,
    maker,
    counterparty,
    traded_at
FROM fills
WHERE owner_address = @owner AND market_kind = @kind
ORDER BY traded_at DESC NULLS LAST, id DESC
LIMIT @limit;
`

	defaultFillLimit = 10000
)

func (s *FillStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("fill store: nil pool")
	}
	return s.pool, nil
}

// SpotFills returns the stored fills of one open-orders sub-account, newest first.
func (s *FillStore) SpotFills(ctx context.Context, openOrders solana.PublicKey) ([]schema.Fill, error) {
	return s.list(ctx, openOrders, schema.KindSpot)
}

// PerpFills returns the stored perp fills of a margin account, newest first.
func (s *FillStore) PerpFills(ctx context.Context, account solana.PublicKey) ([]schema.Fill, error) {
	return s.list(ctx, account, schema.KindPerp)
}

func (s *FillStore) list(ctx context.Context, owner solana.PublicKey, kind schema.MarketKind) ([]schema.Fill, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, fillSelectSQL, pgx.NamedArgs{
		"owner": owner.String(),
		"kind":  string(kind),
		"limit": defaultFillLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("fill store: query %s fills: %w", kind, err)
	}
	fills, err := pgx.CollectRows(rows, scanFill)
	if err != nil {
		return nil, fmt.Errorf("fill store: scan %s fills: %w", kind, err)
	}
	return fills, nil
}

func scanFill(row pgx.CollectableRow) (schema.Fill, error) {
	var (
		fill                 schema.Fill
		kind, side           string
		price, size, feeCost string
		tradedAt             pgtype.Timestamptz
	)
	if err := row.Scan(
		&kind,
		&fill.MarketName,
		&fill.MarketKey,
		&fill.OrderID,
		&fill.SeqNum,
		&fill.ClientID,
		&side,
		&price,
		&size,
		&feeCost,
		&fill.Maker,
		&fill.Counterparty,
		&tradedAt,
	); err != nil {
		return schema.Fill{}, err
	}
	var err error
	if fill.Price, err = decimal.NewFromString(price); err != nil {
		return schema.Fill{}, fmt.Errorf("price %q: %w", price, err)
	}
	if fill.Size, err = decimal.NewFromString(size); err != nil {
		return schema.Fill{}, fmt.Errorf("size %q: %w", size, err)
	}
	if fill.FeeCost, err = decimal.NewFromString(feeCost); err != nil {
		return schema.Fill{}, fmt.Errorf("fee %q: %w", feeCost, err)
	}
	fill.MarketKind = schema.MarketKind(kind)
	fill.Side = schema.Side(side)
	if tradedAt.Valid {
		fill.Time = tradedAt.Time.UTC()
	}
	fill.Source = schema.FillHistorical
	return fill, nil
}

// RecordFills stores fills under owner in one batch. Fills already stored
// under the same identity are left untouched.
func (s *FillStore) RecordFills(ctx context.Context, owner solana.PublicKey, fills []schema.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, f := range fills {
		if !f.MarketKind.Valid() || !f.Side.Valid() {
			return fmt.Errorf("fill store: fill %s/%s has kind %q side %q", f.OrderID, f.SeqNum, f.MarketKind, f.Side)
		}
		price, size, fee, err := fillAmounts(f.Price, f.Size, f.FeeCost)
		if err != nil {
			return fmt.Errorf("fill store: fill %s/%s: %w", f.OrderID, f.SeqNum, err)
		}
		batch.Queue(fillInsertSQL, pgx.NamedArgs{
			"owner":           owner.String(),
			"kind":            string(f.MarketKind),
			"market_name":     strings.TrimSpace(f.MarketName),
			"market_address":  f.MarketKey,
			"order_id":        f.OrderID,
			"seq_num":         f.SeqNum,
			"client_order_id": f.ClientID,
			"side":            string(f.Side),
			"price":           price,
			"size":            size,
			"fee_cost":        fee,
			"maker":           f.Maker,
			"counterparty":    f.Counterparty,
			"traded_at":       nullableTime(f.Time),
		})
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("fill store: insert fills: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

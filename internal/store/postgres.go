package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradeloop/paper-engine/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id         UUID PRIMARY KEY,
	order_id   UUID NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity   BIGINT NOT NULL CHECK (quantity > 0),
	price      NUMERIC NOT NULL,
	notional   NUMERIC NOT NULL,
	filled_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS fills_symbol_idx ON fills (symbol, filled_at);
`

// PostgresStore implements Store on PostgreSQL.
// Prices and notionals are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the fills table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertFill(ctx context.Context, f *model.Fill) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fills (id, order_id, symbol, side, quantity, price, notional, filled_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		f.ID, f.OrderID, f.Symbol, string(f.Side), f.Quantity,
		f.Price.String(), f.Notional.String(), f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert fill %s: %w", f.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListFills(ctx context.Context) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, order_id::TEXT, symbol, side, quantity,
		        price::TEXT, notional::TEXT, filled_at
		 FROM fills ORDER BY filled_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

func (s *PostgresStore) FillsBySymbol(ctx context.Context, symbol string) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, order_id::TEXT, symbol, side, quantity,
		        price::TEXT, notional::TEXT, filled_at
		 FROM fills WHERE symbol = $1 ORDER BY filled_at, id`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanFills(rows)
}

// pgxRows is the subset of pgx.Rows used by scanFills.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanFills(rows pgxRows) ([]model.Fill, error) {
	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		var side, priceS, notionalS string

		if err := rows.Scan(&f.ID, &f.OrderID, &f.Symbol, &side, &f.Quantity,
			&priceS, &notionalS, &f.Timestamp); err != nil {
			return nil, err
		}

		f.Side = model.Side(side)
		f.Price, _ = decimal.NewFromString(priceS)
		f.Notional, _ = decimal.NewFromString(notionalS)

		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Package store persists the fill journal: an append-only audit trail of
// every simulated execution. The journal is never read back to rebuild
// broker state; the broker's in-memory ledger is authoritative.
package store

import (
	"context"

	"github.com/tradeloop/paper-engine/internal/model"
)

// Store is the fill journal interface.
type Store interface {
	// InsertFill appends an immutable fill record.
	InsertFill(ctx context.Context, fill *model.Fill) error

	// ListFills returns all fills in execution order.
	ListFills(ctx context.Context) ([]model.Fill, error)

	// FillsBySymbol returns the fills for one symbol in execution order.
	FillsBySymbol(ctx context.Context, symbol string) ([]model.Fill, error)
}

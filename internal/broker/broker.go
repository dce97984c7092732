// Package broker defines the Broker interface consumed by the decision
// executor and the HTTP layer, and the in-memory Paper broker that
// simulates order execution without any network access.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tradeloop/paper-engine/internal/model"
)

var (
	// ErrInvalidOrder is returned when an order request violates a
	// constraint (quantity, side, order type, price, symbol).
	ErrInvalidOrder = errors.New("broker: invalid order")

	// ErrPriceUnavailable is returned when an order omits a price and the
	// price source cannot supply one.
	ErrPriceUnavailable = errors.New("broker: price unavailable")
)

// Broker abstracts order execution and account queries.
//
// A live implementation must refresh its authentication token before any
// order call, serialized with other calls, and bound every request with a
// 10 second timeout. The paper implementation performs no I/O besides the
// injected price source.
type Broker interface {
	// Name returns the broker identifier (e.g. "paper").
	Name() string

	// PlaceOrder executes an order and returns its record.
	PlaceOrder(ctx context.Context, req OrderRequest) (model.Order, error)

	// OrderStatus looks up an order. The bool is false for unknown IDs.
	OrderStatus(ctx context.Context, orderID string) (model.Order, bool)

	// CancelOrder marks an order cancelled. The bool is false for unknown IDs.
	CancelOrder(ctx context.Context, orderID string) (model.Order, bool)

	// Positions returns all open positions marked to market.
	Positions(ctx context.Context) ([]model.PositionView, error)

	// ClosePosition flattens the position in symbol with one opposite-side
	// market order. It returns a nil order when there was nothing to close.
	ClosePosition(ctx context.Context, symbol string) (*model.Order, error)

	// Account returns the derived cash and account value.
	Account(ctx context.Context) (model.Account, error)

	// OpenSymbols returns the held symbols without consulting prices.
	OpenSymbols(ctx context.Context) []string

	// AvailableCash returns the cash balance without consulting prices.
	AvailableCash(ctx context.Context) decimal.Decimal
}

// OrderRequest is the input to PlaceOrder. Side and Kind are matched
// case-insensitively; an empty Kind means MARKET.
type OrderRequest struct {
	Symbol   string
	Quantity int64
	Side     model.Side
	Kind     model.OrderKind
	Price    decimal.NullDecimal // execution price; source price when not Valid
	Product  string              // default "MIS"
	Validity string              // default "DAY"
	Tag      string
}

// QuantityFromDecimal converts a decoded JSON quantity into whole shares.
func QuantityFromDecimal(q decimal.Decimal) (int64, error) {
	if !q.IsInteger() || !q.IsPositive() {
		return 0, fmt.Errorf("%w: quantity must be a positive integer, got %s", ErrInvalidOrder, q)
	}
	return q.IntPart(), nil
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (r OrderRequest) validate() (OrderRequest, error) {
	r.Symbol = NormalizeSymbol(r.Symbol)
	if r.Symbol == "" {
		return r, fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if r.Quantity <= 0 {
		return r, fmt.Errorf("%w: quantity must be a positive integer, got %d", ErrInvalidOrder, r.Quantity)
	}

	r.Side = model.Side(strings.ToUpper(string(r.Side)))
	if r.Side != model.SideBuy && r.Side != model.SideSell {
		return r, fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, r.Side)
	}

	r.Kind = model.OrderKind(strings.ToUpper(string(r.Kind)))
	if r.Kind == "" {
		r.Kind = model.KindMarket
	}
	if r.Kind != model.KindMarket && r.Kind != model.KindLimit {
		return r, fmt.Errorf("%w: order type must be MARKET or LIMIT, got %q", ErrInvalidOrder, r.Kind)
	}

	if r.Price.Valid && !r.Price.Decimal.IsPositive() {
		return r, fmt.Errorf("%w: price must be > 0, got %s", ErrInvalidOrder, r.Price.Decimal)
	}
	if r.Kind == model.KindLimit && !r.Price.Valid {
		return r, fmt.Errorf("%w: LIMIT order requires a price", ErrInvalidOrder)
	}

	if r.Product == "" {
		r.Product = "MIS"
	}
	if r.Validity == "" {
		r.Validity = "DAY"
	}
	return r, nil
}

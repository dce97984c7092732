// Package model defines the core domain types shared across the paper engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderKind is the execution style requested by the caller.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
)

// OrderStatus is the lifecycle state of a simulated order.
type OrderStatus string

const (
	StatusPlaced    OrderStatus = "PLACED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Order is one simulated trade request and its result.
// ID, Symbol, Side and Quantity never change once created; only Status and
// CancelledAt do.
type Order struct {
	ID             string              `json:"order_id"`
	Symbol         string              `json:"symbol"`
	Side           Side                `json:"side"`
	Quantity       int64               `json:"quantity"`
	Kind           OrderKind           `json:"order_type"`
	LimitPrice     decimal.NullDecimal `json:"price"`
	FillPrice      decimal.Decimal     `json:"fill_price"`
	Product        string              `json:"product,omitempty"`
	Validity       string              `json:"validity,omitempty"`
	Tag            string              `json:"tag,omitempty"`
	Status         OrderStatus         `json:"status"`
	FilledQuantity int64               `json:"filled_quantity"`
	CreatedAt      time.Time           `json:"timestamp"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
}

// Fill is an immutable record of a simulated execution.
type Fill struct {
	ID        string          `json:"id" db:"id"`
	OrderID   string          `json:"order_id" db:"order_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Side      Side            `json:"side" db:"side"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Notional  decimal.Decimal `json:"notional" db:"notional"` // quantity * price
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Position is the net holding in one symbol as kept by the ledger.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`  // signed: +long, -short
	AvgPrice    decimal.Decimal `json:"avg_price"` // meaningful only while Quantity != 0
	LastPrice   decimal.Decimal `json:"last_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// Position sides used in snapshots.
const (
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// PositionView is a marked-to-market, read-only snapshot row.
type PositionView struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	Side          string          `json:"side"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	MarkPrice     decimal.Decimal `json:"current_price"`
	Notional      decimal.Decimal `json:"notional"`       // |qty| * mark
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"` // (mark - avg) * qty
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
}

// Account is the derived balance of a paper account.
type Account struct {
	StartingCash   decimal.Decimal `json:"starting_cash"`
	AvailableCash  decimal.Decimal `json:"available_cash"`
	AccountValue   decimal.Decimal `json:"account_value"` // cash + Σ mark * qty
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	TotalReturnPct decimal.Decimal `json:"total_return_percent"`
	OpenPositions  int             `json:"open_positions"`
}

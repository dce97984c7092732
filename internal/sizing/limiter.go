// Package sizing implements the position sizing limits applied to trading
// decisions before they reach the broker.
//
// A decision that asks for a notional amount is scaled down so that no
// single position exceeds a fixed share of available cash times leverage,
// and leverage itself is capped. The number of concurrently open symbols is
// bounded as well.
package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMaxPositions is returned when opening a new symbol would exceed the
// maximum number of open positions.
var ErrMaxPositions = errors.New("sizing: max open positions reached")

var hundred = decimal.NewFromInt(100)

// Limiter enforces decision-side sizing limits.
type Limiter struct {
	// MaxPositionPct is the largest share of available cash, in percent,
	// a single position may use before leverage.
	MaxPositionPct decimal.Decimal

	// MaxLeverage caps the leverage a decision may request.
	MaxLeverage decimal.Decimal

	// MaxPositions is the maximum number of open symbols. Zero disables
	// the check.
	MaxPositions int
}

// NewLimiter creates a limiter. Non-positive leverage caps are raised to 1.
func NewLimiter(maxPositionPct, maxLeverage decimal.Decimal, maxPositions int) *Limiter {
	if !maxLeverage.IsPositive() {
		maxLeverage = decimal.NewFromInt(1)
	}
	return &Limiter{
		MaxPositionPct: maxPositionPct,
		MaxLeverage:    maxLeverage,
		MaxPositions:   maxPositions,
	}
}

// CapLeverage clamps requested leverage to [1, MaxLeverage]. Zero or
// negative requests mean unleveraged.
func (l *Limiter) CapLeverage(requested decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if requested.LessThan(one) {
		return one
	}
	if requested.GreaterThan(l.MaxLeverage) {
		return l.MaxLeverage
	}
	return requested
}

// MaxNotional returns cash x MaxPositionPct/100 x leverage.
func (l *Limiter) MaxNotional(cash, leverage decimal.Decimal) decimal.Decimal {
	if !cash.IsPositive() {
		return decimal.Zero
	}
	return cash.Mul(l.MaxPositionPct).Div(hundred).Mul(leverage)
}

// CapNotional returns requested, reduced to MaxNotional when larger.
func (l *Limiter) CapNotional(requested, cash, leverage decimal.Decimal) decimal.Decimal {
	limit := l.MaxNotional(cash, leverage)
	if requested.GreaterThan(limit) {
		return limit
	}
	return requested
}

// CheckOpen validates whether a decision may trade symbol given the current
// number of open positions. Trading an already held symbol is always
// allowed.
func (l *Limiter) CheckOpen(open int, held bool) error {
	if held || l.MaxPositions <= 0 {
		return nil
	}
	if open >= l.MaxPositions {
		return fmt.Errorf("%w: %d of %d", ErrMaxPositions, open, l.MaxPositions)
	}
	return nil
}

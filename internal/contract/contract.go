// Package contract holds the instrument helpers used when sizing orders:
// exchange lot sizes, lot normalization, flat margin estimates and
// derivative expiry validation. Everything here is a pure function or an
// immutable table.
package contract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExpiryLayout is the only accepted expiry date format.
const ExpiryLayout = "2006-01-02"

var (
	// ErrInvalidArgument is returned when a helper receives an argument it
	// cannot compute with, such as a non-positive leverage.
	ErrInvalidArgument = errors.New("contract: invalid argument")
)

// DefaultLotSizes are the NSE F&O lot sizes used when no table is configured.
var DefaultLotSizes = map[string]int64{
	"NIFTY":     50,
	"BANKNIFTY": 15,
}

// LotTable maps upper-case underlying symbols to their lot size.
type LotTable struct {
	sizes map[string]int64
}

// NewLotTable copies sizes into a table, upper-casing every key. A nil map
// yields DefaultLotSizes.
func NewLotTable(sizes map[string]int64) LotTable {
	if sizes == nil {
		sizes = DefaultLotSizes
	}
	t := LotTable{sizes: make(map[string]int64, len(sizes))}
	for sym, lot := range sizes {
		t.sizes[strings.ToUpper(sym)] = lot
	}
	return t
}

// LotSize returns the lot size for symbol, or 1 for cash equities and
// unknown symbols. Lookup is case-insensitive.
func (t LotTable) LotSize(symbol string) int64 {
	if symbol == "" {
		return 1
	}
	if lot, ok := t.sizes[strings.ToUpper(symbol)]; ok && lot > 0 {
		return lot
	}
	return 1
}

// NormalizeToLots rounds quantity down to a whole number of lots. A lot size
// of 1 or less leaves quantity untouched. Never rounds up.
func NormalizeToLots(quantity, lotSize int64) int64 {
	if lotSize <= 1 {
		return quantity
	}
	if quantity <= 0 {
		return 0
	}
	return (quantity / lotSize) * lotSize
}

// Margin returns the flat margin estimate |notional| / leverage.
func Margin(notional, leverage decimal.Decimal) (decimal.Decimal, error) {
	if leverage.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: leverage must be > 0, got %s", ErrInvalidArgument, leverage)
	}
	return notional.Abs().Div(leverage), nil
}

// ValidExpiry reports whether s is a YYYY-MM-DD date strictly after today.
// Malformed input returns false.
func ValidExpiry(s string) bool {
	return ValidExpiryAt(s, time.Now())
}

// ValidExpiryAt is ValidExpiry evaluated against the calendar date of now,
// in now's location.
func ValidExpiryAt(s string, now time.Time) bool {
	expiry, err := time.ParseInLocation(ExpiryLayout, s, now.Location())
	if err != nil {
		return false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return expiry.After(today)
}

// Package decision converts trading decisions from the upstream decision
// layer into broker calls.
//
// A decision is one of four variants: Buy, Sell, Close or DoNothing. Each
// carries only the fields it needs. Records arriving as JSON are validated
// by Parse at the boundary so that incomplete decisions never reach the
// broker.
package decision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tradeloop/paper-engine/internal/model"
)

// ErrInvalidDecision is returned when a decision record is missing a
// required field or carries an out-of-range value.
var ErrInvalidDecision = errors.New("decision: invalid decision")

// Action names a decision variant.
type Action string

const (
	ActionBuy       Action = "BUY"
	ActionSell      Action = "SELL"
	ActionClose     Action = "CLOSE"
	ActionDoNothing Action = "DO_NOTHING"
)

// aliases maps the agent vocabulary onto actions.
var aliases = map[string]Action{
	"BUY":            ActionBuy,
	"OPEN_LONG":      ActionBuy,
	"SELL":           ActionSell,
	"OPEN_SHORT":     ActionSell,
	"CLOSE":          ActionClose,
	"CLOSE_POSITION": ActionClose,
	"DO_NOTHING":     ActionDoNothing,
}

// Decision is implemented by Buy, Sell, Close and DoNothing.
type Decision interface {
	Action() Action
	isDecision()
}

// Size is the requested size of a trade. Exactly one field is set.
type Size struct {
	Quantity int64           // shares
	Lots     int64           // whole lots
	Notional decimal.Decimal // currency amount, converted at execution
}

// Trade holds the fields shared by Buy and Sell.
type Trade struct {
	Symbol     string
	Size       Size
	PriceHint  decimal.NullDecimal
	LotSize    int64               // 0 means look up the lot table
	Leverage   decimal.NullDecimal // unset means 1x
	Confidence decimal.NullDecimal // unset skips the confidence gate
	Reason     string
}

// Buy opens or adds to a long position.
type Buy struct{ Trade }

// Sell opens or adds to a short position.
type Sell struct{ Trade }

// Close flattens the position in Symbol.
type Close struct {
	Symbol string
	Reason string
}

// DoNothing never reaches the broker.
type DoNothing struct {
	Reason string
}

func (Buy) Action() Action       { return ActionBuy }
func (Sell) Action() Action      { return ActionSell }
func (Close) Action() Action     { return ActionClose }
func (DoNothing) Action() Action { return ActionDoNothing }

func (Buy) isDecision()       {}
func (Sell) isDecision()      {}
func (Close) isDecision()     {}
func (DoNothing) isDecision() {}

// side returns the order side for a Buy or Sell.
func side(d Decision) model.Side {
	if d.Action() == ActionSell {
		return model.SideSell
	}
	return model.SideBuy
}

// Record is the wire form of a decision.
type Record struct {
	Action       string              `json:"action"`
	Symbol       string              `json:"symbol,omitempty"`
	Quantity     decimal.NullDecimal `json:"quantity"`
	QuantityLots decimal.NullDecimal `json:"quantity_lots"`
	Notional     decimal.NullDecimal `json:"notional"`
	PriceHint    decimal.NullDecimal `json:"price_hint"`
	LotSize      int64               `json:"lot_size,omitempty"`
	Leverage     decimal.NullDecimal `json:"leverage"`
	Confidence   decimal.NullDecimal `json:"confidence"`
	Reason       string              `json:"reason,omitempty"`
}

// Parse validates a record and returns the matching decision variant.
// Action names are case-insensitive.
func Parse(r Record) (Decision, error) {
	action, ok := aliases[strings.ToUpper(strings.TrimSpace(r.Action))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, r.Action)
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.Symbol))

	switch action {
	case ActionDoNothing:
		return DoNothing{Reason: r.Reason}, nil
	case ActionClose:
		if symbol == "" {
			return nil, fmt.Errorf("%w: CLOSE requires a symbol", ErrInvalidDecision)
		}
		return Close{Symbol: symbol, Reason: r.Reason}, nil
	}

	t, err := parseTrade(action, symbol, r)
	if err != nil {
		return nil, err
	}
	if action == ActionSell {
		return Sell{t}, nil
	}
	return Buy{t}, nil
}

func parseTrade(action Action, symbol string, r Record) (Trade, error) {
	t := Trade{
		Symbol:     symbol,
		PriceHint:  r.PriceHint,
		LotSize:    r.LotSize,
		Leverage:   r.Leverage,
		Confidence: r.Confidence,
		Reason:     r.Reason,
	}
	if symbol == "" {
		return t, fmt.Errorf("%w: %s requires a symbol", ErrInvalidDecision, action)
	}

	sizes := 0
	for _, v := range []decimal.NullDecimal{r.Quantity, r.QuantityLots, r.Notional} {
		if v.Valid {
			sizes++
		}
	}
	if sizes != 1 {
		return t, fmt.Errorf("%w: %s requires exactly one of quantity, quantity_lots or notional", ErrInvalidDecision, action)
	}

	switch {
	case r.Quantity.Valid:
		q, err := wholePositive("quantity", r.Quantity.Decimal)
		if err != nil {
			return t, err
		}
		t.Size.Quantity = q
	case r.QuantityLots.Valid:
		n, err := wholePositive("quantity_lots", r.QuantityLots.Decimal)
		if err != nil {
			return t, err
		}
		t.Size.Lots = n
	default:
		if !r.Notional.Decimal.IsPositive() {
			return t, fmt.Errorf("%w: notional must be > 0, got %s", ErrInvalidDecision, r.Notional.Decimal)
		}
		t.Size.Notional = r.Notional.Decimal
	}

	if r.PriceHint.Valid && !r.PriceHint.Decimal.IsPositive() {
		return t, fmt.Errorf("%w: price_hint must be > 0, got %s", ErrInvalidDecision, r.PriceHint.Decimal)
	}
	if r.LotSize < 0 {
		return t, fmt.Errorf("%w: lot_size must be >= 0, got %d", ErrInvalidDecision, r.LotSize)
	}
	if r.Leverage.Valid && !r.Leverage.Decimal.IsPositive() {
		return t, fmt.Errorf("%w: leverage must be > 0, got %s", ErrInvalidDecision, r.Leverage.Decimal)
	}
	if r.Confidence.Valid {
		c := r.Confidence.Decimal
		if c.IsNegative() || c.GreaterThan(decimal.NewFromInt(1)) {
			return t, fmt.Errorf("%w: confidence must be within [0, 1], got %s", ErrInvalidDecision, c)
		}
	}
	return t, nil
}

func wholePositive(field string, v decimal.Decimal) (int64, error) {
	if !v.IsInteger() || !v.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %s", ErrInvalidDecision, field, v)
	}
	return v.IntPart(), nil
}

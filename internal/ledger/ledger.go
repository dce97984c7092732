// Package ledger maintains net positions and cash under simulated fills.
//
// A Ledger is not safe for concurrent use; the broker owning it serializes
// every call.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tradeloop/paper-engine/internal/model"
	"github.com/tradeloop/paper-engine/internal/pricing"
)

var hundred = decimal.NewFromInt(100)

// Option configures a Ledger.
type Option func(*Ledger)

// WithRealizedPnL enables realized P&L tracking on fills that reduce a
// position. Quantity and average price behave exactly as without it.
func WithRealizedPnL() Option {
	return func(l *Ledger) { l.trackRealized = true }
}

// Ledger holds the open positions and the cash balance of one paper account.
type Ledger struct {
	positions     map[string]*model.Position
	startingCash  decimal.Decimal
	cash          decimal.Decimal
	realized      decimal.Decimal
	trackRealized bool
}

// New creates an empty ledger funded with startingCash.
func New(startingCash decimal.Decimal, opts ...Option) *Ledger {
	l := &Ledger{
		positions:    make(map[string]*model.Position),
		startingCash: startingCash,
		cash:         startingCash,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyFill updates the position for symbol and the cash balance with one
// fill and returns the resulting position (Quantity 0 once closed).
//
// Fills that open or add to a position recompute the volume-weighted average
// price. Fills that reduce or reverse it keep the prior average, including
// when the position flips through zero.
func (l *Ledger) ApplyFill(symbol string, side model.Side, qty int64, price decimal.Decimal) model.Position {
	pos, ok := l.positions[symbol]
	if !ok {
		pos = &model.Position{Symbol: symbol}
	}

	oldQty := pos.Quantity
	delta := side.Sign() * qty
	newQty := oldQty + delta

	if oldQty == 0 || (oldQty > 0) == (delta > 0) {
		if newQty == 0 {
			pos.AvgPrice = decimal.Zero
		} else {
			cost := pos.AvgPrice.Mul(decimal.NewFromInt(abs(oldQty))).
				Add(price.Mul(decimal.NewFromInt(abs(delta))))
			pos.AvgPrice = cost.Div(decimal.NewFromInt(abs(newQty)))
		}
	} else if l.trackRealized {
		closed := min(abs(delta), abs(oldQty))
		pnl := price.Sub(pos.AvgPrice).
			Mul(decimal.NewFromInt(closed)).
			Mul(decimal.NewFromInt(sign(oldQty)))
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		l.realized = l.realized.Add(pnl)
	}

	pos.Quantity = newQty
	pos.LastPrice = price

	if newQty == 0 {
		delete(l.positions, symbol)
	} else {
		l.positions[symbol] = pos
	}

	notional := price.Mul(decimal.NewFromInt(qty))
	if side == model.SideBuy {
		l.cash = l.cash.Sub(notional)
	} else {
		l.cash = l.cash.Add(notional)
	}

	return *pos
}

// Position returns a copy of the open position for symbol.
func (l *Ledger) Position(symbol string) (model.Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

// Remove drops symbol from the ledger without touching cash.
func (l *Ledger) Remove(symbol string) {
	delete(l.positions, symbol)
}

// Len returns the number of open positions.
func (l *Ledger) Len() int { return len(l.positions) }

// Cash returns the available cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// Realized returns cumulative realized P&L. Always zero unless the ledger
// was created WithRealizedPnL.
func (l *Ledger) Realized() decimal.Decimal { return l.realized }

// Symbols returns the symbols with an open position, sorted.
func (l *Ledger) Symbols() []string {
	symbols := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// Snapshot marks every open position at the source's current price and
// returns the views sorted by symbol. Marks are fetched on every call.
// A nil source can only value an empty ledger.
func (l *Ledger) Snapshot(ctx context.Context, prices pricing.Source) ([]model.PositionView, error) {
	symbols := l.Symbols()
	if prices == nil && len(symbols) > 0 {
		return nil, fmt.Errorf("mark %s: %w: no price source", symbols[0], pricing.ErrNoPrice)
	}

	views := make([]model.PositionView, 0, len(symbols))
	for _, sym := range symbols {
		pos := l.positions[sym]
		mark, err := prices.CurrentPrice(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("mark %s: %w", sym, err)
		}

		qty := decimal.NewFromInt(pos.Quantity)
		side := model.PositionLong
		if pos.Quantity < 0 {
			side = model.PositionShort
		}

		views = append(views, model.PositionView{
			Symbol:        sym,
			Quantity:      pos.Quantity,
			Side:          side,
			AvgPrice:      pos.AvgPrice,
			MarkPrice:     mark,
			Notional:      mark.Mul(qty.Abs()),
			UnrealizedPnL: mark.Sub(pos.AvgPrice).Mul(qty),
			RealizedPnL:   pos.RealizedPnL,
		})
	}
	return views, nil
}

// Balance derives the account balance: cash plus the marked value of every
// open position.
func (l *Ledger) Balance(ctx context.Context, prices pricing.Source) (model.Account, error) {
	views, err := l.Snapshot(ctx, prices)
	if err != nil {
		return model.Account{}, err
	}

	value := l.cash
	unrealized := decimal.Zero
	for _, v := range views {
		value = value.Add(v.MarkPrice.Mul(decimal.NewFromInt(v.Quantity)))
		unrealized = unrealized.Add(v.UnrealizedPnL)
	}

	ret := decimal.Zero
	if l.startingCash.IsPositive() {
		ret = value.Sub(l.startingCash).Div(l.startingCash).Mul(hundred).Round(2)
	}

	return model.Account{
		StartingCash:   l.startingCash,
		AvailableCash:  l.cash,
		AccountValue:   value,
		UnrealizedPnL:  unrealized,
		RealizedPnL:    l.realized,
		TotalReturnPct: ret,
		OpenPositions:  len(views),
	}, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int64) int64 {
	if n < 0 {
		return -1
	}
	return 1
}

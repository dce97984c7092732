package decision

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/tradeloop/paper-engine/internal/broker"
	"github.com/tradeloop/paper-engine/internal/contract"
	"github.com/tradeloop/paper-engine/internal/metrics"
	"github.com/tradeloop/paper-engine/internal/model"
	"github.com/tradeloop/paper-engine/internal/pricing"
	"github.com/tradeloop/paper-engine/internal/sizing"
)

// DefaultMinConfidence is the confidence below which Buy and Sell
// decisions are not executed.
var DefaultMinConfidence = decimal.NewFromFloat(0.65)

// Outcome reports what Execute did with a decision.
type Outcome struct {
	Action   Action              `json:"action"`
	Executed bool                `json:"executed"`
	Order    *model.Order        `json:"order,omitempty"`
	Margin   decimal.NullDecimal `json:"margin"`
	Reason   string              `json:"reason,omitempty"`
}

// Executor maps decisions onto broker calls, applying lot normalization,
// sizing limits and the confidence gate.
type Executor struct {
	broker        broker.Broker
	prices        pricing.Source
	lots          contract.LotTable
	limiter       *sizing.Limiter
	minConfidence decimal.Decimal
}

// NewExecutor creates an executor. prices converts notional sizes into
// quantities when a decision has no price hint.
func NewExecutor(b broker.Broker, prices pricing.Source, lots contract.LotTable, limiter *sizing.Limiter, minConfidence decimal.Decimal) *Executor {
	return &Executor{
		broker:        b,
		prices:        prices,
		lots:          lots,
		limiter:       limiter,
		minConfidence: minConfidence,
	}
}

// Execute carries out d. DoNothing and low-confidence trades return an
// Outcome with Executed false and no error.
func (e *Executor) Execute(ctx context.Context, d Decision) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch v := d.(type) {
	case DoNothing:
		out = Outcome{Action: ActionDoNothing, Reason: v.Reason}
	case Close:
		out, err = e.close(ctx, v)
	case Buy:
		out, err = e.trade(ctx, v, v.Trade)
	case Sell:
		out, err = e.trade(ctx, v, v.Trade)
	default:
		err = fmt.Errorf("%w: unsupported decision %T", ErrInvalidDecision, d)
	}

	result := "skipped"
	switch {
	case err != nil:
		result = "error"
	case out.Executed:
		result = "executed"
	}
	action := ActionDoNothing
	if d != nil {
		action = d.Action()
	}
	metrics.DecisionsTotal.WithLabelValues(string(action), result).Inc()

	if err != nil {
		slog.Warn("decision rejected", "action", action, "err", err)
		return Outcome{}, err
	}
	slog.Info("decision processed", "action", action, "result", result, "reason", out.Reason)
	return out, nil
}

func (e *Executor) close(ctx context.Context, c Close) (Outcome, error) {
	order, err := e.broker.ClosePosition(ctx, c.Symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("close %s: %w", c.Symbol, err)
	}
	out := Outcome{Action: ActionClose, Order: order, Executed: order != nil, Reason: c.Reason}
	if order == nil {
		out.Reason = "no open position in " + c.Symbol
	}
	return out, nil
}

func (e *Executor) trade(ctx context.Context, d Decision, t Trade) (Outcome, error) {
	if t.Confidence.Valid && t.Confidence.Decimal.LessThan(e.minConfidence) {
		return Outcome{
			Action: ActionDoNothing,
			Reason: fmt.Sprintf("confidence %s below minimum %s", t.Confidence.Decimal, e.minConfidence),
		}, nil
	}

	open := e.broker.OpenSymbols(ctx)
	held := slices.Contains(open, t.Symbol)
	if err := e.limiter.CheckOpen(len(open), held); err != nil {
		return Outcome{}, err
	}

	lot := t.LotSize
	if lot <= 0 {
		lot = e.lots.LotSize(t.Symbol)
	}
	leverage := decimal.NewFromInt(1)
	if t.Leverage.Valid {
		leverage = t.Leverage.Decimal
	}
	leverage = e.limiter.CapLeverage(leverage)

	qty, err := e.quantity(ctx, t, lot, leverage)
	if err != nil {
		return Outcome{}, err
	}

	order, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   t.Symbol,
		Quantity: qty,
		Side:     side(d),
		Kind:     model.KindMarket,
		Price:    t.PriceHint,
		Tag:      "decision",
	})
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Action: d.Action(), Executed: true, Order: &order, Reason: t.Reason}
	notional := order.FillPrice.Mul(decimal.NewFromInt(order.Quantity))
	if m, err := contract.Margin(notional, leverage); err == nil {
		out.Margin = decimal.NewNullDecimal(m)
	}
	return out, nil
}

// quantity resolves the share count for a trade. Explicit quantities are
// floored to whole lots; notional sizes are capped by the limiter and
// converted at the price hint or current price, with a minimum of one lot.
func (e *Executor) quantity(ctx context.Context, t Trade, lot int64, leverage decimal.Decimal) (int64, error) {
	switch {
	case t.Size.Lots > 0:
		return t.Size.Lots * lot, nil
	case t.Size.Quantity > 0:
		qty := contract.NormalizeToLots(t.Size.Quantity, lot)
		if qty == 0 {
			return 0, fmt.Errorf("%w: quantity %d is below lot size %d for %s", ErrInvalidDecision, t.Size.Quantity, lot, t.Symbol)
		}
		return qty, nil
	}

	notional := e.limiter.CapNotional(t.Size.Notional, e.broker.AvailableCash(ctx), leverage)

	price := t.PriceHint.Decimal
	if !t.PriceHint.Valid {
		var err error
		price, err = e.prices.CurrentPrice(ctx, t.Symbol)
		if err != nil {
			return 0, fmt.Errorf("%w for %s: %w", broker.ErrPriceUnavailable, t.Symbol, err)
		}
		if !price.IsPositive() {
			return 0, fmt.Errorf("%w for %s: source returned %s", broker.ErrPriceUnavailable, t.Symbol, price)
		}
	}

	lots := notional.Div(price).Div(decimal.NewFromInt(lot)).Floor().IntPart()
	if lots < 1 {
		lots = 1
	}
	return lots * lot, nil
}

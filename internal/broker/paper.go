package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeloop/paper-engine/internal/ledger"
	"github.com/tradeloop/paper-engine/internal/metrics"
	"github.com/tradeloop/paper-engine/internal/model"
	"github.com/tradeloop/paper-engine/internal/pricing"
)

// Compile-time interface check.
var _ Broker = (*Paper)(nil)

// DefaultStartingCash is the paper account's opening balance (INR).
var DefaultStartingCash = decimal.NewFromInt(100000)

// EventKind identifies what happened to an order.
type EventKind string

const (
	EventFill   EventKind = "fill"
	EventCancel EventKind = "cancel"
)

// Event is published to listeners after a fill or a cancellation has been
// applied. Fill is only set for EventFill.
type Event struct {
	Seq   uint64 // increases by one per applied change, starting at 1
	Kind  EventKind
	Order model.Order
	Fill  model.Fill
}

// Listener receives broker events. Listeners run on the caller's goroutine
// after the broker lock is released and must not block. Events from
// concurrent orders may arrive out of ledger order; Event.Seq carries the
// order in which they were applied.
type Listener func(Event)

// Option configures a Paper broker.
type Option func(*Paper)

// WithStartingCash sets the opening cash balance.
func WithStartingCash(cash decimal.Decimal) Option {
	return func(b *Paper) { b.startingCash = cash }
}

// WithRealizedPnL enables realized P&L tracking in the ledger.
func WithRealizedPnL() Option {
	return func(b *Paper) { b.ledgerOpts = append(b.ledgerOpts, ledger.WithRealizedPnL()) }
}

// WithListener registers an event listener.
func WithListener(l Listener) Option {
	return func(b *Paper) { b.listeners = append(b.listeners, l) }
}

// WithClock overrides the time source used for order timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Paper) { b.now = now }
}

// Paper simulates a brokerage account in memory. Every order fills
// immediately and completely at the supplied price or, when none is given,
// at the price source's current price.
//
// All state changes happen under one mutex, so readers never observe an
// order recorded without its ledger update or vice versa.
type Paper struct {
	mu     sync.Mutex
	prices pricing.Source
	ledger *ledger.Ledger
	orders map[string]*model.Order

	startingCash decimal.Decimal
	ledgerOpts   []ledger.Option
	listeners    []Listener
	now          func() time.Time
	seq          uint64
}

// NewPaper creates a paper broker that marks and prices orders with prices.
func NewPaper(prices pricing.Source, opts ...Option) *Paper {
	b := &Paper{
		prices:       prices,
		orders:       make(map[string]*model.Order),
		startingCash: DefaultStartingCash,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ledger = ledger.New(b.startingCash, b.ledgerOpts...)
	return b
}

// Name returns "paper".
func (b *Paper) Name() string {
	return "paper"
}

// PlaceOrder validates req, resolves the execution price and applies the
// fill to the ledger.
func (b *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (model.Order, error) {
	start := time.Now()

	req, err := req.validate()
	if err != nil {
		metrics.OrderRejections.WithLabelValues("invalid").Inc()
		return model.Order{}, err
	}

	price, err := b.resolvePrice(ctx, req.Symbol, req.Price)
	if err != nil {
		return model.Order{}, err
	}

	b.mu.Lock()
	ev := b.fillLocked(req, price)
	b.mu.Unlock()

	b.publish(ev)
	metrics.FillLatency.Observe(time.Since(start).Seconds())
	return ev.Order, nil
}

// MarketBuy places a MARKET BUY. A zero-valued price uses the source price.
func (b *Paper) MarketBuy(ctx context.Context, symbol string, qty int64, price decimal.NullDecimal) (model.Order, error) {
	return b.PlaceOrder(ctx, OrderRequest{Symbol: symbol, Quantity: qty, Side: model.SideBuy, Kind: model.KindMarket, Price: price})
}

// MarketSell places a MARKET SELL. A zero-valued price uses the source price.
func (b *Paper) MarketSell(ctx context.Context, symbol string, qty int64, price decimal.NullDecimal) (model.Order, error) {
	return b.PlaceOrder(ctx, OrderRequest{Symbol: symbol, Quantity: qty, Side: model.SideSell, Kind: model.KindMarket, Price: price})
}

// OrderStatus returns a copy of the order, or false if this broker never
// issued orderID.
func (b *Paper) OrderStatus(_ context.Context, orderID string) (model.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return model.Order{}, false
	}
	return cloneOrder(o), true
}

// CancelOrder flags an order as cancelled. The fill already applied to the
// ledger is final and is not reversed. Cancelling a cancelled order returns
// it unchanged; an unknown ID returns false.
func (b *Paper) CancelOrder(_ context.Context, orderID string) (model.Order, bool) {
	b.mu.Lock()
	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		metrics.CancelsTotal.WithLabelValues("not_found").Inc()
		return model.Order{}, false
	}
	if o.Status == model.StatusCancelled {
		order := cloneOrder(o)
		b.mu.Unlock()
		metrics.CancelsTotal.WithLabelValues("already_cancelled").Inc()
		return order, true
	}

	at := b.now()
	o.Status = model.StatusCancelled
	o.CancelledAt = &at
	order := cloneOrder(o)
	b.seq++
	ev := Event{Seq: b.seq, Kind: EventCancel, Order: order}
	b.mu.Unlock()

	metrics.CancelsTotal.WithLabelValues("cancelled").Inc()
	slog.Info("order cancelled", "order_id", order.ID, "symbol", order.Symbol)
	b.publish(ev)
	return order, true
}

// Positions returns the open positions marked at the price source's
// current prices.
func (b *Paper) Positions(ctx context.Context) ([]model.PositionView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	views, err := b.ledger.Snapshot(ctx, b.prices)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	return views, nil
}

// Account returns available cash and account value.
func (b *Paper) Account(ctx context.Context) (model.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	acct, err := b.ledger.Balance(ctx, b.prices)
	if err != nil {
		return model.Account{}, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	return acct, nil
}

// OpenSymbols returns the symbols currently held, without marking them.
func (b *Paper) OpenSymbols(_ context.Context) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Symbols()
}

// AvailableCash returns the cash balance, without marking positions.
func (b *Paper) AvailableCash(_ context.Context) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Cash()
}

// ClosePosition flattens symbol with one opposite-side market order at the
// source price and removes it from the ledger. A flat or unknown symbol
// returns (nil, nil). The read of the net quantity and the closing fill
// happen under one lock hold, so concurrent closes cannot double-count.
func (b *Paper) ClosePosition(ctx context.Context, symbol string) (*model.Order, error) {
	symbol = NormalizeSymbol(symbol)

	b.mu.Lock()
	pos, ok := b.ledger.Position(symbol)
	if !ok || pos.Quantity == 0 {
		b.mu.Unlock()
		return nil, nil
	}

	price, err := b.resolvePrice(ctx, symbol, decimal.NullDecimal{})
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	side, qty := model.SideSell, pos.Quantity
	if qty < 0 {
		side, qty = model.SideBuy, -qty
	}
	req, _ := OrderRequest{Symbol: symbol, Quantity: qty, Side: side, Kind: model.KindMarket}.validate()
	ev := b.fillLocked(req, price)
	b.ledger.Remove(symbol)
	metrics.OpenPositions.Set(float64(b.ledger.Len()))
	b.mu.Unlock()

	order := ev.Order
	slog.Info("position closed", "symbol", symbol, "order_id", order.ID, "qty", qty, "price", price.String())
	b.publish(ev)
	return &order, nil
}

// resolvePrice returns the explicit price when given, else the source's
// current price. Source failures are never replaced by a fabricated price.
func (b *Paper) resolvePrice(ctx context.Context, symbol string, explicit decimal.NullDecimal) (decimal.Decimal, error) {
	if explicit.Valid {
		return explicit.Decimal, nil
	}
	if b.prices == nil {
		metrics.OrderRejections.WithLabelValues("price").Inc()
		return decimal.Zero, fmt.Errorf("%w for %s: no price source configured", ErrPriceUnavailable, symbol)
	}
	p, err := b.prices.CurrentPrice(ctx, symbol)
	if err != nil {
		metrics.OrderRejections.WithLabelValues("price").Inc()
		return decimal.Zero, fmt.Errorf("%w for %s: %w", ErrPriceUnavailable, symbol, err)
	}
	if !p.IsPositive() {
		metrics.OrderRejections.WithLabelValues("price").Inc()
		return decimal.Zero, fmt.Errorf("%w for %s: source returned %s", ErrPriceUnavailable, symbol, p)
	}
	return p, nil
}

// fillLocked records a validated order, applies its fill and returns the
// fill event to publish. Caller holds b.mu.
func (b *Paper) fillLocked(req OrderRequest, price decimal.Decimal) Event {
	now := b.now()
	o := &model.Order{
		ID:             uuid.New().String(),
		Symbol:         req.Symbol,
		Side:           req.Side,
		Quantity:       req.Quantity,
		Kind:           req.Kind,
		LimitPrice:     req.Price,
		FillPrice:      price,
		Product:        req.Product,
		Validity:       req.Validity,
		Tag:            req.Tag,
		Status:         model.StatusPlaced,
		FilledQuantity: req.Quantity,
		CreatedAt:      now,
	}
	b.orders[o.ID] = o

	pos := b.ledger.ApplyFill(o.Symbol, o.Side, o.Quantity, price)

	notional := price.Mul(decimal.NewFromInt(o.Quantity))
	fill := model.Fill{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Quantity:  o.Quantity,
		Price:     price,
		Notional:  notional,
		Timestamp: now,
	}

	metrics.OrdersTotal.WithLabelValues(string(o.Side), string(o.Kind)).Inc()
	metrics.FillNotional.WithLabelValues(string(o.Side)).Add(notional.InexactFloat64())
	metrics.OpenPositions.Set(float64(b.ledger.Len()))

	slog.Info("order filled",
		"order_id", o.ID,
		"symbol", o.Symbol,
		"side", o.Side,
		"qty", o.Quantity,
		"price", price.String(),
		"net_qty", pos.Quantity,
		"avg_price", pos.AvgPrice.StringFixed(2),
		"cash", b.ledger.Cash().StringFixed(2),
	)

	b.seq++
	return Event{Seq: b.seq, Kind: EventFill, Order: cloneOrder(o), Fill: fill}
}

func (b *Paper) publish(ev Event) {
	for _, l := range b.listeners {
		l(ev)
	}
}

func cloneOrder(o *model.Order) model.Order {
	c := *o
	if o.CancelledAt != nil {
		at := *o.CancelledAt
		c.CancelledAt = &at
	}
	return c
}

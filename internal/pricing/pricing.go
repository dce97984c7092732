// Package pricing provides the price lookup capability the broker and the
// ledger consult when an order omits a price or a position is marked.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when a source has no price for a symbol.
var ErrNoPrice = errors.New("pricing: no price available")

// Source returns the current price of a symbol.
type Source interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// CurrentPrice calls f.
func (f SourceFunc) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f(ctx, symbol)
}

// Static is a settable in-memory price table. Used in tests and for manual
// marks.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic creates a table seeded with prices.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		s.prices[strings.ToUpper(sym)] = p
	}
	return s
}

// Set updates the price for symbol.
func (s *Static) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(symbol)] = price
}

func (s *Static) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return p, nil
}

// Synthetic produces deterministic intraday-looking prices for paper mode
// when no market data feed is configured. The series for a symbol starts at
// 1000 + fnv32(symbol) mod 500 and oscillates around it with a slow drift;
// CurrentPrice returns the close of the latest bar.
type Synthetic struct {
	// Bars is the length of the generated series. Defaults to 5.
	Bars int
}

// NewSynthetic creates a synthetic source with the default series length.
func NewSynthetic() *Synthetic {
	return &Synthetic{Bars: 5}
}

func (s *Synthetic) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("%w: empty symbol", ErrNoPrice)
	}
	bars := s.Bars
	if bars < 1 {
		bars = 5
	}
	closes := SyntheticCloses(symbol, bars)
	return decimal.NewFromFloat(closes[len(closes)-1]).Round(2), nil
}

// SyntheticCloses returns the synthetic close series for symbol, oldest
// first.
func SyntheticCloses(symbol string, bars int) []float64 {
	base := syntheticBase(symbol)
	closes := make([]float64, bars)
	for i := range closes {
		closes[i] = base + math.Sin(float64(i)/5.0)*5 + float64(i)*0.01
	}
	return closes
}

func syntheticBase(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(strings.ToUpper(symbol)))
	return 1000.0 + float64(h.Sum32()%500)
}

// Package trade provides the HTTP handlers for placing and cancelling paper
// orders, querying positions and the account, executing decisions, and the
// instrument helpers (lot size, margin, expiry).
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradeloop/paper-engine/internal/broker"
	"github.com/tradeloop/paper-engine/internal/contract"
	"github.com/tradeloop/paper-engine/internal/decision"
	"github.com/tradeloop/paper-engine/internal/model"
	"github.com/tradeloop/paper-engine/internal/sizing"
	"github.com/tradeloop/paper-engine/internal/store"
)

// Service serves the paper trading API. The broker serializes its own
// state, so handlers hold no locks.
type Service struct {
	broker   broker.Broker
	executor *decision.Executor
	journal  store.Store
	lots     contract.LotTable
}

// NewService creates a new trade service. journal may be nil, in which case
// the fills endpoint answers 503.
func NewService(b broker.Broker, exec *decision.Executor, journal store.Store, lots contract.LotTable) *Service {
	return &Service{
		broker:   b,
		executor: exec,
		journal:  journal,
		lots:     lots,
	}
}

// --- Request/Response types ---

// PlaceOrderRequest is the JSON body for POST /orders.
type PlaceOrderRequest struct {
	Symbol    string              `json:"symbol"`
	Quantity  decimal.Decimal     `json:"quantity"`   // whole shares
	Side      string              `json:"side"`       // "BUY" or "SELL", any case
	OrderType string              `json:"order_type"` // "MARKET" (default) or "LIMIT"
	Price     decimal.NullDecimal `json:"price"`      // omitted: current price
	Product   string              `json:"product,omitempty"`
	Validity  string              `json:"validity,omitempty"`
	Tag       string              `json:"tag,omitempty"`
}

// ClosePositionResponse is the JSON body returned from POST
// /positions/{symbol}/close. Order is nil when the symbol was already flat.
type ClosePositionResponse struct {
	Symbol string       `json:"symbol"`
	Closed bool         `json:"closed"`
	Order  *model.Order `json:"order,omitempty"`
}

// MarginRequest is the JSON body for POST /margin.
type MarginRequest struct {
	Notional decimal.Decimal `json:"notional"`
	Leverage decimal.Decimal `json:"leverage"`
}

// MarginResponse is the JSON body returned from POST /margin.
type MarginResponse struct {
	Notional decimal.Decimal `json:"notional"`
	Leverage decimal.Decimal `json:"leverage"`
	Margin   decimal.Decimal `json:"margin"`
}

// LotSizeResponse is the JSON body returned from GET
// /instruments/{symbol}/lot.
type LotSizeResponse struct {
	Symbol  string `json:"symbol"`
	LotSize int64  `json:"lot_size"`
}

// ExpiryResponse is the JSON body returned from GET /expiry/{date}.
type ExpiryResponse struct {
	Date  string `json:"date"`
	Valid bool   `json:"valid"`
}

// --- HTTP Handlers ---

// PlaceOrder handles POST /api/v1/orders
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	qty, err := broker.QuantityFromDecimal(req.Quantity)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	order, err := s.broker.PlaceOrder(r.Context(), broker.OrderRequest{
		Symbol:   req.Symbol,
		Quantity: qty,
		Side:     model.Side(req.Side),
		Kind:     model.OrderKind(req.OrderType),
		Price:    req.Price,
		Product:  req.Product,
		Validity: req.Validity,
		Tag:      req.Tag,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, ok := s.broker.OrderStatus(r.Context(), orderID)
	if !ok {
		writeError(w, "order not found: "+orderID, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, ok := s.broker.CancelOrder(r.Context(), orderID)
	if !ok {
		writeError(w, "order not found: "+orderID, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetPositions handles GET /api/v1/positions
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.broker.Positions(r.Context())
	if err != nil {
		slog.Error("failed to mark positions", "err", err)
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	if positions == nil {
		positions = []model.PositionView{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// ClosePosition handles POST /api/v1/positions/{symbol}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := broker.NormalizeSymbol(chi.URLParam(r, "symbol"))

	order, err := s.broker.ClosePosition(r.Context(), symbol)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, ClosePositionResponse{
		Symbol: symbol,
		Closed: order != nil,
		Order:  order,
	})
}

// GetAccount handles GET /api/v1/account
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.broker.Account(r.Context())
	if err != nil {
		slog.Error("failed to derive account", "err", err)
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ExecuteDecision handles POST /api/v1/decisions
// Parses a decision record and executes it against the broker.
func (s *Service) ExecuteDecision(w http.ResponseWriter, r *http.Request) {
	var rec decision.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	d, err := decision.Parse(rec)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := s.executor.Execute(r.Context(), d)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListFills handles GET /api/v1/fills
// Returns the fill journal, optionally filtered by ?symbol=<symbol>.
func (s *Service) ListFills(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, "fill journal not configured", http.StatusServiceUnavailable)
		return
	}

	var (
		fills []model.Fill
		err   error
	)
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		fills, err = s.journal.FillsBySymbol(r.Context(), broker.NormalizeSymbol(symbol))
	} else {
		fills, err = s.journal.ListFills(r.Context())
	}
	if err != nil {
		slog.Error("failed to read fill journal", "err", err)
		writeError(w, "failed to list fills", http.StatusInternalServerError)
		return
	}
	if fills == nil {
		fills = []model.Fill{}
	}
	writeJSON(w, http.StatusOK, fills)
}

// GetLotSize handles GET /api/v1/instruments/{symbol}/lot
func (s *Service) GetLotSize(w http.ResponseWriter, r *http.Request) {
	symbol := broker.NormalizeSymbol(chi.URLParam(r, "symbol"))
	writeJSON(w, http.StatusOK, LotSizeResponse{
		Symbol:  symbol,
		LotSize: s.lots.LotSize(symbol),
	})
}

// CalculateMargin handles POST /api/v1/margin
func (s *Service) CalculateMargin(w http.ResponseWriter, r *http.Request) {
	var req MarginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := contract.Margin(req.Notional, req.Leverage)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, MarginResponse{
		Notional: req.Notional,
		Leverage: req.Leverage,
		Margin:   m,
	})
}

// ValidateExpiry handles GET /api/v1/expiry/{date}
func (s *Service) ValidateExpiry(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	writeJSON(w, http.StatusOK, ExpiryResponse{
		Date:  date,
		Valid: contract.ValidExpiry(date),
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, broker.ErrInvalidOrder),
		errors.Is(err, decision.ErrInvalidDecision),
		errors.Is(err, contract.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, sizing.ErrMaxPositions):
		return http.StatusConflict
	case errors.Is(err, broker.ErrPriceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

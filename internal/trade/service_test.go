package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradeloop/paper-engine/internal/broker"
	"github.com/tradeloop/paper-engine/internal/contract"
	"github.com/tradeloop/paper-engine/internal/decision"
	"github.com/tradeloop/paper-engine/internal/model"
	"github.com/tradeloop/paper-engine/internal/pricing"
	"github.com/tradeloop/paper-engine/internal/sizing"
	"github.com/tradeloop/paper-engine/internal/store"
	"github.com/tradeloop/paper-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	paper   *broker.Paper
	prices  *pricing.Static
	journal *store.MemoryStore
	router  chi.Router
}

// newTestEnv creates a Service over a paper broker with static prices, an
// in-memory journal fed synchronously, and a chi router.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	prices := pricing.NewStatic(map[string]decimal.Decimal{
		"RELIANCE": d(2550),
		"TCS":      d(3400),
		"NIFTY":    d(200),
	})
	journal := store.NewMemoryStore()
	paper := broker.NewPaper(prices, broker.WithListener(func(ev broker.Event) {
		if ev.Kind == broker.EventFill {
			journal.InsertFill(context.Background(), &ev.Fill)
		}
	}))
	lots := contract.NewLotTable(nil)
	limiter := sizing.NewLimiter(d(20), d(10), 3)
	exec := decision.NewExecutor(paper, prices, lots, limiter, decision.DefaultMinConfidence)
	svc := trade.NewService(paper, exec, journal, lots)

	r := chi.NewRouter()
	r.Post("/api/v1/orders", svc.PlaceOrder)
	r.Get("/api/v1/orders/{orderID}", svc.GetOrder)
	r.Post("/api/v1/orders/{orderID}/cancel", svc.CancelOrder)
	r.Get("/api/v1/positions", svc.GetPositions)
	r.Post("/api/v1/positions/{symbol}/close", svc.ClosePosition)
	r.Get("/api/v1/account", svc.GetAccount)
	r.Post("/api/v1/decisions", svc.ExecuteDecision)
	r.Get("/api/v1/fills", svc.ListFills)
	r.Get("/api/v1/instruments/{symbol}/lot", svc.GetLotSize)
	r.Post("/api/v1/margin", svc.CalculateMargin)
	r.Get("/api/v1/expiry/{date}", svc.ValidateExpiry)

	return testEnv{paper: paper, prices: prices, journal: journal, router: r}
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func placeOrder(t *testing.T, router chi.Router, req trade.PlaceOrderRequest) model.Order {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/orders", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var order model.Order
	json.Unmarshal(w.Body.Bytes(), &order)
	return order
}

func getPositions(t *testing.T, router chi.Router) []model.PositionView {
	t.Helper()
	w := do(t, router, "GET", "/api/v1/positions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var views []model.PositionView
	json.Unmarshal(w.Body.Bytes(), &views)
	return views
}

// --- Order tests ---

func TestPlaceOrder_ScenarioAverageAndClose(t *testing.T) {
	env := newTestEnv(t)

	first := placeOrder(t, env.router, trade.PlaceOrderRequest{
		Symbol: "RELIANCE", Quantity: d(10), Side: "BUY", Price: decimal.NewNullDecimal(d(2500)),
	})
	if first.Status != model.StatusPlaced || first.FilledQuantity != 10 {
		t.Errorf("expected PLACED with 10 filled, got %s %d", first.Status, first.FilledQuantity)
	}
	if first.ID == "" {
		t.Error("expected non-empty order_id")
	}

	placeOrder(t, env.router, trade.PlaceOrderRequest{
		Symbol: "RELIANCE", Quantity: d(5), Side: "buy", Price: decimal.NewNullDecimal(d(2600)),
	})

	views := getPositions(t, env.router)
	if len(views) != 1 {
		t.Fatalf("expected 1 position, got %d", len(views))
	}
	if views[0].Quantity != 15 || !views[0].AvgPrice.Round(2).Equal(d(2533.33)) {
		t.Errorf("expected 15 @ 2533.33, got %d @ %s", views[0].Quantity, views[0].AvgPrice.Round(2))
	}
	if !views[0].MarkPrice.Equal(d(2550)) {
		t.Errorf("expected mark 2550, got %s", views[0].MarkPrice)
	}

	w := do(t, env.router, "POST", "/api/v1/positions/reliance/close", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var closed trade.ClosePositionResponse
	json.Unmarshal(w.Body.Bytes(), &closed)
	if !closed.Closed || closed.Order == nil {
		t.Fatalf("expected a closing order, got %+v", closed)
	}
	if closed.Order.Side != model.SideSell || closed.Order.Quantity != 15 {
		t.Errorf("expected SELL 15, got %s %d", closed.Order.Side, closed.Order.Quantity)
	}

	if views := getPositions(t, env.router); len(views) != 0 {
		t.Errorf("RELIANCE should be absent after close, got %v", views)
	}
}

func TestPlaceOrder_UsesCurrentPrice(t *testing.T) {
	env := newTestEnv(t)

	order := placeOrder(t, env.router, trade.PlaceOrderRequest{Symbol: "TCS", Quantity: d(2), Side: "SELL"})
	if !order.FillPrice.Equal(d(3400)) {
		t.Errorf("expected fill at 3400, got %s", order.FillPrice)
	}
	if order.Kind != model.KindMarket {
		t.Errorf("expected MARKET, got %s", order.Kind)
	}
}

func TestPlaceOrder_Invalid(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"bad json", "{not json"},
		{"fractional quantity", trade.PlaceOrderRequest{Symbol: "TCS", Quantity: d(1.5), Side: "BUY"}},
		{"zero quantity", trade.PlaceOrderRequest{Symbol: "TCS", Quantity: decimal.Zero, Side: "BUY"}},
		{"bad side", trade.PlaceOrderRequest{Symbol: "TCS", Quantity: d(1), Side: "HOLD"}},
		{"bad order type", trade.PlaceOrderRequest{Symbol: "TCS", Quantity: d(1), Side: "BUY", OrderType: "STOP"}},
		{"limit without price", trade.PlaceOrderRequest{Symbol: "TCS", Quantity: d(1), Side: "BUY", OrderType: "LIMIT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, env.router, "POST", "/api/v1/orders", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestPlaceOrder_PriceUnavailable(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, "POST", "/api/v1/orders", trade.PlaceOrderRequest{Symbol: "WIPRO", Quantity: d(1), Side: "BUY"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t)
	placed := placeOrder(t, env.router, trade.PlaceOrderRequest{Symbol: "TCS", Quantity: d(1), Side: "BUY"})

	w := do(t, env.router, "GET", "/api/v1/orders/"+placed.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got model.Order
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.ID != placed.ID {
		t.Errorf("expected order %s, got %s", placed.ID, got.ID)
	}

	w = do(t, env.router, "GET", "/api/v1/orders/unknown", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	placed := placeOrder(t, env.router, trade.PlaceOrderRequest{Symbol: "TCS", Quantity: d(1), Side: "BUY"})

	for i := 0; i < 2; i++ {
		w := do(t, env.router, "POST", "/api/v1/orders/"+placed.ID+"/cancel", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("cancel %d: expected 200, got %d", i, w.Code)
		}
		var got model.Order
		json.Unmarshal(w.Body.Bytes(), &got)
		if got.Status != model.StatusCancelled {
			t.Errorf("cancel %d: expected CANCELLED, got %s", i, got.Status)
		}
	}

	w := do(t, env.router, "POST", "/api/v1/orders/unknown/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestClosePosition_Flat(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, "POST", "/api/v1/positions/TCS/close", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp trade.ClosePositionResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Closed || resp.Order != nil {
		t.Errorf("flat close should not trade, got %+v", resp)
	}
}

func TestGetPositions_PriceFailure(t *testing.T) {
	env := newTestEnv(t)
	placeOrder(t, env.router, trade.PlaceOrderRequest{
		Symbol: "WIPRO", Quantity: d(1), Side: "BUY", Price: decimal.NewNullDecimal(d(500)),
	})

	w := do(t, env.router, "GET", "/api/v1/positions", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 when a mark is unavailable, got %d", w.Code)
	}
}

func TestGetAccount(t *testing.T) {
	env := newTestEnv(t)
	placeOrder(t, env.router, trade.PlaceOrderRequest{
		Symbol: "TCS", Quantity: d(10), Side: "BUY", Price: decimal.NewNullDecimal(d(3000)),
	})

	w := do(t, env.router, "GET", "/api/v1/account", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var acct model.Account
	json.Unmarshal(w.Body.Bytes(), &acct)

	if !acct.AvailableCash.Equal(d(70000)) {
		t.Errorf("expected cash=70000, got %s", acct.AvailableCash)
	}
	// 70000 + 10 * 3400
	if !acct.AccountValue.Equal(d(104000)) {
		t.Errorf("expected value=104000, got %s", acct.AccountValue)
	}
	if !acct.TotalReturnPct.Equal(d(4)) {
		t.Errorf("expected return=4%%, got %s", acct.TotalReturnPct)
	}
}

// --- Decision tests ---

func TestExecuteDecision(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, "POST", "/api/v1/decisions", `{"action":"OPEN_SHORT","symbol":"NIFTY","quantity":120,"confidence":0.9}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out decision.Outcome
	json.Unmarshal(w.Body.Bytes(), &out)
	if !out.Executed || out.Order == nil || out.Order.Quantity != 100 {
		t.Errorf("expected SELL 100 NIFTY, got %+v", out)
	}

	w = do(t, env.router, "POST", "/api/v1/decisions", `{"action":"DO_NOTHING"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &out)
	if out.Executed {
		t.Error("DO_NOTHING must not execute")
	}
}

func TestExecuteDecision_Invalid(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{
		`{"action":"BUY","symbol":"TCS"}`,
		`{"action":"SELL"}`,
		`{"action":"BUY","symbol":"NIFTY","quantity":10}`,
	} {
		w := do(t, env.router, "POST", "/api/v1/decisions", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", body, w.Code, w.Body.String())
		}
	}
}

func TestExecuteDecision_MaxPositions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, sym := range []string{"A", "B", "C"} {
		env.prices.Set(sym, d(100))
		if _, err := env.paper.MarketBuy(ctx, sym, 1, decimal.NullDecimal{}); err != nil {
			t.Fatalf("seed %s: %v", sym, err)
		}
	}

	w := do(t, env.router, "POST", "/api/v1/decisions", `{"action":"BUY","symbol":"TCS","quantity":1}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Journal tests ---

func TestListFills(t *testing.T) {
	env := newTestEnv(t)
	placeOrder(t, env.router, trade.PlaceOrderRequest{Symbol: "TCS", Quantity: d(1), Side: "BUY"})
	placeOrder(t, env.router, trade.PlaceOrderRequest{Symbol: "NIFTY", Quantity: d(50), Side: "SELL"})

	w := do(t, env.router, "GET", "/api/v1/fills", nil)
	var fills []model.Fill
	json.Unmarshal(w.Body.Bytes(), &fills)
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(fills))
	}

	w = do(t, env.router, "GET", "/api/v1/fills?symbol=nifty", nil)
	fills = nil
	json.Unmarshal(w.Body.Bytes(), &fills)
	if len(fills) != 1 || fills[0].Symbol != "NIFTY" || !fills[0].Notional.Equal(d(10000)) {
		t.Errorf("expected one NIFTY fill of 10000, got %+v", fills)
	}
}

func TestListFills_NoJournal(t *testing.T) {
	svc := trade.NewService(broker.NewPaper(pricing.NewStatic(nil)), nil, nil, contract.NewLotTable(nil))
	r := chi.NewRouter()
	r.Get("/api/v1/fills", svc.ListFills)

	w := do(t, r, "GET", "/api/v1/fills", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

// --- Instrument helpers ---

func TestGetLotSize(t *testing.T) {
	env := newTestEnv(t)

	tests := map[string]int64{"nifty": 50, "BANKNIFTY": 15, "TCS": 1}
	for sym, want := range tests {
		w := do(t, env.router, "GET", "/api/v1/instruments/"+sym+"/lot", nil)
		var resp trade.LotSizeResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.LotSize != want {
			t.Errorf("%s: expected lot=%d, got %d", sym, want, resp.LotSize)
		}
	}
}

func TestCalculateMargin(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, "POST", "/api/v1/margin", trade.MarginRequest{Notional: d(100000), Leverage: d(10)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp trade.MarginResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Margin.Equal(d(10000)) {
		t.Errorf("expected margin=10000, got %s", resp.Margin)
	}

	w = do(t, env.router, "POST", "/api/v1/margin", trade.MarginRequest{Notional: d(100000), Leverage: decimal.Zero})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero leverage, got %d", w.Code)
	}
}

func TestValidateExpiry(t *testing.T) {
	env := newTestEnv(t)

	tomorrow := time.Now().AddDate(0, 0, 1).Format(contract.ExpiryLayout)
	tests := map[string]bool{
		"invalid-date": false,
		"2020-01-01":   false,
		tomorrow:       true,
	}
	for date, want := range tests {
		w := do(t, env.router, "GET", "/api/v1/expiry/"+date, nil)
		var resp trade.ExpiryResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Valid != want {
			t.Errorf("%s: expected valid=%v, got %v", date, want, resp.Valid)
		}
	}
}

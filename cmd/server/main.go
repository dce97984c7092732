package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tradeloop/paper-engine/internal/broker"
	"github.com/tradeloop/paper-engine/internal/config"
	"github.com/tradeloop/paper-engine/internal/contract"
	"github.com/tradeloop/paper-engine/internal/decision"
	"github.com/tradeloop/paper-engine/internal/metrics"
	"github.com/tradeloop/paper-engine/internal/pricing"
	"github.com/tradeloop/paper-engine/internal/sizing"
	"github.com/tradeloop/paper-engine/internal/store"
	"github.com/tradeloop/paper-engine/internal/trade"
)

func main() {
	cfgPath := config.PathFromEnv()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "err", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Fill journal ---
	var journal store.Store
	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare fill journal", "err", err)
			os.Exit(1)
		}
		journal = pg
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory fill journal (fills will not persist)")
		journal = store.NewMemoryStore()
	}

	// The recorder outlives the signal context: it is closed only after the
	// server has drained in-flight requests.
	recorder := store.NewRecorder(journal, cfg.Storage.JournalBuffer)
	recorderDone := make(chan struct{})
	go func() {
		recorder.Run(context.WithoutCancel(ctx))
		close(recorderDone)
	}()

	// --- Price source ---
	var prices pricing.Source
	switch cfg.Pricing.Source {
	case "static":
		marks := make(map[string]decimal.Decimal, len(cfg.Pricing.Static))
		for sym, p := range cfg.Pricing.Static {
			marks[sym] = decimal.NewFromFloat(p)
		}
		prices = pricing.NewStatic(marks)
	default:
		prices = &pricing.Synthetic{Bars: cfg.Pricing.SyntheticBars}
		slog.Warn("using synthetic prices for paper trading")
	}

	// Decision sizing may read through a Redis cache. The broker always
	// uses the live source so fills and position marks are never stale.
	sizingPrices := prices
	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		sizingPrices = pricing.NewCached(prices, rdb, cfg.Pricing.CacheTTL)
		slog.Info("Redis price cache enabled for decision sizing", "ttl", cfg.Pricing.CacheTTL)
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(ctx)

	// --- Paper broker ---
	opts := []broker.Option{
		broker.WithStartingCash(decimal.NewFromFloat(cfg.Account.StartingCapital)),
		broker.WithListener(func(ev broker.Event) {
			if ev.Kind == broker.EventFill {
				recorder.Enqueue(ev.Fill)
			}
		}),
		broker.WithListener(wsHub.Listener()),
	}
	if cfg.Account.RealizedPnL {
		opts = append(opts, broker.WithRealizedPnL())
	}
	paper := broker.NewPaper(prices, opts...)

	// --- Decisions ---
	lots := contract.NewLotTable(cfg.Instruments.LotSizes)
	limiter := sizing.NewLimiter(
		decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		decimal.NewFromFloat(cfg.Risk.MaxLeverage),
		cfg.Risk.MaxPositions,
	)
	executor := decision.NewExecutor(paper, sizingPrices, lots, limiter, decimal.NewFromFloat(cfg.Risk.MinConfidence))

	tradeSvc := trade.NewService(paper, executor, journal, lots)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"paper-engine","broker":%q}`, paper.Name())
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for fill and cancel events. Registered outside
		// the timeout group so long-lived connections are not cut.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Orders.
			r.Post("/orders", tradeSvc.PlaceOrder)
			r.Get("/orders/{orderID}", tradeSvc.GetOrder)
			r.Post("/orders/{orderID}/cancel", tradeSvc.CancelOrder)

			// Positions and account.
			r.Get("/positions", tradeSvc.GetPositions)
			r.Post("/positions/{symbol}/close", tradeSvc.ClosePosition)
			r.Get("/account", tradeSvc.GetAccount)

			// Decision execution.
			r.Post("/decisions", tradeSvc.ExecuteDecision)

			// Fill journal.
			r.Get("/fills", tradeSvc.ListFills)

			// Instrument helpers.
			r.Get("/instruments/{symbol}/lot", tradeSvc.GetLotSize)
			r.Post("/margin", tradeSvc.CalculateMargin)
			r.Get("/expiry/{date}", tradeSvc.ValidateExpiry)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("paper-engine listening", "port", cfg.Server.Port, "broker", paper.Name(), "prices", cfg.Pricing.Source)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down paper-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	recorder.Close()
	<-recorderDone
	fmt.Println("paper-engine stopped")
}

package main

import (
	"context"
	"encoding/json"
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

	"github.com/tradesync/market-engine/internal/api"
	"github.com/tradesync/market-engine/internal/config"
	"github.com/tradesync/market-engine/internal/engine"
	"github.com/tradesync/market-engine/internal/ledger"
	"github.com/tradesync/market-engine/internal/market"
	"github.com/tradesync/market-engine/internal/metrics"
	"github.com/tradesync/market-engine/internal/pubsub"
	"github.com/tradesync/market-engine/internal/risk"
	"github.com/tradesync/market-engine/internal/room"
	aisignal "github.com/tradesync/market-engine/internal/signal"
	"github.com/tradesync/market-engine/internal/store"
	"github.com/tradesync/market-engine/internal/ws"
)

// seedFile is the optional JSON shape behind SEED_FILE.
type seedFile struct {
	Symbols  map[string]float64 `json:"symbols"`
	Accounts []struct {
		UserID    string           `json:"user_id"`
		Cash      float64          `json:"cash"`
		Positions map[string]int64 `json:"positions"`
	} `json:"accounts"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Archive store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Seeds ---
	seeds := market.DefaultSeeds()
	var fileSeeds *seedFile
	if cfg.SeedFile != "" {
		fileSeeds = loadSeedFile(cfg.SeedFile)
		if len(fileSeeds.Symbols) > 0 {
			seeds = make(map[string]decimal.Decimal, len(fileSeeds.Symbols))
			for sym, price := range fileSeeds.Symbols {
				seeds[sym] = decimal.NewFromFloat(price)
			}
		}
	}

	// --- Event bus and price simulator ---
	bus := pubsub.New()
	sim := market.New(bus, market.Config{
		Interval:   cfg.TickInterval,
		Volatility: cfg.TickVolatility,
		Seeds:      seeds,
	})

	simCtx, stopSim := context.WithCancel(context.Background())
	defer stopSim()
	go sim.Run(simCtx)

	// --- Ledger ---
	led := ledger.New(decimal.NewFromFloat(cfg.StartingCash))
	if fileSeeds != nil && len(fileSeeds.Accounts) > 0 {
		for _, acct := range fileSeeds.Accounts {
			led.Seed(acct.UserID, decimal.NewFromFloat(acct.Cash), acct.Positions)
		}
	} else {
		led.Seed("user-123", decimal.NewFromFloat(cfg.StartingCash), map[string]int64{
			"AAPL": 10,
			"MSFT": 5,
		})
	}

	// --- Order engine ---
	limiter := risk.NewLimiter(cfg.MaxPositionPerSymbol, cfg.MaxTotalExposure)
	eng := engine.New(sim, led, bus, st, limiter, engine.NewTimerScheduler(), cfg.SettlementDelay)

	// --- Rooms, AI signals, WebSocket bridge ---
	rooms := room.NewService(bus, st)
	signals := aisignal.NewClient(cfg.AIServiceURL)
	bridge := ws.NewBridge(bus, sim, eng, rooms, led)
	apiSvc := api.NewService(eng, sim, rooms, led, signals)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/trading", func(r chi.Router) {
		// WebSocket endpoint for the realtime feed.
		r.Get("/ws", bridge.HandleWS)
		r.Mount("/", apiSvc.Router())
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", cfg.Port, "symbols", len(sim.Symbols()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopSim()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}

// loadSeedFile reads the optional startup seed file. Startup continues on
// any failure; defaults cover the demo setup.
func loadSeedFile(path string) *seedFile {
	var out seedFile
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("seed file unreadable, using defaults", "path", path, "err", err)
		return &out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("seed file invalid, using defaults", "path", path, "err", err)
		return &out
	}
	slog.Info("seed file loaded", "path", path, "symbols", len(out.Symbols), "accounts", len(out.Accounts))
	return &out
}

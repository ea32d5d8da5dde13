package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
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

	"github.com/celestia/token-engine/internal/config"
	"github.com/celestia/token-engine/internal/limits"
	"github.com/celestia/token-engine/internal/metrics"
	"github.com/celestia/token-engine/internal/pricing"
	"github.com/celestia/token-engine/internal/sched"
	"github.com/celestia/token-engine/internal/sim"
	"github.com/celestia/token-engine/internal/stats"
	"github.com/celestia/token-engine/internal/store"
	"github.com/celestia/token-engine/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			slog.Error("config load failed", "path", *configPath, "err", err)
			os.Exit(1)
		}
		cfg = c
	} else {
		cfg = config.Default()
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		applied, err := store.Migrate(cfg.Database.URL)
		if err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		slog.Info("migrations applied", "count", applied)

		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			slog.Error("invalid database url", "err", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = cfg.Database.MaxConns
		pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL.Std())
			slog.Info("Redis cache enabled", "addr", cfg.Redis.Addr)
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if err := seedMarkets(context.Background(), st, cfg); err != nil {
		slog.Error("market seeding failed", "err", err)
		os.Exit(1)
	}

	// --- Trade pipeline ---
	calc, err := pricing.NewCalculator(
		decimal.NewFromFloat(cfg.Market.Sensitivity),
		decimal.NewFromFloat(cfg.Market.MaxTradeImpact),
		decimal.NewFromFloat(cfg.Market.LiquidityFloor),
	)
	if err != nil {
		slog.Error("invalid pricing parameters", "err", err)
		os.Exit(1)
	}

	limiter := limits.NewTradeLimiter(
		decimal.NewFromFloat(cfg.Market.MinTrade),
		decimal.NewFromFloat(cfg.Market.MaxTrade),
		decimal.NewFromFloat(cfg.Market.MaxDailyUserVolume),
	)

	executor := trade.NewExecutor(st, calc, limiter, trade.Fees{
		BuyRate:  decimal.NewFromFloat(cfg.Market.BuyFeeRate),
		SellRate: decimal.NewFromFloat(cfg.Market.SellFeeRate),
		SwapRate: decimal.NewFromFloat(cfg.Market.SwapFeeRate),
	})

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	defaults := trade.MarketDefaults{
		InitialPrice:      decimal.NewFromFloat(cfg.Market.InitialPrice),
		InitialSupply:     decimal.NewFromFloat(cfg.Market.InitialSupply),
		LiquidityFraction: decimal.NewFromFloat(cfg.Market.LiquidityFraction),
	}
	tradeSvc := trade.NewService(st, executor, defaults, wsHub)

	// --- Background jobs ---
	engine := sim.NewEngine(st, sim.Config{
		MaxTickImpact:     cfg.Sim.MaxTickImpact,
		DailyDecayRate:    *cfg.Sim.DailyDecayRate,
		BreakerThreshold:  cfg.Sim.BreakerThreshold,
		BreakerRetention:  cfg.Sim.BreakerRetention,
		NewsProbability:   *cfg.Sim.NewsProbability,
		Concurrency:       cfg.Sim.Concurrency,
		ReputationFactors: cfg.Sim.ReputationFactors,
	}, wsHub, rand.New(rand.NewSource(time.Now().UnixNano())))

	aggregator := stats.NewAggregator(st)

	runners := []*sched.Runner{
		sched.NewRunner("sim-tick", cfg.Sim.TickInterval.Std(), engine.Tick),
		sched.NewRunner("stats", cfg.Sim.StatsInterval.Std(), aggregator.Recompute),
		sched.NewRunner("reputation", cfg.Sim.ReputationInterval.Std(), engine.ApplyReputation),
	}
	jobCtx, stopJobs := context.WithCancel(context.Background())
	for _, r := range runners {
		r.Start(jobCtx)
	}

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
		w.Write([]byte(`{"status":"ok","service":"token-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Market management.
		r.Get("/markets", tradeSvc.ListMarkets)
		r.Post("/markets", tradeSvc.CreateMarket)
		r.Get("/markets/{code}", tradeSvc.GetMarket)
		r.Get("/markets/{code}/history", tradeSvc.GetMarketHistory)

		// Trade execution.
		r.Post("/trade/buy", tradeSvc.BuyToken)
		r.Post("/trade/sell", tradeSvc.SellToken)
		r.Post("/trade/swap", tradeSvc.SwapToken)
		r.Post("/settle", tradeSvc.Settle)

		// Portfolio queries.
		r.Get("/holdings/{userID}", tradeSvc.GetHoldings)
		r.Get("/transactions/{userID}", tradeSvc.GetTransactions)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("token-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down token-engine...")
	stopJobs()
	for _, r := range runners {
		r.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("token-engine stopped")
}

// seedMarkets creates the configured startup markets; markets that already
// exist are left alone.
func seedMarkets(ctx context.Context, st store.Store, cfg *config.Config) error {
	for _, s := range cfg.Seed {
		price := s.InitialPrice
		if price == 0 {
			price = cfg.Market.InitialPrice
		}
		supply := s.InitialSupply
		if supply == 0 {
			supply = cfg.Market.InitialSupply
		}
		m := trade.NewMarket(
			s.InstitutionCode,
			decimal.NewFromFloat(price),
			decimal.NewFromFloat(supply),
			decimal.NewFromFloat(cfg.Market.LiquidityFraction),
		)
		err := st.CreateMarket(ctx, m)
		if errors.Is(err, store.ErrMarketExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed market %s: %w", s.InstitutionCode, err)
		}
		slog.Info("seeded market", "institution", s.InstitutionCode, "price", price)
	}

	// The gauge counts every market, seeded or pre-existing, not just the
	// ones created through the API.
	markets, err := st.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("count markets: %w", err)
	}
	metrics.ActiveMarkets.Set(float64(len(markets)))
	return nil
}

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

	"github.com/positivemultiplier/posmul-engine/internal/config"
	"github.com/positivemultiplier/posmul-engine/internal/events"
	"github.com/positivemultiplier/posmul-engine/internal/ledger"
	"github.com/positivemultiplier/posmul-engine/internal/metrics"
	"github.com/positivemultiplier/posmul-engine/internal/staking"
	"github.com/positivemultiplier/posmul-engine/internal/store"
	"github.com/positivemultiplier/posmul-engine/internal/wave"
	"github.com/positivemultiplier/posmul-engine/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
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
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
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

	// --- Kafka event publisher ---
	var pub *events.Publisher
	if cfg.KafkaBrokers != "" {
		pub = events.NewPublisher(cfg.KafkaBrokers)
		cleanup = append(cleanup, pub.Close)
		slog.Info("Kafka event publishing enabled", "brokers", cfg.KafkaBrokers)
	}

	// --- WebSocket hub ---
	hub := ws.NewHub()
	go hub.Run()

	// --- Services ---
	led := ledger.New(st)
	stakingSvc := staking.NewService(st, led, pub, hub)
	gameSvc := staking.NewGameService(st, pub, hub)
	distributor := wave.NewDistributor(st, led, wave.Config{
		Wave1Pool:      cfg.Wave1Pool,
		Wave3Pool:      cfg.Wave3Pool,
		ClawbackRate:   cfg.ClawbackRate,
		ActivityWindow: cfg.ActivityWindow,
		DormancyWindow: cfg.DormancyWindow,
		TopN:           cfg.TopN,
	}, pub, hub)

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
		w.Write([]byte(`{"status":"ok","service":"posmul-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time pool and wave updates.
		r.Get("/ws", hub.HandleWS)

		// Game administration.
		r.Get("/games", gameSvc.ListGames)
		r.Post("/games", gameSvc.CreateGame)
		r.Get("/games/{gameID}", gameSvc.GetGame)
		r.Put("/games/{gameID}/status", gameSvc.UpdateStatus)

		// Stake lifecycle.
		r.Post("/stakes", stakingSvc.PlaceStake)
		r.Post("/stakes/{stakeID}/withdraw", stakingSvc.WithdrawStake)

		// User queries and funding.
		r.Get("/users/{userID}/balance", stakingSvc.GetBalance)
		r.Get("/users/{userID}/stakes", stakingSvc.ListUserStakes)
		r.Get("/users/{userID}/transactions", stakingSvc.ListTransactions)
		r.Post("/users/{userID}/deposit", stakingSvc.Deposit)

		// MoneyWave distribution.
		r.Post("/waves/run", distributor.RunWaveHandler)
		r.Get("/waves/summary", distributor.SummaryHandler)
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
		slog.Info("posmul-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down posmul-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("posmul-engine stopped")
}

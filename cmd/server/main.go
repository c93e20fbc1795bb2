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
	"github.com/robfig/cron/v3"

	"github.com/rentkit/reservation-engine/internal/allocation"
	"github.com/rentkit/reservation-engine/internal/api"
	"github.com/rentkit/reservation-engine/internal/cart"
	"github.com/rentkit/reservation-engine/internal/config"
	"github.com/rentkit/reservation-engine/internal/ledger"
	"github.com/rentkit/reservation-engine/internal/metrics"
	"github.com/rentkit/reservation-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	st, cleanup, err := newStore(cfg)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	// --- Services ---
	ledgerSvc := ledger.NewService(st, nil)
	engine := allocation.NewEngine(st)
	cartSvc := cart.NewService(st, engine, ledgerSvc, nil)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	apiSvc := api.NewService(st, ledgerSvc, engine, cartSvc, wsHub)

	// --- Expired claim sweeper ---
	// Expired pending claims stop counting toward availability as soon
	// as their window passes; the sweep only settles their status.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Sweep.Cron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := ledgerSvc.ReleaseExpired(ctx, time.Now().UTC())
		if err != nil {
			slog.Error("expired claim sweep failed", "err", err)
			return
		}
		if n > 0 {
			metrics.ExpiredClaimsSwept.Add(float64(n))
			slog.Info("expired claims completed", "count", n)
		}
	}); err != nil {
		slog.Error("invalid sweep cron expression", "expr", cfg.Sweep.Cron, "err", err)
		os.Exit(1)
	}
	sweeper.Start()
	defer sweeper.Stop()

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
		w.Write([]byte(`{"status":"ok","service":"reservation-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", apiSvc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("reservation-engine listening", "port", cfg.Server.Port)
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

	slog.Info("shutting down reservation-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("reservation-engine stopped")
}

// newStore builds the store stack from config: postgres as source of
// truth, optionally wrapped in the redis read-through cache, falling
// back to the in-memory store when no database is configured.
func newStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.URL == "" {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	st := store.Store(store.NewPostgresStore(pool))
	cleanup := func() { pool.Close() }

	if cfg.Redis.URL == "" {
		return st, cleanup, nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL)

	return store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL), func() {
		rdb.Close()
		pool.Close()
	}, nil
}

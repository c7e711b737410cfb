package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sfthub/marketplace-engine/internal/api"
	"github.com/sfthub/marketplace-engine/internal/ledger"
	"github.com/sfthub/marketplace-engine/internal/market"
	"github.com/sfthub/marketplace-engine/internal/metrics"
	"github.com/sfthub/marketplace-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	owner := os.Getenv("PLATFORM_OWNER")
	if owner == "" {
		owner = "platform"
	}
	custody := os.Getenv("CUSTODY_ACCOUNT")
	if custody == "" {
		custody = "marketplace-custody"
	}

	feeBP := int64(250)
	if raw := os.Getenv("MARKET_FEE_BP"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			slog.Error("invalid MARKET_FEE_BP", "value", raw, "err", err)
			os.Exit(1)
		}
		feeBP = v
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case os.Getenv("DATABASE_URL") != "":
		pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	case os.Getenv("SQLITE_PATH") != "":
		sq, err := store.NewSqliteStore(os.Getenv("SQLITE_PATH"))
		if err != nil {
			slog.Error("sqlite open failed", "path", os.Getenv("SQLITE_PATH"), "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { sq.Close() })
		st = sq
		slog.Info("opened SQLite store", "path", os.Getenv("SQLITE_PATH"))
	default:
		slog.Warn("no DATABASE_URL or SQLITE_PATH set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Wrap with Redis read-through cache if configured.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, 30*time.Second)
		slog.Info("Redis cache enabled")
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run()

	// --- Marketplace engine ---
	//
	// The in-process ledger and bank stand in for the real token and payment
	// backends until those integrations land.
	var rnd market.RandSource
	if raw := os.Getenv("RAFFLE_SEED"); raw != "" {
		seed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			slog.Error("invalid RAFFLE_SEED", "value", raw, "err", err)
			os.Exit(1)
		}
		rnd = market.NewSeededRand(seed)
	}

	engine, err := market.New(market.Config{
		Store:   st,
		Ledger:  ledger.NewMemoryLedger(custody),
		Bank:    ledger.NewMemoryBank(),
		Owner:   owner,
		Custody: custody,
		FeeBP:   feeBP,
		Events:  hub,
		Rand:    rnd,
	})
	if err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	apiSrv := api.NewServer(engine, hub)

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
		w.Write([]byte(`{"status":"ok","service":"marketplace-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	apiSrv.Routes(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("marketplace-engine listening", "port", port)
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

	slog.Info("shutting down marketplace-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("marketplace-engine stopped")
}

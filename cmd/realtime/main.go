package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"

	"github.com/sourcebazaar/realtime/internal/auth"
	"github.com/sourcebazaar/realtime/internal/config"
	"github.com/sourcebazaar/realtime/internal/gateway"
	"github.com/sourcebazaar/realtime/internal/governance"
	"github.com/sourcebazaar/realtime/internal/hub"
	"github.com/sourcebazaar/realtime/internal/ledger"
	"github.com/sourcebazaar/realtime/internal/market"
	"github.com/sourcebazaar/realtime/internal/session"
	"github.com/sourcebazaar/realtime/internal/store"
)

func main() {
	godotenv.Load()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	// Community records (durable president election).
	communities, err := store.NewRedisCommunities(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer communities.Close()
	log.Info("connected to redis", "addr", cfg.RedisAddr)

	// Chat history.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := store.CreateSchema(db); err != nil {
		log.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	messages := store.NewPostgresMessages(db)
	log.Info("database schema ready")

	// Downstream ledger hand-off.
	natsConn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		log.Error("nats connection failed", "error", err)
		os.Exit(1)
	}
	defer natsConn.Close()
	publisher, err := ledger.New(natsConn)
	if err != nil {
		log.Error("jetstream setup failed", "error", err)
		os.Exit(1)
	}
	log.Info("connected to nats", "url", cfg.NatsURL)

	rooms := hub.New(log)
	sched := market.NewScheduler()
	window := market.Window{
		OpenHour:  cfg.MarketOpenHour,
		CloseHour: cfg.MarketCloseHour,
		Loc:       cfg.MarketLocation(),
	}
	markets := market.NewEngine(sched, window, cfg.MarketDuration, rooms, publisher, log)
	gov := governance.NewEngine(communities)
	router := session.NewRouter(rooms, gov, markets, communities, messages, publisher, cfg.ChatHistoryLimit, log)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	handler := gateway.New(verifier, router, rooms, log)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("realtime engine listening", "addr", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}

	log.Info("server stopped")
}

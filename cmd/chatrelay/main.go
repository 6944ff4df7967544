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
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Kestr3l/ChatRelay/internal/adapter/foundry"
	crhttp "github.com/Kestr3l/ChatRelay/internal/adapter/http"
	"github.com/Kestr3l/ChatRelay/internal/adapter/mcpgw"
	crnats "github.com/Kestr3l/ChatRelay/internal/adapter/nats"
	otelad "github.com/Kestr3l/ChatRelay/internal/adapter/otel"
	"github.com/Kestr3l/ChatRelay/internal/adapter/postgres"
	"github.com/Kestr3l/ChatRelay/internal/adapter/ristretto"
	"github.com/Kestr3l/ChatRelay/internal/adapter/ws"
	"github.com/Kestr3l/ChatRelay/internal/config"
	"github.com/Kestr3l/ChatRelay/internal/domain/tool"
	"github.com/Kestr3l/ChatRelay/internal/logger"
	"github.com/Kestr3l/ChatRelay/internal/middleware"
	"github.com/Kestr3l/ChatRelay/internal/port/transcript"
	"github.com/Kestr3l/ChatRelay/internal/resilience"
	"github.com/Kestr3l/ChatRelay/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"gateway_url", cfg.Gateway.URL,
		"runtime_endpoint", cfg.Runtime.Endpoint,
	)

	ctx := context.Background()

	// --- Telemetry ---
	if cfg.Telemetry.Enabled {
		shutdown, err := otelad.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("telemetry shutdown failed", "error", err)
			}
		}()
		slog.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint)
	}

	metrics, err := otelad.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL transcript store (optional)
	var store transcript.Store
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = postgres.NewStore(pool)
		slog.Info("postgres connected, migrations applied")
	} else {
		slog.Info("transcript persistence disabled")
	}

	// NATS run-event publisher (optional)
	var publisher *crnats.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = crnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = publisher.Close() }()
	}

	// Tool-result cache
	resultCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer resultCache.Close()

	// --- Upstreams ---
	gw := mcpgw.New(cfg.Gateway)
	defer func() { _ = gw.Close() }()
	if !gw.HasCredential() {
		slog.Warn("no gateway credential configured; tool calls will report failure payloads")
	}

	rt := foundry.New(cfg.Runtime)

	// --- Services ---
	catalog := tool.Default().Filter(cfg.Agent.EnabledTools)
	slog.Info("tool catalog ready", "tools", catalog.Len())

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	invoker := service.NewInvoker(gw, breaker, resultCache, cfg.Agent.ResultCacheTTL, metrics)
	normalizer := service.NewNormalizer(&cfg.Agent)

	hub := ws.NewHub()

	orchestrator := service.NewOrchestrator(catalog, normalizer, invoker, rt, &cfg.Agent)
	orchestrator.SetBroadcaster(hub)
	orchestrator.SetMetrics(metrics)
	if store != nil {
		orchestrator.SetTranscriptStore(store)
	}
	if publisher != nil {
		orchestrator.SetEventPublisher(publisher)
	}

	// --- HTTP ---
	handlers := crhttp.NewHandlers(orchestrator, catalog, store)

	r := chi.NewRouter()

	r.Use(crhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(crhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(3 * time.Minute))
	if cfg.Telemetry.Enabled {
		r.Use(otelad.HTTPMiddleware(cfg.Logging.Service))
	}

	r.Get("/health", healthHandler(cfg, hub))
	r.Get("/ws", hub.HandleWS)
	crhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports service health and configured upstreams.
func healthHandler(cfg *config.Config, hub *ws.Hub) http.HandlerFunc {
	type healthStatus struct {
		Status        string `json:"status"`
		Gateway       string `json:"gateway"`
		Runtime       string `json:"runtime"`
		Persistence   bool   `json:"persistence"`
		WSConnections int    `json:"ws_connections"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:        "ok",
			Gateway:       cfg.Gateway.URL,
			Runtime:       cfg.Runtime.Endpoint,
			Persistence:   cfg.Postgres.DSN != "",
			WSConnections: hub.ConnectionCount(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}

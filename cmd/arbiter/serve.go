package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	arbhttp "github.com/Strob0t/arbiter/internal/adapter/http"
	arbmcp "github.com/Strob0t/arbiter/internal/adapter/mcp"
	arbnats "github.com/Strob0t/arbiter/internal/adapter/nats"
	"github.com/Strob0t/arbiter/internal/adapter/natskv"
	arbotel "github.com/Strob0t/arbiter/internal/adapter/otel"
	"github.com/Strob0t/arbiter/internal/adapter/ristretto"
	"github.com/Strob0t/arbiter/internal/adapter/tiered"
	"github.com/Strob0t/arbiter/internal/adapter/ws"
	"github.com/Strob0t/arbiter/internal/config"
	"github.com/Strob0t/arbiter/internal/logger"
	"github.com/Strob0t/arbiter/internal/middleware"
	"github.com/Strob0t/arbiter/internal/port/cache"
	"github.com/Strob0t/arbiter/internal/port/messagequeue"
	"github.com/Strob0t/arbiter/internal/resilience"
	"github.com/Strob0t/arbiter/internal/service"
)

// l1Expire bounds how long an L2 backfill stays in the in-process cache.
const l1Expire = 5 * time.Minute

func runServe(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"provenance", cfg.Provenance.Backend,
		"providers", len(cfg.Providers),
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	shutdownOTEL, err := arbotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := arbotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("provenance store: %w", err)
	}
	defer func() { _ = store.Close() }()

	var queue *arbnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = arbnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
	}

	historyCache, closeCache, err := buildCache(ctx, cfg, queue)
	if err != nil {
		return err
	}
	defer closeCache()

	// --- Services ---
	bindings, err := buildBindings(cfg)
	if err != nil {
		return err
	}
	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()

	dispatcher := service.NewDispatcher(dispatchConfig(cfg), bindings,
		resilience.NewSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	dispatcher.SetMetrics(metrics)
	dispatcher.SetBroadcaster(hub)

	notifications, err := buildNotifications(cfg.Notify)
	if err != nil {
		return err
	}

	orch := service.NewOrchestratorService(dispatcher,
		service.NewProvenanceService(store, historyCache),
		capabilityTable(cfg.Roles), buildPolicy(cfg.Policy))
	orch.SetMetrics(metrics)
	orch.SetBroadcaster(hub)
	orch.SetNotifications(notifications, cfg.Notify.PublicURL)
	if err := orch.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	defer orch.Wait()

	if queue != nil {
		orch.SetQueue(queue)
		cancelSub, err := queue.Subscribe(ctx, messagequeue.SubjectResolveCommand, orch.HandleResolveCommand)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", messagequeue.SubjectResolveCommand, err)
		}
		defer cancelSub()
	}

	// --- HTTP ---
	limiter := middleware.NewRateLimiter(cfg.Server.Rate.RequestsPerSecond, cfg.Server.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Server.Rate.CleanupInterval, cfg.Server.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(arbhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(arbhttp.SecurityHeaders)
	r.Use(arbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(arbotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	r.Get("/health", healthHandler(cfg, orch, hub, queue))
	r.Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		arbhttp.MountRoutes(r, &arbhttp.Handlers{Orchestrator: orch}, arbhttp.RouteOptions{
			WebhookSecret:  cfg.Notify.WebhookSecret,
			Idempotency:    historyCache,
			IdempotencyTTL: cfg.Server.IdempotencyTTL,
		})
		if cfg.MCP.Enabled {
			mcpSrv := arbmcp.NewServer(arbmcp.ServerConfig{
				Name:    "arbiter",
				Version: version,
				APIKey:  cfg.MCP.APIKey,
			}, arbmcp.ServerDeps{Decisions: orch})
			r.Handle(cfg.MCP.Path, mcpSrv.Handler())
			slog.Info("mcp endpoint mounted", "path", cfg.MCP.Path, "auth", cfg.MCP.APIKey != "")
		}
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Submits block until every provider answered or the deadline hit.
		WriteTimeout: cfg.Dispatch.RequestDeadline + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.RequestDeadline+10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if queue != nil {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	}
	return nil
}

// buildCache assembles the history cache: ristretto in process, fronting
// a shared NATS KV bucket when the bus is configured.
func buildCache(ctx context.Context, cfg *config.Config, queue *arbnats.Queue) (cache.Cache, func(), error) {
	if cfg.Provenance.CacheBytes <= 0 {
		return nil, func() {}, nil
	}
	l1, err := ristretto.New(cfg.Provenance.CacheBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("history cache: %w", err)
	}
	if queue == nil || cfg.NATS.KVBucket == "" {
		return l1, l1.Close, nil
	}
	kv, err := queue.KeyValue(ctx, cfg.NATS.KVBucket, cfg.NATS.KVTTL)
	if err != nil {
		l1.Close()
		return nil, nil, err
	}
	slog.Info("tiered history cache enabled", "bucket", cfg.NATS.KVBucket)
	return tiered.New(l1, natskv.New(kv), l1Expire), l1.Close, nil
}

// healthHandler reports liveness plus the state of optional dependencies.
func healthHandler(cfg *config.Config, orch *service.OrchestratorService, hub *ws.Hub, queue *arbnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status     string `json:"status"`
		Version    string `json:"version"`
		Provenance string `json:"provenance"`
		NATS       string `json:"nats"`
		Pending    int    `json:"pending"`
		OpenBreak  int    `json:"open_breakers"`
		WSClients  int    `json:"ws_clients"`
		DryRun     bool   `json:"dry_run"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:     "ok",
			Version:    version,
			Provenance: cfg.Provenance.Backend,
			NATS:       "disabled",
			Pending:    len(orch.Pending()),
			WSClients:  hub.ConnectionCount(),
			DryRun:     cfg.DryRun,
		}
		for _, p := range orch.Providers() {
			if p.State == resilience.StateOpen {
				status.OpenBreak++
			}
		}
		code := http.StatusOK
		if queue != nil {
			status.NATS = "connected"
			if !queue.IsConnected() {
				status.NATS = "disconnected"
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/flowboard/internal/adapter/boardfile"
	cfhttp "github.com/Strob0t/flowboard/internal/adapter/http"
	"github.com/Strob0t/flowboard/internal/adapter/mcp"
	cfnats "github.com/Strob0t/flowboard/internal/adapter/nats"
	"github.com/Strob0t/flowboard/internal/adapter/natskv"
	cfotel "github.com/Strob0t/flowboard/internal/adapter/otel"
	"github.com/Strob0t/flowboard/internal/adapter/ristretto"
	"github.com/Strob0t/flowboard/internal/adapter/tiered"
	"github.com/Strob0t/flowboard/internal/adapter/ws"
	"github.com/Strob0t/flowboard/internal/config"
	"github.com/Strob0t/flowboard/internal/domain/board"
	"github.com/Strob0t/flowboard/internal/logger"
	"github.com/Strob0t/flowboard/internal/middleware"
	"github.com/Strob0t/flowboard/internal/port/cache"
	"github.com/Strob0t/flowboard/internal/port/messagequeue"
	"github.com/Strob0t/flowboard/internal/resilience"
	"github.com/Strob0t/flowboard/internal/service"
)

const (
	version            = "0.1.0"
	pendingSweepPeriod = 30 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// pingFunc adapts a function to cfhttp.HealthChecker.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"config_file", cfgPath,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"log_level", cfg.Logging.Level,
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	otelShutdown, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		queue *cfnats.Queue
		mq    messagequeue.Queue
	)
	if cfg.NATS.URL != "" {
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		mq = queue
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	var seriesCache cache.Cache = l1
	if queue != nil {
		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("l2 cache: %w", err)
		}
		seriesCache = tiered.New(l1, natskv.New(kv), cfg.Cache.L1TTL)
	}

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	breaker := resilience.NewBreaker("broker", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	flowNotifier := service.NewFlowNotifier(mq, hub, breaker)

	catalog := service.NewCatalogService(store)
	query := service.NewQueryService(store, seriesCache, cfg.Cache.L2TTL, cfg.Query, cfg.Dashboard)
	aggregator := service.NewAggregatorService(store, query, flowNotifier, metrics, cfg.Aggregator)
	pending := service.NewPendingBuffer(cfg.Tracker.PendingTTL, cfg.Tracker.PendingMax)
	tracker := service.NewTrackerService(store, pending, aggregator, flowNotifier, metrics, cfg.Tracker)
	defer tracker.Close()

	if err := loadCatalog(ctx, cfg.Catalog, catalog); err != nil {
		return err
	}

	go tracker.RunPendingSweeper(ctx, pendingSweepPeriod)

	if cfg.Scheduler.Enabled {
		scheduler := service.NewSchedulerService(store, aggregator, cfg.Scheduler)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	if queue != nil {
		cancelEvents, err := queue.Subscribe(ctx, messagequeue.SubjectCardEvents, tracker.HandleCardEvents)
		if err != nil {
			return fmt.Errorf("card event subscriber: %w", err)
		}
		defer cancelEvents()
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Catalog:    catalog,
		Tracker:    tracker,
		Aggregator: aggregator,
		Query:      query,
		Health:     map[string]cfhttp.HealthChecker{"database": store},
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst, middleware.ByBoardAndIP)
	limiter.StartCleanup(ctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	opts := cfhttp.RouteOptions{IngestLimit: limiter.Handler}

	if queue != nil {
		handlers.Health["nats"] = pingFunc(func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		})
		handlers.Health["publish"] = breaker
		idemKV, err := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
		if err != nil {
			return fmt.Errorf("idempotency store: %w", err)
		}
		opts.Idempotency = middleware.Idempotency(idemKV)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	// Long-lived connections stay outside the request timeout.
	r.Get("/ws", hub.HandleWS)
	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(
			mcp.ServerConfig{Name: "flowboard", Version: version, Path: cfg.MCP.Path},
			mcp.ServerDeps{Boards: catalog, Flow: query},
		)
		r.Handle(mcpServer.Path(), mcpServer)
		slog.Info("mcp server mounted", "path", mcpServer.Path())
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		cfhttp.MountRoutes(r, handlers, opts)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if queue != nil {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	}
	return nil
}

// loadCatalog syncs the board catalog file into storage and, when enabled,
// keeps watching it. A missing file is not an error; boards may already be
// stored.
func loadCatalog(ctx context.Context, cfg config.Catalog, catalog *service.CatalogService) error {
	defs, err := boardfile.Load(cfg.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("board catalog not found, serving stored boards", "path", cfg.Path)
	case err != nil:
		return fmt.Errorf("board catalog: %w", err)
	default:
		if err := catalog.Sync(ctx, defs); err != nil {
			return fmt.Errorf("board catalog sync: %w", err)
		}
		slog.Info("board catalog loaded", "path", cfg.Path, "boards", len(defs))
	}

	if !cfg.Watch {
		return nil
	}
	err = boardfile.Watch(ctx, cfg.Path, func(defs []board.Definition) {
		if err := catalog.Sync(ctx, defs); err != nil {
			slog.Error("board catalog resync failed", "path", cfg.Path, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("board catalog watch: %w", err)
	}
	return nil
}

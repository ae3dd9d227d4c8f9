package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/brokerx/internal/config"
	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/engine"
	"github.com/efreitasn/brokerx/internal/handler"
	"github.com/efreitasn/brokerx/internal/idempotency"
	"github.com/efreitasn/brokerx/internal/notify"
	"github.com/efreitasn/brokerx/internal/risk"
	"github.com/efreitasn/brokerx/internal/service"
	"github.com/efreitasn/brokerx/internal/store"
	"github.com/efreitasn/brokerx/internal/store/sqlstore"
)

// reportBuffer is how many execution reports the webhook sink may lag
// behind the core before reports are dropped.
const reportBuffer = 4096

const sweepInterval = time.Minute

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	repo, health, closeRepo, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	instruments := domain.NewInstrumentRegistry(cfg.Instruments...)
	accounts := store.NewAccountStore(repo)
	webhookStore := store.NewWebhookStore()

	hub := notify.NewHub(logger.With(slog.String("component", "hub")))
	sub := hub.Subscribe(reportBuffer)
	sink := notify.NewWebhookSink(webhookStore, cfg.WebhookTimeout, logger.With(slog.String("component", "webhooks")))

	validator := risk.NewValidator(instruments, risk.Limits{
		MaxQuantity: cfg.MaxOrderQuantity,
		MaxNotional: cfg.MaxOrderNotional,
		BandBPS:     cfg.PriceBandBPS,
	})
	core := engine.NewCore(engine.Config{
		Workers:             cfg.Workers,
		QueueDepth:          cfg.QueueDepth,
		PersistTimeout:      cfg.PersistTimeout,
		PersistRetries:      cfg.PersistRetries,
		PersistBackoff:      cfg.PersistBackoff,
		BandBPS:             cfg.PriceBandBPS,
		RejectOnCrossedBook: cfg.RejectOnCrossedBook(),
		DayOrderTTL:         cfg.DayOrderTTL,
		ExpirationInterval:  cfg.ExpirationInterval,
	}, accounts, instruments, validator, repo, hub, logger.With(slog.String("component", "core")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	guard := idempotency.NewGuard(cfg.IdempotencyTTL, repo)
	guard.Start(ctx, sweepInterval)

	router := handler.NewRouter(handler.Services{
		Accounts: service.NewAccountService(accounts, instruments, repo),
		Orders:   service.NewOrderService(core, guard, accounts, repo, logger),
		Market:   service.NewMarketService(core, instruments, logger),
		Webhooks: service.NewWebhookService(webhookStore, accounts),
		Health:   health,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.Run(gctx) })
	g.Go(func() error { return sink.Run(gctx, sub) })

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.Int("instruments", len(cfg.Instruments)),
			slog.Bool("durable", cfg.DatabasePath != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serveErr:
		logger.Error("server error", slog.String("error", err.Error()))
	case <-gctx.Done():
		logger.Error("background component stopped")
	}

	// Stop taking requests first so no submission races the core's exit.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}

	delivered, failed := sink.Stats()
	logger.Info("final counters",
		slog.Int64("alerts", core.Alerts()),
		slog.Int64("reports_dropped", hub.Dropped()),
		slog.Int64("webhooks_delivered", delivered),
		slog.Int64("webhooks_failed", failed),
	)
	return nil
}

func openRepository(cfg *config.Config, logger *slog.Logger) (service.Repository, func(context.Context) error, func(), error) {
	if cfg.DatabasePath == "" {
		logger.Warn("DATABASE_PATH not set, state is kept in memory only")
		return store.NewMemory(), nil, func() {}, nil
	}

	db, err := sqlstore.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("close database", slog.String("error", err.Error()))
		}
	}
	return db, db.Ping, closeDB, nil
}

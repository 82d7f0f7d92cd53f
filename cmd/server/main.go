package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/capfriends/service/backend"
	"github.com/brojonat/capfriends/service/config"
	"github.com/brojonat/capfriends/service/metrics"
	natspkg "github.com/brojonat/capfriends/service/nats"
	"github.com/brojonat/capfriends/service/server"
	"github.com/brojonat/capfriends/service/swap"
	"github.com/brojonat/capfriends/service/temporal"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	if err := cfg.ValidateServer(); err != nil {
		logger.Error("refusing to start", "error", err)
		os.Exit(1)
	}
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"chain", cfg.Chain,
		"network", cfg.Network,
		"confirmation_mode", cfg.ConfirmationMode,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	logger.Info("Prometheus metrics collector initialized")

	// Connect to the chain
	b, err := backend.New(ctx, cfg, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to initialize chain backend", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	swapCfg := b.SwapConfig()
	swapCfg.Metrics = metricsCollector
	swapCfg.Logger = logger

	// Durable confirmation through Temporal (optional)
	if cfg.ConfirmationMode == config.ConfirmationTemporal {
		temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()

		swapCfg.Confirmer = temporal.NewWorkflowConfirmer(
			temporalClient.SDKClient(),
			temporalClient.TaskQueue(),
			cfg.Network,
			cfg.ConfirmationTimeout,
			metricsCollector,
			logger,
		)
		logger.Info("confirmations run as temporal workflows", "task_queue", cfg.TemporalTaskQueue)
	}

	// Initialize NATS publisher for swap events (optional)
	var ssePublisher *server.SSEPublisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Warn("NATS unavailable, swap events will not be published", "error", err)
	} else {
		defer natsPublisher.Close()
		swapCfg.Observers = append(swapCfg.Observers, natspkg.NewObserver(natsPublisher, logger))

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("failed to initialize SSE publisher", "error", err)
			ssePublisher = nil
		}
	}

	orch, err := swap.New(swapCfg)
	if err != nil {
		logger.Error("failed to create swap orchestrator", "error", err)
		os.Exit(1)
	}

	var tokens server.TokenReader
	if b.Tokens != nil {
		tokens = b.Tokens
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, orch, b.Codec, b.Session, tokens, ssePublisher, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"nats_url", cfg.NATSURL,
		"can_submit", cfg.CanSubmit(),
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

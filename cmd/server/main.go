package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/fleet"
	httpapi "github.com/example/taxi-dispatch/internal/http"
	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/ledger"
	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	store, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var events ingest.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		events = kp
		logger.Info("kafka producer enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	registry := fleet.NewRegistry(store, logger, events, cfg.GridSize)
	tripLedger := ledger.New(store, logger, events)
	notifier := dispatch.NewHTTPNotifier(cfg.NotifyTimeout, cfg.NotifyMaxAttempts, cfg.NotifyBackoffBase, cfg.NotifyBackoffStep)
	wsReg := dispatch.NewWSRegistry()
	saga := dispatch.NewSaga(tripLedger, notifier, wsReg, logger)

	api := httpapi.NewServer(registry, tripLedger, saga, wsReg, logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := fleet.NewSweeper(registry, cfg.SweepInterval, cfg.HeartbeatTTL)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dispatcher listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildStore(cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.PGDSN == "" {
		logger.Info("no PG_DSN set, using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}
	pg, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		path := filepath.Join("migrations", "001_create_dispatch.sql")
		b, err := os.ReadFile(path)
		if err != nil {
			logger.Error("migration read failed", "path", path, "error", err)
		} else if _, err := pg.DB().Exec(string(b)); err != nil {
			logger.Error("migration exec failed", "path", path, "error", err)
		} else {
			logger.Info("migration applied", "path", path)
		}
	}
	return pg, func() { _ = pg.Close() }, nil
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/bikeshrana/cnquant/internal/api"
	"github.com/bikeshrana/cnquant/internal/api/svc"
	"github.com/bikeshrana/cnquant/internal/audit"
	"github.com/bikeshrana/cnquant/internal/backtest"
	"github.com/bikeshrana/cnquant/internal/config"
	"github.com/bikeshrana/cnquant/internal/core/events"
	"github.com/bikeshrana/cnquant/internal/database"
	"github.com/bikeshrana/cnquant/internal/obs"
	"github.com/bikeshrana/cnquant/internal/store"
)

func main() {
	var exitCode int
	defer func() { os.Exit(exitCode) }()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitCode = 1
	}
}

func run() error {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := obs.NewLogger(cfg.Logging)
	logger.Info().Str("version", "1.0.0").Msg("starting cnquant API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	eventBus := events.NewEventBus(256, logger)
	defer eventBus.Close()

	migrationDB, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	migrateErr := database.RunMigrations(migrationDB, database.MigrationConfig{
		MigrationsPath: "migrations",
		DatabaseName:   cfg.Database.Database,
	})
	migrationDB.Close()
	if migrateErr != nil {
		return fmt.Errorf("failed to run migrations: %w", migrateErr)
	}
	logger.Info().Msg("database migrations applied")

	st, err := store.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer st.Close()
	logger.Info().Msg("database connected")

	auditLogger := audit.NewAuditLogger(st.Pool(), logger)
	engineMetrics := obs.NewEngineMetrics("cnquant")
	st.SetMetrics(engineMetrics)

	runner := backtest.NewRunner(st, st, cfg.Engine.MaxParallelBacktests, cfg.Engine.BacktestTimeout, logger)
	runner.SetMetrics(engineMetrics)
	service := svc.NewService(st, runner, cfg.Engine.StrategyDir, eventBus, logger)
	service.SetMetrics(engineMetrics)

	server := api.NewServer(&cfg.Server, cfg.RateLimit, cfg.Auth, st, service, auditLogger, eventBus, engineMetrics, logger)

	go server.StartEventListener(ctx)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	eventBus.Publish(ctx, events.NewSystemStatusEvent("api", "running", "server started"))

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-serverErrChan:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down server")
	}

	metricsByType := eventBus.GetMetrics()
	for eventType, m := range metricsByType {
		logger.Info().
			Str("event_type", string(eventType)).
			Int64("published", m.PublishedCount).
			Int64("dropped", m.DroppedCount).
			Msg("event bus metrics")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

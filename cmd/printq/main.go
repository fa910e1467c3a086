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
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/orrn/printq/internal/api/handlers"
	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/archive"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
	"github.com/orrn/printq/internal/lease"
	"github.com/orrn/printq/internal/logging"
	"github.com/orrn/printq/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "printq: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, store, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	sender := webhook.NewWebhookSender(database.Webhooks, webhook.WebhookConfig{
		RetryCount:  cfg.Webhooks.MaxRetries,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
	}, logger)
	sender.Start()
	defer sender.Stop()

	queue := core.NewQueue(store, core.SystemClock(), core.Notifiers{
		sender,
		db.NewCompletionCounter(database.Counters, logger),
	}, logger, core.Options{
		ConfirmationWindow: cfg.Printer.ConfirmationWindow,
		PrintDuration:      cfg.Printer.PrintDuration,
		PollInterval:       cfg.Printer.PollInterval,
		MaxRetries:         cfg.Queue.MaxRetries,
		RetryDelay:         cfg.Queue.RetryDelay,
		Pricing: core.PricingTable{
			SingleMono:  cfg.Pricing.SingleMono,
			SingleColor: cfg.Pricing.SingleColor,
			DoubleMono:  cfg.Pricing.DoubleMono,
			DoubleColor: cfg.Pricing.DoubleColor,
		},
	})

	auth, err := middleware.NewAuthMiddleware(ctx, database.Settings, middleware.AuthConfig{
		TokenDuration: cfg.Server.SessionTTL,
		SecureCookies: cfg.Server.SecureCookies,
	})
	if err != nil {
		return fmt.Errorf("failed to init auth: %w", err)
	}
	if err := auth.EnsureAdminPassword(ctx, cfg.Server.AdminPassword); err != nil {
		return fmt.Errorf("failed to seed admin password: %w", err)
	}

	// Archiving moves rows out of the sqlite jobs table, which the memory
	// driver does not use.
	var archiver *archive.Archiver
	if cfg.Database.Driver != "memory" {
		archiver, err = archive.NewArchiver(database, archive.ArchiveConfig{
			ArchivePath: cfg.Database.ArchivePath,
			ArchiveDays: handlers.StoredArchiveDays(ctx, database.Settings, cfg.Database.ArchiveDays),
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("failed to init archiver: %w", err)
		}
		archiver.Start()
		defer archiver.Stop()
	}

	if cfg.Redis.Enabled() {
		queue.SetStandby(true)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Config:   cfg,
		Queue:    queue,
		DB:       database,
		Auth:     auth,
		Archiver: archiver,
		Logger:   logger,
	})

	schedulerDone := make(chan error, 1)
	go func() {
		schedulerDone <- runScheduler(ctx, cfg.Redis, queue, logger)
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case err := <-schedulerDone:
		if err != nil {
			return fmt.Errorf("scheduler failed: %w", err)
		}
	}

	logger.Info("shutting down")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	return nil
}

// openStore returns the database for settings, webhooks, audit and counters
// together with the job store the queue runs on.
func openStore(cfg config.DatabaseConfig) (*db.DB, core.JobStore, error) {
	if cfg.Driver == "memory" {
		database, err := db.Open(":memory:")
		if err != nil {
			return nil, nil, err
		}
		return database, core.NewMemoryStore(), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	database, err := db.Open(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return database, database.Jobs, nil
}

// runScheduler drives the printer. With Redis configured only the replica
// holding the lease schedules and accepts job actions; the others answer
// ErrStandby. The queue recovers from the store every time the lease is
// reacquired.
func runScheduler(ctx context.Context, cfg config.RedisConfig, queue *core.Queue, logger *slog.Logger) error {
	if !cfg.Enabled() {
		return queue.Run(ctx)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable yet, waiting for lease", "addr", cfg.Addr, "error", err)
	}

	return lease.RunExclusive(ctx, lease.NewRedisLocker(rdb), cfg.LeaseKey, cfg.LeaseTTL, logger, queue.RunAsLeader)
}

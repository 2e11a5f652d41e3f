// Grading-worker runs deep analysis for dealcoach on a Temporal task queue.
//
// It opens the same session and transcript stores as dealcoachd, so it must
// be configured with a shared storage backend (sqlite on a shared volume).
//
// Usage:
//
//	TEMPORAL_HOST_PORT=localhost:7233 STORAGE_DRIVER=sqlite STORAGE_PATH=/data/sessions.db grading-worker
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dealcoach/internal/app"
	"github.com/fyrsmithlabs/dealcoach/internal/config"
	"github.com/fyrsmithlabs/dealcoach/internal/workflows"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Worker error: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}

	c, err := app.Open(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()
	logger := c.Logger.Underlying()

	orch, err := c.NewOrchestrator(nil)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer tc.Close()

	logger.Info("temporal client connected", zap.String("host", cfg.Temporal.HostPort))

	w := worker.New(tc, cfg.Temporal.TaskQueue, worker.Options{})
	workflows.Register(w, workflows.NewActivities(orch))

	logger.Info("worker configured",
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("storage", cfg.Storage.Driver),
	)

	if err := w.Start(); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}
	<-ctx.Done()
	logger.Info("shutdown signal received")
	w.Stop()

	logger.Info("worker stopped gracefully")
	return nil
}

// validate checks the settings the worker depends on beyond the common
// validation.
func validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Temporal.HostPort == "" {
		return errors.New("temporal.host_port is required")
	}
	if cfg.Storage.Driver == "memory" {
		return errors.New("storage.driver must be shared with dealcoachd; memory storage is process-local")
	}
	return nil
}

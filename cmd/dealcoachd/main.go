// Dealcoachd serves the dealcoach HTTP API: live utterance ingestion with
// coaching feedback, grading runs and session results.
//
// Configuration is loaded from ~/.config/dealcoach/config.yaml and
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	dealcoachd
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9090 STORAGE_DRIVER=sqlite STORAGE_PATH=/var/lib/dealcoach/sessions.db dealcoachd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dealcoach/internal/app"
	"github.com/fyrsmithlabs/dealcoach/internal/config"
	"github.com/fyrsmithlabs/dealcoach/internal/grading"
	httpserver "github.com/fyrsmithlabs/dealcoach/internal/http"
	"github.com/fyrsmithlabs/dealcoach/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  dealcoachd           Start the dealcoach server\n")
			fmt.Fprintf(os.Stderr, "  dealcoachd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("dealcoachd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the server and blocks until ctx is cancelled.
//
// This function:
//  1. Loads and validates configuration
//  2. Opens telemetry, logging, storage and NATS
//  3. Builds the grading orchestrator with the configured dispatcher
//  4. Starts the HTTP server and shuts it down on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c, err := app.Open(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()
	logger := c.Logger.Underlying()

	logger.Info("Starting dealcoachd",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("scoring_provider", cfg.Scoring.Provider),
		zap.String("dispatcher", cfg.Grading.Dispatcher),
		zap.Bool("nats_enabled", cfg.NATS.Enabled))

	dispatcher, closeDispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	orch, err := c.NewOrchestrator(dispatcher)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	deps := httpserver.Deps{
		Grader:      orch,
		Sessions:    c.Sessions,
		Transcripts: c.Transcripts,
		Registry:    c.NewRegistry(),
		Metrics:     httpserver.NewHTTPMetrics(logger),
	}
	if c.Events != nil {
		deps.Events = c.Events
	}
	srv, err := httpserver.NewServer(deps, logger, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	// In-process deep analysis runs are detached from requests; let them settle.
	if d, ok := orch.Dispatcher().(*grading.AsyncDispatcher); ok {
		d.Wait()
	}
	return nil
}

// newDispatcher returns nil for in-process deep analysis, or a Temporal
// dispatcher with a cleanup func closing its client.
func newDispatcher(cfg *config.Config, logger *zap.Logger) (grading.Dispatcher, func(), error) {
	if cfg.Grading.Dispatcher != "temporal" {
		return nil, func() {}, nil
	}
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	logger.Info("temporal client connected",
		zap.String("host", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue))

	d := workflows.NewTemporalDispatcher(tc, cfg.Temporal.TaskQueue, cfg.Grading.DeepAnalysisTimeout.Duration(), logger)
	return d, tc.Close, nil
}

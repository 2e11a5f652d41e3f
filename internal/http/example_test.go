package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dealcoach/internal/analyzer"
	"github.com/fyrsmithlabs/dealcoach/internal/grading"
	httpserver "github.com/fyrsmithlabs/dealcoach/internal/http"
	"github.com/fyrsmithlabs/dealcoach/internal/scoring"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

// ExampleServer demonstrates how to wire and start the HTTP server.
func ExampleServer() {
	logger := zap.NewNop()

	sessions := session.NewMemoryStore()
	transcripts := transcript.NewMemoryStore()
	orch, err := grading.New(grading.DefaultConfig(), sessions, transcripts, scoring.NewInstantScorer(), grading.WithLogger(logger))
	if err != nil {
		panic(err)
	}

	server, err := httpserver.NewServer(httpserver.Deps{
		Grader:      orch,
		Sessions:    sessions,
		Transcripts: transcripts,
		Registry:    analyzer.NewRegistry(analyzer.RegistryConfig{Analyzer: analyzer.DefaultConfig()}, nil, nil, logger),
	}, logger, &httpserver.Config{Host: "localhost", Port: 0})
	if err != nil {
		panic(err)
	}

	// Start server in background
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}

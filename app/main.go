package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedsieve/feedsieve/app/analysis"
	"github.com/feedsieve/feedsieve/app/analyzer"
	"github.com/feedsieve/feedsieve/app/api"
	"github.com/feedsieve/feedsieve/app/cfg"
	"github.com/feedsieve/feedsieve/app/database"
	"github.com/feedsieve/feedsieve/app/rules"
	"github.com/feedsieve/feedsieve/app/vector"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if c == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if c.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Feed Sieve server", "version", c.Version)

	db, err := database.NewConnection(c.DataDir)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database ready", "data_dir", c.DataDir)

	entryRepo := database.NewEntryRepository(db)
	ruleRepo := database.NewRuleRepository(db)
	jobRepo := database.NewJobRepository(db)

	profiles := analyzer.NewProfileCache(c.ProfilesDir)
	if err := profiles.Run(); err != nil {
		slog.Error("Failed to load analysis profiles", "error", err)
		os.Exit(1)
	}
	slog.Info("Analysis profiles loaded", "count", profiles.GetProfileCount())

	vectors, err := vector.NewStore(c.VectorBackend, vector.Config{
		Dimension: c.VectorDimension,
		Metric:    vector.Metric(c.VectorMetric),
	}, db)
	if err != nil {
		slog.Error("Failed to initialize vector store", "error", err)
		os.Exit(1)
	}
	slog.Info("Vector store ready", "backend", c.VectorBackend, "dimension", c.VectorDimension, "metric", c.VectorMetric)

	contentAnalyzer := analyzer.NewHeuristicAnalyzer(c.VectorDimension)
	ruleEngine := rules.NewEngine(entryRepo, ruleRepo)

	prelim := analysis.NewPreliminaryHandler(entryRepo, jobRepo, contentAnalyzer, profiles)
	deep, err := analysis.NewDeepHandler(entryRepo, contentAnalyzer, vectors, ruleEngine)
	if err != nil {
		slog.Error("Failed to initialize deep analysis pipeline", "error", err)
		os.Exit(1)
	}

	queue := analysis.NewQueue(jobRepo, entryRepo, prelim, deep, analysis.QueueConfig{
		WorkerCount:      c.WorkerCount,
		PollInterval:     time.Duration(c.PollInterval) * time.Second,
		JanitorInterval:  time.Duration(c.JanitorInterval) * time.Second,
		PreliminaryDelay: time.Duration(c.PreliminaryDelay) * time.Second,
		StalledAfter:     time.Duration(c.StalledAfter) * time.Second,
		PruneMaxAge:      time.Duration(c.PruneMaxAge) * time.Hour,
		PruneKeep:        c.PruneKeep,
		MaxAttempts:      c.MaxAttempts,
	})
	queue.Start()
	defer queue.Stop()
	slog.Info("Analysis queue started", "workers", c.WorkerCount)

	apiHandler := api.NewHandler(queue, ruleEngine, entryRepo, ruleRepo, vectors, profiles)
	server := api.NewServer(apiHandler, c.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + c.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", c.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Stop submissions, then give running jobs a chance to finish. Anything
	// still running after the deadline is requeued by the next start's
	// janitor via the stalled-job sweep.
	queue.Pause()
	if err := queue.Drain(shutdownCtx); err != nil {
		slog.Warn("Queue did not drain before deadline", "error", err)
	}

	slog.Info("Shutdown complete")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/avoronova/content-analyzer/internal/analyzer"
	"github.com/avoronova/content-analyzer/internal/api"
	cfgpkg "github.com/avoronova/content-analyzer/internal/config"
	"github.com/avoronova/content-analyzer/internal/engine"
	"github.com/avoronova/content-analyzer/internal/reclaimer"
	repo "github.com/avoronova/content-analyzer/internal/repository"
	"github.com/avoronova/content-analyzer/internal/service"
	"github.com/avoronova/content-analyzer/internal/stage"
	"github.com/avoronova/content-analyzer/internal/storage"
	"github.com/avoronova/content-analyzer/internal/transcriber"
)

func main() {

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfgpkg.SetupLogger(cfg)
	slog.Info("configuration loaded successfully")

	taskStore, err := repo.NewTaskStore(cfg.StateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Error("state file does not exist", "error", err)
		} else {
			slog.Error("failed to initialize task store", "error", err)
		}
		os.Exit(1)
	}

	workFiles := storage.NewFileStorage(cfg.WorkDir)
	resultFiles := storage.NewFileStorage(cfg.ResultsDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	analysisClient, err := analyzer.New(ctx, analyzer.Config{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.GeminiModel,
		MaxRetries: cfg.StageRetryMax,
		RetryDelay: cfg.StageRetryDelay,
	}, slog.Default())
	if err != nil {
		slog.Error("failed to initialize analysis client", "error", err)
		os.Exit(1)
	}

	transcriberClient := transcriber.NewClient(cfg.TranscriberURL, cfg.TranscriberTimeout, slog.Default())

	sequences := stage.Sequences(
		stage.NewAcquisition(workFiles, cfg.DownloadTimeout, cfg.MaxArtifactSize, cfg.StageRetryMax, cfg.StageRetryDelay, slog.Default()),
		stage.NewTranscription(workFiles, transcriberClient, cfg.StageRetryMax, cfg.StageRetryDelay, slog.Default()),
		stage.NewAnalysis(workFiles, analysisClient, cfg.AnalysisTimeout, slog.Default()),
		stage.NewPersistence(resultFiles, slog.Default()),
	)

	rec := reclaimer.New(taskStore, workFiles, cfg.SweepInterval, cfg.RetentionWindow, cfg.OrphanThreshold, slog.Default())
	eng := engine.New(taskStore, rec, sequences, slog.Default())

	taskService := service.NewTaskService(
		taskStore, eng, rec, workFiles,
		cfg.MaxArtifactSize, cfg.RetentionWindow, cfg.OrphanThreshold,
		slog.Default(),
	)

	if err := eng.Resubmit(ctx); err != nil {
		slog.Error("failed to resubmit interrupted tasks", "error", err)
	}

	go rec.Run(ctx)

	router := api.NewRouter(taskService, slog.Default())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	go func() {
		slog.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	if err := eng.Stop(shutdownCtx); err != nil {
		slog.Error("engine shutdown incomplete", "error", err)
	} else {
		slog.Info("server stopped gracefully")
	}
}

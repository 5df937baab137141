package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/ragdoc/internal/config"
	"github.com/dshills/ragdoc/internal/embedder"
	"github.com/dshills/ragdoc/internal/generator"
	"github.com/dshills/ragdoc/internal/jobs"
	"github.com/dshills/ragdoc/internal/logging"
	"github.com/dshills/ragdoc/internal/materializer"
	"github.com/dshills/ragdoc/internal/storage"
)

// app holds the process-wide dependencies shared by every command
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   jobs.Store
	manager *jobs.Manager
	metrics *http.Server
}

// newApp loads configuration and wires the job manager. An embedder or
// generator that cannot be built is left nil: jobs then fail with a
// service-unavailable message instead of the process refusing to start.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	var emb embedder.Embedder
	if e, err := embedder.New(cfg.Embedding); err != nil {
		logger.Warn("embedding provider unavailable", zap.String("provider", cfg.Embedding.Provider), zap.Error(err))
	} else {
		emb = e
	}

	var gen generator.Generator
	if g, err := generator.New(ctx, cfg.Generation); err != nil {
		logger.Warn("generation provider unavailable", zap.String("provider", cfg.Generation.Provider), zap.Error(err))
	} else {
		gen = g
	}

	a := &app{cfg: cfg, logger: logger}

	opts := []jobs.Option{jobs.WithLogger(logger)}
	if cfg.Storage.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := storage.NewSQLiteStorage(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.store = db
		opts = append(opts, jobs.WithSink(db), jobs.WithEmbeddingLoader(db), jobs.WithKeywordIndexer(db))
	} else {
		a.store = jobs.NewMemoryStore()
		opts = append(opts, jobs.WithKeywordIndexer(storage.MemoryKeywordIndexer{}))
	}

	a.manager = jobs.NewManager(cfg.Run(), emb, gen, a.store, opts...)

	logger.Info("ragdoc initialized",
		zap.String("version", version),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.Int("dimension", cfg.Embedding.Dimension),
		zap.String("generation_provider", cfg.Generation.Provider),
		zap.Int("k", cfg.Retrieval.K),
		zap.String("backend", cfg.Retrieval.Backend),
		zap.String("storage", storageDescription(cfg.Storage.Path)))

	if cfg.Metrics.Addr != "" {
		a.startMetrics(cfg.Metrics.Addr)
	}
	return a, nil
}

func (a *app) fileOptions() materializer.Options {
	return materializer.Options{
		IncludeTests:  a.cfg.Pipeline.IncludeTests,
		IncludeVendor: a.cfg.Pipeline.IncludeVendor,
	}
}

// startMetrics serves /metrics until close
func (a *app) startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("serving metrics", zap.String("addr", addr))
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// close stops running jobs and releases storage
func (a *app) close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.metrics.Shutdown(ctx)
		cancel()
	}
	if err := a.manager.Close(); err != nil {
		a.logger.Warn("failed to close job manager", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close storage", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func storageDescription(path string) string {
	if path == "" {
		return "memory"
	}
	return path
}

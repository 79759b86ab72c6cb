// Package main provides the worker application entry point. Each worker
// process is bound to a single language (selected via WORKER_LANGUAGE) and
// dispatches jobs from that language's queue one at a time.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/optimus-run/optimus/internal/adapter/observability"
	"github.com/optimus-run/optimus/internal/adapter/store"
	"github.com/optimus-run/optimus/internal/app"
	"github.com/optimus-run/optimus/internal/config"
	"github.com/optimus-run/optimus/internal/domain"
	"github.com/optimus-run/optimus/internal/engine"
	"github.com/optimus-run/optimus/internal/evaluator"
	"github.com/optimus-run/optimus/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv), slog.String("language", cfg.WorkerLanguage))

	languages, err := domain.LoadLanguageRegistry(cfg.LanguageRegistryPath)
	if err != nil {
		slog.Error("language registry load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if _, ok := languages.Get(cfg.WorkerLanguage); !ok {
		slog.Error("worker language not in registry", slog.String("language", cfg.WorkerLanguage))
		os.Exit(1)
	}

	sharedStore, err := store.New(cfg.StoreURL, logger)
	if err != nil {
		slog.Error("store connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := sharedStore.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("error", err))
		}
	}()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.QueuePopTimeout)
	if err := sharedStore.Ping(startupCtx); err != nil {
		cancelStartup()
		slog.Error("store unreachable at startup", slog.Any("error", err))
		os.Exit(1)
	}
	cancelStartup()

	execEngine, err := engine.New(languages, logger)
	if err != nil {
		slog.Error("engine init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := execEngine.Close(); err != nil {
			slog.Error("failed to close engine", slog.Any("error", err))
		}
	}()

	eval := evaluator.New(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retryCfg := cfg.GetRetryConfig()
	sweeper := app.NewDLQSweeper(sharedStore, languages, retryCfg.DLQMaxAge, retryCfg.DLQCleanupInterval, logger)
	go sweeper.Run(ctx)

	concurrency := cfg.ConsumerMaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		worker := usecase.NewWorker(cfg.WorkerLanguage, sharedStore, execEngine, eval, sharedStore, sharedStore, cfg, logger)
		worker.Languages = languages
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	slog.Info("worker started successfully, waiting for shutdown signal", slog.Int("concurrency", concurrency))
	wg.Wait()
	slog.Info("worker stopped")
}

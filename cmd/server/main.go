// Command server starts the Optimus job-submission HTTP API.
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
	"time"

	"github.com/optimus-run/optimus/internal/adapter/httpserver"
	"github.com/optimus-run/optimus/internal/adapter/observability"
	"github.com/optimus-run/optimus/internal/adapter/store"
	"github.com/optimus-run/optimus/internal/app"
	"github.com/optimus-run/optimus/internal/config"
	"github.com/optimus-run/optimus/internal/domain"
	"github.com/optimus-run/optimus/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	languages, err := domain.LoadLanguageRegistry(cfg.LanguageRegistryPath)
	if err != nil {
		slog.Error("language registry load failed", slog.Any("error", err))
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

	ctx := context.Background()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := sharedStore.Ping(pingCtx); err != nil {
		slog.Error("store unreachable at startup", slog.Any("error", err))
		cancelPing()
		os.Exit(1)
	}
	cancelPing()

	submitSvc := usecase.NewSubmitService(sharedStore, sharedStore, languages, cfg, logger)
	statusSvc := usecase.NewStatusService(sharedStore)
	cancelSvc := usecase.NewCancelService(sharedStore, sharedStore)
	debugSvc := usecase.NewDebugService(sharedStore, sharedStore, languages)

	srv := &httpserver.Server{
		Submit: submitSvc,
		Status: statusSvc,
		Cancel: cancelSvc,
		Debug:  debugSvc,
		Pinger: sharedStore,
		Logger: logger,
	}

	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

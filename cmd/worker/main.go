package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/compliance-rag/internal/bootstrap"
	"github.com/kirillkom/compliance-rag/internal/config"
	"github.com/kirillkom/compliance-rag/internal/observability/logging"
	"github.com/kirillkom/compliance-rag/internal/observability/metrics"
)

const (
	serviceName          = "worker"
	breakerStateInterval = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_failed", "error", err)
		}
	}()
	go reportBreakerStates(ctx, app, workerMetrics)

	processor := metrics.NewInstrumentedProcessor(app.Processor, app.Repo, workerMetrics, serviceName)
	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	if err := app.SubscribeBuilds(ctx, processor); err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker_metrics_shutdown_failed", "error", err)
	}
}

func reportBreakerStates(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics) {
	ticker := time.NewTicker(breakerStateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetBreakerStates(serviceName, app.Executor.BreakerStates())
		}
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/repowatch/internal/bootstrap"
	"github.com/kirillkom/repowatch/internal/config"
	"github.com/kirillkom/repowatch/internal/core/domain"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewWorkerApp(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: app.Metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("worker metrics server error: %v", err)
		}
	}()

	app.Logger.Info("worker_started", "concurrency", cfg.WorkerConcurrency)
	err = app.Queue.Consume(ctx, cfg.WorkerConcurrency, func(handlerCtx context.Context, job domain.Job) error {
		app.Metrics.ObserveQueueLag("worker", time.Since(job.EnqueuedAt))
		app.Metrics.StartJob()
		start := time.Now()
		procErr := app.Worker.Process(handlerCtx, job)
		app.Metrics.FinishJob("worker", time.Since(start), procErr)
		return procErr
	})
	if err != nil && ctx.Err() == nil {
		app.Logger.Error("worker_consume_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		app.Logger.Warn("worker_metrics_shutdown_error", "error", err)
	}
}

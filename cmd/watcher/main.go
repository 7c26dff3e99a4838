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
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewWatcherApp(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WatchMetricsPort,
		Handler: app.Metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("watcher metrics server error: %v", err)
		}
	}()

	go func() {
		for event := range app.Observer.Events() {
			kind := "changed"
			if event.Removed {
				kind = "removed"
			}
			app.Metrics.RecordEvent("watcher", kind)

			var reconcileErr error
			if event.Removed {
				reconcileErr = app.Discovery.OnProjectRemoved(ctx, event.Path)
			} else {
				reconcileErr = app.Discovery.OnProjectAdded(ctx, event.Path)
			}
			if reconcileErr != nil {
				app.Logger.Error("discovery_reconcile_failed", "path", event.Path, "error", reconcileErr)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				app.Metrics.SetHealthy(app.Observer.Healthy())
			}
		}
	}()

	app.Logger.Info("watcher_started", "watch_path", cfg.WatchRootPath)
	if err := app.Observer.Run(ctx); err != nil && ctx.Err() == nil {
		app.Logger.Error("observer_run_failed", "error", err)
	}

	app.Observer.FlushAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		app.Logger.Warn("watcher_metrics_shutdown_error", "error", err)
	}
}

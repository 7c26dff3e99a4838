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

	app, err := bootstrap.NewRealtimeApp(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("/ws", app.Server.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         ":" + cfg.RealtimePort,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-lived websocket connections
		IdleTimeout:  90 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:    ":" + cfg.RealtimeMetricsPort,
		Handler: app.Metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("realtime metrics server error: %v", err)
		}
	}()

	go func() {
		app.Logger.Info("realtime_listening", "port", cfg.RealtimePort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("realtime server error: %v", err)
		}
	}()

	go func() {
		if err := app.Server.Run(ctx); err != nil && ctx.Err() == nil {
			app.Logger.Error("realtime_fanout_run_failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.Logger.Warn("realtime_shutdown_error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		app.Logger.Warn("realtime_metrics_shutdown_error", "error", err)
	}
}

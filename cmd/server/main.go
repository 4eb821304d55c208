package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"manualqa-backend/internal/app"
	"manualqa-backend/internal/config"
	"manualqa-backend/internal/logger"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Starting Manual QA Backend...", "port", cfg.HTTPPort, "store", cfg.StoreDriver)

	// 2. Wire store, clients, services and router
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(initCtx, cfg, log)
	initCancel()
	if err != nil {
		log.Fatal("Failed to initialize application", "error", err)
	}

	// 3. Configure and Start HTTP Server
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           application.Router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Answers can take the full router timeout plus LLM retries.
		WriteTimeout: 130 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case sig := <-stopChan:
		log.Info("Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			log.Error("Server listener failed", "error", err)
		}
	}

	// 4. Drain requests, then background maintenance, then telemetry
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server graceful shutdown failed", "error", err)
	}
	application.Close(shutdownCtx)
	log.Info("Server shutdown complete.")
}

// Package main provides the HTTP ingress entry point for the log ingestion
// pipeline: request coalescing, idempotency enforcement, validation, and
// publish to the stream (C9, C10, C2, C3). Workers that drain the stream
// into ClickHouse run as a separate process (cmd/worker).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logpipe/internal/app"
	"logpipe/internal/config"
	"logpipe/internal/migration"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if cfg.ClickHouse.AutoMigrate {
		log.Println("running clickhouse migrations...")

		migrationManager, migErr := migration.NewManager(cfg)
		if migErr != nil {
			log.Fatalf("failed to initialize migration manager: %v", migErr)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := migrationManager.AutoMigrate(ctx); err != nil {
			cancel()
			log.Fatalf("auto-migration failed: %v", err)
		}
		cancel()

		if err := migrationManager.Shutdown(); err != nil {
			log.Printf("warning: failed to shutdown migration manager: %v", err)
		}

		log.Println("migrations completed successfully")
	}

	application, err := app.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to initialize server: %v", err)
	}

	if err := application.Start(context.Background()); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}

	fmt.Println("server stopped")
}

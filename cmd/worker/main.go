// Package main provides the worker-pool entry point for the log ingestion
// pipeline: it drains the Redis stream, validates and normalizes batches,
// and persists them to ClickHouse with DLQ fallback on persistent failure
// (C4, C5, C6, C7, C8). The HTTP ingress runs as a separate process
// (cmd/server).
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
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	worker, err := app.NewWorker(cfg)
	if err != nil {
		log.Fatalf("failed to initialize worker: %v", err)
	}

	if err := worker.Start(context.Background()); err != nil {
		log.Fatalf("failed to start workers: %v", err)
	}

	log.Println("workers started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("shutting down workers...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := worker.Shutdown(ctx); err != nil {
		log.Printf("workers forced to shutdown: %v", err)
	}

	fmt.Println("workers stopped")
}

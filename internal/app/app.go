package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"logpipe/internal/config"
	httpTransport "logpipe/internal/transport/http"
	"logpipe/pkg/logging"
)

// App wires one deployment mode (server or worker) end to end and owns its
// start/shutdown lifecycle.
type App struct {
	config       *config.Config
	logger       *slog.Logger
	providers    *ProviderContainer
	httpServer   *httpTransport.Server
	mode         DeploymentMode
	shutdownOnce sync.Once
}

func NewServer(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	)

	core, err := ProvideCore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	server, err := ProvideServer(core)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return &App{
		mode:       ModeServer,
		config:     cfg,
		logger:     logger,
		httpServer: server.HTTPServer,
		providers: &ProviderContainer{
			Core:   core,
			Server: server,
			Mode:   ModeServer,
		},
	}, nil
}

func NewWorker(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	)

	core, err := ProvideCore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	workerContainer, err := ProvideWorkers(core)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize workers: %w", err)
	}

	return &App{
		mode:    ModeWorker,
		config:  cfg,
		logger:  logger,
		providers: &ProviderContainer{
			Core:    core,
			Workers: workerContainer,
			Mode:    ModeWorker,
		},
	}, nil
}

// Start begins serving. Non-blocking: the HTTP server and the worker
// pool's supervised goroutines both run in the background once Start
// returns; call Shutdown to drain them.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting logpipe", "mode", a.mode)

	switch a.mode {
	case ModeServer:
		go func() {
			if err := a.httpServer.Start(); err != nil {
				a.logger.Error("HTTP server failed unexpectedly", "error", err)
			}
		}()

	case ModeWorker:
		if err := a.providers.Workers.ThreadManager.Start(ctx); err != nil {
			a.logger.Error("failed to start worker pool", "error", err)
			return err
		}
	}

	a.logger.Info("logpipe started successfully", "mode", a.mode)
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		shutdownErr = a.doShutdown(ctx)
	})

	return shutdownErr
}

func (a *App) doShutdown(ctx context.Context) error {
	a.logger.Info("shutting down logpipe", "mode", a.mode)

	var wg sync.WaitGroup

	switch a.mode {
	case ModeServer:
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.httpServer != nil {
				if err := a.httpServer.Shutdown(ctx); err != nil {
					a.logger.Error("failed to shut down HTTP server", "error", err)
				}
			}
		}()

	case ModeWorker:
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.providers.Workers != nil && a.providers.Workers.ThreadManager != nil {
				if err := a.providers.Workers.ThreadManager.Shutdown(ctx); err != nil {
					a.logger.Error("failed to shut down worker pool", "error", err)
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if a.providers != nil {
			if err := a.providers.Shutdown(); err != nil {
				a.logger.Error("failed to shut down providers", "error", err)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("logpipe shutdown completed")
		return nil
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout exceeded, forcing shutdown")
		return ctx.Err()
	}
}

// GetProviders returns the provider container for access to all services and dependencies.
func (a *App) GetProviders() *ProviderContainer {
	return a.providers
}

// Health returns the health status of all components using providers.
func (a *App) Health() map[string]string {
	if a.providers != nil {
		return a.providers.HealthCheck()
	}

	return map[string]string{
		"status": "providers not initialized",
	}
}

// GetWorkers returns the worker container for background processing.
func (a *App) GetWorkers() *WorkerContainer {
	if a.providers == nil {
		return nil
	}
	return a.providers.Workers
}

// GetLogger returns the application logger.
func (a *App) GetLogger() *slog.Logger {
	return a.logger
}

// GetConfig returns the application configuration.
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetDatabases returns the database connections.
func (a *App) GetDatabases() *DatabaseContainer {
	if a.providers == nil || a.providers.Core == nil {
		return nil
	}
	return a.providers.Core.Databases
}

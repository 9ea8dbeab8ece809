package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sirupsen/logrus"

	"logpipe/internal/config"
	"logpipe/internal/infrastructure/database"
	"logpipe/internal/infrastructure/idempotency"
	"logpipe/internal/infrastructure/retry"
	"logpipe/internal/infrastructure/storage"
	"logpipe/internal/infrastructure/streams"
	"logpipe/internal/ingress/coalescer"
	logrecordsvc "logpipe/internal/services/logrecord"
	httptransport "logpipe/internal/transport/http"
	"logpipe/internal/transport/http/handlers"
	"logpipe/internal/workers"
	"logpipe/pkg/logging"
)

// DeploymentMode selects which half of the pipeline a process runs: the
// HTTP ingress (coalescer, idempotency, validation, stream publish) or the
// worker pool that drains the stream into ClickHouse (C7/C8).
type DeploymentMode string

const (
	ModeServer DeploymentMode = "server"
	ModeWorker DeploymentMode = "worker"
)

// CoreContainer holds the infrastructure shared by both deployment modes.
type CoreContainer struct {
	Config    *config.Config
	Logger    *slog.Logger
	LogrusLog *logrus.Logger
	Databases *DatabaseContainer
}

// ServerContainer holds the HTTP ingress built for ModeServer.
type ServerContainer struct {
	HTTPServer *httptransport.Server
	Coalescer  *coalescer.Coalescer[[]byte, logrecordsvc.Result]
	Stream     *handlers.StreamHealthHandler
}

// WorkerContainer holds the worker pool built for ModeWorker.
type WorkerContainer struct {
	ThreadManager *workers.ThreadManager
}

// ProviderContainer is the top-level dependency graph for one process.
type ProviderContainer struct {
	Core    *CoreContainer
	Server  *ServerContainer // nil in worker mode
	Workers *WorkerContainer // nil in server mode
	Mode    DeploymentMode
}

type DatabaseContainer struct {
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
}

func ProvideDatabases(cfg *config.Config, logger *logrus.Logger) (*DatabaseContainer, error) {
	redisDB, err := database.NewRedisDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	clickhouseDB, err := database.NewClickHouseDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}

	return &DatabaseContainer{Redis: redisDB, ClickHouse: clickhouseDB}, nil
}

// ProvideCore builds the infrastructure shared by every deployment mode:
// both logging registers (§ambient stack — slog+tint for app wiring,
// logrus for infra/worker code) and the database connections.
func ProvideCore(cfg *config.Config, logger *slog.Logger) (*CoreContainer, error) {
	logrusLog := logging.NewLogrusLogger(cfg.Logging.Level, cfg.Logging.Format)

	databases, err := ProvideDatabases(cfg, logrusLog)
	if err != nil {
		return nil, err
	}

	return &CoreContainer{
		Config:    cfg,
		Logger:    logger,
		LogrusLog: logrusLog,
		Databases: databases,
	}, nil
}

// newRetryStrategy builds the DLQ strategy for one worker/ingress scope
// (C5), sharing the same archive-bucket configuration and a logging alerter
// across scopes but giving each its own DLQ stream.
func newRetryStrategy(core *CoreContainer, scope string) (*retry.DeadLetterStrategy, error) {
	cfg := core.Config

	var archiver retry.Archiver
	if cfg.Archive.Enabled && cfg.BlobStorage.BucketName != "" {
		s3Client, err := storage.NewS3Client(&cfg.BlobStorage, core.LogrusLog)
		if err != nil {
			core.LogrusLog.WithError(err).Warn("failed to initialize DLQ archiver, archival disabled for this scope")
		} else {
			archiver = s3Client
		}
	}

	var alerter retry.Alerter = &retry.LoggingAlerter{Logger: core.LogrusLog}

	return retry.New(core.Databases.Redis.Client, archiver, alerter, core.LogrusLog, retry.Config{
		Scope:            scope,
		RetryQueueLimit:  cfg.Workers.RetryQueueLimit,
		ArchiveKeyPrefix: cfg.Archive.PathPrefix,
	})
}

// ProvideWorkers builds the worker pool (C7/C8) that drains the log stream
// into ClickHouse.
func ProvideWorkers(core *CoreContainer) (*WorkerContainer, error) {
	cfg := core.Config

	sink := database.NewClickHouseSink(core.Databases.ClickHouse, core.LogrusLog)

	managerCfg := workers.DefaultManagerConfig(cfg.Workers.IngestWorkerCount)
	managerCfg.StreamConfig = streams.DefaultConfig("logpipe:ingest", "logpipe-workers", "")
	managerCfg.WorkerConfig = workers.DefaultConfig("", workers.RoleConsumer)
	managerCfg.WorkerConfig.BatchSize = int64(cfg.Workers.BatchSize)
	managerCfg.WorkerConfig.RetryQueueLimit = cfg.Workers.RetryQueueLimit
	managerCfg.WorkerConfig.BackpressureCooldown = cfg.Workers.BackpressureCooldown
	managerCfg.RestartBaseDelay = cfg.Workers.RestartBaseDelay
	managerCfg.RestartMaxDelay = cfg.Workers.RestartMaxDelay

	manager := workers.NewThreadManager(
		managerCfg,
		core.Databases.Redis,
		sink,
		func(scope string) (*retry.DeadLetterStrategy, error) { return newRetryStrategy(core, scope) },
		core.LogrusLog,
	)

	return &WorkerContainer{ThreadManager: manager}, nil
}

// ProvideServer builds the HTTP ingress (C9/C10 + transport) for ModeServer.
func ProvideServer(core *CoreContainer) (*ServerContainer, error) {
	cfg := core.Config

	streamAdapter := streams.NewLogStreamAdapter(
		core.Databases.Redis.Client,
		streams.DefaultConfig("logpipe:ingest", "logpipe-workers", "ingress"),
		core.LogrusLog,
	)
	if err := streamAdapter.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("initialize log stream: %w", err)
	}

	idemStore, err := idempotency.New(core.Databases.Redis.Client, cfg.Idempotency.CacheSize, core.LogrusLog)
	if err != nil {
		return nil, fmt.Errorf("build idempotency store: %w", err)
	}
	idemMiddleware := idempotency.NewMiddleware(idemStore, idempotency.Config{
		Enforce:     cfg.Idempotency.Enforce,
		LockTTL:     cfg.Idempotency.LockTTL,
		ResponseTTL: cfg.Idempotency.ResponseTTL,
	}, core.LogrusLog)

	ingestHandler := handlers.NewIngestHandler(streamAdapter, core.LogrusLog)

	coalesceCfg := coalescer.Config{
		Enabled:      cfg.Idempotency.CoalesceEnabled,
		MaxBatchSize: cfg.Idempotency.CoalesceMaxBatch,
		MaxWaitTime:  cfg.Idempotency.CoalesceMaxWaitTime,
	}
	batchCoalescer := coalescer.New(coalesceCfg, ingestHandler.ProcessCoalesced)

	streamHandler := handlers.NewStreamHealthHandler(core.LogrusLog)

	healthHandler := handlers.NewHealthHandler(map[string]func() error{
		"redis":      core.Databases.Redis.Health,
		"clickhouse": core.Databases.ClickHouse.Health,
	})

	httpHandlers := handlers.NewHandlers(ingestHandler, streamHandler, batchCoalescer, idemMiddleware, healthHandler)

	httpServer := httptransport.NewServer(cfg, core.LogrusLog, httpHandlers)

	return &ServerContainer{HTTPServer: httpServer, Coalescer: batchCoalescer, Stream: streamHandler}, nil
}

func (pc *ProviderContainer) HealthCheck() map[string]string {
	health := make(map[string]string)

	if pc.Core != nil && pc.Core.Databases != nil {
		if pc.Core.Databases.Redis != nil {
			if err := pc.Core.Databases.Redis.Health(); err != nil {
				health["redis"] = "unhealthy: " + err.Error()
			} else {
				health["redis"] = "healthy"
			}
		}

		if pc.Core.Databases.ClickHouse != nil {
			if err := pc.Core.Databases.ClickHouse.Health(); err != nil {
				health["clickhouse"] = "unhealthy: " + err.Error()
			} else {
				health["clickhouse"] = "healthy"
			}
		}
	}

	if pc.Workers != nil && pc.Workers.ThreadManager != nil {
		snap := pc.Workers.ThreadManager.HealthSnapshot()
		health["worker_pool"] = fmt.Sprintf("active=%d/%d", snap.ActiveWorkers, snap.TotalWorkers)
	}

	health["mode"] = string(pc.Mode)

	return health
}

func (pc *ProviderContainer) Shutdown() error {
	var lastErr error
	logger := pc.Core.LogrusLog

	if pc.Core != nil && pc.Core.Databases != nil {
		if pc.Core.Databases.Redis != nil {
			if err := pc.Core.Databases.Redis.Close(); err != nil {
				logger.WithError(err).Error("failed to close redis connection")
				lastErr = err
			}
		}

		if pc.Core.Databases.ClickHouse != nil {
			if err := pc.Core.Databases.ClickHouse.Close(); err != nil {
				logger.WithError(err).Error("failed to close clickhouse connection")
				lastErr = err
			}
		}
	}

	return lastErr
}

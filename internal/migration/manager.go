// Package migration runs the ClickHouse schema migrations for the logs
// table (§6). Grounded on the teacher's dual-database migration manager,
// trimmed to the single ClickHouse path this pipeline's persistence layer
// (C6) actually needs.
package migration

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"

	"logpipe/internal/config"
	"logpipe/internal/infrastructure/database"
)

// Manager runs ClickHouse schema migrations.
type Manager struct {
	config       *config.Config
	logger       *logrus.Logger
	runner       *migrate.Migrate
	clickhouseDB *database.ClickHouseDB
}

// NewManager creates a migration manager connected to ClickHouse.
func NewManager(cfg *config.Config) (*Manager, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    false,
	})
	// Migration CLI output stays clean regardless of LOG_LEVEL.
	logger.SetLevel(logrus.WarnLevel)

	manager := &Manager{config: cfg, logger: logger}

	clickhouseDB, err := database.NewClickHouseDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize clickhouse database: %w", err)
	}
	manager.clickhouseDB = clickhouseDB

	if err := manager.initRunner(); err != nil {
		return nil, fmt.Errorf("failed to initialize clickhouse migration runner: %w", err)
	}

	logger.Info("migration manager initialized")
	return manager, nil
}

func (m *Manager) initRunner() error {
	migrationsPath := m.getMigrationsPath()

	runner, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsPath),
		m.config.GetClickHouseURL(),
	)
	if err != nil {
		return fmt.Errorf("failed to create clickhouse migration runner: %w", err)
	}

	m.runner = runner
	m.logger.WithField("migrations_path", migrationsPath).Info("clickhouse migration runner initialized")
	return nil
}

func (m *Manager) getMigrationsPath() string {
	if m.config.ClickHouse.MigrationsPath != "" {
		return m.config.ClickHouse.MigrationsPath
	}
	return filepath.Join("migrations", "clickhouse")
}

// MigrateUp runs migrations up, all the way or by a fixed step count.
func (m *Manager) MigrateUp(ctx context.Context, steps int, dryRun bool) error {
	if dryRun {
		m.logger.Info("DRY RUN: would run clickhouse migrations up")
		return nil
	}

	m.logger.WithField("steps", steps).Info("running clickhouse migrations up")

	if steps == 0 {
		if err := m.runner.Up(); err != nil && err != migrate.ErrNoChange {
			return err
		}
		return nil
	}
	return m.runner.Steps(steps)
}

// MigrateDown rolls migrations back, all the way or by a fixed step count.
func (m *Manager) MigrateDown(ctx context.Context, steps int, dryRun bool) error {
	if dryRun {
		m.logger.Info("DRY RUN: would run clickhouse migrations down")
		return nil
	}

	m.logger.WithField("steps", steps).Info("running clickhouse migrations down")

	if steps == 0 {
		if err := m.runner.Down(); err != nil && err != migrate.ErrNoChange {
			return err
		}
		return nil
	}
	return m.runner.Steps(-steps)
}

// ShowStatus prints the current migration version to stdout.
func (m *Manager) ShowStatus(ctx context.Context) error {
	version, dirty, err := m.runner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get clickhouse version: %w", err)
	}

	status := "clean"
	if dirty {
		status = "dirty"
	}

	migrationsPath := m.getMigrationsPath()
	fmt.Printf("ClickHouse migration status:\n")
	fmt.Printf("  current version: %d (%s)\n", version, status)
	fmt.Printf("  migrations path: %s\n", migrationsPath)
	if count := m.countMigrations(migrationsPath); count > 0 {
		fmt.Printf("  total migrations: %d\n", count)
	}

	return nil
}

// HealthCheck returns migration health for monitoring endpoints.
func (m *Manager) HealthCheck() map[string]interface{} {
	version, dirty, err := m.runner.Version()

	health := map[string]interface{}{
		"status":          m.getHealthStatus(err, dirty),
		"current_version": version,
		"dirty":           dirty,
	}
	if err != nil && err != migrate.ErrNilVersion {
		health["error"] = err.Error()
	}

	return health
}

func (m *Manager) getHealthStatus(err error, dirty bool) string {
	if err != nil && err != migrate.ErrNilVersion {
		return "error"
	}
	if dirty {
		return "dirty"
	}
	return "healthy"
}

// GetStatus returns the migration status (required by HealthChecker).
func (m *Manager) GetStatus() MigrationStatus {
	version, dirty, err := m.runner.Version()

	status := MigrationStatus{
		CurrentVersion: version,
		IsDirty:        dirty,
		MigrationsPath: m.getMigrationsPath(),
	}

	if err != nil && err != migrate.ErrNilVersion {
		status.Status = "error"
		status.Error = err.Error()
	} else if dirty {
		status.Status = "dirty"
	} else {
		status.Status = "healthy"
	}

	return status
}

// AutoMigrate runs migrations up on startup if enabled (cmd/server/main.go).
func (m *Manager) AutoMigrate(ctx context.Context) error {
	if !m.CanAutoMigrate() {
		return fmt.Errorf("auto-migration is disabled")
	}

	m.logger.Info("starting auto-migration")
	if err := m.MigrateUp(ctx, 0, false); err != nil {
		return fmt.Errorf("clickhouse auto-migration failed: %w", err)
	}
	m.logger.Info("auto-migration completed successfully")
	return nil
}

func (m *Manager) CanAutoMigrate() bool {
	return m.config.ClickHouse.AutoMigrate
}

// Goto migrates to a specific version.
func (m *Manager) Goto(version uint) error {
	current, _, err := m.runner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return err
	}
	steps := int(version) - int(current)
	if steps == 0 {
		return nil
	}
	return m.runner.Steps(steps)
}

// Force sets the migration version without running any migration files.
func (m *Manager) Force(version int) error {
	return m.runner.Force(version)
}

// Drop drops all ClickHouse tables managed by migrations.
func (m *Manager) Drop() error {
	return m.runner.Drop()
}

// Steps runs n migration steps (negative rolls back).
func (m *Manager) Steps(n int) error {
	return m.runner.Steps(n)
}

// CreateMigration scaffolds a new up/down migration file pair.
func (m *Manager) CreateMigration(name string) error {
	migrationsPath := m.getMigrationsPath()

	if err := os.MkdirAll(migrationsPath, 0755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	timestamp := time.Now().Format("20060102150405")

	upFile := filepath.Join(migrationsPath, fmt.Sprintf("%s_%s.up.sql", timestamp, name))
	if err := os.WriteFile(upFile, []byte("-- Migration: "+name+"\n-- Created: "+time.Now().Format(time.RFC3339)+"\n\n"), 0644); err != nil {
		return fmt.Errorf("failed to create up migration file: %w", err)
	}

	downFile := filepath.Join(migrationsPath, fmt.Sprintf("%s_%s.down.sql", timestamp, name))
	if err := os.WriteFile(downFile, []byte("-- Rollback: "+name+"\n-- Created: "+time.Now().Format(time.RFC3339)+"\n\n"), 0644); err != nil {
		return fmt.Errorf("failed to create down migration file: %w", err)
	}

	m.logger.WithFields(logrus.Fields{"name": name, "up_file": upFile, "down_file": downFile}).Info("migration files created")
	fmt.Printf("migration files created:\n  up:   %s\n  down: %s\n", upFile, downFile)

	return nil
}

// Shutdown closes the migration runner and the underlying connection.
func (m *Manager) Shutdown() error {
	m.logger.Info("shutting down migration manager")

	var lastErr error

	if m.runner != nil {
		if _, err := m.runner.Close(); err != nil {
			m.logger.WithError(err).Error("failed to close clickhouse migration runner")
			lastErr = err
		}
	}

	if m.clickhouseDB != nil {
		if err := m.clickhouseDB.Close(); err != nil {
			m.logger.WithError(err).Error("failed to close clickhouse connection")
			lastErr = err
		}
	}

	m.logger.Info("migration manager shutdown completed")
	return lastErr
}

func (m *Manager) countMigrations(migrationsPath string) int {
	if _, err := os.Stat(migrationsPath); os.IsNotExist(err) {
		return 0
	}

	count := 0
	filepath.WalkDir(migrationsPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".up.sql") {
			count++
		}
		return nil
	})

	return count
}

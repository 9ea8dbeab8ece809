package migration

import (
	"context"
)

// MigrationDirection represents the direction of migration
type MigrationDirection string

const (
	Up   MigrationDirection = "up"
	Down MigrationDirection = "down"
)

// MigrationStatus represents the status of the ClickHouse schema migration.
type MigrationStatus struct {
	CurrentVersion  uint   `json:"current_version"`
	IsDirty         bool   `json:"is_dirty"`
	Status          string `json:"status"` // "healthy", "dirty", "error"
	Error           string `json:"error,omitempty"`
	MigrationsPath  string `json:"migrations_path"`
	TotalMigrations int    `json:"total_migrations"`
}

// HealthChecker defines the interface for migration health checks
type HealthChecker interface {
	HealthCheck() map[string]interface{}
	GetStatus() MigrationStatus
}

// AutoMigrator defines the interface for automatic migrations
type AutoMigrator interface {
	AutoMigrate(ctx context.Context) error
	CanAutoMigrate() bool
}

// MigrationManager defines the complete interface for the migration system.
type MigrationManager interface {
	MigrateUp(ctx context.Context, steps int, dryRun bool) error
	MigrateDown(ctx context.Context, steps int, dryRun bool) error

	ShowStatus(ctx context.Context) error
	HealthCheck() map[string]interface{}
	GetStatus() MigrationStatus

	CreateMigration(name string) error

	Goto(version uint) error
	Force(version int) error
	Drop() error
	Steps(n int) error

	AutoMigrate(ctx context.Context) error
	CanAutoMigrate() bool

	Shutdown() error
}

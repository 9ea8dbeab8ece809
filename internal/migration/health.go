package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthService exposes migration health as an HTTP endpoint, separate
// from Manager.HealthCheck so it can be periodically polled and logged
// without coupling the migration CLI to HTTP concerns.
type HealthService struct {
	manager *Manager
	logger  *logrus.Logger
}

func NewHealthService(manager *Manager, logger *logrus.Logger) *HealthService {
	return &HealthService{manager: manager, logger: logger}
}

// HealthCheckResponse represents the structure of health check response
type HealthCheckResponse struct {
	Status     string              `json:"status"`
	Timestamp  time.Time           `json:"timestamp"`
	ClickHouse DatabaseHealthCheck `json:"clickhouse"`
}

// DatabaseHealthCheck represents health status of the ClickHouse connection
type DatabaseHealthCheck struct {
	Status         string    `json:"status"`
	CurrentVersion uint      `json:"current_version"`
	IsDirty        bool      `json:"is_dirty"`
	Error          string    `json:"error,omitempty"`
	LastChecked    time.Time `json:"last_checked"`
	ResponseTime   string    `json:"response_time"`
}

// GetHealthStatus returns the migration health status.
func (hs *HealthService) GetHealthStatus(ctx context.Context) (*HealthCheckResponse, error) {
	startTime := time.Now()
	hs.logger.Info("starting migration health check")

	chHealth := hs.checkClickHouseHealth(ctx)

	response := &HealthCheckResponse{
		Timestamp:  startTime,
		ClickHouse: chHealth,
		Status:     chHealth.Status,
	}
	if chHealth.Status == "error" {
		response.Status = "unhealthy"
	} else if chHealth.Status == "dirty" {
		response.Status = "degraded"
	} else {
		response.Status = "healthy"
	}

	hs.logger.WithFields(logrus.Fields{
		"status":   response.Status,
		"duration": time.Since(startTime),
	}).Info("migration health check completed")

	return response, nil
}

func (hs *HealthService) checkClickHouseHealth(ctx context.Context) DatabaseHealthCheck {
	startTime := time.Now()

	version, dirty, err := hs.manager.runner.Version()
	duration := time.Since(startTime)

	health := DatabaseHealthCheck{
		LastChecked:  startTime,
		ResponseTime: fmt.Sprintf("%.2fms", float64(duration.Nanoseconds())/1e6),
	}

	if err != nil {
		health.Status = "error"
		health.Error = err.Error()
		hs.logger.WithError(err).Error("clickhouse migration health check failed")
		return health
	}

	health.CurrentVersion = version
	health.IsDirty = dirty

	if dirty {
		health.Status = "dirty"
		hs.logger.WithField("version", version).Warn("clickhouse migrations are in dirty state")
	} else {
		health.Status = "healthy"
	}

	return health
}

// HTTPHealthHandler provides a standard-library HTTP endpoint for migration
// health checks, usable outside the gin router (e.g. a debug/admin mux).
func (hs *HealthService) HTTPHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		health, err := hs.GetHealthStatus(ctx)
		if err != nil {
			hs.logger.WithError(err).Error("failed to get migration health status")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		switch health.Status {
		case "healthy", "degraded":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		if err := json.NewEncoder(w).Encode(health); err != nil {
			hs.logger.WithError(err).Error("failed to encode health response")
		}
	}
}

// CheckDrift reports whether the ClickHouse schema is in a dirty
// (partially-applied) migration state.
func (hs *HealthService) CheckDrift(ctx context.Context) (*DriftReport, error) {
	hs.logger.Info("starting schema drift detection")

	version, dirty, err := hs.manager.runner.Version()
	if err != nil {
		return nil, fmt.Errorf("failed to get clickhouse version: %w", err)
	}

	report := &DriftReport{
		Timestamp:     time.Now(),
		ActualVersion: version,
		HasDrift:      dirty,
	}
	if dirty {
		report.DriftDetails = "database is in dirty state - incomplete migration detected"
	}

	if report.HasDrift {
		hs.logger.Warn("schema drift detected in migration system")
	} else {
		hs.logger.Info("no schema drift detected")
	}

	return report, nil
}

// DriftReport represents schema drift detection results.
type DriftReport struct {
	Timestamp     time.Time `json:"timestamp"`
	HasDrift      bool      `json:"has_drift"`
	ActualVersion uint      `json:"actual_version"`
	DriftDetails  string    `json:"drift_details,omitempty"`
}

// StartPeriodicHealthCheck runs GetHealthStatus on a ticker until ctx is
// cancelled, logging every degraded or unhealthy result at Warn.
func (hs *HealthService) StartPeriodicHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	hs.logger.WithField("interval", interval).Info("starting periodic migration health checks")

	for {
		select {
		case <-ctx.Done():
			hs.logger.Info("stopping periodic migration health checks")
			return
		case <-ticker.C:
			health, err := hs.GetHealthStatus(ctx)
			if err != nil {
				hs.logger.WithError(err).Error("periodic health check failed")
				continue
			}

			if health.Status != "healthy" {
				hs.logger.WithFields(logrus.Fields{
					"status": health.Status,
				}).Warn("migration system health is degraded")
			}
		}
	}
}

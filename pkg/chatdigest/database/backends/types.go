// Package backends provides database backend implementations.
package backends

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus represents the health state of a database backend.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Version string        `json:"version"`
	Error   string        `json:"error,omitempty"`

	// Connection pool metrics
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration"`
	MaxOpenConns    int           `json:"max_open_conns"`
}

// HealthChecker monitors a *sql.DB. versionQuery is backend specific.
type HealthChecker struct {
	db           *sql.DB
	versionQuery string
}

// NewHealthChecker creates a health checker for db.
func NewHealthChecker(db *sql.DB, versionQuery string) *HealthChecker {
	return &HealthChecker{db: db, versionQuery: versionQuery}
}

// Ping checks database connectivity.
func (h *HealthChecker) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Status returns detailed health status.
func (h *HealthChecker) Status(ctx context.Context) HealthStatus {
	start := time.Now()
	err := h.db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error(), Latency: latency}
	}

	var version string
	if err := h.db.QueryRowContext(ctx, h.versionQuery).Scan(&version); err != nil {
		version = "unknown"
	}

	stats := h.db.Stats()
	return HealthStatus{
		Healthy:         true,
		Latency:         latency,
		Version:         version,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration,
		MaxOpenConns:    stats.MaxOpenConnections,
	}
}

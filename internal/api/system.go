package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStats represents the admin system snapshot response.
type SystemStats struct {
	Timestamp     string        `json:"timestamp"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Runtime       RuntimeStats  `json:"runtime"`
	Database      DatabaseStats `json:"database"`
	Schema        SchemaStats   `json:"schema"`
	Redis         RedisStats    `json:"redis"`
	Users         UserStats     `json:"users"`
	Sessions      SessionStats  `json:"sessions"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// DatabaseStats contains database connection pool statistics.
type DatabaseStats struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// SchemaStats reports the migration ledger: anything pending means the
// binary and the database disagree about the schema.
type SchemaStats struct {
	Applied int `json:"applied"`
	Pending int `json:"pending"`
}

// RedisStats contains blacklist store connectivity.
type RedisStats struct {
	Connected bool `json:"connected"`
}

// UserStats contains account totals.
type UserStats struct {
	Total int `json:"total"`
}

// SessionStats contains refresh token ledger totals.
type SessionStats struct {
	Active int `json:"active"`
}

// bytesPerMB converts byte counts to megabytes for the stats payload.
const bytesPerMB = 1024 * 1024

// handleHealth reports service liveness and per-dependency status.
// Public: load balancers and uptime monitors hit this unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	healthy := true

	if err := s.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := s.redis.HealthCheck(r.Context()); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	status := http.StatusOK
	statusText := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":  statusText,
		"version": s.version,
		"checks":  checks,
	})
}

// handleSystemStats returns the operational snapshot. Admin only.
func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := SystemStats{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		Redis: RedisStats{
			Connected: s.redis.HealthCheck(r.Context()) == nil,
		},
	}

	dbStats := s.db.Stats()
	stats.Database = DatabaseStats{
		OpenConnections: dbStats.OpenConnections,
		InUse:           dbStats.InUse,
		Idle:            dbStats.Idle,
		WaitCount:       dbStats.WaitCount,
	}

	if applied, pending, err := s.db.GetMigrationStatus(r.Context()); err == nil {
		stats.Schema = SchemaStats{Applied: len(applied), Pending: len(pending)}
	} else {
		s.logger.Warn("migration status for stats failed", "error", err)
	}

	if total, err := s.users.Count(r.Context()); err == nil {
		stats.Users.Total = total
	} else {
		s.logger.Warn("user count for stats failed", "error", err)
	}

	if active, err := s.tokens.CountActive(r.Context()); err == nil {
		stats.Sessions.Active = active
	} else {
		s.logger.Warn("active session count for stats failed", "error", err)
	}

	writeJSON(w, http.StatusOK, stats)
}

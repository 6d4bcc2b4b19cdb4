package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"edu-monitoring/internal/cache"
	"edu-monitoring/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PostgresPinger interface {
	Ping(ctx context.Context) error
	GetStats() sql.DBStats
}

type RedisPinger interface {
	Ping(ctx context.Context) error
}

type SnapshotSource interface {
	GetCurrentMetrics() *models.SystemMetrics
}

type CacheStatsSource interface {
	GetStats() cache.CacheStats
}

type HealthChecker struct {
	postgresDB PostgresPinger
	redisDB    RedisPinger
	collector  SnapshotSource
	cache      CacheStatsSource
	maxAge     time.Duration
	logger     *zap.Logger
}

// NewHealthChecker redisDB y snapshotCache pueden ser nil cuando Redis está deshabilitado.
// maxAge es la antigüedad máxima del último snapshot antes de marcar el collector como stale.
func NewHealthChecker(
	postgresDB PostgresPinger,
	redisDB RedisPinger,
	collector SnapshotSource,
	snapshotCache CacheStatsSource,
	maxAge time.Duration,
	logger *zap.Logger,
) *HealthChecker {
	return &HealthChecker{
		postgresDB: postgresDB,
		redisDB:    redisDB,
		collector:  collector,
		cache:      snapshotCache,
		maxAge:     maxAge,
		logger:     logger,
	}
}

func (h *HealthChecker) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy := true
	services := gin.H{}

	// PostgreSQL
	postgresStatus := "healthy"
	if err := h.postgresDB.Ping(ctx); err != nil {
		postgresStatus = "unhealthy"
		healthy = false
		h.logger.Error("PostgreSQL health check failed", zap.Error(err))
	}
	postgresStats := h.postgresDB.GetStats()
	services["postgresql"] = gin.H{
		"status": postgresStatus,
		"stats": gin.H{
			"max_open_connections": postgresStats.MaxOpenConnections,
			"open_connections":     postgresStats.OpenConnections,
			"in_use":               postgresStats.InUse,
			"idle":                 postgresStats.Idle,
		},
	}

	// Redis es opcional: si falla el pipeline sigue, solo se degrada
	redisStatus := "disabled"
	if h.redisDB != nil {
		redisStatus = "healthy"
		if err := h.redisDB.Ping(ctx); err != nil {
			redisStatus = "unhealthy"
			h.logger.Warn("Redis health check failed", zap.Error(err))
		}
	}
	redis := gin.H{"status": redisStatus}
	if h.cache != nil {
		redis["cache"] = h.cache.GetStats()
	}
	services["redis"] = redis

	// Collector
	collectorStatus := "starting"
	var lastSnapshot *time.Time
	if snapshot := h.collector.GetCurrentMetrics(); snapshot != nil {
		collectorStatus = "healthy"
		ts := snapshot.Timestamp
		lastSnapshot = &ts
		if h.maxAge > 0 && time.Since(ts) > h.maxAge {
			collectorStatus = "stale"
			healthy = false
		}
	}
	services["collector"] = gin.H{
		"status":        collectorStatus,
		"last_snapshot": lastSnapshot,
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else if redisStatus == "unhealthy" {
		status = "degraded"
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	})
}

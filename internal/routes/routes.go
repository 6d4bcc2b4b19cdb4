package routes

import (
	"net/http"

	"edu-monitoring/internal/handlers"
	"edu-monitoring/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configura todas las rutas de la aplicación
func SetupRoutes(router *gin.Engine, monitoringHandler *handlers.MonitoringHandler, healthChecker *middleware.HealthChecker, metricsHandler http.Handler) {
	v1 := router.Group("/api/v1")
	{
		monitoring := v1.Group("/monitoring")
		{
			monitoring.GET("/metrics/current", monitoringHandler.GetCurrentMetrics)
			monitoring.GET("/metrics/history", monitoringHandler.GetHistoricalMetrics)

			monitoring.GET("/alerts/rules", monitoringHandler.GetAlertRules)
			monitoring.PATCH("/alerts/rules/:id", monitoringHandler.UpdateAlertRule)
			monitoring.GET("/alerts/recent", monitoringHandler.GetRecentAlerts)

			monitoring.GET("/database", monitoringHandler.GetDatabaseAnalysis)
			monitoring.GET("/database/tables/:table", monitoringHandler.GetTableQueries)
			monitoring.POST("/database/cleanup", monitoringHandler.CleanupDatabaseAnalysis)

			monitoring.GET("/ws", monitoringHandler.StreamEvents)
		}
	}

	router.GET("/health", healthChecker.HealthCheck)
	router.GET("/metrics", gin.WrapH(metricsHandler))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Edu Platform Monitoring API",
			"version": "1.0.0",
			"status":  "running",
			"endpoints": gin.H{
				"health":     "/health",
				"prometheus": "/metrics",
				"monitoring": gin.H{
					"current":      "GET /api/v1/monitoring/metrics/current",
					"history":      "GET /api/v1/monitoring/metrics/history?minutes=",
					"alert_rules":  "GET /api/v1/monitoring/alerts/rules",
					"update_rule":  "PATCH /api/v1/monitoring/alerts/rules/:id",
					"alerts":       "GET /api/v1/monitoring/alerts/recent?limit=",
					"database":     "GET /api/v1/monitoring/database",
					"table":        "GET /api/v1/monitoring/database/tables/:table?hours=",
					"cleanup":      "POST /api/v1/monitoring/database/cleanup",
					"event_stream": "GET /api/v1/monitoring/ws",
				},
			},
		})
	})
}

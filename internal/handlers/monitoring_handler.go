package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"edu-monitoring/internal/models"
	"edu-monitoring/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultHistoryMinutes = 60
	defaultTableHours     = 24
	defaultRecentAlerts   = 20
	wsWriteTimeout        = 10 * time.Second
	wsEventBuffer         = 32
)

// MetricsSource operaciones del collector usadas por la API
type MetricsSource interface {
	GetCurrentMetrics() *models.SystemMetrics
	GetHistoricalMetrics(minutes int) []models.SystemMetrics
	GetAlertRules() []models.AlertRule
	UpdateAlertRule(id string, patch models.AlertRulePatch) bool
	SubscribeMetrics(fn func(models.SystemMetrics)) func()
	SubscribeAlerts(fn func(models.Alert)) func()
	RecordRequest(endpoint, method string, responseTimeMs float64, statusCode int)
	RecordError(level, message string)
}

// QueryAnalyzer operaciones del analyzer usadas por la API
type QueryAnalyzer interface {
	GetMetrics() models.DatabaseAnalysis
	GetQueriesByTable(tableName string, hours int) []models.QueryAnalysis
	Cleanup() int
}

// AlertHistory últimas alertas disparadas
type AlertHistory interface {
	RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error)
}

type MonitoringHandler struct {
	collector    MetricsSource
	analyzer     QueryAnalyzer
	alerts       AlertHistory
	validator    *validator.Validate
	pingInterval time.Duration
	logger       *zap.Logger
}

func NewMonitoringHandler(
	collector MetricsSource,
	analyzer QueryAnalyzer,
	alerts AlertHistory,
	pingInterval time.Duration,
	logger *zap.Logger,
) *MonitoringHandler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &MonitoringHandler{
		collector:    collector,
		analyzer:     analyzer,
		alerts:       alerts,
		validator:    services.NewValidator(),
		pingInterval: pingInterval,
		logger:       logger.With(zap.String("component", "monitoring_handler")),
	}
}

// GetCurrentMetrics último snapshot; 503 antes del primer tick
func (h *MonitoringHandler) GetCurrentMetrics(c *gin.Context) {
	snapshot := h.collector.GetCurrentMetrics()
	if snapshot == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Success: false,
			Message: "Metrics not collected yet",
		})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *MonitoringHandler) GetHistoricalMetrics(c *gin.Context) {
	minutes, ok := h.intQuery(c, "minutes", defaultHistoryMinutes)
	if !ok {
		return
	}

	snapshots := h.collector.GetHistoricalMetrics(minutes)
	c.JSON(http.StatusOK, models.HistoryResponse{
		Minutes:   minutes,
		Count:     len(snapshots),
		Snapshots: snapshots,
	})
}

func (h *MonitoringHandler) GetAlertRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.GetAlertRules())
}

// UpdateAlertRule PATCH parcial de una regla
func (h *MonitoringHandler) UpdateAlertRule(c *gin.Context) {
	id := c.Param("id")

	var patch models.AlertRulePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.logger.Debug("Invalid alert rule patch body", zap.String("rule", id), zap.Error(err))
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Message: "Invalid request body",
			Error:   err.Error(),
		})
		return
	}

	if err := h.validator.Struct(patch); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Message: "Validation failed",
			Error:   err.Error(),
		})
		return
	}

	if !h.collector.UpdateAlertRule(id, patch) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("Alert rule '%s' not found", id),
		})
		return
	}

	h.logger.Info("Alert rule updated", zap.String("rule", id))

	for _, rule := range h.collector.GetAlertRules() {
		if rule.ID == id {
			c.JSON(http.StatusOK, rule)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *MonitoringHandler) GetRecentAlerts(c *gin.Context) {
	limit, ok := h.intQuery(c, "limit", defaultRecentAlerts)
	if !ok {
		return
	}

	if h.alerts == nil {
		c.JSON(http.StatusOK, []models.Alert{})
		return
	}

	alerts, err := h.alerts.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read recent alerts", zap.Error(err))
		c.Error(err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Message: "Failed to read recent alerts",
			Error:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *MonitoringHandler) GetDatabaseAnalysis(c *gin.Context) {
	c.JSON(http.StatusOK, h.analyzer.GetMetrics())
}

func (h *MonitoringHandler) GetTableQueries(c *gin.Context) {
	table := c.Param("table")
	hours, ok := h.intQuery(c, "hours", defaultTableHours)
	if !ok {
		return
	}
	if hours <= 0 {
		hours = defaultTableHours
	}

	queries := h.analyzer.GetQueriesByTable(table, hours)
	c.JSON(http.StatusOK, models.TableQueriesResponse{
		Table:   table,
		Hours:   hours,
		Count:   len(queries),
		Queries: queries,
	})
}

func (h *MonitoringHandler) CleanupDatabaseAnalysis(c *gin.Context) {
	removed := h.analyzer.Cleanup()
	h.logger.Info("Query analyses cleaned up", zap.Int("removed", removed))

	c.JSON(http.StatusOK, models.CleanupResponse{
		Removed:   removed,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *MonitoringHandler) intQuery(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("Query parameter '%s' must be an integer", name),
			Error:   err.Error(),
		})
		return 0, false
	}
	return value, true
}

// WebSocket

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type streamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StreamEvents empuja cada snapshot y cada alerta por WebSocket
func (h *MonitoringHandler) StreamEvents(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "stream_events"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events := make(chan streamEvent, wsEventBuffer)
	push := func(e streamEvent) {
		select {
		case events <- e:
		default:
			logger.Debug("Dropping event for slow WebSocket client", zap.String("type", e.Type))
		}
	}

	unsubMetrics := h.collector.SubscribeMetrics(func(m models.SystemMetrics) {
		push(streamEvent{Type: "metrics", Data: m})
	})
	defer unsubMetrics()
	unsubAlerts := h.collector.SubscribeAlerts(func(a models.Alert) {
		push(streamEvent{Type: "alert", Data: a})
	})
	defer unsubAlerts()

	logger.Info("WebSocket client connected", zap.String("client_ip", c.ClientIP()))

	if snapshot := h.collector.GetCurrentMetrics(); snapshot != nil {
		push(streamEvent{Type: "metrics", Data: snapshot})
	}

	// lector: detecta el cierre del cliente y procesa pongs
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				logger.Debug("WebSocket ping failed", zap.Error(err))
				return
			}
		case <-closed:
			logger.Info("WebSocket client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// RecordRequestMiddleware registra duración y status de cada request en el collector.
// Los 5xx y los errores adjuntos al contexto de gin se registran como errores.
func (h *MonitoringHandler) RecordRequestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.Request.URL.Path
		if shouldSkipMonitoring(path) {
			return
		}

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = path
		}
		status := c.Writer.Status()
		elapsed := float64(time.Since(start).Microseconds()) / 1000

		h.collector.RecordRequest(endpoint, c.Request.Method, elapsed, status)

		for _, err := range c.Errors {
			h.collector.RecordError("error", err.Error())
		}
		if status >= http.StatusInternalServerError && len(c.Errors) == 0 {
			h.collector.RecordError("error", fmt.Sprintf("%s %s returned %d", c.Request.Method, endpoint, status))
		}
	}
}

// shouldSkipMonitoring excluye los endpoints del propio pipeline
func shouldSkipMonitoring(path string) bool {
	switch path {
	case "/", "/health", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/api/v1/monitoring")
}

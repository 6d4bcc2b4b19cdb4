package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"edu-monitoring/internal/config"
	"edu-monitoring/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxResponseTimes       = 1000
	maxEndpointTimes       = 100
	maxRecentErrors        = 50
	maxReportedErrors      = 10
	maxSlowEndpoints       = 5
	maxSlowQueryRecords    = 1000
	slowEndpointThreshold  = 1000.0
	slowQueryRetention     = time.Hour
	errorCounterResetEvery = time.Hour
	databaseStatsTimeout   = 2 * time.Second
)

var ErrInvalidInterval = errors.New("monitoring interval must be positive")

// DatabaseMonitor entrega las cifras del wrapper de acceso a datos
type DatabaseMonitor interface {
	Stats(ctx context.Context) (models.DatabaseStats, error)
}

// requestSample un request completado; el error va junto a la muestra para que
// los rates usen la misma ventana en numerador y denominador
type requestSample struct {
	timeMs float64
	at     time.Time
	failed bool
}

type endpointStats struct {
	samples []requestSample
}

type slowQueryRecord struct {
	query     string
	timeMs    float64
	timestamp time.Time
}

type metricsSubscriber struct {
	id int
	fn func(models.SystemMetrics)
}

type alertSubscriber struct {
	id int
	fn func(models.Alert)
}

// MetricsCollector recibe eventos de la aplicación, genera snapshots periódicos
// y evalúa las reglas de alerta.
type MetricsCollector struct {
	logger    *zap.Logger
	cfg       config.MonitoringConfig
	clock     Clock
	sampler   SystemSampler
	dbMonitor DatabaseMonitor

	mu             sync.Mutex
	requests       []requestSample
	endpoints      map[string]*endpointStats
	slowQueries    []slowQueryRecord
	errorCounts    map[string]int
	lastErrorReset time.Time
	recentErrors   []models.RecentError
	current        *models.SystemMetrics
	history        []models.SystemMetrics
	rules          []models.AlertRule

	subsMu      sync.RWMutex
	nextSubID   int
	metricsSubs []metricsSubscriber
	alertSubs   []alertSubscriber

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMetricsCollector crea el collector. sampler y dbMonitor pueden ser nil.
func NewMetricsCollector(
	logger *zap.Logger,
	cfg config.MonitoringConfig,
	clock Clock,
	sampler SystemSampler,
	dbMonitor DatabaseMonitor,
) (*MetricsCollector, error) {
	intervals := map[string]time.Duration{
		"collect": cfg.CollectInterval,
		"cleanup": cfg.CleanupInterval,
		"alerts":  cfg.AlertInterval,
	}
	for name, interval := range intervals {
		if interval <= 0 {
			return nil, fmt.Errorf("%s interval %s: %w", name, interval, ErrInvalidInterval)
		}
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1
	}
	if clock == nil {
		clock = SystemClock
	}

	return &MetricsCollector{
		logger:         logger.With(zap.String("component", "metrics_collector")),
		cfg:            cfg,
		clock:          clock,
		sampler:        sampler,
		dbMonitor:      dbMonitor,
		endpoints:      make(map[string]*endpointStats),
		errorCounts:    make(map[string]int),
		lastErrorReset: clock.Now(),
		rules:          DefaultAlertRules(),
		stopCh:         make(chan struct{}),
	}, nil
}

// Start lanza las tareas periódicas: snapshot, limpieza y alertas
func (c *MetricsCollector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.wg.Add(3)
		go c.runLoop(ctx, "collect", c.cfg.CollectInterval, func() { c.collectMetrics(ctx) })
		go c.runLoop(ctx, "cleanup", c.cfg.CleanupInterval, c.cleanupOldData)
		go c.runLoop(ctx, "alerts", c.cfg.AlertInterval, c.checkAlerts)

		c.logger.Info("Metrics collector started",
			zap.Duration("collect_interval", c.cfg.CollectInterval),
			zap.Duration("cleanup_interval", c.cfg.CleanupInterval),
			zap.Duration("alert_interval", c.cfg.AlertInterval))
	})
}

// Stop detiene las tareas y espera a que terminen
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		c.logger.Info("Metrics collector stopped")
	})
}

func (c *MetricsCollector) runLoop(ctx context.Context, name string, interval time.Duration, task func()) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.runTask(name, task)
		}
	}
}

// runTask aísla cada tick: un panic se registra y el loop sigue
func (c *MetricsCollector) runTask(name string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Metrics task failed", zap.String("task", name), zap.Any("panic", r))
		}
	}()
	task()
}

// RecordRequest registra la duración y el status de un request completado
func (c *MetricsCollector) RecordRequest(endpoint, method string, responseTimeMs float64, statusCode int) {
	key := fmt.Sprintf("%s %s", method, endpoint)
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.endpoints[key]
	if !exists {
		stats = &endpointStats{}
		c.endpoints[key] = stats
	}
	sample := requestSample{timeMs: responseTimeMs, at: now, failed: statusCode >= 400}
	stats.samples = appendBounded(stats.samples, sample, maxEndpointTimes)
	c.requests = appendBounded(c.requests, sample, maxResponseTimes)
}

// RecordError cuenta el error por nivel y lo deduplica en la lista reciente
func (c *MetricsCollector) RecordError(level, message string) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.errorCounts[level]++

	for i := range c.recentErrors {
		if c.recentErrors[i].Level == level && c.recentErrors[i].Message == message {
			c.recentErrors[i].Count++
			c.recentErrors[i].Timestamp = now
			return
		}
	}

	entry := models.RecentError{Level: level, Message: message, Count: 1, Timestamp: now}
	c.recentErrors = append([]models.RecentError{entry}, c.recentErrors...)
	if len(c.recentErrors) > maxRecentErrors {
		c.recentErrors = c.recentErrors[:maxRecentErrors]
	}
}

// RecordDatabaseQuery solo registra queries sobre el umbral de lentitud
func (c *MetricsCollector) RecordDatabaseQuery(query string, timeMs float64) {
	if timeMs <= slowQueryThresholdMs {
		return
	}

	c.mu.Lock()
	c.slowQueries = appendBounded(c.slowQueries, slowQueryRecord{
		query:     query,
		timeMs:    timeMs,
		timestamp: c.clock.Now(),
	}, maxSlowQueryRecords)
	c.mu.Unlock()

	c.logger.Warn("Slow database query recorded",
		zap.String("query", truncate(query, maxLoggedQueryLength)),
		zap.Float64("time_ms", timeMs))
}

// collectMetrics genera un snapshot, lo guarda y lo emite
func (c *MetricsCollector) collectMetrics(ctx context.Context) {
	snapshot := c.gatherSystemMetrics(ctx)

	c.mu.Lock()
	c.current = &snapshot
	c.history = appendBounded(c.history, snapshot, c.cfg.HistorySize)
	c.mu.Unlock()

	c.logger.Debug("Metrics snapshot collected",
		zap.Int("requests", snapshot.Network.RequestCount),
		zap.Float64("avg_response_time", snapshot.Network.AvgResponseTime),
		zap.Float64("memory_percentage", snapshot.Memory.Percentage))

	c.emitMetrics(snapshot)
}

func (c *MetricsCollector) gatherSystemMetrics(ctx context.Context) models.SystemMetrics {
	now := c.clock.Now()
	snapshot := models.SystemMetrics{Timestamp: now}

	if c.sampler != nil {
		host, err := c.sampler.Sample()
		if err != nil {
			c.logger.Warn("Host stats partially unavailable", zap.Error(err))
		}
		snapshot.CPU = models.CPUMetrics{
			Usage:       clamp(host.CPUPercent, 0, 100),
			LoadAverage: host.LoadAverage,
		}
		snapshot.Memory = models.MemoryMetrics{
			Used:      host.MemUsed,
			Total:     host.MemTotal,
			HeapUsed:  host.HeapUsed,
			HeapTotal: host.HeapTotal,
		}
		if host.MemTotal > 0 {
			snapshot.Memory.Percentage = clamp(float64(host.MemUsed)/float64(host.MemTotal)*100, 0, 100)
		}
	}

	c.mu.Lock()
	snapshot.Network = c.networkMetrics()
	snapshot.API = c.apiMetrics(now)
	snapshot.Errors = c.errorMetrics()
	snapshot.Database.SlowQueries = c.countSlowQueries(now)
	c.mu.Unlock()

	if c.dbMonitor != nil {
		dbCtx, cancel := context.WithTimeout(ctx, databaseStatsTimeout)
		stats, err := c.dbMonitor.Stats(dbCtx)
		cancel()
		if err != nil {
			c.logger.Error("Failed to read database stats", zap.Error(err))
		} else {
			snapshot.Database.Connections = stats.Connections
			snapshot.Database.ActiveQueries = stats.ActiveQueries
			snapshot.Database.ErrorRate = ratio(float64(stats.Errors), float64(stats.TotalQueries))
			snapshot.Database.AvgQueryTime = nonNegative(stats.AvgQueryTime)
		}
	}

	return snapshot
}

// networkMetrics requiere c.mu tomado
func (c *MetricsCollector) networkMetrics() models.NetworkMetrics {
	avg, errorCount := summarize(c.requests)

	requests := len(c.requests)
	return models.NetworkMetrics{
		RequestCount:    requests,
		ErrorCount:      errorCount,
		ErrorRate:       ratio(float64(errorCount), float64(requests)),
		AvgResponseTime: avg,
	}
}

// apiMetrics requiere c.mu tomado
func (c *MetricsCollector) apiMetrics(now time.Time) models.APIMetrics {
	minuteAgo := now.Add(-time.Minute)
	perMinute := 0
	for i := len(c.requests) - 1; i >= 0; i-- {
		if !c.requests[i].at.After(minuteAgo) {
			break
		}
		perMinute++
	}

	var samples, errorCount int
	slow := make([]models.SlowEndpoint, 0)
	for key, stats := range c.endpoints {
		avg, errs := summarize(stats.samples)
		samples += len(stats.samples)
		errorCount += errs
		if avg > slowEndpointThreshold {
			slow = append(slow, models.SlowEndpoint{Endpoint: key, AvgTime: avg, Count: len(stats.samples)})
		}
	}
	sort.Slice(slow, func(i, j int) bool {
		if slow[i].AvgTime != slow[j].AvgTime {
			return slow[i].AvgTime > slow[j].AvgTime
		}
		return slow[i].Endpoint < slow[j].Endpoint
	})
	if len(slow) > maxSlowEndpoints {
		slow = slow[:maxSlowEndpoints]
	}

	return models.APIMetrics{
		RequestsPerMinute: perMinute,
		ErrorRate:         ratio(float64(errorCount), float64(samples)),
		SlowEndpoints:     slow,
	}
}

// errorMetrics requiere c.mu tomado
func (c *MetricsCollector) errorMetrics() models.ErrorMetrics {
	total := 0
	byLevel := make(map[string]int, len(c.errorCounts))
	for level, count := range c.errorCounts {
		byLevel[level] = count
		total += count
	}

	n := len(c.recentErrors)
	if n > maxReportedErrors {
		n = maxReportedErrors
	}
	recent := make([]models.RecentError, n)
	copy(recent, c.recentErrors[:n])

	return models.ErrorMetrics{Total: total, ByLevel: byLevel, Recent: recent}
}

// countSlowQueries requiere c.mu tomado
func (c *MetricsCollector) countSlowQueries(now time.Time) int {
	cutoff := now.Add(-slowQueryRetention)
	count := 0
	for _, q := range c.slowQueries {
		if q.timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// checkAlerts evalúa las reglas habilitadas contra el último snapshot
func (c *MetricsCollector) checkAlerts() {
	now := c.clock.Now()
	var fired []models.Alert

	c.mu.Lock()
	snapshot := c.current
	if snapshot == nil {
		c.mu.Unlock()
		return
	}

	for i := range c.rules {
		rule := &c.rules[i]
		if !rule.Enabled {
			continue
		}
		if rule.LastTriggered != nil && now.Sub(*rule.LastTriggered) < time.Duration(rule.Cooldown)*time.Minute {
			continue
		}

		value, ok := metricValue(snapshot, rule.Condition)
		if !ok {
			c.logger.Debug("Alert rule condition not found", zap.String("rule", rule.ID), zap.String("condition", rule.Condition))
			continue
		}
		if !compare(rule.Operator, value, rule.Threshold) {
			continue
		}

		triggered := now
		rule.LastTriggered = &triggered
		fired = append(fired, models.Alert{
			ID:          uuid.NewString(),
			Rule:        copyRule(*rule),
			Value:       value,
			Timestamp:   snapshot.Timestamp,
			TriggeredAt: now,
		})
	}
	c.mu.Unlock()

	for _, alert := range fired {
		c.logger.Warn("Alert triggered",
			zap.String("rule", alert.Rule.ID),
			zap.String("name", alert.Rule.Name),
			zap.String("severity", string(alert.Rule.Severity)),
			zap.String("condition", alert.Rule.Condition),
			zap.Float64("value", alert.Value),
			zap.Float64("threshold", alert.Rule.Threshold))
		c.emitAlert(alert)
	}
}

// cleanupOldData recorta los buffers acotados
func (c *MetricsCollector) cleanupOldData() {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = keepLast(c.requests, maxResponseTimes)

	cutoff := now.Add(-slowQueryRetention)
	kept := c.slowQueries[:0]
	for _, q := range c.slowQueries {
		if q.timestamp.After(cutoff) {
			kept = append(kept, q)
		}
	}
	c.slowQueries = kept

	for key, stats := range c.endpoints {
		stats.samples = keepLast(stats.samples, maxEndpointTimes)
		if len(stats.samples) == 0 {
			delete(c.endpoints, key)
		}
	}

	if now.Sub(c.lastErrorReset) >= errorCounterResetEvery {
		c.errorCounts = make(map[string]int)
		c.lastErrorReset = now
	}
}

// GetCurrentMetrics último snapshot o nil si todavía no hay uno
func (c *MetricsCollector) GetCurrentMetrics() *models.SystemMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	snapshot := *c.current
	return &snapshot
}

// GetHistoricalMetrics snapshots de los últimos minutos, del más antiguo al más nuevo
func (c *MetricsCollector) GetHistoricalMetrics(minutes int) []models.SystemMetrics {
	cutoff := c.clock.Now().Add(-time.Duration(minutes) * time.Minute)

	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]models.SystemMetrics, 0, len(c.history))
	for _, s := range c.history {
		if minutes <= 0 || !s.Timestamp.Before(cutoff) {
			result = append(result, s)
		}
	}
	return result
}

// GetAlertRules copia de las reglas actuales
func (c *MetricsCollector) GetAlertRules() []models.AlertRule {
	c.mu.Lock()
	defer c.mu.Unlock()

	rules := make([]models.AlertRule, len(c.rules))
	for i, r := range c.rules {
		rules[i] = copyRule(r)
	}
	return rules
}

// UpdateAlertRule mezcla el patch en la regla con ese id. Retorna false si no existe.
func (c *MetricsCollector) UpdateAlertRule(id string, patch models.AlertRulePatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.rules {
		if c.rules[i].ID == id {
			applyPatch(&c.rules[i], patch)
			return true
		}
	}
	return false
}

// SubscribeMetrics registra fn para cada snapshot. Retorna la función para desuscribirse.
func (c *MetricsCollector) SubscribeMetrics(fn func(models.SystemMetrics)) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.metricsSubs = append(c.metricsSubs, metricsSubscriber{id: id, fn: fn})

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		for i, s := range c.metricsSubs {
			if s.id == id {
				c.metricsSubs = append(c.metricsSubs[:i:i], c.metricsSubs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAlerts registra fn para cada alerta disparada
func (c *MetricsCollector) SubscribeAlerts(fn func(models.Alert)) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.alertSubs = append(c.alertSubs, alertSubscriber{id: id, fn: fn})

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		for i, s := range c.alertSubs {
			if s.id == id {
				c.alertSubs = append(c.alertSubs[:i:i], c.alertSubs[i+1:]...)
				return
			}
		}
	}
}

func (c *MetricsCollector) emitMetrics(snapshot models.SystemMetrics) {
	c.subsMu.RLock()
	subs := c.metricsSubs
	c.subsMu.RUnlock()

	for _, s := range subs {
		c.safeCall("metrics", func() { s.fn(snapshot) })
	}
}

func (c *MetricsCollector) emitAlert(alert models.Alert) {
	c.subsMu.RLock()
	subs := c.alertSubs
	c.subsMu.RUnlock()

	for _, s := range subs {
		c.safeCall("alert", func() { s.fn(alert) })
	}
}

// safeCall evita que un suscriptor con panic corte la emisión al resto
func (c *MetricsCollector) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Subscriber failed", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	fn()
}

func copyRule(r models.AlertRule) models.AlertRule {
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		r.LastTriggered = &t
	}
	return r
}

func appendBounded[T any](items []T, item T, limit int) []T {
	items = append(items, item)
	if len(items) > limit {
		n := copy(items, items[len(items)-limit:])
		items = items[:n]
	}
	return items
}

func keepLast[T any](items []T, limit int) []T {
	if len(items) <= limit {
		return items
	}
	return append(items[:0:0], items[len(items)-limit:]...)
}

// summarize tiempo promedio y cantidad de errores de las muestras
func summarize(samples []requestSample) (float64, int) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	failed := 0
	for _, s := range samples {
		sum += s.timeMs
		if s.failed {
			failed++
		}
	}
	return nonNegative(sum / float64(len(samples))), failed
}

// ratio siempre en [0,1]; 0 cuando no hay denominador
func ratio(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return clamp(part/total, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

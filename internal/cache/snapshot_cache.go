package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"edu-monitoring/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	latestSnapshotKey = "monitoring:metrics:latest"
	alertsKey         = "monitoring:alerts"
	EventsChannel     = "monitoring:events"

	maxStoredAlerts = 100
	publishTimeout  = 2 * time.Second
)

// RedisClient subconjunto de go-redis usado por el caché
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// EventSource emite snapshots y alertas
type EventSource interface {
	SubscribeMetrics(fn func(models.SystemMetrics)) func()
	SubscribeAlerts(fn func(models.Alert)) func()
}

// CacheStats estadísticas del caché
type CacheStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	TotalRequests int64   `json:"totalRequests"`
	HitRate       float64 `json:"hitRate"`
	L1Alerts      int     `json:"l1Alerts"`
	PublishErrors int64   `json:"publishErrors"`
}

// Event mensaje publicado en el canal de eventos
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SnapshotCache implementa caché multi-nivel para snapshots y alertas
type SnapshotCache struct {
	// L1 Cache: memoria local
	l1Mutex  sync.RWMutex
	latest   *models.SystemMetrics
	l1Alerts []models.Alert

	// L2 Cache: Redis, compartido con otros procesos del dashboard
	redisClient RedisClient
	ttl         time.Duration

	logger *zap.Logger

	statsMutex    sync.Mutex
	hits          int64
	misses        int64
	publishErrors int64
}

// NewSnapshotCache crea el caché. redisClient puede ser nil (solo L1).
func NewSnapshotCache(redisClient RedisClient, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		redisClient: redisClient,
		ttl:         ttl,
		logger:      logger.With(zap.String("component", "snapshot_cache")),
	}
}

// Attach suscribe el caché a la fuente. Retorna la función para desuscribirse.
func (sc *SnapshotCache) Attach(source EventSource) func() {
	unsubMetrics := source.SubscribeMetrics(func(m models.SystemMetrics) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := sc.StoreMetrics(ctx, m); err != nil {
			sc.recordPublishError()
			sc.logger.Warn("Failed to publish metrics snapshot", zap.Error(err))
		}
	})
	unsubAlerts := source.SubscribeAlerts(func(a models.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := sc.StoreAlert(ctx, a); err != nil {
			sc.recordPublishError()
			sc.logger.Warn("Failed to publish alert", zap.String("rule", a.Rule.ID), zap.Error(err))
		}
	})

	return func() {
		unsubMetrics()
		unsubAlerts()
	}
}

// StoreMetrics guarda el snapshot en L1, en Redis con TTL y lo publica
func (sc *SnapshotCache) StoreMetrics(ctx context.Context, snapshot models.SystemMetrics) error {
	sc.l1Mutex.Lock()
	sc.latest = &snapshot
	sc.l1Mutex.Unlock()

	if sc.redisClient == nil {
		return nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := sc.redisClient.Set(ctx, latestSnapshotKey, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	return sc.publish(ctx, Event{Type: "metrics", Data: snapshot})
}

// StoreAlert agrega la alerta a la lista acotada y la publica
func (sc *SnapshotCache) StoreAlert(ctx context.Context, alert models.Alert) error {
	sc.l1Mutex.Lock()
	sc.l1Alerts = append([]models.Alert{alert}, sc.l1Alerts...)
	if len(sc.l1Alerts) > maxStoredAlerts {
		sc.l1Alerts = sc.l1Alerts[:maxStoredAlerts]
	}
	sc.l1Mutex.Unlock()

	if sc.redisClient == nil {
		return nil
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := sc.redisClient.LPush(ctx, alertsKey, data).Err(); err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}
	if err := sc.redisClient.LTrim(ctx, alertsKey, 0, maxStoredAlerts-1).Err(); err != nil {
		return fmt.Errorf("failed to trim alerts: %w", err)
	}

	return sc.publish(ctx, Event{Type: "alert", Data: alert})
}

// LatestMetrics busca el último snapshot: L1 y luego Redis
func (sc *SnapshotCache) LatestMetrics(ctx context.Context) (*models.SystemMetrics, error) {
	sc.l1Mutex.RLock()
	latest := sc.latest
	sc.l1Mutex.RUnlock()

	if latest != nil {
		sc.recordHit()
		snapshot := *latest
		return &snapshot, nil
	}

	if sc.redisClient == nil {
		sc.recordMiss()
		return nil, nil
	}

	data, err := sc.redisClient.Get(ctx, latestSnapshotKey).Result()
	if errors.Is(err, redis.Nil) {
		sc.recordMiss()
		return nil, nil
	}
	if err != nil {
		sc.recordMiss()
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot models.SystemMetrics
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		sc.recordMiss()
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	sc.recordHit()
	return &snapshot, nil
}

// RecentAlerts últimas alertas, la más nueva primero. Cae a Redis cuando L1 está vacío.
func (sc *SnapshotCache) RecentAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > maxStoredAlerts {
		limit = maxStoredAlerts
	}

	sc.l1Mutex.RLock()
	n := len(sc.l1Alerts)
	if n > limit {
		n = limit
	}
	alerts := make([]models.Alert, n)
	copy(alerts, sc.l1Alerts[:n])
	sc.l1Mutex.RUnlock()

	if n > 0 || sc.redisClient == nil {
		if n > 0 {
			sc.recordHit()
		} else {
			sc.recordMiss()
		}
		return alerts, nil
	}

	raw, err := sc.redisClient.LRange(ctx, alertsKey, 0, int64(limit-1)).Result()
	if err != nil {
		sc.recordMiss()
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}

	alerts = make([]models.Alert, 0, len(raw))
	for _, item := range raw {
		var alert models.Alert
		if err := json.Unmarshal([]byte(item), &alert); err != nil {
			sc.logger.Debug("Skipping malformed alert entry", zap.Error(err))
			continue
		}
		alerts = append(alerts, alert)
	}

	if len(alerts) > 0 {
		sc.recordHit()
	} else {
		sc.recordMiss()
	}
	return alerts, nil
}

// GetStats retorna estadísticas del caché
func (sc *SnapshotCache) GetStats() CacheStats {
	sc.l1Mutex.RLock()
	l1Alerts := len(sc.l1Alerts)
	sc.l1Mutex.RUnlock()

	sc.statsMutex.Lock()
	defer sc.statsMutex.Unlock()

	total := sc.hits + sc.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(sc.hits) / float64(total)
	}

	return CacheStats{
		Hits:          sc.hits,
		Misses:        sc.misses,
		TotalRequests: total,
		HitRate:       hitRate,
		L1Alerts:      l1Alerts,
		PublishErrors: sc.publishErrors,
	}
}

func (sc *SnapshotCache) publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := sc.redisClient.Publish(ctx, EventsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

func (sc *SnapshotCache) recordHit() {
	sc.statsMutex.Lock()
	sc.hits++
	sc.statsMutex.Unlock()
}

func (sc *SnapshotCache) recordMiss() {
	sc.statsMutex.Lock()
	sc.misses++
	sc.statsMutex.Unlock()
}

func (sc *SnapshotCache) recordPublishError() {
	sc.statsMutex.Lock()
	sc.publishErrors++
	sc.statsMutex.Unlock()
}

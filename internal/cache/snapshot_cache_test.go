package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"edu-monitoring/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRedis struct {
	mu        sync.Mutex
	values    map[string]string
	ttls      map[string]time.Duration
	lists     map[string][]string
	published []string
	err       error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
		lists:  make(map[string][]string),
	}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	for _, v := range values {
		f.lists[key] = append([]string{string(v.([]byte))}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	if int(stop)+1 < len(list) {
		f.lists[key] = list[start : stop+1]
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringSliceResult(nil, f.err)
	}
	list := f.lists[key]
	end := int(stop) + 1
	if end > len(list) {
		end = len(list)
	}
	out := make([]string, end-int(start))
	copy(out, list[start:end])
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.published = append(f.published, string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

type fakeSource struct {
	metrics func(models.SystemMetrics)
	alerts  func(models.Alert)
}

func (s *fakeSource) SubscribeMetrics(fn func(models.SystemMetrics)) func() {
	s.metrics = fn
	return func() { s.metrics = nil }
}

func (s *fakeSource) SubscribeAlerts(fn func(models.Alert)) func() {
	s.alerts = fn
	return func() { s.alerts = nil }
}

func testAlert(id string) models.Alert {
	return models.Alert{
		ID:    id,
		Rule:  models.AlertRule{ID: "high-error-rate", Severity: models.SeverityHigh},
		Value: 0.2,
	}
}

func TestSnapshotCache_StoreMetrics(t *testing.T) {
	rdb := newFakeRedis()
	sc := NewSnapshotCache(rdb, time.Minute, zap.NewNop())

	snapshot := models.SystemMetrics{
		Timestamp: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		Network:   models.NetworkMetrics{RequestCount: 12},
	}
	require.NoError(t, sc.StoreMetrics(context.Background(), snapshot))

	assert.Equal(t, time.Minute, rdb.ttls[latestSnapshotKey])
	var stored models.SystemMetrics
	require.NoError(t, json.Unmarshal([]byte(rdb.values[latestSnapshotKey]), &stored))
	assert.Equal(t, 12, stored.Network.RequestCount)

	require.Len(t, rdb.published, 1)
	var event struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(rdb.published[0]), &event))
	assert.Equal(t, "metrics", event.Type)

	latest, err := sc.LatestMetrics(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 12, latest.Network.RequestCount)
	assert.Equal(t, int64(1), sc.GetStats().Hits)
}

func TestSnapshotCache_LatestMetricsFallsBackToRedis(t *testing.T) {
	rdb := newFakeRedis()
	writer := NewSnapshotCache(rdb, time.Minute, zap.NewNop())
	require.NoError(t, writer.StoreMetrics(context.Background(), models.SystemMetrics{
		API: models.APIMetrics{RequestsPerMinute: 40},
	}))

	reader := NewSnapshotCache(rdb, time.Minute, zap.NewNop())
	latest, err := reader.LatestMetrics(context.Background())

	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 40, latest.API.RequestsPerMinute)
}

func TestSnapshotCache_LatestMetricsMiss(t *testing.T) {
	sc := NewSnapshotCache(newFakeRedis(), time.Minute, zap.NewNop())

	latest, err := sc.LatestMetrics(context.Background())

	require.NoError(t, err)
	assert.Nil(t, latest)
	stats := sc.GetStats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Zero(t, stats.HitRate)
}

func TestSnapshotCache_StoreAlertIsCapped(t *testing.T) {
	rdb := newFakeRedis()
	sc := NewSnapshotCache(rdb, time.Minute, zap.NewNop())

	for i := 0; i < maxStoredAlerts+5; i++ {
		require.NoError(t, sc.StoreAlert(context.Background(), testAlert(string(rune('a'+i%26)))))
	}

	assert.Len(t, rdb.lists[alertsKey], maxStoredAlerts)
	assert.Equal(t, maxStoredAlerts, sc.GetStats().L1Alerts)
	assert.Len(t, rdb.published, maxStoredAlerts+5)
}

func TestSnapshotCache_RecentAlerts(t *testing.T) {
	rdb := newFakeRedis()
	sc := NewSnapshotCache(rdb, time.Minute, zap.NewNop())

	require.NoError(t, sc.StoreAlert(context.Background(), testAlert("first")))
	require.NoError(t, sc.StoreAlert(context.Background(), testAlert("second")))

	alerts, err := sc.RecentAlerts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "second", alerts[0].ID)

	alerts, err = sc.RecentAlerts(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	restarted := NewSnapshotCache(rdb, time.Minute, zap.NewNop())
	alerts, err = restarted.RecentAlerts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "second", alerts[0].ID)
	assert.Equal(t, "first", alerts[1].ID)
}

func TestSnapshotCache_WithoutRedis(t *testing.T) {
	sc := NewSnapshotCache(nil, time.Minute, zap.NewNop())

	require.NoError(t, sc.StoreMetrics(context.Background(), models.SystemMetrics{}))
	require.NoError(t, sc.StoreAlert(context.Background(), testAlert("only")))

	alerts, err := sc.RecentAlerts(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestSnapshotCache_AttachLogsPublishFailures(t *testing.T) {
	rdb := newFakeRedis()
	rdb.err = errors.New("connection reset")
	sc := NewSnapshotCache(rdb, time.Minute, zap.NewNop())
	source := &fakeSource{}

	detach := sc.Attach(source)
	require.NotNil(t, source.metrics)
	require.NotNil(t, source.alerts)

	assert.NotPanics(t, func() {
		source.metrics(models.SystemMetrics{})
		source.alerts(testAlert("x"))
	})
	assert.Equal(t, int64(2), sc.GetStats().PublishErrors)

	// L1 se actualiza aunque Redis falle
	latest, err := sc.LatestMetrics(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, latest)

	detach()
	assert.Nil(t, source.metrics)
	assert.Nil(t, source.alerts)
}

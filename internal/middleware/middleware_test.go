package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"edu-monitoring/internal/cache"
	"edu-monitoring/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePostgres struct{ err error }

func (f fakePostgres) Ping(ctx context.Context) error { return f.err }
func (f fakePostgres) GetStats() sql.DBStats { return sql.DBStats{OpenConnections: 3, InUse: 1} }

type fakeRedis struct{ err error }

func (f fakeRedis) Ping(ctx context.Context) error { return f.err }

type fakeCollector struct{ snapshot *models.SystemMetrics }

func (f fakeCollector) GetCurrentMetrics() *models.SystemMetrics { return f.snapshot }

type fakeCacheStats struct{}

func (fakeCacheStats) GetStats() cache.CacheStats { return cache.CacheStats{Hits: 4} }

type healthBody struct {
	Status   string                            `json:"status"`
	Services map[string]map[string]interface{} `json:"services"`
}

func runHealth(t *testing.T, h *HealthChecker) (int, healthBody) {
	t.Helper()
	router := gin.New()
	router.GET("/health", h.HealthCheck)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthCheck(t *testing.T) {
	fresh := &models.SystemMetrics{Timestamp: time.Now()}
	stale := &models.SystemMetrics{Timestamp: time.Now().Add(-time.Hour)}

	tests := []struct {
		name            string
		postgres        fakePostgres
		redis           RedisPinger
		snapshot        *models.SystemMetrics
		expectedCode    int
		expectedStatus  string
		collectorStatus string
		redisStatus     string
	}{
		{"all healthy", fakePostgres{}, fakeRedis{}, fresh, http.StatusOK, "healthy", "healthy", "healthy"},
		{"collector starting", fakePostgres{}, fakeRedis{}, nil, http.StatusOK, "healthy", "starting", "healthy"},
		{"redis disabled", fakePostgres{}, nil, fresh, http.StatusOK, "healthy", "healthy", "disabled"},
		{"redis down degrades", fakePostgres{}, fakeRedis{err: errors.New("refused")}, fresh, http.StatusOK, "degraded", "healthy", "unhealthy"},
		{"postgres down", fakePostgres{err: errors.New("refused")}, fakeRedis{}, fresh, http.StatusServiceUnavailable, "unhealthy", "healthy", "healthy"},
		{"stale collector", fakePostgres{}, fakeRedis{}, stale, http.StatusServiceUnavailable, "unhealthy", "stale", "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(tt.postgres, tt.redis, fakeCollector{snapshot: tt.snapshot}, fakeCacheStats{}, time.Minute, zap.NewNop())

			code, body := runHealth(t, h)

			assert.Equal(t, tt.expectedCode, code)
			assert.Equal(t, tt.expectedStatus, body.Status)
			assert.Equal(t, tt.collectorStatus, body.Services["collector"]["status"])
			assert.Equal(t, tt.redisStatus, body.Services["redis"]["status"])
			assert.NotNil(t, body.Services["redis"]["cache"])
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	generated := rec.Header().Get("X-Request-ID")
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
	assert.Equal(t, generated, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "trace-123", rec.Header().Get("X-Request-ID"))
}

func TestStatusAndMethodColors(t *testing.T) {
	assert.Equal(t, greenColor, getStatusColor(200))
	assert.Equal(t, cyanColor, getStatusColor(304))
	assert.Equal(t, yellowColor, getStatusColor(404))
	assert.Equal(t, redColor, getStatusColor(503))
	assert.Equal(t, magentaColor, getMethodColor("PATCH"))
	assert.Equal(t, whiteColor, getMethodColor("OPTIONS"))
}

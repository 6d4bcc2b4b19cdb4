package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"edu-monitoring/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// QueryAnalyzer recibe cada query ejecutada con su duración
type QueryAnalyzer interface {
	AnalyzeQuery(query string, executionTime float64, metadata *models.QueryMetadata) models.QueryAnalysis
}

// InstrumentedDB envuelve sqlx.DB: mide cada query, la entrega al analyzer y
// expone las cifras del pool como monitor de base de datos.
// Las queries de la plataforma deben pasar por este wrapper; las que usan
// el *sqlx.DB directo no llegan al analyzer.
type InstrumentedDB struct {
	db       *sqlx.DB
	analyzer QueryAnalyzer
	logger   *zap.Logger

	totalQueries atomic.Int64
	failed       atomic.Int64
	totalMicros  atomic.Int64
}

func NewInstrumentedDB(db *sqlx.DB, analyzer QueryAnalyzer, logger *zap.Logger) *InstrumentedDB {
	return &InstrumentedDB{
		db:       db,
		analyzer: analyzer,
		logger:   logger.With(zap.String("component", "instrumented_db")),
	}
}

// SelectContext ejecuta la query y escanea todas las filas en dest
func (i *InstrumentedDB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := i.db.SelectContext(ctx, dest, query, args...)

	var rows *int64
	if err == nil {
		n := sliceLen(dest)
		rows = &n
	}
	i.observe(query, time.Since(start), rows, err)
	return err
}

// GetContext ejecuta la query y escanea una fila en dest
func (i *InstrumentedDB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := i.db.GetContext(ctx, dest, query, args...)

	var rows int64
	if err == nil {
		rows = 1
	}
	i.observe(query, time.Since(start), &rows, err)
	return err
}

func (i *InstrumentedDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := i.db.ExecContext(ctx, query, args...)

	var rows *int64
	if err == nil {
		if n, rowsErr := result.RowsAffected(); rowsErr == nil {
			rows = &n
		}
	}
	i.observe(query, time.Since(start), rows, err)
	return result, err
}

// Stats implementa el monitor de base de datos del collector
func (i *InstrumentedDB) Stats(ctx context.Context) (models.DatabaseStats, error) {
	if err := i.db.PingContext(ctx); err != nil {
		return models.DatabaseStats{}, fmt.Errorf("database unreachable: %w", err)
	}

	pool := i.db.Stats()
	total := i.totalQueries.Load()

	var avg float64
	if total > 0 {
		avg = float64(i.totalMicros.Load()) / float64(total) / 1000
	}

	return models.DatabaseStats{
		Connections:   pool.OpenConnections,
		ActiveQueries: pool.InUse,
		TotalQueries:  total,
		Errors:        i.failed.Load(),
		AvgQueryTime:  avg,
	}, nil
}

func (i *InstrumentedDB) observe(query string, elapsed time.Duration, rows *int64, err error) {
	i.totalQueries.Add(1)
	i.totalMicros.Add(elapsed.Microseconds())

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		i.failed.Add(1)
		i.logger.Debug("Query failed", zap.Error(err))
	}

	if i.analyzer != nil {
		ms := float64(elapsed.Microseconds()) / 1000
		i.analyzer.AnalyzeQuery(query, ms, &models.QueryMetadata{Rows: rows})
	}
}

func sliceLen(dest interface{}) int64 {
	v := reflect.ValueOf(dest)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice {
		return int64(v.Len())
	}
	return 0
}

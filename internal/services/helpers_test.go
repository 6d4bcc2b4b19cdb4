package services

import (
	"context"
	"sync"
	"time"

	"edu-monitoring/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type fakeSampler struct {
	stats HostStats
	err   error
}

func (s fakeSampler) Sample() (HostStats, error) {
	return s.stats, s.err
}

type fakeDatabaseMonitor struct {
	stats models.DatabaseStats
	err   error
}

func (m fakeDatabaseMonitor) Stats(ctx context.Context) (models.DatabaseStats, error) {
	return m.stats, m.err
}

type slowQueryCall struct {
	query  string
	timeMs float64
}

type recordingRecorder struct {
	mu    sync.Mutex
	calls []slowQueryCall
}

func (r *recordingRecorder) RecordDatabaseQuery(query string, timeMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, slowQueryCall{query: query, timeMs: timeMs})
}

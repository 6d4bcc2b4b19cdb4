package main

import (
	"os"
	"path/filepath"
	"testing"

	"edu-monitoring/internal/config"
	"edu-monitoring/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn", "release")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	logger, err = newLogger("debug", "debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = newLogger("loud", "release")
	assert.Error(t, err)
}

func TestApplyAlertRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: slow-response-time
    threshold: 1500
  - id: not-a-rule
    enabled: false
`), 0o600))

	collector, err := services.NewMetricsCollector(zap.NewNop(), config.DefaultMonitoringConfig(), nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, applyAlertRules(collector, path, zap.NewNop()))

	rules := collector.GetAlertRules()
	require.Len(t, rules, 4)
	assert.Equal(t, 1500.0, rules[1].Threshold)
	for _, r := range rules {
		assert.True(t, r.Enabled)
	}
}

func TestApplyAlertRules_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - threshold: 3\n"), 0o600))

	collector, err := services.NewMetricsCollector(zap.NewNop(), config.DefaultMonitoringConfig(), nil, nil, nil)
	require.NoError(t, err)

	assert.Error(t, applyAlertRules(collector, path, zap.NewNop()))
}

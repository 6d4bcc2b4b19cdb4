package services

import (
	"os"
	"path/filepath"
	"testing"

	"edu-monitoring/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alert_rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAlertRulesFile(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - id: high-error-rate
    threshold: 0.1
    cooldown: 2
  - id: memory-usage-high
    enabled: false
    severity: critical
`)

	file, err := LoadAlertRulesFile(path)
	require.NoError(t, err)
	require.Len(t, file.Rules, 2)

	first := file.Rules[0]
	assert.Equal(t, "high-error-rate", first.ID)
	require.NotNil(t, first.Threshold)
	assert.Equal(t, 0.1, *first.Threshold)
	require.NotNil(t, first.Cooldown)
	assert.Equal(t, 2, *first.Cooldown)
	assert.Nil(t, first.Operator)

	second := file.Rules[1]
	require.NotNil(t, second.Enabled)
	assert.False(t, *second.Enabled)
	require.NotNil(t, second.Severity)
	assert.Equal(t, models.SeverityCritical, *second.Severity)
}

func TestLoadAlertRulesFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing id", "rules:\n  - threshold: 1\n"},
		{"bad operator", "rules:\n  - id: x\n    operator: gte\n"},
		{"bad severity", "rules:\n  - id: x\n    severity: urgent\n"},
		{"negative cooldown", "rules:\n  - id: x\n    cooldown: -1\n"},
		{"unknown condition", "rules:\n  - id: x\n    condition: cpu.temperature\n"},
		{"malformed yaml", "rules: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadAlertRulesFile(writeRulesFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadAlertRulesFile_Missing(t *testing.T) {
	_, err := LoadAlertRulesFile(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewValidator_AlertCondition(t *testing.T) {
	v := NewValidator()

	known := "database.slowQueries"
	assert.NoError(t, v.Struct(models.AlertRulePatch{Condition: &known}))

	unknown := "database.deadlocks"
	assert.Error(t, v.Struct(models.AlertRulePatch{Condition: &unknown}))

	assert.NoError(t, v.Struct(models.AlertRulePatch{}))
}

func TestApplyPatch_OnlyPresentFields(t *testing.T) {
	rule := DefaultAlertRules()[1]
	op := models.OperatorLessThan

	applyPatch(&rule, models.AlertRulePatch{Operator: &op})

	assert.Equal(t, models.OperatorLessThan, rule.Operator)
	assert.Equal(t, 2000.0, rule.Threshold)
	assert.Equal(t, "Slow Response Time", rule.Name)
	assert.True(t, rule.Enabled)
}

package services

import (
	"fmt"
	"os"

	"edu-monitoring/internal/models"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// metricExtractors resuelve la condición de una regla contra un snapshot.
// Una condición que no está en la tabla se omite durante la evaluación.
var metricExtractors = map[string]func(*models.SystemMetrics) float64{
	"cpu.usage":               func(m *models.SystemMetrics) float64 { return m.CPU.Usage },
	"memory.used":             func(m *models.SystemMetrics) float64 { return float64(m.Memory.Used) },
	"memory.percentage":       func(m *models.SystemMetrics) float64 { return m.Memory.Percentage },
	"memory.heapUsed":         func(m *models.SystemMetrics) float64 { return float64(m.Memory.HeapUsed) },
	"network.requestCount":    func(m *models.SystemMetrics) float64 { return float64(m.Network.RequestCount) },
	"network.errorCount":      func(m *models.SystemMetrics) float64 { return float64(m.Network.ErrorCount) },
	"network.errorRate":       func(m *models.SystemMetrics) float64 { return m.Network.ErrorRate },
	"network.avgResponseTime": func(m *models.SystemMetrics) float64 { return m.Network.AvgResponseTime },
	"database.connections":    func(m *models.SystemMetrics) float64 { return float64(m.Database.Connections) },
	"database.activeQueries":  func(m *models.SystemMetrics) float64 { return float64(m.Database.ActiveQueries) },
	"database.slowQueries":    func(m *models.SystemMetrics) float64 { return float64(m.Database.SlowQueries) },
	"database.errorRate":      func(m *models.SystemMetrics) float64 { return m.Database.ErrorRate },
	"database.avgQueryTime":   func(m *models.SystemMetrics) float64 { return m.Database.AvgQueryTime },
	"api.requestsPerMinute":   func(m *models.SystemMetrics) float64 { return float64(m.API.RequestsPerMinute) },
	"api.errorRate":           func(m *models.SystemMetrics) float64 { return m.API.ErrorRate },
	"api.slowEndpoints":       func(m *models.SystemMetrics) float64 { return float64(len(m.API.SlowEndpoints)) },
	"errors.total":            func(m *models.SystemMetrics) float64 { return float64(m.Errors.Total) },
	"errors.recent":           func(m *models.SystemMetrics) float64 { return float64(len(m.Errors.Recent)) },
}

// IsKnownCondition indica si la condición tiene un extractor
func IsKnownCondition(condition string) bool {
	_, ok := metricExtractors[condition]
	return ok
}

// NewValidator validator con el tag alert_condition registrado
func NewValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("alert_condition", func(fl validator.FieldLevel) bool {
		return IsKnownCondition(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// metricValue retorna el valor de la condición y si existe
func metricValue(m *models.SystemMetrics, condition string) (float64, bool) {
	extract, ok := metricExtractors[condition]
	if !ok {
		return 0, false
	}
	return extract(m), true
}

func compare(op models.Operator, value, threshold float64) bool {
	switch op {
	case models.OperatorGreaterThan:
		return value > threshold
	case models.OperatorLessThan:
		return value < threshold
	case models.OperatorEqual:
		return value == threshold
	default:
		return false
	}
}

// DefaultAlertRules reglas con las que arranca cada collector
func DefaultAlertRules() []models.AlertRule {
	return []models.AlertRule{
		{
			ID:        "high-error-rate",
			Name:      "High Error Rate",
			Condition: "api.errorRate",
			Threshold: 0.05,
			Operator:  models.OperatorGreaterThan,
			Severity:  models.SeverityHigh,
			Enabled:   true,
			Cooldown:  5,
		},
		{
			ID:        "slow-response-time",
			Name:      "Slow Response Time",
			Condition: "network.avgResponseTime",
			Threshold: 2000,
			Operator:  models.OperatorGreaterThan,
			Severity:  models.SeverityMedium,
			Enabled:   true,
			Cooldown:  10,
		},
		{
			ID:        "memory-usage-high",
			Name:      "High Memory Usage",
			Condition: "memory.percentage",
			Threshold: 85,
			Operator:  models.OperatorGreaterThan,
			Severity:  models.SeverityMedium,
			Enabled:   true,
			Cooldown:  15,
		},
		{
			ID:        "database-errors",
			Name:      "Database Errors",
			Condition: "database.errorRate",
			Threshold: 0.02,
			Operator:  models.OperatorGreaterThan,
			Severity:  models.SeverityHigh,
			Enabled:   true,
			Cooldown:  5,
		},
	}
}

// applyPatch mezcla los campos presentes del patch sobre la regla
func applyPatch(rule *models.AlertRule, patch models.AlertRulePatch) {
	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Condition != nil {
		rule.Condition = *patch.Condition
	}
	if patch.Threshold != nil {
		rule.Threshold = *patch.Threshold
	}
	if patch.Operator != nil {
		rule.Operator = *patch.Operator
	}
	if patch.Severity != nil {
		rule.Severity = *patch.Severity
	}
	if patch.Enabled != nil {
		rule.Enabled = *patch.Enabled
	}
	if patch.Cooldown != nil {
		rule.Cooldown = *patch.Cooldown
	}
}

// LoadAlertRulesFile lee y valida un archivo YAML de overrides
func LoadAlertRulesFile(path string) (*models.AlertRulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alert rules file: %w", err)
	}

	var file models.AlertRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse alert rules file: %w", err)
	}

	if err := NewValidator().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid alert rules file: %w", err)
	}

	return &file, nil
}

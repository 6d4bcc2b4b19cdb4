package models

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Operator string

const (
	OperatorGreaterThan Operator = "gt"
	OperatorLessThan    Operator = "lt"
	OperatorEqual       Operator = "eq"
)

// AlertRule regla evaluada contra cada snapshot
type AlertRule struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Condition     string     `json:"condition" yaml:"condition"`
	Threshold     float64    `json:"threshold" yaml:"threshold"`
	Operator      Operator   `json:"operator" yaml:"operator"`
	Severity      Severity   `json:"severity" yaml:"severity"`
	Enabled       bool       `json:"enabled" yaml:"enabled"`
	Cooldown      int        `json:"cooldown" yaml:"cooldown"` // minutos
	LastTriggered *time.Time `json:"lastTriggered,omitempty" yaml:"-"`
}

// Alert evento emitido cuando una regla se dispara
type Alert struct {
	ID          string    `json:"id"`
	Rule        AlertRule `json:"rule"`
	Value       float64   `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
	TriggeredAt time.Time `json:"triggeredAt"`
}

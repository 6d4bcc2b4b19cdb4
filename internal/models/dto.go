package models

// ===== REQUEST DTOs =====

// AlertRulePatch DTO para actualizar parcialmente una regla
type AlertRulePatch struct {
	Name      *string   `json:"name" yaml:"name" validate:"omitempty,min=1"`
	Condition *string   `json:"condition" yaml:"condition" validate:"omitempty,alert_condition"`
	Threshold *float64  `json:"threshold" yaml:"threshold"`
	Operator  *Operator `json:"operator" yaml:"operator" validate:"omitempty,oneof=gt lt eq"`
	Severity  *Severity `json:"severity" yaml:"severity" validate:"omitempty,oneof=low medium high critical"`
	Enabled   *bool     `json:"enabled" yaml:"enabled"`
	Cooldown  *int      `json:"cooldown" yaml:"cooldown" validate:"omitempty,gte=0"`
}

// AlertRuleOverride entrada del archivo YAML de reglas
type AlertRuleOverride struct {
	ID             string `yaml:"id" validate:"required"`
	AlertRulePatch `yaml:",inline"`
}

// AlertRulesFile contenido del archivo de reglas
type AlertRulesFile struct {
	Rules []AlertRuleOverride `yaml:"rules" validate:"dive"`
}

// ===== RESPONSE DTOs =====

// HistoryResponse respuesta de métricas históricas
type HistoryResponse struct {
	Minutes   int             `json:"minutes"`
	Count     int             `json:"count"`
	Snapshots []SystemMetrics `json:"snapshots"`
}

// TableQueriesResponse queries de una tabla
type TableQueriesResponse struct {
	Table   string          `json:"table"`
	Hours   int             `json:"hours"`
	Count   int             `json:"count"`
	Queries []QueryAnalysis `json:"queries"`
}

// CleanupResponse resultado de la limpieza del analyzer
type CleanupResponse struct {
	Removed   int    `json:"removed"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse error genérico de la API
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

package models

import "time"

type Operation string

const (
	OperationSelect  Operation = "SELECT"
	OperationInsert  Operation = "INSERT"
	OperationUpdate  Operation = "UPDATE"
	OperationDelete  Operation = "DELETE"
	OperationUnknown Operation = "UNKNOWN"
)

// QueryMetadata datos opcionales entregados por el wrapper de acceso a datos
type QueryMetadata struct {
	Table  string
	Rows   *int64
	Cached bool
}

// QueryAnalysis diagnóstico de una query ejecutada. No se modifica luego de creado.
type QueryAnalysis struct {
	Query         string    `json:"query"`
	Table         string    `json:"table"`
	Operation     Operation `json:"operation"`
	ExecutionTime float64   `json:"executionTime"`
	Timestamp     time.Time `json:"timestamp"`
	RowsExamined  *int64    `json:"rowsExamined,omitempty"`
	Suggestions   []string  `json:"suggestions"`
	Severity      Severity  `json:"severity"`
}

// QueryPattern forma normalizada de un grupo de queries
type QueryPattern struct {
	Pattern  string   `json:"pattern"`
	Count    int      `json:"count"`
	AvgTime  float64  `json:"avgTime"`
	MaxTime  float64  `json:"maxTime"`
	MinTime  float64  `json:"minTime"`
	Examples []string `json:"examples"`
}

// DatabaseAnalysis resumen de las queries recientes
type DatabaseAnalysis struct {
	TotalQueries     int             `json:"totalQueries"`
	SlowQueries      int             `json:"slowQueries"`
	AvgExecutionTime float64         `json:"avgExecutionTime"`
	QueryPatterns    []QueryPattern  `json:"queryPatterns"`
	SlowestQueries   []QueryAnalysis `json:"slowestQueries"`
	Recommendations  []string        `json:"recommendations"`
}

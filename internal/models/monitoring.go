package models

import "time"

// SystemMetrics snapshot puntual generado por el collector
type SystemMetrics struct {
	Timestamp time.Time       `json:"timestamp"`
	CPU       CPUMetrics      `json:"cpu"`
	Memory    MemoryMetrics   `json:"memory"`
	Network   NetworkMetrics  `json:"network"`
	Database  DatabaseMetrics `json:"database"`
	API       APIMetrics      `json:"api"`
	Errors    ErrorMetrics    `json:"errors"`
}

// CPUMetrics uso de CPU del host
type CPUMetrics struct {
	Usage       float64    `json:"usage"`
	LoadAverage [3]float64 `json:"loadAverage"`
}

// MemoryMetrics memoria del proceso (bytes)
type MemoryMetrics struct {
	Used       uint64  `json:"used"`
	Total      uint64  `json:"total"`
	Percentage float64 `json:"percentage"`
	HeapUsed   uint64  `json:"heapUsed"`
	HeapTotal  uint64  `json:"heapTotal"`
}

// NetworkMetrics tráfico HTTP acumulado en la ventana reciente
type NetworkMetrics struct {
	RequestCount    int     `json:"requestCount"`
	ErrorCount      int     `json:"errorCount"`
	ErrorRate       float64 `json:"errorRate"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// DatabaseMetrics estado de la base de datos
type DatabaseMetrics struct {
	Connections   int     `json:"connections"`
	ActiveQueries int     `json:"activeQueries"`
	SlowQueries   int     `json:"slowQueries"`
	ErrorRate     float64 `json:"errorRate"`
	AvgQueryTime  float64 `json:"avgQueryTime"`
}

// APIMetrics métricas por endpoint
type APIMetrics struct {
	RequestsPerMinute int            `json:"requestsPerMinute"`
	ErrorRate         float64        `json:"errorRate"`
	SlowEndpoints     []SlowEndpoint `json:"slowEndpoints"`
}

// SlowEndpoint endpoint cuyo tiempo promedio supera el umbral
type SlowEndpoint struct {
	Endpoint string  `json:"endpoint"`
	AvgTime  float64 `json:"avgTime"`
	Count    int     `json:"count"`
}

// ErrorMetrics errores de aplicación registrados
type ErrorMetrics struct {
	Total   int            `json:"total"`
	ByLevel map[string]int `json:"byLevel"`
	Recent  []RecentError  `json:"recent"`
}

// RecentError error deduplicado por (level, message)
type RecentError struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// DatabaseStats cifras entregadas por el monitor de acceso a datos
type DatabaseStats struct {
	Connections   int
	ActiveQueries int
	TotalQueries  int64
	Errors        int64
	AvgQueryTime  float64
}

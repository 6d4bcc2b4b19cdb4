package telemetry

import (
	"net/http"

	"edu-monitoring/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edu_monitoring"

// EventSource emite snapshots y alertas
type EventSource interface {
	SubscribeMetrics(fn func(models.SystemMetrics)) func()
	SubscribeAlerts(fn func(models.Alert)) func()
}

// Exporter refleja cada snapshot en gauges de Prometheus y cuenta las alertas por regla
type Exporter struct {
	registry *prometheus.Registry

	system          *prometheus.GaugeVec
	slowEndpoints   *prometheus.GaugeVec
	errorsByLevel   *prometheus.GaugeVec
	alertsTriggered *prometheus.CounterVec
	lastSnapshot    prometheus.Gauge
}

func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Exporter{
		registry: registry,
		system: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_metric",
				Help:      "Latest value of each snapshot field",
			},
			[]string{"metric"},
		),
		slowEndpoints: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "slow_endpoint_avg_ms",
				Help:      "Average response time of endpoints above the slow threshold",
			},
			[]string{"endpoint"},
		),
		errorsByLevel: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "errors_by_level",
				Help:      "Application errors recorded in the current window",
			},
			[]string{"level"},
		),
		alertsTriggered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_triggered_total",
				Help:      "Alerts fired per rule",
			},
			[]string{"rule", "severity"},
		),
		lastSnapshot: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_snapshot_timestamp_seconds",
			Help:      "Unix time of the latest snapshot",
		}),
	}
}

// Attach suscribe el exporter a la fuente
func (e *Exporter) Attach(source EventSource) func() {
	unsubMetrics := source.SubscribeMetrics(e.Observe)
	unsubAlerts := source.SubscribeAlerts(e.ObserveAlert)
	return func() {
		unsubMetrics()
		unsubAlerts()
	}
}

func (e *Exporter) Observe(m models.SystemMetrics) {
	values := map[string]float64{
		"cpu_usage":            m.CPU.Usage,
		"load_average_1m":      m.CPU.LoadAverage[0],
		"memory_used_bytes":    float64(m.Memory.Used),
		"memory_percentage":    m.Memory.Percentage,
		"heap_used_bytes":      float64(m.Memory.HeapUsed),
		"request_count":        float64(m.Network.RequestCount),
		"request_error_rate":   m.Network.ErrorRate,
		"avg_response_time_ms": m.Network.AvgResponseTime,
		"requests_per_minute":  float64(m.API.RequestsPerMinute),
		"api_error_rate":       m.API.ErrorRate,
		"db_connections":       float64(m.Database.Connections),
		"db_active_queries":    float64(m.Database.ActiveQueries),
		"db_slow_queries":      float64(m.Database.SlowQueries),
		"db_error_rate":        m.Database.ErrorRate,
		"db_avg_query_time_ms": m.Database.AvgQueryTime,
		"errors_total":         float64(m.Errors.Total),
		"slow_endpoints":       float64(len(m.API.SlowEndpoints)),
	}
	for name, v := range values {
		e.system.WithLabelValues(name).Set(v)
	}

	e.slowEndpoints.Reset()
	for _, s := range m.API.SlowEndpoints {
		e.slowEndpoints.WithLabelValues(s.Endpoint).Set(s.AvgTime)
	}

	e.errorsByLevel.Reset()
	for level, count := range m.Errors.ByLevel {
		e.errorsByLevel.WithLabelValues(level).Set(float64(count))
	}

	e.lastSnapshot.Set(float64(m.Timestamp.Unix()))
}

func (e *Exporter) ObserveAlert(a models.Alert) {
	e.alertsTriggered.WithLabelValues(a.Rule.ID, string(a.Rule.Severity)).Inc()
}

// Handler expone el registry en formato de texto de Prometheus
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

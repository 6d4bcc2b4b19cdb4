package middleware

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"edu-monitoring/internal/config"

	"go.uber.org/zap"
)

// ServerInfo imprime el banner del servidor al iniciar
func ServerInfo(port string, monitoring config.MonitoringConfig, redisEnabled bool, logger *zap.Logger) {
	hostname, _ := os.Hostname()
	goVersion := runtime.Version()
	numCPU := runtime.NumCPU()
	startTime := time.Now().Format("2006-01-02 15:04:05")
	baseURL := "http://localhost:" + port

	redisMode := "disabled (L1 only)"
	if redisEnabled {
		redisMode = "snapshots + alerts + pub/sub"
	}

	fmt.Println("")
	fmt.Println("🚀 " + boldColor + "Edu Platform Monitoring" + resetColor)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("📅 Started at: " + startTime)
	fmt.Println("🌐 Server URL: " + cyanColor + baseURL + resetColor)
	fmt.Println("💻 Hostname: " + hostname)
	fmt.Println("🔧 Go Version: " + goVersion)
	fmt.Printf("⚡ CPU Cores: %d\n", numCPU)
	fmt.Println("")
	fmt.Println("📊 " + boldColor + "Monitoring Endpoints:" + resetColor)
	fmt.Println("   GET   " + greenColor + "/api/v1/monitoring/metrics/current" + resetColor)
	fmt.Println("   GET   " + greenColor + "/api/v1/monitoring/metrics/history" + resetColor)
	fmt.Println("   GET   " + greenColor + "/api/v1/monitoring/alerts/rules" + resetColor)
	fmt.Println("   PATCH " + magentaColor + "/api/v1/monitoring/alerts/rules/:id" + resetColor)
	fmt.Println("   GET   " + greenColor + "/api/v1/monitoring/alerts/recent" + resetColor)
	fmt.Println("   GET   " + greenColor + "/api/v1/monitoring/database" + resetColor)
	fmt.Println("   GET   " + greenColor + "/api/v1/monitoring/database/tables/:table" + resetColor)
	fmt.Println("   POST  " + blueColor + "/api/v1/monitoring/database/cleanup" + resetColor)
	fmt.Println("   GET   " + greenColor + "/api/v1/monitoring/ws" + resetColor + "  (WebSocket)")
	fmt.Println("")
	fmt.Println("🔍 " + boldColor + "Operations:" + resetColor)
	fmt.Println("   📈 Health Check: " + cyanColor + baseURL + "/health" + resetColor)
	fmt.Println("   📉 Prometheus:   " + cyanColor + baseURL + "/metrics" + resetColor)
	fmt.Println("")
	fmt.Println("⚙️  " + boldColor + "Pipeline:" + resetColor)
	fmt.Println("   ⏱️  Collect: " + monitoring.CollectInterval.String() +
		" | Alerts: " + monitoring.AlertInterval.String() +
		" | Cleanup: " + monitoring.CleanupInterval.String())
	fmt.Println("   🗃️  Redis: " + redisMode)
	fmt.Println("   📝 Logging: Structured (Zap)")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("✨ " + boldColor + "Server is ready to handle requests!" + resetColor)
	fmt.Println("")

	logger.Info("Server started successfully",
		zap.String("port", port),
		zap.String("hostname", hostname),
		zap.String("go_version", goVersion),
		zap.Int("cpu_cores", numCPU),
		zap.String("start_time", startTime),
		zap.Bool("redis_enabled", redisEnabled),
	)
}

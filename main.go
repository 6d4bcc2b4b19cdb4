package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edu-monitoring/internal/cache"
	"edu-monitoring/internal/config"
	"edu-monitoring/internal/database"
	"edu-monitoring/internal/handlers"
	"edu-monitoring/internal/middleware"
	"edu-monitoring/internal/routes"
	"edu-monitoring/internal/services"
	"edu-monitoring/internal/telemetry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging.Level, cfg.Server.GinMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Application failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	postgresDB, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer postgresDB.Close()

	// Redis es opcional: sin él los snapshots quedan solo en memoria
	var redisDB *database.RedisDB
	if cfg.Monitoring.PublishToRedis {
		redisDB, err = database.NewRedisDB(cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis unavailable, publishing disabled", zap.Error(err))
			redisDB = nil
		} else {
			defer redisDB.Close()
		}
	}

	// el analyzer se crea antes que el collector; las queries lentas llegan vía closure
	var collector *services.MetricsCollector
	analyzer, err := services.NewDatabaseAnalyzer(logger, services.SystemClock,
		services.SlowQueryRecorderFunc(func(query string, timeMs float64) {
			collector.RecordDatabaseQuery(query, timeMs)
		}))
	if err != nil {
		return fmt.Errorf("failed to create database analyzer: %w", err)
	}
	defer analyzer.Close()

	instrumentedDB := database.NewInstrumentedDB(postgresDB.DB, analyzer, logger)

	collector, err = services.NewMetricsCollector(logger, cfg.Monitoring, services.SystemClock,
		services.NewHostSampler(), instrumentedDB)
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}

	if cfg.Monitoring.AlertRulesFile != "" {
		if err := applyAlertRules(collector, cfg.Monitoring.AlertRulesFile, logger); err != nil {
			return err
		}
	}

	var redisClient cache.RedisClient
	var redisPinger middleware.RedisPinger
	if redisDB != nil {
		redisClient = redisDB.Client
		redisPinger = redisDB
	}
	snapshotCache := cache.NewSnapshotCache(redisClient, cfg.Monitoring.SnapshotTTL, logger)
	defer snapshotCache.Attach(collector)()

	exporter := telemetry.NewExporter()
	defer exporter.Attach(collector)()

	collector.Start(ctx)
	defer collector.Stop()

	go runAnalyzerCleanup(ctx, analyzer, cfg.Monitoring.AnalyzerCleanupInterval, logger)

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()

	monitoringHandler := handlers.NewMonitoringHandler(collector, analyzer, snapshotCache,
		cfg.Monitoring.StreamInterval, logger)
	healthChecker := middleware.NewHealthChecker(postgresDB, redisPinger, collector, snapshotCache,
		3*cfg.Monitoring.CollectInterval, logger)

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(monitoringHandler.RecordRequestMiddleware())

	routes.SetupRoutes(router, monitoringHandler, healthChecker, exporter.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	middleware.ServerInfo(cfg.Server.Port, cfg.Monitoring, redisDB != nil, logger)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	}

	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

func applyAlertRules(collector *services.MetricsCollector, path string, logger *zap.Logger) error {
	file, err := services.LoadAlertRulesFile(path)
	if err != nil {
		return err
	}

	for _, override := range file.Rules {
		if !collector.UpdateAlertRule(override.ID, override.AlertRulePatch) {
			logger.Warn("Alert rule override references unknown rule", zap.String("rule", override.ID))
			continue
		}
		logger.Info("Alert rule override applied", zap.String("rule", override.ID))
	}
	return nil
}

func runAnalyzerCleanup(ctx context.Context, analyzer *services.DatabaseAnalyzer, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := analyzer.Cleanup(); removed > 0 {
				logger.Info("Old query analyses removed", zap.Int("removed", removed))
			}
		}
	}
}

// newLogger JSON en producción, consola con colores cuando GIN_MODE=debug
func newLogger(level, ginMode string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if ginMode == gin.DebugMode {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)

	return zapCfg.Build()
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qualitystack/quality-core/internal/api"
	"github.com/qualitystack/quality-core/internal/cache"
	"github.com/qualitystack/quality-core/internal/classify"
	"github.com/qualitystack/quality-core/internal/config"
	"github.com/qualitystack/quality-core/internal/generator"
	"github.com/qualitystack/quality-core/internal/metrics"
	"github.com/qualitystack/quality-core/internal/period"
	"github.com/qualitystack/quality-core/internal/repo"
	"github.com/qualitystack/quality-core/internal/scheduler"
	"github.com/qualitystack/quality-core/internal/services"
	"github.com/qualitystack/quality-core/internal/tracking"
	"github.com/qualitystack/quality-core/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting quality-core", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	anchor, err := cfg.Period.Weekday()
	if err != nil {
		logger.Error("invalid period configuration", slog.Any("error", err))
		os.Exit(1)
	}
	calendar := period.NewCalendar(anchor)

	db, err := repo.NewPostgresConnection(repo.PostgresConfig{
		DSN:             cfg.Warehouse.DSN(),
		MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
		MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
		ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to warehouse", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	var hotCache cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		})
		if err != nil {
			logger.Warn("hot cache unavailable, continuing without it", slog.Any("error", err))
		} else {
			hotCache = provider
			defer provider.Close()
		}
	}

	warehouse := repo.NewWarehouse(db, logger)
	reportStore := repo.NewReportCacheStore(db)
	trackingRepo := repo.NewTrackingRepo(db)

	classifier := classify.NewClassifier(cfg.Thresholds.Default, cfg.Thresholds.Units, logger)
	machine := tracking.NewMachine(cfg.Tracking.EscalateAfterWeeks, cfg.Tracking.ResolveAfterWeeks)

	batchGen := generator.NewBatchGenerator(logger, warehouse, reportStore, calendar, cfg.Items, nil)
	fallbackGen := generator.NewFallbackGenerator(logger, warehouse, calendar, cfg.Items, nil)

	reportService := services.NewReportService(logger, reportStore, fallbackGen, hotCache, calendar, classifier, services.ReportPolicy{
		ReportTTL:        cfg.Cache.ReportTTL,
		FallbackTTL:      cfg.Cache.FallbackTTL,
		BackfillFallback: cfg.Cache.BackfillFallback,
	})
	trackingService := services.NewTrackingService(logger, trackingRepo, reportStore, machine, classifier, cfg.Tracking.AgentUnits, nil)

	handler := api.NewHandler(logger, reportService, trackingService, batchGen, calendar)
	server := api.NewServer(cfg.Server, handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var batchScheduler *scheduler.Scheduler
	if cfg.Batch.Enabled {
		batchScheduler = scheduler.New(logger, batchGen, trackingService, calendar, cfg.Batch.Schedule, nil)
		if err := batchScheduler.Start(ctx); err != nil {
			logger.Error("invalid batch schedule", slog.String("schedule", cfg.Batch.Schedule), slog.Any("error", err))
			os.Exit(1)
		}
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if batchScheduler != nil {
		batchScheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("quality-core stopped")
}

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

	"github.com/wattlens/wattlens/internal/anomaly"
	"github.com/wattlens/wattlens/internal/api"
	"github.com/wattlens/wattlens/internal/cache"
	"github.com/wattlens/wattlens/internal/config"
	"github.com/wattlens/wattlens/internal/engine"
	"github.com/wattlens/wattlens/internal/forecast"
	"github.com/wattlens/wattlens/internal/ingest"
	"github.com/wattlens/wattlens/internal/metrics"
	"github.com/wattlens/wattlens/internal/services"
	"github.com/wattlens/wattlens/internal/utils"
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
	logger.Info("starting wattlens",
		slog.String("http", cfg.Server.HTTPAddress),
		slog.String("grpc", cfg.Server.GRPCAddress),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	loc, err := cfg.Data.Location()
	if err != nil {
		logger.Error("invalid timezone", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		cacheProvider = cache.NewMemoryProvider(cfg.Cache.MaxEntries)
	}
	defer cacheProvider.Close()

	normalizer, err := ingest.NewNormalizer(ingest.Settings{
		Encodings:      cfg.Data.Encodings,
		TimeVocabulary: cfg.Data.TimeVocabulary,
		Canonical:      cfg.Data.CanonicalTimestamp,
		Location:       loc,
		StagingDir:     cfg.Data.StagingDir,
		CacheTTL:       cfg.Cache.TTL,
		HTTPClient:     &http.Client{Timeout: cfg.Data.FetchTimeout},
		MaxBytes:       cfg.Server.MaxUploadBytes,
	}, cacheProvider, logger)
	if err != nil {
		logger.Error("failed to build normalizer", slog.Any("error", err))
		os.Exit(1)
	}

	forecastCfg := forecast.Config{
		MaxHorizon:   cfg.Forecast.MaxHorizon,
		NumSamples:   cfg.Forecast.NumSamples,
		RatePerKWh:   cfg.Forecast.RatePerKWh,
		CarbonPerKWh: cfg.Forecast.CarbonPerKWh,
	}
	var forecaster engine.Forecaster
	switch {
	case cfg.Forecast.EndpointName != "":
		client, err := forecast.NewSageMakerClient(context.Background(), forecast.SageMakerConfig{
			Region:       cfg.Forecast.Region,
			EndpointName: cfg.Forecast.EndpointName,
			Profile:      cfg.Forecast.Profile,
			Timeout:      cfg.Forecast.Timeout,
		}, forecast.WithLogger(logger))
		if err != nil {
			logger.Error("failed to initialise SageMaker client", slog.Any("error", err))
			os.Exit(1)
		}
		forecaster = client
		logger.Info("forecasting via SageMaker",
			slog.String("endpoint", cfg.Forecast.EndpointName),
			slog.String("region", cfg.Forecast.Region),
		)
	case cfg.Forecast.Endpoint != "":
		client, err := forecast.NewClient(cfg.Forecast.Endpoint, cfg.Forecast.Timeout, forecast.WithLogger(logger))
		if err != nil {
			logger.Error("invalid forecast endpoint", slog.Any("error", err))
			os.Exit(1)
		}
		forecaster = client
	default:
		logger.Warn("forecast endpoint not configured; forecast pages disabled")
	}

	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	pipeline := engine.NewPipeline(
		logger,
		engine.Settings{
			DataDir:        cfg.Data.Dir,
			Modules:        cfg.Data.Modules,
			Location:       loc,
			CompareMaxRows: cfg.Anomaly.CompareMaxRows,
			Forecast:       forecastCfg,
			TargetColumn:   cfg.Forecast.TargetColumn,
			TimeColumn:     cfg.Forecast.TimeColumn,
			EpochMillis:    cfg.Forecast.EpochMillis,
			BatchSize:      cfg.Forecast.BatchSize,
		},
		normalizer,
		anomaly.NewSynthetic(cfg.Anomaly.SyntheticSeed, loc),
		forecaster,
		ruleEngine,
	)
	dashboard := services.NewDashboardService(logger, pipeline, cfg.Anomaly.DefaultThreshold)

	grpcServer, err := api.NewServer(cfg.Server, api.NewAnalysisService(logger))
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           api.NewHTTPHandler(dashboard, loc, cfg.Server.MaxUploadBytes, logger).Handler(os.Stdout),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

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
		if serveErr := grpcServer.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grpcServer.GracefulTimeout())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	grpcServer.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("wattlens stopped",
		slog.Duration("render_p95", dashboard.LatencyP95()),
		slog.Int("cached_tables", cachedTables(cacheProvider)),
	)
}

func cachedTables(p cache.Provider) int {
	if mem, ok := p.(*cache.MemoryProvider); ok {
		return mem.Len()
	}
	return 0
}

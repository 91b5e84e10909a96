package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrickwarner/openvast/internal/analytics"
	"github.com/patrickwarner/openvast/internal/api"
	"github.com/patrickwarner/openvast/internal/config"
	"github.com/patrickwarner/openvast/internal/db"
	"github.com/patrickwarner/openvast/internal/errreport"
	"github.com/patrickwarner/openvast/internal/macros"
	"github.com/patrickwarner/openvast/internal/middleware"
	"github.com/patrickwarner/openvast/internal/observability"
	"github.com/patrickwarner/openvast/internal/tracking"
	"github.com/patrickwarner/openvast/internal/vast"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	metricsRegistry := observability.NewPrometheusRegistry()
	observability.StartSamplingStatsLogger(ctx, logger, cfg.SamplingStatsInterval)

	expander := macros.NewExpander(logger)
	expander.SetStrictMode(cfg.MacroStrictMode)
	if err := expander.RegisterStaticMacros(cfg.CustomMacros); err != nil {
		return fmt.Errorf("custom macros: %w", err)
	}
	logger.Info("macros configured",
		zap.Strings("registered", expander.GetRegisteredMacros()),
		zap.Bool("strict", cfg.MacroStrictMode))

	var reader vast.DocumentReader = vast.NewHTTPReader(cfg.FetchTimeout, cfg.MaxDocumentBytes, cfg.TrackingUserAgent, logger, metricsRegistry)

	var store *db.RedisStore
	if cfg.DocumentCacheEnabled {
		var err error
		store, err = db.InitRedis(cfg.RedisAddr, cfg.DocumentCacheTTL)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer store.Close()
		reader = vast.NewCachingReader(reader, store, cfg.FetchTimeout, logger)
		logger.Info("document cache enabled",
			zap.String("addr", cfg.RedisAddr),
			zap.Duration("ttl", cfg.DocumentCacheTTL))
	}

	var (
		beaconLog *analytics.BeaconLog
		recorder  tracking.BeaconRecorder
	)
	if cfg.BeaconLogEnabled {
		var err error
		beaconLog, err = analytics.InitClickHouse(cfg.ClickHouseDSN, analytics.PoolConfig{
			MaxOpenConns:    cfg.CHMaxOpenConns,
			MaxIdleConns:    cfg.CHMaxIdleConns,
			ConnMaxLifetime: cfg.CHConnMaxLifetime,
			ConnMaxIdleTime: cfg.CHConnMaxIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer func() { _ = beaconLog.Close() }()
		recorder = beaconLog
	}

	dispatcher := tracking.NewDispatcher(tracking.DispatcherConfig{
		Timeout:     cfg.TrackingTimeout,
		MaxInFlight: cfg.TrackingMaxInFlight,
		UserAgent:   cfg.TrackingUserAgent,
	}, logger, metricsRegistry, recorder)

	reporter := errreport.NewReporter(cfg.ErrorReportURL, cfg.FetchTimeout, logger, metricsRegistry)

	srvDeps := api.NewServer(
		logger,
		vast.NewParser(reader, cfg.MaxWrapperDepth, logger, metricsRegistry),
		dispatcher,
		expander,
		reporter,
		store,
		beaconLog,
		metricsRegistry,
		cfg,
	)
	srvDeps.StartSessionReaper(ctx, 0)

	r := srvDeps.Router()
	r.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(middleware.WithTraceLogger(logger)(r), "vastd"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("VAST service running",
		zap.String("addr", addr),
		zap.Int("max_wrapper_depth", cfg.MaxWrapperDepth),
		zap.Bool("beacon_log", cfg.BeaconLogEnabled))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// open sessions are abandoned and their pending beacons canceled
	srvDeps.AbandonAll()
	dispatcher.Close()
	reporter.Wait()
	return nil
}

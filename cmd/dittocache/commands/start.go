package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittocache/internal/logger"
	"github.com/marmos91/dittocache/internal/telemetry"
	"github.com/marmos91/dittocache/pkg/api"
	"github.com/marmos91/dittocache/pkg/config"
	"github.com/marmos91/dittocache/pkg/manager"
	"github.com/marmos91/dittocache/pkg/metrics"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/dittocache/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cache server",
	Long: `Start dittocache with the specified configuration.

The configured regions are created at startup. The admin API, when enabled,
serves health checks, Prometheus metrics and region maintenance endpoints.
Changes to the logging level in the configuration file are applied without
a restart.

Examples:
  # Start with the default config location
  dittocache start

  # Start with a custom config file
  dittocache start --config /etc/dittocache/config.yaml

  # Override configuration from the environment
  DITTOCACHE_LOGGING_LEVEL=DEBUG dittocache start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dittocache",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dittocache",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Configuration loaded",
		"source", getConfigSource(GetConfigFile()),
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format)

	// Metrics must be initialized before the manager builds regions.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled")
	} else {
		logger.Info("Metrics collection disabled")
	}

	mgr := manager.New(cfg)
	if err := mgr.Init(ctx); err != nil {
		return err
	}
	for _, name := range mgr.Names() {
		r, _ := mgr.Get(name)
		rc := r.Config()
		logger.Info("Region configured",
			logger.KeyRegion, name,
			logger.KeyCapacity, rc.MaxObjects,
			"disk_usage", rc.DiskUsage,
			"disk", cfg.Region(name).DiskEnabled())
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, mgr)
		g.Go(func() error { return apiServer.Start(gctx) })
	} else {
		logger.Info("API server disabled")
	}

	if path := configPath(GetConfigFile()); path != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, path, config.ApplyLogLevel); err != nil {
				logger.Warn("Configuration watcher stopped", logger.KeyPath, path, logger.Err(err))
			}
			return nil
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case <-gctx.Done():
		logger.Warn("Server component stopped, shutting down")
	}
	cancel()
	serveErr := g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("Cache shutdown error", logger.Err(err))
		return err
	}

	if serveErr != nil {
		logger.Error("Server error", logger.Err(serveErr))
		return serveErr
	}
	logger.Info("Server stopped gracefully")
	return nil
}

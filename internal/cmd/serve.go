package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/floodgate/floodgate/internal/config"
	"github.com/floodgate/floodgate/internal/core/engine"
	errwrap "github.com/floodgate/floodgate/internal/errors"
	"github.com/floodgate/floodgate/internal/metrics"
	"github.com/floodgate/floodgate/internal/observability"
	"github.com/floodgate/floodgate/internal/server"
	"github.com/floodgate/floodgate/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
	serveNoGC  bool
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with the flood API, redirect API and front-controller
redirects, plus scheduled flood garbage collection.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate configuration (restart to apply changes)`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	identity := GetAppIdentity()
	namespace := identity.TelemetryNamespace()

	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid")
	}
	applyServeFlags(cmd, cfg)

	observability.InitServerLogger(identity.BinaryName, cfg.Logging, namespace)
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
		}
	}
	metrics.SetServerStartTime(time.Now().Unix())

	svc, err := openServices(cmd.Context())
	if err != nil {
		return errwrap.WrapDatabaseError(cmd.Context(), err, "open services")
	}
	defer svc.Close() // nolint:errcheck // best-effort cleanup

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("store_driver", svc.db.Driver()),
		zap.String("flood_backend", cfg.Flood.Backend),
		zap.Bool("redirect_middleware", cfg.Redirect.MiddlewareEnabled))

	health := handlers.NewHealthManager(versionInfo.Version)
	health.RegisterChecker("store", svc.db)
	if svc.redis != nil {
		health.RegisterChecker("redis", handlers.CheckerFunc(func(ctx context.Context) error {
			return svc.redis.Ping(ctx).Err()
		}))
	}
	if cfg.Metrics.Enabled {
		health.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	health.RegisterChecker("app_identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})

	handlers.SetAppIdentity(identity)
	srv := server.New(cfg.Server, server.Dependencies{
		Limiter:   svc.limiter,
		Redirects: svc.redirects,
		Health:    health,
		Redirect:  cfg.Redirect,
	})

	gc, err := engine.NewGarbageCollector(svc.flood, cfg.Flood.GCSchedule)
	if err != nil {
		return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid flood gc schedule")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	// Shutdown handlers run LIFO: the HTTP server stops before the logger flushes.
	signals.OnShutdown(func(ctx context.Context) error {
		if err := observability.StopMetrics(); err != nil {
			logger.Warn("Failed to stop metrics exporter", zap.Error(err))
		}
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(sigCtx context.Context) error {
		defer cancel()
		gc.Stop()

		shutdownCtx, done := context.WithTimeout(sigCtx, shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(sigCtx, err, "server shutdown failed")
		}

		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: re-validating configuration")
		reloaded, err := config.Load(ctx, cfgFile)
		if err != nil {
			logger.Error("Configuration reload failed", zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
		logger.Info("Configuration is valid; restart to apply changes",
			zap.String("flood_backend", reloaded.Flood.Backend),
			zap.Int("flood_policies", len(reloaded.Flood.Policies)))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if !serveNoGC {
		g.Go(func() error {
			if err := gc.Start(gctx); err != nil {
				return err
			}
			logger.Info("Flood garbage collection scheduled",
				zap.String("schedule", cfg.Flood.GCSchedule),
				zap.Time("next_run", gc.Next(time.Now())))
			<-gctx.Done()
			return nil
		})
	}

	g.Go(func() error {
		if err := signals.Listen(gctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Signal handler error", zap.Error(err))
			return err
		}
		return nil
	})

	// A failing goroutine cancels gctx; stop the listener too so Wait returns.
	g.Go(func() error {
		<-gctx.Done()
		gc.Stop()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return errwrap.WrapInternal(cmd.Context(), err, "server error")
	}
	return nil
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
	serveCmd.Flags().BoolVar(&serveNoGC, "no-gc", false, "disable scheduled flood garbage collection")
}

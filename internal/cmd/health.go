package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/floodgate/floodgate/internal/errors"
	"github.com/floodgate/floodgate/internal/observability"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify configuration, the store and (when configured) redis are reachable.",
	Run: func(cmd *cobra.Command, args []string) {
		if observability.CLILogger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			logger.Error("❌ FAIL: Version information missing")
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		logger.Info("✅ Version information available")

		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		svc, err := openServices(ctx)
		if err != nil {
			logger.Error("❌ FAIL: Could not open services", zap.Error(err))
			ExitWithCode(logger, ExitCodeFor(err), "Service initialization failed", err)
			return
		}
		defer svc.Close() // nolint:errcheck // best-effort cleanup
		logger.Info("✅ Configuration loaded", zap.String("flood_backend", svc.cfg.Flood.Backend))

		if err := svc.db.CheckHealth(ctx); err != nil {
			logger.Error("❌ FAIL: Store unreachable", zap.Error(err))
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Store unreachable", err)
			return
		}
		logger.Info("✅ Store reachable", zap.String("driver", svc.db.Driver()))

		if svc.redis != nil {
			if err := svc.redis.Ping(ctx).Err(); err != nil {
				logger.Error("❌ FAIL: Redis unreachable", zap.Error(err))
				ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Redis unreachable", err)
				return
			}
			logger.Info("✅ Redis reachable")
		}

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "Timeout for the dependency checks")
}

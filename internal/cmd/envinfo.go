package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/floodgate/floodgate/internal/config"
	"github.com/floodgate/floodgate/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		version := crucible.GetVersion()
		identity := GetAppIdentity()

		logger.Info("=== Environment Information ===")
		logger.Info("")

		logger.Info("Application:")
		logger.Info("  Name:       " + identity.BinaryName)
		logger.Info("  Version:    " + versionInfo.Version)
		logger.Info("  Commit:     " + versionInfo.Commit)
		logger.Info("  Built:      " + versionInfo.BuildDate)
		logger.Info("")

		logger.Info("SSOT:")
		logger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		logger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		logger.Info("")

		logger.Info("Runtime:")
		logger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		logger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		logger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		logger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		logger.Info("")

		cfg, err := currentConfig(cmd.Context())
		if err != nil {
			logger.Warn("Config load failed", zap.Error(err))
			return
		}

		logger.Info("Configuration:")
		logger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		logger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		logger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		logger.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			logger.Info("  DB URL:         (set)")
		} else {
			logger.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		logger.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		logger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		logger.Info("")

		logger.Info("Flood:")
		logger.Info("  Backend:        "+cfg.Flood.Backend, zap.String("flood_backend", cfg.Flood.Backend))
		logger.Info("  GC Schedule:    "+cfg.Flood.GCSchedule, zap.String("gc_schedule", cfg.Flood.GCSchedule))
		logger.Info(fmt.Sprintf("  Margin:         %.2f", cfg.Flood.Margin), zap.Float64("margin", cfg.Flood.Margin))
		for _, policy := range cfg.Flood.Policies {
			logger.Info(fmt.Sprintf("  Policy %s: %d per %s", policy.Event, policy.Threshold, policy.Window))
		}
		if cfg.Flood.Backend == config.BackendRedis {
			logger.Info("  Redis Prefix:   "+cfg.Redis.KeyPrefix, zap.String("redis_key_prefix", cfg.Redis.KeyPrefix))
		}
		logger.Info("")

		logger.Info("Redirect:")
		logger.Info(fmt.Sprintf("  Middleware:     %t", cfg.Redirect.MiddlewareEnabled))
		logger.Info(fmt.Sprintf("  Passthrough:    %t", cfg.Redirect.PassthroughQuerystring))
		logger.Info(fmt.Sprintf("  Default Status: %d", cfg.Redirect.DefaultStatusCode))
		logger.Info("  Ignore:         " + strings.Join(cfg.Redirect.IgnorePrefixes, ", "))
		logger.Info("")

		logger.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}

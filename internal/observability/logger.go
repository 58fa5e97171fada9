package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"

	"github.com/floodgate/floodgate/internal/config"
)

var (
	// CLILogger is used by commands (SIMPLE profile).
	CLILogger *logging.Logger

	// ServerLogger is used by serve, the HTTP stack and background jobs.
	ServerLogger *logging.Logger
)

// InitCLILogger installs the CLI logger. verbose lowers the level to DEBUG.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatal("Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger installs the server logger built from the logging section.
func InitServerLogger(serviceName string, cfg config.LoggingConfig, namespace string) {
	logger, err := NewServerLogger(serviceName, cfg, namespace)
	if err != nil {
		fatal("Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

// NewServerLogger builds a logger without installing it.
func NewServerLogger(serviceName string, cfg config.LoggingConfig, namespace string) (*logging.Logger, error) {
	return logging.New(serverLoggerConfig(serviceName, cfg, namespace))
}

func serverLoggerConfig(serviceName string, cfg config.LoggingConfig, namespace string) *logging.LoggerConfig {
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "production"
	}

	staticFields := make(map[string]any)
	if namespace != "" {
		staticFields["namespace"] = namespace
	}

	lc := &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(cfg.Level),
		Service:      serviceName,
		Environment:  environment,
		StaticFields: staticFields,
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}

	// SIMPLE trades JSON and correlation IDs for readable console lines.
	if strings.EqualFold(strings.TrimSpace(cfg.Profile), "SIMPLE") {
		lc.Profile = logging.ProfileSimple
		lc.Middleware = nil
		lc.Sinks[0].Format = "console"
		lc.EnableStacktrace = false
	}
	return lc
}

// parseLogLevel maps a config level to a gofulmen severity, defaulting to INFO.
func parseLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// fatal reports a logger setup failure on stderr and exits. No logger
// exists yet at this point.
func fatal(msg string, err error) {
	code := foundry.ExitConfigInvalid
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	if info, ok := foundry.GetExitCodeInfo(code); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(code))
}

// Logger returns the server logger when initialized, else the CLI logger.
// It may return nil before either logger is set up.
func Logger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

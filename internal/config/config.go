package config

import (
	"time"
)

// Config represents the complete application configuration.
// Layer 1: built-in defaults (SetDefaults)
// Layer 2: user overrides (~/.config/floodgate/config.yaml or --config)
// Layer 3: .env, environment variables and runtime overrides
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Flood    FloodConfig    `mapstructure:"flood"`
	Redirect RedirectConfig `mapstructure:"redirect"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso or Postgres
type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	Path         string `mapstructure:"path"`
	URL          string `mapstructure:"url"`
	AuthToken    string `mapstructure:"auth_token"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig configures the Redis flood backend.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// FloodConfig selects the flood backend and its policies.
type FloodConfig struct {
	// Backend is one of database, redis, memory.
	Backend    string              `mapstructure:"backend"`
	GCSchedule string              `mapstructure:"gc_schedule"`
	Margin     float64             `mapstructure:"margin"`
	Policies   []FloodPolicyConfig `mapstructure:"policies"`
}

// FloodPolicyConfig overrides the threshold for one event name.
type FloodPolicyConfig struct {
	Event     string        `mapstructure:"event"`
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
}

// RedirectConfig contains redirect resolution settings.
type RedirectConfig struct {
	PassthroughQuerystring bool     `mapstructure:"passthrough_querystring"`
	DefaultStatusCode      int      `mapstructure:"default_status_code"`
	MiddlewareEnabled      bool     `mapstructure:"middleware_enabled"`
	IgnorePrefixes         []string `mapstructure:"ignore_prefixes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`

	// Environment is attached to every server log line
	Environment string `mapstructure:"environment"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

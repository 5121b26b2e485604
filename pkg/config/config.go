// Package config loads, validates, and persists the server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/playforge/arcadia/pkg/api"
	"github.com/playforge/arcadia/pkg/cache"
	"github.com/playforge/arcadia/pkg/conflict"
	"github.com/playforge/arcadia/pkg/hub"
	"github.com/playforge/arcadia/pkg/hub/grpcstream"
	"github.com/playforge/arcadia/pkg/lock"
	"github.com/playforge/arcadia/pkg/metrics"
	"github.com/playforge/arcadia/pkg/router"
	"github.com/playforge/arcadia/pkg/session"
	"github.com/playforge/arcadia/pkg/store/mongo"
	"github.com/playforge/arcadia/pkg/store/redis"
	"github.com/playforge/arcadia/pkg/syncer"
	"github.com/playforge/arcadia/pkg/txn"
)

// Config is the full server configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (ARCADIA_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing and profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Auth configures verification of client and operator tokens.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Redis configures the hot state tier.
	Redis redis.Config `mapstructure:"redis" yaml:"redis"`

	// Mongo configures the persistent document tier.
	Mongo mongo.Config `mapstructure:"mongo" yaml:"mongo"`

	// Cache configures the category-aware cache layer.
	Cache cache.Config `mapstructure:"cache" yaml:"cache"`

	// Lock configures the distributed lock service.
	Lock lock.Config `mapstructure:"lock" yaml:"lock"`

	// Sync configures the cache-to-document sync engine.
	Sync syncer.Config `mapstructure:"sync" yaml:"sync"`

	// Conflict configures concurrent write resolution.
	Conflict conflict.Config `mapstructure:"conflict" yaml:"conflict"`

	// Transaction configures the distributed transaction manager.
	Transaction txn.Config `mapstructure:"transaction" yaml:"transaction"`

	// Session configures the connection session registry.
	Session session.Config `mapstructure:"session" yaml:"session"`

	// Router configures the broadcast message router.
	Router router.Config `mapstructure:"router" yaml:"router"`

	// Hub configures realtime event handling.
	Hub hub.Config `mapstructure:"hub" yaml:"hub"`

	// Stream configures the bidirectional gRPC transport.
	Stream grpcstream.Config `mapstructure:"stream" yaml:"stream"`

	// API configures the operational HTTP API.
	API api.Config `mapstructure:"api" yaml:"api"`

	// Metrics configures the Prometheus scrape endpoint.
	Metrics metrics.Config `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is on. Opt-in.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure uses a non-TLS connection to the collector.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling rate, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is on. Opt-in.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// AuthConfig configures token verification for the realtime surface.
// Tokens are issued by the external login service; this process only
// verifies them.
type AuthConfig struct {
	// Secret is the HMAC signing secret shared with the token issuer.
	Secret string `mapstructure:"secret" yaml:"secret"`

	// Issuer, when set, must match the token iss claim.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// Audience, when set, must appear in the token aud claim.
	Audience string `mapstructure:"audience" yaml:"audience"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to config file (empty string uses the default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  arcadia init\n\n"+
				"Or specify a custom config file:\n"+
				"  arcadia <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  arcadia init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may carry auth secrets.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variables and config file lookup.
func setupViper(v *viper.Viper, configPath string) {
	// Example: ARCADIA_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("ARCADIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts config values to time.Duration. Strings use
// the "30s" / "5m" / "1h" forms; raw numbers are nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, falling back to the
// current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "arcadia")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "arcadia")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (for init).
func GetConfigDir() string {
	return getConfigDir()
}

package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/playforge/arcadia/pkg/api"
	"github.com/playforge/arcadia/pkg/cache"
	"github.com/playforge/arcadia/pkg/conflict"
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

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - A fully empty section takes the package's DefaultConfig wholesale
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyRedisDefaults(&cfg.Redis)
	applyMongoDefaults(&cfg.Mongo)
	applyCacheDefaults(&cfg.Cache)
	applyLockDefaults(&cfg.Lock)
	applySyncDefaults(&cfg.Sync)
	applyConflictDefaults(&cfg.Conflict)
	applyTransactionDefaults(&cfg.Transaction)
	applySessionDefaults(&cfg.Session)
	applyRouterDefaults(&cfg.Router)
	applyStreamDefaults(&cfg.Stream)
	applyAPIDefaults(&cfg.API)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyRedisDefaults sets cache store connection defaults.
func applyRedisDefaults(cfg *redis.Config) {
	def := redis.DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
}

// applyMongoDefaults sets document store connection defaults.
func applyMongoDefaults(cfg *mongo.Config) {
	def := mongo.DefaultConfig()
	if cfg.URI == "" {
		cfg.URI = def.URI
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = def.Collections
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadConcern == "" {
		cfg.ReadConcern = def.ReadConcern
	}
	if cfg.WriteConcern == "" {
		cfg.WriteConcern = def.WriteConcern
	}
}

// applyCacheDefaults sets cache layer defaults.
func applyCacheDefaults(cfg *cache.Config) {
	def := cache.DefaultConfig()
	if reflect.DeepEqual(*cfg, cache.Config{}) {
		*cfg = def
		return
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.MaxCapacity == 0 {
		cfg.MaxCapacity = def.MaxCapacity
	}
	if cfg.EvictionThreshold == 0 {
		cfg.EvictionThreshold = def.EvictionThreshold
	}
	if cfg.EvictionBatchSize == 0 {
		cfg.EvictionBatchSize = def.EvictionBatchSize
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
}

// applyLockDefaults sets distributed lock defaults.
func applyLockDefaults(cfg *lock.Config) {
	def := lock.DefaultConfig()
	if *cfg == (lock.Config{}) {
		*cfg = def
		return
	}
	if cfg.DefaultExpiry == 0 {
		cfg.DefaultExpiry = def.DefaultExpiry
	}
	if cfg.DefaultWait == 0 {
		cfg.DefaultWait = def.DefaultWait
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.AutoRenewalRatio == 0 {
		cfg.AutoRenewalRatio = def.AutoRenewalRatio
	}
	if cfg.RenewCheckInterval == 0 {
		cfg.RenewCheckInterval = def.RenewCheckInterval
	}
}

// applySyncDefaults sets sync engine defaults.
func applySyncDefaults(cfg *syncer.Config) {
	def := syncer.DefaultConfig()
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushBatchSize == 0 {
		cfg.FlushBatchSize = def.FlushBatchSize
	}
	if cfg.MaxPendingWrites == 0 {
		cfg.MaxPendingWrites = def.MaxPendingWrites
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = def.DefaultStrategy
	}
}

// applyConflictDefaults sets conflict detection defaults.
func applyConflictDefaults(cfg *conflict.Config) {
	def := conflict.DefaultConfig()
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = def.DefaultPolicy
	}
	if cfg.VersionKeyPrefix == "" {
		cfg.VersionKeyPrefix = def.VersionKeyPrefix
	}
	if cfg.RecordTTL == 0 {
		cfg.RecordTTL = def.RecordTTL
	}
	if cfg.LockExpiry == 0 {
		cfg.LockExpiry = def.LockExpiry
	}
	if cfg.LockWait == 0 {
		cfg.LockWait = def.LockWait
	}
}

// applyTransactionDefaults sets transaction manager defaults.
func applyTransactionDefaults(cfg *txn.Config) {
	def := txn.DefaultConfig()
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.LockExpiry == 0 {
		cfg.LockExpiry = def.LockExpiry
	}
	if cfg.LockWait == 0 {
		cfg.LockWait = def.LockWait
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = def.SweepInterval
	}
}

// applySessionDefaults sets session registry defaults.
func applySessionDefaults(cfg *session.Config) {
	def := session.DefaultConfig()
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
}

// applyRouterDefaults sets broadcast router defaults.
func applyRouterDefaults(cfg *router.Config) {
	def := router.DefaultConfig()
	if cfg.DefaultMaxHops == 0 {
		cfg.DefaultMaxHops = def.DefaultMaxHops
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	if cfg.MaxConcurrentMessages == 0 {
		cfg.MaxConcurrentMessages = def.MaxConcurrentMessages
	}
	if cfg.MaxReceivers == 0 {
		cfg.MaxReceivers = def.MaxReceivers
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.MaxReceiverAge == 0 {
		cfg.MaxReceiverAge = def.MaxReceiverAge
	}
}

// applyStreamDefaults sets gRPC transport defaults.
func applyStreamDefaults(cfg *grpcstream.Config) {
	def := grpcstream.DefaultConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.KeepaliveTimeout == 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}
}

// applyAPIDefaults sets operational API server defaults.
func applyAPIDefaults(cfg *api.Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *metrics.Config) {
	// Enabled defaults to false (opt-in for metrics)
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9091
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Cache: cache.DefaultConfig(),
		Lock:  lock.DefaultConfig(),
	}
	ApplyDefaults(cfg)
	return cfg
}

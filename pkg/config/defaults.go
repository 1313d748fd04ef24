package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Containers and header patterns have no defaults and must be configured
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyPropagationDefaults(&cfg.Propagation)
	applyObjectStoreDefaults(&cfg.ObjectStore)
	applyCacheDefaults(&cfg.Cache)
	applyGCDefaults(&cfg.GC)
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

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":7071"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyPropagationDefaults(cfg *PropagationConfig) {
	if cfg.MaxConcurrentCopies == 0 {
		cfg.MaxConcurrentCopies = 16
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	// CopiesPerSecond stays 0 (unlimited)
}

func applyObjectStoreDefaults(cfg *ObjectStoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	if cfg.Azblob == nil {
		cfg.Azblob = make(map[string]any)
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
}

func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxLeaseAge == 0 {
		cfg.MaxLeaseAge = time.Hour
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
}

// GetDefaultConfig returns a configuration with all defaults applied and
// example values for the settings that have none. Used by InitConfig.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Propagation: PropagationConfig{
			SourceContainer:      "incoming",
			DestinationContainer: "processed",
			HeaderRegexPattern: []PatternConfig{
				{Name: "license", Pattern: `^LICENSE:`},
				{Name: "author", Pattern: `^AUTHOR:`},
			},
		},
		Cache: CacheConfig{
			Type: "badger",
			Badger: map[string]any{
				"db_path": "/tmp/headerprop-cache",
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

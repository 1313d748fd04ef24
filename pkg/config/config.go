package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the complete headerprop configuration.
//
// This structure captures all configurable aspects of the service:
//   - Logging configuration
//   - HTTP trigger server and metrics settings
//   - Propagation settings (containers, header patterns, concurrency, retries)
//   - Object store selection and configuration (store-specific)
//   - Header cache selection and configuration (store-specific)
//   - Abandoned lease collection
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (HEADERPROP_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own option struct, decoded by the
// factory from the type-specific map (e.g. object_store.s3). Only the section
// matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains HTTP server settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Propagation controls header detection and propagation
	Propagation PropagationConfig `mapstructure:"propagation" yaml:"propagation"`

	// ObjectStore specifies the object store type and type-specific configuration
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`

	// Cache specifies the header cache type and type-specific configuration
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// GC controls the abandoned lease collector
	GC GCConfig `mapstructure:"gc" yaml:"gc"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Listen is the address of the trigger endpoint (e.g. ":7071")
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown,
	// including in-flight batches
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port for the metrics HTTP server (default: 9090)
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// PropagationConfig controls header detection and propagation.
type PropagationConfig struct {
	// SourceContainer is the only container whose notifications are handled
	SourceContainer string `mapstructure:"source_container" yaml:"source_container" validate:"required"`

	// DestinationContainer receives the merged objects
	DestinationContainer string `mapstructure:"destination_container" yaml:"destination_container" validate:"required,nefield=SourceContainer"`

	// HeaderRegexPattern is the ordered pattern set defining a complete header
	HeaderRegexPattern []PatternConfig `mapstructure:"header_regex_pattern" yaml:"header_regex_pattern" validate:"required,min=1,dive"`

	// MaxConcurrentCopies bounds in-flight copies per batch (0 = unbounded)
	MaxConcurrentCopies int `mapstructure:"max_concurrent_copies" yaml:"max_concurrent_copies" validate:"gte=0"`

	// CopiesPerSecond throttles copies process-wide (0 = unlimited)
	CopiesPerSecond uint `mapstructure:"copies_per_second" yaml:"copies_per_second"`

	// CopyBurst is the token bucket size for CopiesPerSecond (0 = same as rate)
	CopyBurst uint `mapstructure:"copy_burst" yaml:"copy_burst"`

	// MaxAttempts is how many times a failed batch is tried
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`

	// RetryBackoff is the delay before the first retry, doubled on each retry
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff" validate:"gte=0"`
}

// PatternConfig is one named header pattern.
type PatternConfig struct {
	Name    string `mapstructure:"name" yaml:"name" validate:"required"`
	Pattern string `mapstructure:"pattern" yaml:"pattern" validate:"required"`
}

// ObjectStoreConfig specifies object store configuration.
type ObjectStoreConfig struct {
	// Type specifies which object store implementation to use
	// Valid values: memory, s3, azblob
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory s3 azblob"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`

	// Azblob contains Azure Blob Storage configuration
	// Only used when Type = "azblob"
	Azblob map[string]any `mapstructure:"azblob" yaml:"azblob,omitempty"`
}

// CacheConfig specifies header cache configuration.
type CacheConfig struct {
	// Type specifies which cache implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// GCConfig controls the abandoned lease collector.
//
// Only stores whose leases are plain records (s3, memory) support it; with
// azblob the storage service expires or breaks leases itself.
type GCConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval between collection passes (default: 1h)
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gte=0"`

	// MaxLeaseAge is the age past which a source lease is considered
	// abandoned (default: 1h)
	MaxLeaseAge time.Duration `mapstructure:"max_lease_age" yaml:"max_lease_age" validate:"gte=0"`

	// BatchSize is how many leases one release call covers (default: 1000).
	// S3 DeleteObjects accepts at most 1000 keys.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"gte=0,lte=1000"`

	// DryRun logs stale leases without releasing them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (HEADERPROP_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	return LoadWithFlags(configPath, nil)
}

// LoadWithFlags is Load with CLI flags bound on top of every other source.
//
// Recognized flags: "log-level" (logging.level), "listen" (server.listen).
// Flags that are absent or unchanged do not override anything.
func LoadWithFlags(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level": "logging.level",
	"listen":    "server.listen",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use HEADERPROP_ prefix and underscores
	// Example: HEADERPROP_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("HEADERPROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about during
	// Unmarshal, so bind every scalar key that may come from the environment.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/headerprop/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys lists the scalar configuration keys settable from the environment.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.listen",
	"server.shutdown_timeout",
	"server.metrics.enabled",
	"server.metrics.port",
	"propagation.source_container",
	"propagation.destination_container",
	"propagation.max_concurrent_copies",
	"propagation.copies_per_second",
	"propagation.copy_burst",
	"propagation.max_attempts",
	"propagation.retry_backoff",
	"object_store.type",
	"object_store.azblob.connection_string",
	"cache.type",
	"cache.badger.db_path",
	"gc.enabled",
	"gc.interval",
	"gc.max_lease_age",
	"gc.batch_size",
	"gc.dry_run",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is acceptable, env and defaults may suffice
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "headerprop")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "headerprop")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}

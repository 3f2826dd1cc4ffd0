package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/volgrid/volgrid/internal/metrics"
	"github.com/volgrid/volgrid/internal/storage/s3"
	"github.com/volgrid/volgrid/pkg/errors"
	"github.com/volgrid/volgrid/pkg/health"
	"github.com/volgrid/volgrid/pkg/utils"
)

// EnvPrefix prefixes every environment variable LoadFromEnv reads.
const EnvPrefix = "VOLGRID_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Storage    StorageConfig    `yaml:"storage"`
	Memory     MemoryConfig     `yaml:"memory"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"`
}

// CacheConfig configures the file cache and its tree cache.
type CacheConfig struct {
	// TreeCacheSize is the memory budget for memoised trees, e.g. "1GB".
	// "0" disables the tree cache.
	TreeCacheSize string `yaml:"tree_cache_size"`
	MaxEntries    int    `yaml:"max_entries"`

	DefaultSimplifyLevel int `yaml:"default_simplify_level"`
	MaxSimplifyLevel     int `yaml:"max_simplify_level"`
}

// StorageConfig configures where grid files can be read from.
type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Retry RetryConfig `yaml:"retry"`
}

// S3Config holds object store settings. Credentials left empty fall back
// to the AWS default chain.
type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// MemoryConfig configures the memory pressure monitor.
type MemoryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	// HighWatermark is the heap size above which caches are trimmed.
	HighWatermark string `yaml:"high_watermark"`
	GCPercentage  int    `yaml:"gc_percentage"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig        `yaml:"metrics"`
	Health  health.TrackerConfig `yaml:"health"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Port         int               `yaml:"port"`
	Path         string            `yaml:"path"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Cache: CacheConfig{
			TreeCacheSize:        "1GB",
			MaxEntries:           4096,
			DefaultSimplifyLevel: 0,
			MaxSimplifyLevel:     8,
		},
		Storage: StorageConfig{
			S3: S3Config{
				Enabled:        false,
				Region:         "us-east-1",
				RequestTimeout: 30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
		},
		Memory: MemoryConfig{
			Enabled:        true,
			SampleInterval: 10 * time.Second,
			HighWatermark:  "4GB",
			GCPercentage:   100,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   false,
				Port:      9464,
				Path:      "/metrics",
				Namespace: "volgrid",
				CustomLabels: map[string]string{
					"service": "volgrid",
				},
			},
			Health: health.DefaultConfig(),
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("path", filename).WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("path", filename).WithCause(err)
	}

	return nil
}

// LoadFromEnv overrides settings from VOLGRID_* environment variables.
// Malformed numeric values are reported rather than ignored.
func (c *Configuration) LoadFromEnv() error {
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }
	var bad []string

	setInt := func(name string, dst *int) {
		if val := env(name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				bad = append(bad, EnvPrefix+name)
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if val := env(name); val != "" {
			*dst = strings.EqualFold(val, "true") || val == "1"
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if val := env(name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				bad = append(bad, EnvPrefix+name)
				return
			}
			*dst = d
		}
	}
	setString := func(name string, dst *string) {
		if val := env(name); val != "" {
			*dst = val
		}
	}

	setString("LOG_LEVEL", &c.Global.LogLevel)
	setString("LOG_FILE", &c.Global.LogFile)
	setString("LOG_FORMAT", &c.Global.LogFormat)

	setString("TREE_CACHE_SIZE", &c.Cache.TreeCacheSize)
	setInt("CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)
	setInt("SIMPLIFY_LEVEL", &c.Cache.DefaultSimplifyLevel)

	setBool("S3_ENABLED", &c.Storage.S3.Enabled)
	setString("S3_REGION", &c.Storage.S3.Region)
	setString("S3_ENDPOINT", &c.Storage.S3.Endpoint)
	setBool("S3_FORCE_PATH_STYLE", &c.Storage.S3.ForcePathStyle)
	setDuration("S3_REQUEST_TIMEOUT", &c.Storage.S3.RequestTimeout)
	setInt("RETRY_MAX_ATTEMPTS", &c.Storage.Retry.MaxAttempts)

	setBool("MEMORY_MONITOR", &c.Memory.Enabled)
	setString("MEMORY_HIGH_WATERMARK", &c.Memory.HighWatermark)
	setDuration("MEMORY_SAMPLE_INTERVAL", &c.Memory.SampleInterval)

	setBool("METRICS_ENABLED", &c.Monitoring.Metrics.Enabled)
	setInt("METRICS_PORT", &c.Monitoring.Metrics.Port)

	if len(bad) > 0 {
		return errors.Newf(errors.ErrCodeConfigLoad, "malformed environment variables: %s",
			strings.Join(bad, ", "))
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrCodeConfigValidation, format, args...).WithComponent("config")
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s", c.Global.LogLevel)
	}
	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if _, err := c.TreeCacheBytes(); err != nil {
		return invalid("invalid tree_cache_size %q: %v", c.Cache.TreeCacheSize, err)
	}
	if c.Cache.MaxEntries < 0 {
		return invalid("max_entries cannot be negative")
	}
	if c.Cache.MaxSimplifyLevel < 0 || c.Cache.MaxSimplifyLevel > 16 {
		return invalid("max_simplify_level must be between 0 and 16")
	}
	if c.Cache.DefaultSimplifyLevel < 0 || c.Cache.DefaultSimplifyLevel > c.Cache.MaxSimplifyLevel {
		return invalid("default_simplify_level must be between 0 and max_simplify_level")
	}

	if c.Storage.S3.Enabled && c.Storage.S3.Region == "" {
		return invalid("storage.s3.region is required when S3 is enabled")
	}
	if c.Storage.Retry.MaxAttempts <= 0 {
		return invalid("retry max_attempts must be greater than 0")
	}

	if c.Memory.Enabled {
		if _, err := c.HighWatermarkBytes(); err != nil {
			return invalid("invalid memory high_watermark %q: %v", c.Memory.HighWatermark, err)
		}
		if c.Memory.SampleInterval <= 0 {
			return invalid("memory sample_interval must be positive")
		}
	}

	if c.Monitoring.Metrics.Enabled && (c.Monitoring.Metrics.Port <= 0 || c.Monitoring.Metrics.Port > 65535) {
		return invalid("invalid metrics port: %d", c.Monitoring.Metrics.Port)
	}

	return nil
}

// TreeCacheBytes parses Cache.TreeCacheSize.
func (c *Configuration) TreeCacheBytes() (int64, error) {
	if c.Cache.TreeCacheSize == "" || c.Cache.TreeCacheSize == "0" {
		return 0, nil
	}
	return utils.ParseBytes(c.Cache.TreeCacheSize)
}

// HighWatermarkBytes parses Memory.HighWatermark.
func (c *Configuration) HighWatermarkBytes() (int64, error) {
	return utils.ParseBytes(c.Memory.HighWatermark)
}

// S3Backend converts the storage section into a backend configuration.
func (c *Configuration) S3Backend() *s3.Config {
	cfg := s3.NewDefaultConfig()
	cfg.Region = c.Storage.S3.Region
	cfg.Endpoint = c.Storage.S3.Endpoint
	cfg.AccessKeyID = c.Storage.S3.AccessKeyID
	cfg.SecretAccessKey = c.Storage.S3.SecretAccessKey
	cfg.ForcePathStyle = c.Storage.S3.ForcePathStyle
	cfg.MaxRetries = c.Storage.Retry.MaxAttempts
	if c.Storage.S3.RequestTimeout > 0 {
		cfg.RequestTimeout = c.Storage.S3.RequestTimeout
	}
	return cfg
}

// MetricsCollector converts the monitoring section into a collector
// configuration.
func (c *Configuration) MetricsCollector() *metrics.Config {
	m := c.Monitoring.Metrics
	return &metrics.Config{
		Enabled:   m.Enabled,
		Port:      m.Port,
		Path:      m.Path,
		Namespace: m.Namespace,
		Labels:    m.CustomLabels,
	}
}

// Logger builds the structured logger described by the global section.
func (c *Configuration) Logger() (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(c.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := utils.DefaultStructuredLoggerConfig()
	cfg.Level = level
	cfg.File = c.Global.LogFile
	cfg.Format = utils.ParseLogFormat(c.Global.LogFormat)
	return utils.NewStructuredLogger(cfg)
}

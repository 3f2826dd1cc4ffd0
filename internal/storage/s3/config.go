package s3

import (
	"time"

	"github.com/volgrid/volgrid/internal/circuit"
)

// Config represents S3 backend configuration
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// MaxRetries bounds attempts per request, both in the SDK and in the
	// backend's own retry loop around ranged reads.
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// SkipHealthCheck disables the HeadBucket probe in NewBackend.
	SkipHealthCheck bool `yaml:"skip_health_check"`

	// Breaker stops requests to a bucket after repeated failures.
	Breaker circuit.Config `yaml:"circuit_breaker"`
}

// NewDefaultConfig returns the configuration used when none is given.
func NewDefaultConfig() *Config {
	return &Config{
		Region:         "us-east-1",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
	}
}

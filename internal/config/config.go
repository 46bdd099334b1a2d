package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kadrio/idphoto/pkg/models"
)

// Config holds all configuration for the idphoto server.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Workers   WorkerConfig
	RateLimit RateLimitConfig
	Circuit   CircuitConfig
	Cleanup   CleanupConfig
	Documents map[string]models.DocumentParams
}

type ServerConfig struct {
	Port int
	Env  string
}

type StorageConfig struct {
	DataDir            string
	MaxUploadBytes     int64
	MaxFilesPerSession int
	FileTTL            time.Duration
}

type WorkerConfig struct {
	Max       int
	QueueSize int
}

type RateLimitConfig struct {
	PerMinute int
	Burst     int
	RedisURL  string
}

type CircuitConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

type CleanupConfig struct {
	Interval   time.Duration
	ErrorRetry time.Duration
	TaskTTL    time.Duration
}

// DefaultDocumentType is used when an upload names no or an unknown type.
const DefaultDocumentType = "id_card"

// Load reads configuration from environment variables and returns a
// validated Config. Returns an error with a descriptive message if any
// value is invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("IDPHOTO_PORT", 8080),
			Env:  envString("IDPHOTO_ENV", "development"),
		},
		Storage: StorageConfig{
			DataDir:            envString("IDPHOTO_DATA_DIR", "./data"),
			MaxUploadBytes:     envInt64("MAX_UPLOAD_BYTES", 25*1024*1024),
			MaxFilesPerSession: envInt("MAX_FILES_PER_SESSION", 10),
			FileTTL:            envDuration("FILE_TTL", 12*time.Hour),
		},
		Workers: WorkerConfig{
			Max:       envInt("MAX_WORKERS", 4),
			QueueSize: envInt("JOB_QUEUE_SIZE", 64),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("RATE_LIMIT_PER_MINUTE", 30),
			Burst:     envInt("RATE_LIMIT_BURST", 0),
			RedisURL:  os.Getenv("REDIS_URL"),
		},
		Circuit: CircuitConfig{
			FailureThreshold: envInt("CIRCUIT_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  envDuration("CIRCUIT_RECOVERY_TIMEOUT", time.Minute),
		},
		Cleanup: CleanupConfig{
			Interval:   envDuration("CLEANUP_INTERVAL", time.Hour),
			ErrorRetry: envDuration("CLEANUP_ERROR_RETRY", 5*time.Minute),
			TaskTTL:    envDuration("TASK_TTL", 24*time.Hour),
		},
		Documents: defaultDocuments(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DocumentParams returns the processing parameters for a document type. The
// second return is false when the type is unknown and the default set was
// substituted.
func (c *Config) DocumentParams(documentType string) (models.DocumentParams, bool) {
	if p, ok := c.Documents[documentType]; ok {
		return p, true
	}
	return c.Documents[DefaultDocumentType], false
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("IDPHOTO_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("IDPHOTO_DATA_DIR is required")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.Storage.MaxFilesPerSession < 1 {
		return fmt.Errorf("MAX_FILES_PER_SESSION must be at least 1")
	}
	if c.Workers.Max < 1 {
		return fmt.Errorf("MAX_WORKERS must be at least 1")
	}
	if c.RateLimit.PerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if c.Circuit.FailureThreshold < 1 {
		return fmt.Errorf("CIRCUIT_FAILURE_THRESHOLD must be at least 1")
	}
	if _, ok := c.Documents[DefaultDocumentType]; !ok {
		return fmt.Errorf("document table is missing the %q default", DefaultDocumentType)
	}
	return nil
}

func defaultDocuments() map[string]models.DocumentParams {
	return map[string]models.DocumentParams{
		"id_card": {
			ResX:            492,
			ResY:            633,
			TopMargin:       0.3,
			BottomMargin:    0.4,
			LeftRightMargin: 0,
			DPI:             300,
		},
		"passport": {
			ResX:            768,
			ResY:            1004,
			TopMargin:       0.3,
			BottomMargin:    0.4,
			LeftRightMargin: 0,
			DPI:             300,
		},
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

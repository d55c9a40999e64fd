// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all tree engine configuration.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsAddr string

	// Session user whose files are listed
	User string

	// Flat storage backend ("memory", "s3" or "postgres", default: "memory")
	StorageBackend string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Database
	DatabaseURL string

	// Remote drive
	DriveAPIURL          string
	DriveToken           string
	DrivePageSize        int
	DriveScrollThreshold int
	DriveTimeout         time.Duration

	// Features enabled for this session (e.g. "drive")
	Features []string

	// Handoff locate policy for externally created nodes
	LocateInterval time.Duration
	LocateAttempts int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:             envOr("LOG_LEVEL", "info"),
		LogFormat:            envOr("LOG_FORMAT", "json"),
		MetricsAddr:          envOr("METRICS_ADDR", ""),
		User:                 envOr("TREE_USER", ""),
		StorageBackend:       envOr("STORAGE_BACKEND", "memory"),
		S3Endpoint:           envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:             envOr("S3_BUCKET", ""),
		S3AccessKey:          envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:          envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:             envOr("S3_REGION", "us-east-1"),
		S3UseSSL:             envBool("S3_USE_SSL", false),
		DatabaseURL:          envOr("DATABASE_URL", ""),
		DriveAPIURL:          envOr("DRIVE_API_URL", ""),
		DriveToken:           envOr("DRIVE_TOKEN", ""),
		DrivePageSize:        envInt("DRIVE_PAGE_SIZE", 50),
		DriveScrollThreshold: envInt("DRIVE_SCROLL_THRESHOLD", 200),
		DriveTimeout:         envDuration("DRIVE_TIMEOUT", 30*time.Second),
		Features:             envList("FEATURES"),
		LocateInterval:       envDuration("LOCATE_INTERVAL", 500*time.Millisecond),
		LocateAttempts:       envInt("LOCATE_ATTEMPTS", 8),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings for the selected backend.
func (c *Config) Validate() error {
	if c.User == "" {
		return fmt.Errorf("TREE_USER is required")
	}
	switch c.StorageBackend {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND: %s", c.StorageBackend)
	}
	if c.DrivePageSize <= 0 {
		return fmt.Errorf("DRIVE_PAGE_SIZE must be positive")
	}
	if c.LocateAttempts <= 0 {
		return fmt.Errorf("LOCATE_ATTEMPTS must be positive")
	}
	return nil
}

// FeatureEnabled reports whether name is in FEATURES.
func (c *Config) FeatureEnabled(name string) bool {
	for _, f := range c.Features {
		if f == name {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

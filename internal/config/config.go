// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port         string
	FrontendURL  string
	DBPath       string
	RedisAddr    string
	RedisDB      int
	JWTSecret    string
	ProjectsDir  string
	LockTTL      time.Duration
	SandboxImage string
	Sync         SyncConfig
}

// SyncConfig controls the object-storage sync of project working trees.
type SyncConfig struct {
	Enabled   bool
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	lockTTL := getEnvInt("FILE_LOCK_TTL_SECONDS", 300)
	if lockTTL <= 0 {
		lockTTL = 300
	}

	cfg := &Config{
		Port:         getEnv("PORT", "3002"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/codeflow.db"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		ProjectsDir:  getEnv("PROJECTS_DIR", "./projects"),
		LockTTL:      time.Duration(lockTTL) * time.Second,
		SandboxImage: getEnv("SANDBOX_IMAGE", "sandbox:latest"),
		Sync: SyncConfig{
			Enabled:   getEnvBool("SYNC_ENABLED", false),
			Endpoint:  getEnv("SYNC_ENDPOINT", ""),
			Bucket:    getEnv("SYNC_BUCKET", "codeflow-projects"),
			AccessKey: getEnv("SYNC_ACCESS_KEY", ""),
			SecretKey: getEnv("SYNC_SECRET_KEY", ""),
			UseSSL:    getEnvBool("SYNC_USE_SSL", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if c.ProjectsDir == "" {
		return fmt.Errorf("PROJECTS_DIR cannot be empty")
	}
	if c.Sync.Enabled {
		if c.Sync.Endpoint == "" {
			return fmt.Errorf("SYNC_ENDPOINT cannot be empty when sync is enabled")
		}
		if c.Sync.Bucket == "" {
			return fmt.Errorf("SYNC_BUCKET cannot be empty when sync is enabled")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

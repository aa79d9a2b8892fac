// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for all databases (always absolute)
	LogLevel      string
	Port          int
	DevMode       bool
	RunSchedule   string // cron expression for scheduled optimization runs ("" = disabled)
	AuditSchedule string // cron expression for scheduled compliance audits ("" = disabled)
	DefaultMode   string // default allocation strategy: "dynamic" or "single-pass"
	AuditOnStart  bool   // run a compliance audit at startup
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic:
	// CASH_MGMT_DATA_DIR env var, else ./data, always resolved absolute.
	dataDir := getEnv("CASH_MGMT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		Port:          getEnvAsInt("PORT", 8011),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		RunSchedule:   getEnv("RUN_SCHEDULE", ""),
		AuditSchedule: getEnv("AUDIT_SCHEDULE", ""),
		DefaultMode:   getEnv("DEFAULT_MODE", "dynamic"),
		AuditOnStart:  getEnvAsBool("AUDIT_ON_START", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DefaultMode != "dynamic" && c.DefaultMode != "single-pass" {
		return fmt.Errorf("invalid DEFAULT_MODE %q: must be dynamic or single-pass", c.DefaultMode)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

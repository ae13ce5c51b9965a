// Package config loads the orchestrator's runtime configuration from the
// environment, following the teacher's getEnv/getEnvAsInt/getEnvAsBool
// pattern in configs/config.go.
package config

import (
	"os"
	"strconv"
	"time"

	"skeenode/pkg/models"
)

// Config holds the orchestrator's runtime settings: global resource
// ceilings, concurrency, and logging.
type Config struct {
	MaxConcurrentJobs int
	MaxMemoryMB       int
	MaxCPUPercent     float64
	DefaultJobTimeout time.Duration

	LogLevel    string
	LogEncoding string

	HeartbeatInterval time.Duration
}

// LoadConfig reads configuration from the environment, falling back to
// conservative defaults for a single-process orchestrator.
func LoadConfig() *Config {
	return &Config{
		MaxConcurrentJobs: getEnvAsInt("ORCHESTRATOR_MAX_CONCURRENT_JOBS", 8),
		MaxMemoryMB:       getEnvAsInt("ORCHESTRATOR_MAX_MEMORY_MB", 0), // 0 = auto-detect from system memory
		MaxCPUPercent:     getEnvAsFloat("ORCHESTRATOR_MAX_CPU_PERCENT", 0),
		DefaultJobTimeout: getEnvAsDuration("ORCHESTRATOR_DEFAULT_JOB_TIMEOUT", 5*time.Minute),
		LogLevel:          getEnv("ORCHESTRATOR_LOG_LEVEL", "info"),
		LogEncoding:       getEnv("ORCHESTRATOR_LOG_ENCODING", "json"),
		HeartbeatInterval: getEnvAsDuration("ORCHESTRATOR_HEARTBEAT_INTERVAL", 10*time.Second),
	}
}

// GlobalResourceLimits converts the loaded config into the ResourceLimits
// the resource manager enforces.
func (c *Config) GlobalResourceLimits() models.ResourceLimits {
	return models.ResourceLimits{
		MaxMemoryMB:       c.MaxMemoryMB,
		MaxCPUPercent:     c.MaxCPUPercent,
		MaxConcurrentJobs: c.MaxConcurrentJobs,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	return fallback
}

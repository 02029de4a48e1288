// Package config validates the process environment at startup. The relay is
// configured exclusively through environment variables; everything has a
// default so a bare `relay` starts on :3001.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	Port           string
	CORSOrigin     string
	TrustedProxies int
	LogLevel       string

	GoEnv           string
	DevelopmentMode bool

	// Connection gate for WebSocket upgrades, in ulule/limiter notation
	// ("120-M" = 120 per minute per client key).
	RateLimitConn string

	TracingEnabled bool
	OTelCollector  string
}

// Defaults.
const (
	DefaultPort          = "3001"
	DefaultCORSOrigin    = "*"
	DefaultLogLevel      = "info"
	DefaultRateLimitConn = "120-M"
)

// ValidateEnv validates all environment variables and returns a Config.
// Returns an error naming every invalid variable at once.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("RELAY_PORT", DefaultPort)
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("RELAY_PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	cfg.CORSOrigin = getEnvOrDefault("CORS_ORIGIN", DefaultCORSOrigin)

	trusted := getEnvOrDefault("TRUSTED_PROXIES", "0")
	n, err := strconv.Atoi(trusted)
	if err != nil || n < 0 {
		errs = append(errs, fmt.Sprintf("TRUSTED_PROXIES must be a non-negative integer (got %q)", trusted))
	} else {
		cfg.TrustedProxies = n
	}

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", DefaultLogLevel)
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of debug|info|warn|error (got %q)", cfg.LogLevel))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.DevelopmentMode = cfg.GoEnv == "development"

	cfg.RateLimitConn = getEnvOrDefault("RATE_LIMIT_CONN", DefaultRateLimitConn)

	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "true"
	if cfg.TracingEnabled {
		cfg.OTelCollector = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OTelCollector == "" {
			errs = append(errs, "OTEL_COLLECTOR_ADDR is required when TRACING_ENABLED=true")
		} else if !isValidHostPort(cfg.OTelCollector) {
			errs = append(errs, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got %q)", cfg.OTelCollector))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// getEnvOrDefault returns the value of the environment variable or a default
// value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

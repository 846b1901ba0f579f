// Package config loads and validates provider configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all provider configuration.
type Config struct {
	// Server settings.
	Host     string
	Port     int
	AutoPort bool // try successive ports when the configured one is taken

	// Fetch runner settings.
	Interval       time.Duration
	FetchTimeout   time.Duration
	RunImmediately bool

	// Startup settings.
	RequireInitialFetch bool
	InitialFetchTimeout time.Duration

	// RefreshToken gates GET /refresh when non-empty.
	RefreshToken string

	// Shell registry settings.
	RegisterWithShell bool
	RegistryFile      string // empty means ~/.sa/saps.txt

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Host:                envStr("SAP_HOST", "0.0.0.0"),
		Port:                envInt("SAP_PORT", 8080),
		AutoPort:            envBool("SAP_AUTO_PORT", false),
		Interval:            envDuration("SAP_INTERVAL", 60*time.Second),
		FetchTimeout:        envDuration("SAP_FETCH_TIMEOUT", 120*time.Second),
		RunImmediately:      envBool("SAP_RUN_IMMEDIATELY", true),
		RequireInitialFetch: envBool("SAP_REQUIRE_INITIAL_FETCH", false),
		InitialFetchTimeout: envDuration("SAP_INITIAL_FETCH_TIMEOUT", 30*time.Second),
		RefreshToken:        envStr("SAP_REFRESH_TOKEN", ""),
		RegisterWithShell:   envBool("SAP_REGISTER_WITH_SHELL", false),
		RegistryFile:        envStr("SAP_REGISTRY_FILE", ""),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "sap-provider"),
		LogLevel:            envStr("SAP_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: SAP_PORT must be a valid port number")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("config: SAP_INTERVAL must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("config: SAP_FETCH_TIMEOUT must be positive")
	}
	if c.InitialFetchTimeout <= 0 {
		return fmt.Errorf("config: SAP_INITIAL_FETCH_TIMEOUT must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// envDuration accepts Go duration strings ("90s", "2m") and, for
// compatibility with deployments carrying over the old configuration
// format, bare numbers meaning seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

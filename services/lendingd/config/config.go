package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	NodeConfig    string          `yaml:"node_config"`
	ReadTimeout   time.Duration   `yaml:"read_timeout"`
	WriteTimeout  time.Duration   `yaml:"write_timeout"`
	IdleTimeout   time.Duration   `yaml:"idle_timeout"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimits    []RateLimit     `yaml:"rate_limits"`
	CORS          CORSConfig      `yaml:"cors"`
	Logging       LoggingConfig   `yaml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Dev           DevConfig       `yaml:"dev"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// HMACSecret may be supplied inline or through HMACSecretEnv.
	HMACSecret    string        `yaml:"hmac_secret"`
	HMACSecretEnv string        `yaml:"hmac_secret_env"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ClockSkew     time.Duration `yaml:"clock_skew"`
}

// RateLimit configures one named limiter bucket.
type RateLimit struct {
	ID            string         `yaml:"id"`
	RatePerSecond float64        `yaml:"rate_per_second"`
	Burst         int            `yaml:"burst"`
	DefaultTokens int            `yaml:"default_tokens"`
	Tokens        map[string]int `yaml:"tokens"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig controls the structured logger and optional file rotation.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	LogRequests bool   `yaml:"log_requests"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	Metrics     bool              `yaml:"metrics"`
	Traces      bool              `yaml:"traces"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// DevConfig enables endpoints that only make sense on development networks.
type DevConfig struct {
	// Faucet exposes the mint endpoint.
	Faucet bool `yaml:"faucet"`
}

const defaultListen = ":8085"

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: defaultListen}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.NodeConfig = strings.TrimSpace(cfg.NodeConfig)
	if cfg.NodeConfig == "" {
		cfg.NodeConfig = "lendledger.toml"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	cfg.Auth.normalize()
	for i := range cfg.RateLimits {
		cfg.RateLimits[i].ID = strings.TrimSpace(cfg.RateLimits[i].ID)
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Telemetry.SampleRatio <= 0 {
		cfg.Telemetry.SampleRatio = 1
	}
}

func (cfg *AuthConfig) normalize() {
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	cfg.HMACSecretEnv = strings.TrimSpace(cfg.HMACSecretEnv)
	if cfg.HMACSecret == "" && cfg.HMACSecretEnv != "" {
		cfg.HMACSecret = strings.TrimSpace(os.Getenv(cfg.HMACSecretEnv))
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
}

func (cfg *Config) validate() error {
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret (or hmac_secret_env) is required when auth is enabled")
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		if limit.ID == "" {
			return fmt.Errorf("rate_limits: id is required")
		}
		if _, dup := seen[limit.ID]; dup {
			return fmt.Errorf("rate_limits: duplicate id %q", limit.ID)
		}
		seen[limit.ID] = struct{}{}
		if limit.RatePerSecond <= 0 || limit.Burst <= 0 {
			return fmt.Errorf("rate_limits[%s]: rate_per_second and burst must be positive", limit.ID)
		}
		for route, cost := range limit.Tokens {
			if cost <= 0 || cost > limit.Burst {
				return fmt.Errorf("rate_limits[%s]: token cost for %q must be within 1..burst", limit.ID, route)
			}
		}
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within (0, 1]")
	}
	if (cfg.Telemetry.Metrics || cfg.Telemetry.Traces) && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: endpoint is required when metrics or traces are enabled")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "chatrelay.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CHATRELAY_PORT")
	setString(&cfg.Server.CORSOrigin, "CHATRELAY_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CHATRELAY_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CHATRELAY_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CHATRELAY_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CHATRELAY_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CHATRELAY_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Gateway.URL, "CHATRELAY_GATEWAY_URL")
	setString(&cfg.Gateway.Token, "CHATRELAY_GATEWAY_TOKEN")
	setDuration(&cfg.Gateway.Timeout, "CHATRELAY_GATEWAY_TIMEOUT")
	setString(&cfg.Runtime.Endpoint, "CHATRELAY_RUNTIME_ENDPOINT")
	setString(&cfg.Runtime.APIKey, "CHATRELAY_RUNTIME_API_KEY")
	setString(&cfg.Runtime.Model, "CHATRELAY_RUNTIME_MODEL")
	setDuration(&cfg.Runtime.Timeout, "CHATRELAY_RUNTIME_TIMEOUT")
	setDuration(&cfg.Agent.PollInterval, "CHATRELAY_POLL_INTERVAL")
	setInt(&cfg.Agent.MaxPolls, "CHATRELAY_MAX_POLLS")
	setInt(&cfg.Agent.RecencyDays, "CHATRELAY_RECENCY_DAYS")
	setStringSlice(&cfg.Agent.EnabledTools, "CHATRELAY_ENABLED_TOOLS")
	setDuration(&cfg.Agent.ResultCacheTTL, "CHATRELAY_RESULT_CACHE_TTL")
	setString(&cfg.Logging.Level, "CHATRELAY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CHATRELAY_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "CHATRELAY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CHATRELAY_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "CHATRELAY_CACHE_SIZE_MB")
	setBool(&cfg.Telemetry.Enabled, "CHATRELAY_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "CHATRELAY_TELEMETRY_ENDPOINT")
}

// validate checks that required fields are set and tunables are in range.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Runtime.Endpoint == "" {
		return errors.New("runtime.endpoint is required")
	}
	if cfg.Gateway.URL == "" {
		return errors.New("gateway.url is required")
	}
	if cfg.Agent.PollInterval < 200*time.Millisecond || cfg.Agent.PollInterval > time.Second {
		return errors.New("agent.poll_interval must be between 200ms and 1s")
	}
	if cfg.Agent.MaxPolls < 1 {
		return errors.New("agent.max_polls must be >= 1")
	}
	if cfg.Agent.RecencyDays < 1 {
		return errors.New("agent.recency_days must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

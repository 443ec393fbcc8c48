package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultTimezone is the zone campaign clock windows are evaluated in when
// the deployment does not configure one. Most owners schedule in BRT.
const DefaultTimezone = "UTC-3"

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis connection settings for distributed locking.
// An empty URL disables Redis; locking falls back to PG advisory locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// GatewayConfig holds message gateway API configuration
type GatewayConfig struct {
	BaseURL        string `yaml:"base_url"`
	SendPath       string `yaml:"send_path"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DispatcherConfig holds dispatch run and poller configuration
type DispatcherConfig struct {
	BudgetSeconds          int    `yaml:"budget_seconds"`
	PollIntervalSeconds    int    `yaml:"poll_interval_seconds"`
	LockTTLSeconds         int    `yaml:"lock_ttl_seconds"`
	JanitorIntervalSeconds int    `yaml:"janitor_interval_seconds"`
	StaleAgeSeconds        int    `yaml:"stale_age_seconds"`
	CampaignTimezone       string `yaml:"campaign_timezone"`
}

// Budget returns the per-run dispatch budget as a duration
func (c DispatcherConfig) Budget() time.Duration {
	return time.Duration(c.BudgetSeconds) * time.Second
}

// PollInterval returns the poller tick interval as a duration
func (c DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// LockTTL returns the distributed lock TTL as a duration
func (c DispatcherConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// JanitorInterval returns the stale-delivery sweep interval as a duration
func (c DispatcherConfig) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalSeconds) * time.Second
}

// StaleAge returns the age after which an in-flight delivery is considered
// abandoned by a dead run
func (c DispatcherConfig) StaleAge() time.Duration {
	return time.Duration(c.StaleAgeSeconds) * time.Second
}

// Location resolves CampaignTimezone into a *time.Location. Accepts an IANA
// zone name ("America/Sao_Paulo") or a fixed UTC offset ("UTC-3", "UTC+5").
// An empty value resolves to DefaultTimezone.
func (c DispatcherConfig) Location() (*time.Location, error) {
	tz := c.CampaignTimezone
	if tz == "" {
		tz = DefaultTimezone
	}
	if tz == "UTC" {
		return time.UTC, nil
	}
	if rest, ok := strings.CutPrefix(tz, "UTC"); ok {
		hours, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		if hours < -12 || hours > 14 {
			return nil, fmt.Errorf("invalid timezone %q: offset out of range", tz)
		}
		return time.FixedZone(tz, hours*3600), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 50
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "http://localhost:8081"
	}
	if cfg.Gateway.SendPath == "" {
		cfg.Gateway.SendPath = "/send"
	}
	if cfg.Gateway.TimeoutSeconds == 0 {
		cfg.Gateway.TimeoutSeconds = 30
	}
	if cfg.Gateway.MaxRetries == 0 {
		cfg.Gateway.MaxRetries = 2
	}
	if cfg.Dispatcher.BudgetSeconds == 0 {
		cfg.Dispatcher.BudgetSeconds = 55
	}
	if cfg.Dispatcher.PollIntervalSeconds == 0 {
		cfg.Dispatcher.PollIntervalSeconds = 60
	}
	if cfg.Dispatcher.LockTTLSeconds == 0 {
		cfg.Dispatcher.LockTTLSeconds = 90
	}
	if cfg.Dispatcher.JanitorIntervalSeconds == 0 {
		cfg.Dispatcher.JanitorIntervalSeconds = 120
	}
	if cfg.Dispatcher.StaleAgeSeconds == 0 {
		cfg.Dispatcher.StaleAgeSeconds = 300
	}
	if cfg.Dispatcher.CampaignTimezone == "" {
		cfg.Dispatcher.CampaignTimezone = DefaultTimezone
	}
}

// Default returns a Config with all defaults applied and no file read.
// Useful for workers that are configured entirely through the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// If path is empty or the file is missing, defaults are used as the base.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	var cfg *Config
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			cfg = Default()
		} else {
			cfg = loaded
		}
	} else {
		cfg = Default()
	}

	// Override with environment variables if present
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if baseURL := os.Getenv("GATEWAY_BASE_URL"); baseURL != "" {
		cfg.Gateway.BaseURL = baseURL
	}
	if apiKey := os.Getenv("GATEWAY_API_KEY"); apiKey != "" {
		cfg.Gateway.APIKey = apiKey
	}
	if sendPath := os.Getenv("GATEWAY_SEND_PATH"); sendPath != "" {
		cfg.Gateway.SendPath = sendPath
	}
	if tz := os.Getenv("CAMPAIGN_TIMEZONE"); tz != "" {
		cfg.Dispatcher.CampaignTimezone = tz
	}
	if v := os.Getenv("DISPATCH_BUDGET_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatcher.BudgetSeconds = n
		}
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatcher.PollIntervalSeconds = n
		}
	}

	return cfg, nil
}

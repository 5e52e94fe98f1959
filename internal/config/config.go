package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the tracking service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Tracking TrackingConfig `yaml:"tracking"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the optional stats-cache backend. Leaving Addr empty
// disables Redis entirely; stats reads then go straight to Postgres.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TrackingConfig holds open-tracking behavior tunables.
type TrackingConfig struct {
	// PublicBaseURL is the externally reachable base used when building
	// pixel URLs embedded in outbound email HTML.
	PublicBaseURL string `yaml:"public_base_url"`
	// BotThresholdSeconds flags opens arriving within this many seconds of
	// activation as automated scanner traffic.
	BotThresholdSeconds int `yaml:"bot_threshold_seconds"`
	// ExtraBotPatterns are appended to the built-in scanner user-agent list.
	ExtraBotPatterns []string `yaml:"extra_bot_patterns"`
	// StatsCacheTTLSeconds bounds staleness of the cached aggregate stats.
	StatsCacheTTLSeconds int `yaml:"stats_cache_ttl_seconds"`
	// RecordTimeoutMS bounds store work per pixel request so a slow
	// database never delays the image past mail-client fetch budgets.
	RecordTimeoutMS int `yaml:"record_timeout_ms"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration from the YAML file at path (if it exists),
// then overlays environment variables. A .env file is honored when present.
// Environment always wins over the file.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg *Config
	if _, err := os.Stat(path); err == nil {
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.PublicBaseURL = v
	}
	if v := os.Getenv("BOT_THRESHOLD_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Tracking.BotThresholdSeconds = n
		}
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30
	}
	if c.Tracking.PublicBaseURL == "" {
		c.Tracking.PublicBaseURL = "http://localhost:8080"
	}
	if c.Tracking.BotThresholdSeconds == 0 {
		c.Tracking.BotThresholdSeconds = 30
	}
	if c.Tracking.StatsCacheTTLSeconds == 0 {
		c.Tracking.StatsCacheTTLSeconds = 30
	}
	if c.Tracking.RecordTimeoutMS == 0 {
		c.Tracking.RecordTimeoutMS = 2000
	}
}

// Validate checks that required settings are present before startup.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required (database.url or DATABASE_URL)")
	}
	if c.Tracking.BotThresholdSeconds < 0 {
		return fmt.Errorf("bot_threshold_seconds must be >= 0")
	}
	return nil
}

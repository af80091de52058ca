package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Health    HealthConfig    `mapstructure:"health"`
	Router    RouterConfig    `mapstructure:"router"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
	// AdminKeys guards the admin surface. Empty leaves it open, which is
	// only sensible behind a private network.
	AdminKeys []string `mapstructure:"admin_keys"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HealthConfig tunes the background balance monitor.
type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	// DemoteAfter is how many consecutive probe failures it takes to mark a
	// provider Inactive. A single blip never demotes.
	DemoteAfter int `mapstructure:"demote_after"`
}

// RouterConfig tunes request routing and failover.
type RouterConfig struct {
	// MaxAttempts bounds failover within a single inbound request.
	MaxAttempts int `mapstructure:"max_attempts"`
	// Strategy is "balance_weighted" or "round_robin".
	Strategy          string        `mapstructure:"strategy"`
	UpstreamTimeout   time.Duration `mapstructure:"upstream_timeout"`
	DefaultMinBalance float64       `mapstructure:"default_min_balance"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Default Values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("database.dsn", "file:manager.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("health.check_interval", time.Minute)
	v.SetDefault("health.probe_timeout", 5*time.Second)
	v.SetDefault("health.demote_after", 3)
	v.SetDefault("router.max_attempts", 3)
	v.SetDefault("router.strategy", "balance_weighted")
	v.SetDefault("router.upstream_timeout", 300*time.Second)
	v.SetDefault("router.default_min_balance", 3.0)

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &cfg, nil
}

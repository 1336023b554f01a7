package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the campaign dispatch engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Breakers BreakerConfig  `yaml:"breakers"`
}

// ServerConfig holds the admin API listener settings.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the Redis connection used by the cache, the job
// queue, locks, and the notification bus.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DispatchConfig tunes the scheduling/dispatch pipeline.
type DispatchConfig struct {
	// TickInterval is the admission scan period.
	TickInterval time.Duration `yaml:"tick_interval"`
	// LookaheadWindow bounds how far ahead the scan admits campaigns.
	LookaheadWindow time.Duration `yaml:"lookahead_window"`
	// ScanLimit caps campaigns admitted per tick.
	ScanLimit int `yaml:"scan_limit"`
	// LeadTime is subtracted from the admission delay so preparation
	// overlaps the deadline.
	LeadTime time.Duration `yaml:"lead_time"`
	// BatchSize is the number of contacts per dispatch batch.
	BatchSize int `yaml:"batch_size"`
	// ContactStagger is the artificial delay between contacts inside a
	// batch.
	ContactStagger time.Duration `yaml:"contact_stagger"`

	// Worker pool concurrency per job category.
	StartConcurrency int `yaml:"start_concurrency"`
	BatchConcurrency int `yaml:"batch_concurrency"`
	SendConcurrency  int `yaml:"send_concurrency"`

	// SendLimiterMax / SendLimiterWindow bound outbound submissions:
	// at most SendLimiterMax message.send jobs per window.
	SendLimiterMax    int           `yaml:"send_limiter_max"`
	SendLimiterWindow time.Duration `yaml:"send_limiter_window"`
}

// BreakerConfig holds circuit breaker thresholds per dependency class.
type BreakerConfig struct {
	Database BreakerSettings `yaml:"database"`
	Redis    BreakerSettings `yaml:"redis"`
	Channel  BreakerSettings `yaml:"channel"`
}

// BreakerSettings are the parameters for a single circuit breaker.
type BreakerSettings struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// Load reads configuration from the given YAML path (optional) and the
// environment. Environment variables win over file values. A missing
// file is not an error; defaults cover everything but the database URL.
func Load(path string) (*Config, error) {
	// Best-effort .env for local development.
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("CAMPAIGN_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.BatchSize = n
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_BATCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.BatchConcurrency = n
		}
	}
	if v := os.Getenv("SEND_LIMITER_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.SendLimiterMax = n
		}
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			AllowOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Dispatch: DispatchConfig{
			TickInterval:      60 * time.Second,
			LookaheadWindow:   time.Hour,
			ScanLimit:         50,
			LeadTime:          5 * time.Second,
			BatchSize:         50,
			ContactStagger:    200 * time.Millisecond,
			StartConcurrency:  2,
			BatchConcurrency:  3,
			SendConcurrency:   5,
			SendLimiterMax:    5,
			SendLimiterWindow: 3 * time.Second,
		},
		Breakers: BreakerConfig{
			Database: BreakerSettings{FailureThreshold: 3, ResetTimeout: 30 * time.Second, SuccessThreshold: 2},
			Redis:    BreakerSettings{FailureThreshold: 3, ResetTimeout: 15 * time.Second, SuccessThreshold: 2},
			Channel:  BreakerSettings{FailureThreshold: 5, ResetTimeout: 60 * time.Second, SuccessThreshold: 3},
		},
	}
}

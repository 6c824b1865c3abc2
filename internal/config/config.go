package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string   `mapstructure:"REDIS_URL"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	ReportSigningKey  string   `mapstructure:"REPORT_SIGNING_KEY"`
	ReportLinkTTL     int      `mapstructure:"REPORT_LINK_TTL_SECONDS"`
	RetentionYears    int      `mapstructure:"RETENTION_YEARS"`
	WorkerBatchSize   int      `mapstructure:"WORKER_BATCH_SIZE"`
	WorkerWaitSeconds int      `mapstructure:"WORKER_WAIT_SECONDS"`
	VisibilitySeconds int      `mapstructure:"VISIBILITY_TIMEOUT_SECONDS"`
	MaxReceiveCount   int      `mapstructure:"MAX_RECEIVE_COUNT"`
	LifecycleInterval int      `mapstructure:"LIFECYCLE_INTERVAL_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REPORT_LINK_TTL_SECONDS", 3600)
	v.SetDefault("RETENTION_YEARS", 7)
	v.SetDefault("WORKER_BATCH_SIZE", 10)
	v.SetDefault("WORKER_WAIT_SECONDS", 20)
	v.SetDefault("VISIBILITY_TIMEOUT_SECONDS", 60)
	v.SetDefault("MAX_RECEIVE_COUNT", 5)
	v.SetDefault("LIFECYCLE_INTERVAL_SECONDS", 86400)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("REPORT_SIGNING_KEY")
	v.BindEnv("REPORT_LINK_TTL_SECONDS")
	v.BindEnv("RETENTION_YEARS")
	v.BindEnv("WORKER_BATCH_SIZE")
	v.BindEnv("WORKER_WAIT_SECONDS")
	v.BindEnv("VISIBILITY_TIMEOUT_SECONDS")
	v.BindEnv("MAX_RECEIVE_COUNT")
	v.BindEnv("LIFECYCLE_INTERVAL_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.ReportSigningKey == "" && cfg.IsProduction() {
		return nil, fmt.Errorf("REPORT_SIGNING_KEY is required in production")
	}

	if cfg.RetentionYears <= 0 {
		return nil, fmt.Errorf("RETENTION_YEARS must be positive, got %d", cfg.RetentionYears)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ReportLinkDuration returns the signed download link lifetime.
func (c *Config) ReportLinkDuration() time.Duration {
	return time.Duration(c.ReportLinkTTL) * time.Second
}

// WorkerWait returns the long-poll wait used by queue consumers.
func (c *Config) WorkerWait() time.Duration {
	return time.Duration(c.WorkerWaitSeconds) * time.Second
}

// VisibilityTimeout returns how long a received message stays invisible
// before the queue redelivers it.
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilitySeconds) * time.Second
}

// LifecycleEvery returns the period between retention sweeps.
func (c *Config) LifecycleEvery() time.Duration {
	return time.Duration(c.LifecycleInterval) * time.Second
}

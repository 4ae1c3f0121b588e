package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/lifelink-engine/internal/infra/database"
	"github.com/kursadbilgin/lifelink-engine/internal/matching"
	"github.com/kursadbilgin/lifelink-engine/internal/service"
)

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

type Config struct {
	DatabaseDriver    string `env:"DATABASE_DRIVER,default=postgres"`
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	NotifyWebhookURL  string `env:"NOTIFY_WEBHOOK_URL,required=true"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	LockBackend       string `env:"LOCK_BACKEND,default=redis"`

	CooldownDays                   int    `env:"COOLDOWN_DAYS,default=90"`
	RankingMode                    string `env:"RANKING_MODE,default=weighted"`
	SweepIntervalSeconds           int    `env:"SWEEP_INTERVAL_SECONDS,default=300"`
	FirstResponseTimeoutMinutes    int    `env:"FIRST_RESPONSE_TIMEOUT_MINUTES,default=15"`
	FollowupResponseTimeoutMinutes int    `env:"FOLLOWUP_RESPONSE_TIMEOUT_MINUTES,default=10"`
	MaxAutonomousAttempts          int    `env:"MAX_AUTONOMOUS_ATTEMPTS,default=3"`
	TimeoutPatternMode             string `env:"TIMEOUT_PATTERN_MODE,default=decline"`
	Timezone                       string `env:"TIMEZONE,default=UTC"`
	CompletionRewardPoints         int    `env:"COMPLETION_REWARD_POINTS,default=10"`
	StoreRetryAttempts             int    `env:"STORE_RETRY_ATTEMPTS,default=3"`
	SendTimeoutSeconds             int    `env:"SEND_TIMEOUT_SECONDS,default=10"`
	EscalationRetentionDays        int    `env:"ESCALATION_RETENTION_DAYS,default=90"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects unknown enum values and non-positive durations.
func (c *Config) Validate() error {
	switch strings.ToLower(c.DatabaseDriver) {
	case database.DriverPostgres, database.DriverMySQL, database.DriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver)
	}
	switch strings.ToLower(c.LockBackend) {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("LOCK_BACKEND %q is not supported", c.LockBackend)
	}
	if _, err := matching.ParseModeFromString(c.RankingMode); err != nil {
		return fmt.Errorf("RANKING_MODE: %w", err)
	}
	if _, err := matching.ParseTimeoutModeFromString(c.TimeoutPatternMode); err != nil {
		return fmt.Errorf("TIMEOUT_PATTERN_MODE: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}

	positive := []struct {
		key   string
		value int
	}{
		{"API_PORT", c.APIPort},
		{"COOLDOWN_DAYS", c.CooldownDays},
		{"SWEEP_INTERVAL_SECONDS", c.SweepIntervalSeconds},
		{"FIRST_RESPONSE_TIMEOUT_MINUTES", c.FirstResponseTimeoutMinutes},
		{"FOLLOWUP_RESPONSE_TIMEOUT_MINUTES", c.FollowupResponseTimeoutMinutes},
		{"MAX_AUTONOMOUS_ATTEMPTS", c.MaxAutonomousAttempts},
		{"STORE_RETRY_ATTEMPTS", c.StoreRetryAttempts},
		{"SEND_TIMEOUT_SECONDS", c.SendTimeoutSeconds},
		{"ESCALATION_RETENTION_DAYS", c.EscalationRetentionDays},
		{"COMPLETION_REWARD_POINTS", c.CompletionRewardPoints},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.key, p.value)
		}
	}
	return nil
}

func (c *Config) Database() database.Config {
	return database.Config{Driver: strings.ToLower(c.DatabaseDriver), DSN: c.DatabaseDSN}
}

func (c *Config) UseRedisLock() bool {
	return strings.EqualFold(c.LockBackend, LockBackendRedis)
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c *Config) EscalationRetention() time.Duration {
	return time.Duration(c.EscalationRetentionDays) * 24 * time.Hour
}

// MatchOptions maps the engine settings onto service options. Validate must
// have passed.
func (c *Config) MatchOptions() (service.Options, error) {
	mode, err := matching.ParseModeFromString(c.RankingMode)
	if err != nil {
		return service.Options{}, err
	}
	timeoutMode, err := matching.ParseTimeoutModeFromString(c.TimeoutPatternMode)
	if err != nil {
		return service.Options{}, err
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return service.Options{}, fmt.Errorf("failed to load timezone %q: %w", c.Timezone, err)
	}

	return service.Options{
		Cooldown:                time.Duration(c.CooldownDays) * 24 * time.Hour,
		RankingMode:             mode,
		FirstResponseTimeout:    time.Duration(c.FirstResponseTimeoutMinutes) * time.Minute,
		FollowupResponseTimeout: time.Duration(c.FollowupResponseTimeoutMinutes) * time.Minute,
		MaxAutonomousAttempts:   c.MaxAutonomousAttempts,
		TimeoutMode:             timeoutMode,
		Location:                loc,
		CompletionRewardPoints:  c.CompletionRewardPoints,
		StoreRetryAttempts:      c.StoreRetryAttempts,
	}, nil
}

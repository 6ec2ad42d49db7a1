package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	MaxDeliveryAttempts  int `env:"MAX_DELIVERY_ATTEMPTS,default=3"`
	InitialBackoffMillis int `env:"INITIAL_BACKOFF_MS,default=50"`
	SweepIntervalMillis  int `env:"RETRY_SWEEP_INTERVAL_MS,default=1000"`
	SweepBatchSize       int `env:"RETRY_SWEEP_BATCH_SIZE,default=20"`
	DispatchConcurrency  int `env:"DISPATCH_CONCURRENCY,default=16"`
	RateLimitPerSec      int `env:"RATE_LIMIT_PER_SEC,default=100"`

	APNSKeyID       string `env:"APNS_KEY_ID"`
	APNSTeamID      string `env:"APNS_TEAM_ID"`
	APNSBundleID    string `env:"APNS_BUNDLE_ID"`
	APNSPrivateKey  string `env:"APNS_PRIVATE_KEY"`
	APNSDevelopment bool   `env:"APNS_DEVELOPMENT,default=false"`

	FCMCredentialsFile string `env:"FCM_CREDENTIALS_FILE"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMillis) * time.Millisecond
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMillis) * time.Millisecond
}

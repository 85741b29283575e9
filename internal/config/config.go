package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	RelayPort   int    `env:"RELAY_PORT" envDefault:"8081"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	AuthTokenSecret string `env:"AUTH_TOKEN_SECRET"`

	MediaAppID          string `env:"MEDIA_APP_ID"`
	MediaAppCertificate string `env:"MEDIA_APP_CERTIFICATE"`

	RelayURL          string `env:"RELAY_URL" envDefault:"http://localhost:8081"`
	RelaySharedSecret string `env:"RELAY_SHARED_SECRET"`

	FCMCredentialsFile string `env:"FCM_CREDENTIALS_FILE"`
	FCMProjectID       string `env:"FCM_PROJECT_ID"`

	AudioRatePerMinute int64           `env:"AUDIO_RATE_PER_MINUTE" envDefault:"10"`
	VideoRatePerMinute int64           `env:"VIDEO_RATE_PER_MINUTE" envDefault:"60"`
	CoinValue          decimal.Decimal `env:"COIN_VALUE" envDefault:"0.10"`

	TierMediumThreshold int64 `env:"TIER_MEDIUM_THRESHOLD" envDefault:"1000"`
	TierHighThreshold   int64 `env:"TIER_HIGH_THRESHOLD" envDefault:"10000"`

	CallRateLimitPerMin int  `env:"CALL_RATE_LIMIT_PER_MIN" envDefault:"20"`
	RingTimeoutSeconds  int  `env:"RING_TIMEOUT_SECONDS" envDefault:"45"`
	OutboxMaxAttempts   int  `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
	OutboxMaxAgeSeconds int  `env:"OUTBOX_MAX_AGE_SECONDS" envDefault:"90"`
	MigrateOnStart      bool `env:"MIGRATE_ON_START" envDefault:"false"`
}

func (c *Config) RingTimeout() time.Duration {
	return time.Duration(c.RingTimeoutSeconds) * time.Second
}

func (c *Config) OutboxMaxAge() time.Duration {
	return time.Duration(c.OutboxMaxAgeSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) RelayAddr() string {
	return fmt.Sprintf(":%d", c.RelayPort)
}

func (c *Config) Validate(isProduction bool) error {
	if c.AudioRatePerMinute <= 0 || c.VideoRatePerMinute <= 0 {
		return fmt.Errorf("AUDIO_RATE_PER_MINUTE and VIDEO_RATE_PER_MINUTE must be positive")
	}
	if c.TierMediumThreshold < 0 || c.TierHighThreshold <= c.TierMediumThreshold {
		return fmt.Errorf("TIER_HIGH_THRESHOLD must be greater than TIER_MEDIUM_THRESHOLD (got %d <= %d)",
			c.TierHighThreshold, c.TierMediumThreshold)
	}
	if c.CoinValue.IsNegative() {
		return fmt.Errorf("COIN_VALUE must not be negative")
	}
	// An empty HS256 key lets anyone mint a bearer token for any user.
	if c.AuthTokenSecret == "" {
		return fmt.Errorf("AUTH_TOKEN_SECRET is required")
	}

	if isProduction {
		if err := validateSecret("AUTH_TOKEN_SECRET", c.AuthTokenSecret); err != nil {
			return err
		}
		if err := validateSecret("RELAY_SHARED_SECRET", c.RelaySharedSecret); err != nil {
			return err
		}
		if err := validateSecret("MEDIA_APP_CERTIFICATE", c.MediaAppCertificate); err != nil {
			return err
		}

		if c.FCMCredentialsFile == "" {
			log.Warn().Msg("FCM_CREDENTIALS_FILE is empty in production: push notifications disabled")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

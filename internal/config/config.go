package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Discord Bot
	DiscordToken string

	// Database (orders)
	DatabaseURL string

	// Redis (sessions and per-user index)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyNamespace  string
	SessionTTL    time.Duration

	// Relay
	RelayWorkers     int
	RelayMaxAttempts int
	RelayBaseDelay   time.Duration

	// Payment service
	PaymentLinkURL      string
	PaymentClientID     string
	PaymentClientSecret string
	PaymentTokenURL     string

	// Web Server
	WebBind   string
	JWTSecret string

	// Logging
	LogLevel string
	AppEnv   string
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:        os.Getenv("DISCORD_TOKEN"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisAddr:           getEnvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		KeyNamespace:        getEnvDefault("KEY_NAMESPACE", "anonchat"),
		PaymentLinkURL:      os.Getenv("PAYMENT_LINK_URL"),
		PaymentClientID:     os.Getenv("PAYMENT_CLIENT_ID"),
		PaymentClientSecret: os.Getenv("PAYMENT_CLIENT_SECRET"),
		PaymentTokenURL:     os.Getenv("PAYMENT_TOKEN_URL"),
		WebBind:             getEnvDefault("WEB_BIND", "0.0.0.0:3000"),
		JWTSecret:           getEnvDefault("API_JWT_SECRET", "dev-only-change-me"),
		LogLevel:            getEnvDefault("LOG_LEVEL", "info"),
		AppEnv:              getEnvDefault("APP_ENV", "development"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RelayWorkers, err = getEnvInt("RELAY_WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.RelayMaxAttempts, err = getEnvInt("RELAY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RelayBaseDelay, err = getEnvDuration("RELAY_BASE_DELAY", 2*time.Second); err != nil {
		return nil, err
	}

	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RelayWorkers < 1 {
		return nil, fmt.Errorf("RELAY_WORKERS must be positive")
	}
	if cfg.RelayMaxAttempts < 1 {
		return nil, fmt.Errorf("RELAY_MAX_ATTEMPTS must be positive")
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}

	return cfg, nil
}

// PaymentOAuthEnabled reports whether the payment service client should
// authenticate with client credentials.
func (c *Config) PaymentOAuthEnabled() bool {
	return c.PaymentClientID != "" && c.PaymentClientSecret != "" && c.PaymentTokenURL != ""
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return d, nil
}

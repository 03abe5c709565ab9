package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DatabaseURL    string
	ServiceToken   string
	AllowedOrigins []string

	LogLevel  string
	LogFormat string
	LogCaller bool

	PolicyCacheTTL time.Duration
	RedisURL       string

	ReleaseInterval    time.Duration
	DeferredAlertAfter time.Duration

	SyncServiceURL      string
	SyncInterval        time.Duration
	PaymentPollInterval time.Duration

	WithdrawalRetryAttempts int

	R2 R2Config
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

// Enabled reports whether receipts should be archived to R2.
func (c R2Config) Enabled() bool {
	return c.Bucket != "" && c.AccountID != ""
}

// Load reads the environment (and a .env file when present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "5300"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ServiceToken:   getEnv("SERVICE_TOKEN", ""),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogCaller: getEnvAsBool("LOG_CALLER", false),

		PolicyCacheTTL: getEnvAsDuration("POLICY_CACHE_TTL", 30*time.Second),
		RedisURL:       getEnv("REDIS_URL", ""),

		ReleaseInterval:    getEnvAsDuration("RELEASE_INTERVAL", time.Hour),
		DeferredAlertAfter: getEnvAsDuration("DEFERRED_ALERT_AFTER", 30*24*time.Hour),

		SyncServiceURL:      getEnv("SYNC_SERVICE_URL", ""),
		SyncInterval:        getEnvAsDuration("SYNC_INTERVAL", time.Minute),
		PaymentPollInterval: getEnvAsDuration("PAYMENT_POLL_INTERVAL", time.Minute),

		WithdrawalRetryAttempts: getEnvAsInt("WITHDRAWAL_RETRY_ATTEMPTS", 3),

		R2: R2Config{
			AccountID:       getEnv("CLOUDFLARE_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			AccessKeySecret: getEnv("R2_ACCESS_KEY_SECRET", ""),
			Bucket:          getEnv("R2_BUCKET_NAME", ""),
			CDNBaseURL:      getEnv("CDN_BASE_URL", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if c.ServiceToken == "" {
		return fmt.Errorf("SERVICE_TOKEN environment variable not set")
	}
	if c.WithdrawalRetryAttempts < 1 {
		return fmt.Errorf("WITHDRAWAL_RETRY_ATTEMPTS must be at least 1")
	}
	if c.ReleaseInterval <= 0 {
		return fmt.Errorf("RELEASE_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

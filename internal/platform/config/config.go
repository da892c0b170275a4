package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	TLSCertFile      string   `env:"TLS_CERT_FILE"`
	TLSKeyFile       string   `env:"TLS_KEY_FILE"`
	CORSAllowOrigins []string `env:"CORS_ALLOW_ORIGINS" default:"*"`
	RateLimitPerSec  float64  `env:"RATE_LIMIT_PER_SEC" default:"5"`
	RateLimitBurst   int      `env:"RATE_LIMIT_BURST" default:"10"`

	TelegramAppID   int    `env:"TELEGRAM_APP_ID"`
	TelegramAppHash string `env:"TELEGRAM_APP_HASH"`

	// Hex-encoded AES-256 key for transport credentials at rest. Empty disables encryption.
	CredentialEncryptionKey string `env:"CREDENTIAL_ENCRYPTION_KEY"`

	KeyIssuerURL string `env:"KEY_ISSUER_URL" default:"https://api.cyber-safe.cloud/api/deletelimit"`
	RedeemURL    string `env:"REDEEM_URL" default:"https://gift.truemoney.com/campaign/vouchers"`

	ClaimMaxAttempts      int           `env:"CLAIM_MAX_ATTEMPTS" default:"3"`
	ClaimRetryDelay       time.Duration `env:"CLAIM_RETRY_DELAY" default:"2s"`
	RedeemTimeout         time.Duration `env:"REDEEM_TIMEOUT" default:"10s"`
	KeyIssuerTimeout      time.Duration `env:"KEY_ISSUER_TIMEOUT" default:"10s"`
	LoginCodeTTL          time.Duration `env:"LOGIN_CODE_TTL" default:"15m"`
	RestoreSettleDelay    time.Duration `env:"RESTORE_SETTLE_DELAY" default:"1s"`
	HealthProbeInterval   time.Duration `env:"HEALTH_PROBE_INTERVAL" default:"60s"`
	ReconcileInterval     time.Duration `env:"RECONCILE_INTERVAL" default:"1h"`
	ConnectionSettleDelay time.Duration `env:"CONNECTION_SETTLE_DELAY" default:"5s"`
	OccurrenceTTL         time.Duration `env:"OCCURRENCE_TTL" default:"10m"`
	WatcherQueueSize      int           `env:"WATCHER_QUEUE_SIZE" default:"64"`
	CoordinatorLeaseTTL   time.Duration `env:"COORDINATOR_LEASE_TTL" default:"30s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL":      cfg.DatabaseURL,
		"REDIS_URL":         cfg.RedisURL,
		"TELEGRAM_APP_HASH": cfg.TelegramAppHash,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.TelegramAppID <= 0 {
		return errors.New("TELEGRAM_APP_ID is required")
	}

	if cfg.AppEnv == "production" {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	if cfg.ClaimMaxAttempts < 1 {
		return fmt.Errorf("CLAIM_MAX_ATTEMPTS must be at least 1, got %d", cfg.ClaimMaxAttempts)
	}
	if cfg.RateLimitPerSec <= 0 || cfg.RateLimitBurst < 1 {
		return errors.New("RATE_LIMIT_PER_SEC and RATE_LIMIT_BURST must be positive")
	}
	if cfg.CoordinatorLeaseTTL < 3*time.Second {
		return fmt.Errorf("COORDINATOR_LEASE_TTL must be at least 3s, got %s", cfg.CoordinatorLeaseTTL)
	}
	if cfg.RedeemTimeout <= 0 || cfg.KeyIssuerTimeout <= 0 {
		return errors.New("REDEEM_TIMEOUT and KEY_ISSUER_TIMEOUT must be positive")
	}
	if cfg.WatcherQueueSize < 1 {
		return fmt.Errorf("WATCHER_QUEUE_SIZE must be at least 1, got %d", cfg.WatcherQueueSize)
	}

	if cfg.CredentialEncryptionKey == "" {
		return nil
	}
	keyBytes, err := hex.DecodeString(cfg.CredentialEncryptionKey)
	if err != nil {
		return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

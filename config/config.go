// Package config resolves runtime configuration from defaults, an optional
// YAML file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the resolved runtime configuration of the API process.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	DatabaseURL     string
	MaxDBConns      int32
	MigrateOnStart  bool
	MaxConnIdleTime time.Duration

	JWTSecret     string
	TokenTTL      time.Duration
	WebhookSecret string

	RedisAddr      string
	LockExpiry     time.Duration
	LockTries      int
	LockRetryDelay time.Duration

	ShippingFee decimal.Decimal

	OutboxEnabled     bool
	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxClaimTTL    time.Duration
	OutboxMaxAttempts int

	LogLevel string
}

// file mirrors the YAML schema of configs/default.yaml.
type file struct {
	HTTP struct {
		Addr            string `yaml:"addr"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"http"`
	Database struct {
		URL             string `yaml:"url"`
		MaxConns        int32  `yaml:"max_conns"`
		Migrate         *bool  `yaml:"migrate"`
		MaxConnIdleTime string `yaml:"max_conn_idle_time"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		TokenTTL      string `yaml:"token_ttl"`
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"auth"`
	Redis struct {
		Addr       string `yaml:"addr"`
		LockExpiry string `yaml:"lock_expiry"`
		LockTries  int    `yaml:"lock_tries"`
		RetryDelay string `yaml:"lock_retry_delay"`
	} `yaml:"redis"`
	Pricing struct {
		ShippingFee string `yaml:"shipping_fee"`
	} `yaml:"pricing"`
	Outbox struct {
		Enabled     *bool  `yaml:"enabled"`
		Interval    string `yaml:"interval"`
		BatchSize   int    `yaml:"batch_size"`
		ClaimTTL    string `yaml:"claim_ttl"`
		MaxAttempts int    `yaml:"max_attempts"`
	} `yaml:"outbox"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		HTTPAddr:          ":8080",
		ShutdownTimeout:   10 * time.Second,
		MaxDBConns:        20,
		MigrateOnStart:    true,
		MaxConnIdleTime:   5 * time.Minute,
		TokenTTL:          24 * time.Hour,
		LockExpiry:        10 * time.Second,
		LockTries:         8,
		LockRetryDelay:    50 * time.Millisecond,
		ShippingFee:       decimal.Zero,
		OutboxEnabled:     true,
		OutboxInterval:    2 * time.Second,
		OutboxBatchSize:   100,
		OutboxClaimTTL:    30 * time.Second,
		OutboxMaxAttempts: 5,
		LogLevel:          "info",
	}
}

// Load reads path when it exists, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("config: parse file: %w", err)
	}

	setString(&c.HTTPAddr, f.HTTP.Addr)
	setString(&c.DatabaseURL, f.Database.URL)
	setString(&c.JWTSecret, f.Auth.JWTSecret)
	setString(&c.WebhookSecret, f.Auth.WebhookSecret)
	setString(&c.RedisAddr, f.Redis.Addr)
	setString(&c.LogLevel, f.Log.Level)
	if f.Database.MaxConns > 0 {
		c.MaxDBConns = f.Database.MaxConns
	}
	if f.Database.Migrate != nil {
		c.MigrateOnStart = *f.Database.Migrate
	}
	if f.Redis.LockTries > 0 {
		c.LockTries = f.Redis.LockTries
	}
	if f.Outbox.Enabled != nil {
		c.OutboxEnabled = *f.Outbox.Enabled
	}
	if f.Outbox.BatchSize > 0 {
		c.OutboxBatchSize = f.Outbox.BatchSize
	}
	if f.Outbox.MaxAttempts > 0 {
		c.OutboxMaxAttempts = f.Outbox.MaxAttempts
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"http.shutdown_timeout", f.HTTP.ShutdownTimeout, &c.ShutdownTimeout},
		{"database.max_conn_idle_time", f.Database.MaxConnIdleTime, &c.MaxConnIdleTime},
		{"auth.token_ttl", f.Auth.TokenTTL, &c.TokenTTL},
		{"redis.lock_expiry", f.Redis.LockExpiry, &c.LockExpiry},
		{"redis.lock_retry_delay", f.Redis.RetryDelay, &c.LockRetryDelay},
		{"outbox.interval", f.Outbox.Interval, &c.OutboxInterval},
		{"outbox.claim_ttl", f.Outbox.ClaimTTL, &c.OutboxClaimTTL},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.name, d.raw); err != nil {
			return err
		}
	}
	return setDecimal(&c.ShippingFee, "pricing.shipping_fee", f.Pricing.ShippingFee)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.HTTPAddr, getenv("HTTP_ADDR"))
	setString(&c.DatabaseURL, getenv("DATABASE_URL"))
	setString(&c.JWTSecret, getenv("JWT_SECRET"))
	setString(&c.WebhookSecret, getenv("WEBHOOK_SECRET"))
	setString(&c.RedisAddr, getenv("REDIS_ADDR"))
	setString(&c.LogLevel, getenv("LOG_LEVEL"))

	if raw := strings.TrimSpace(getenv("DATABASE_MIGRATE")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: DATABASE_MIGRATE: %v", ErrInvalid, err)
		}
		c.MigrateOnStart = v
	}
	if err := setDuration(&c.OutboxInterval, "OUTBOX_INTERVAL", getenv("OUTBOX_INTERVAL")); err != nil {
		return err
	}
	return setDecimal(&c.ShippingFee, "SHIPPING_FEE", getenv("SHIPPING_FEE"))
}

// Validate rejects configurations the process cannot run with.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: database url is required", ErrInvalid)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: jwt secret is required", ErrInvalid)
	}
	if c.ShippingFee.IsNegative() {
		return fmt.Errorf("%w: shipping fee must not be negative", ErrInvalid)
	}
	if c.OutboxInterval <= 0 || c.TokenTTL <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalid)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	*dst = d
	return nil
}

func setDecimal(dst *decimal.Decimal, name, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	*dst = d
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package config loads the storefront server configuration.
//
// Values are layered, later sources overriding earlier ones: built-in
// defaults, an optional YAML file, command-line flags, and finally the
// DATABASE_URL, REDIS_URL and SMTP_PASSWORD environment variables.
package config

import (
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/logging"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// OTP store backends.
const (
	OTPStorePostgres = "postgres"
	OTPStoreRedis    = "redis"
)

// Mail drivers.
const (
	MailDriverSMTP = "smtp"
	MailDriverLog  = "log"
)

// Config is the complete server configuration.
type Config struct {
	Env      string         `koanf:"env"`
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Session  SessionConfig  `koanf:"session"`
	OTP      OTPConfig      `koanf:"otp"`
	Redis    RedisConfig    `koanf:"redis"`
	Mail     MailConfig     `koanf:"mail"`
	Argon2   Argon2Config   `koanf:"argon2"`
	Sweep    SweepConfig    `koanf:"sweep"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
	// AllowedOrigins are glob patterns matched against the Origin header.
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL             string `koanf:"url"`
	ConnectAttempts int    `koanf:"connect_attempts"`
}

// SessionConfig configures login sessions.
type SessionConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// OTPConfig configures one-time passcodes.
type OTPConfig struct {
	TTL   time.Duration `koanf:"ttl"`
	Store string        `koanf:"store"`
}

// RedisConfig configures the Redis client used by the redis OTP store.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// MailConfig configures outbound mail.
type MailConfig struct {
	Driver      string     `koanf:"driver"`
	From        string     `koanf:"from"`
	SMTP        SMTPConfig `koanf:"smtp"`
	QueueSize   int        `koanf:"queue_size"`
	Workers     int        `koanf:"workers"`
	MaxAttempts int        `koanf:"max_attempts"`
}

// SMTPConfig holds relay settings for the smtp mail driver.
type SMTPConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"` //nolint:gosec // G117: config field, not a hardcoded credential
	Timeout  time.Duration `koanf:"timeout"`  // bounds one delivery attempt, dial to QUIT
}

// Argon2Config tunes password hashing cost.
type Argon2Config struct {
	Time      uint32 `koanf:"time"`
	MemoryKiB uint32 `koanf:"memory_kib"`
	Threads   uint8  `koanf:"threads"`
}

// SweepConfig configures the expired row sweeper.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// defaults maps every key to its built-in value.
func defaults() map[string]any {
	argon := auth.DefaultArgon2idParams()
	return map[string]any{
		"env":                       EnvDevelopment,
		"http.addr":                 ":5000",
		"http.allowed_origins":      []string{"http://localhost:5173"},
		"http.shutdown_timeout":     10 * time.Second,
		"metrics.addr":              "127.0.0.1:9100",
		"log.format":                "json",
		"log.level":                 "info",
		"database.url":              "",
		"database.connect_attempts": 5,
		"session.ttl":               auth.SessionTokenExpiry,
		"otp.ttl":                   auth.OTPExpiry,
		"otp.store":                 OTPStorePostgres,
		"redis.url":                 "",
		"mail.driver":               MailDriverLog,
		"mail.from":                 "",
		"mail.smtp.host":            "",
		"mail.smtp.port":            587,
		"mail.smtp.username":        "",
		"mail.smtp.password":        "",
		"mail.smtp.timeout":         30 * time.Second,
		"mail.queue_size":           256,
		"mail.workers":              2,
		"mail.max_attempts":         3,
		"argon2.time":               argon.Time,
		"argon2.memory_kib":         argon.MemoryKiB,
		"argon2.threads":            argon.Threads,
		"sweep.interval":            5 * time.Minute,
	}
}

// Default returns the built-in configuration.
func Default() Config {
	k := koanf.New(".")
	for key, v := range defaults() {
		_ = k.Set(key, v)
	}
	var cfg Config
	_ = k.Unmarshal("", &cfg)
	return cfg
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"env":             "env",
	"http-addr":       "http.addr",
	"allowed-origins": "http.allowed_origins",
	"metrics-addr":    "metrics.addr",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"otp-store":       "otp.store",
	"mail-driver":     "mail.driver",
	"sweep-interval":  "sweep.interval",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("env", d.Env, "environment (development, production, test)")
	fs.String("http-addr", d.HTTP.Addr, "public API listen address")
	fs.StringSlice("allowed-origins", d.HTTP.AllowedOrigins, "CORS origin glob patterns")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("otp-store", d.OTP.Store, "passcode store (postgres or redis)")
	fs.String("mail-driver", d.Mail.Driver, "mail driver (smtp or log)")
	fs.Duration("sweep-interval", d.Sweep.Interval, "interval between expired row sweeps")
}

// Getenv looks up an environment variable. os.Getenv satisfies it.
type Getenv func(key string) string

// envKeys maps environment variables to configuration keys.
var envKeys = map[string]string{
	"DATABASE_URL":  "database.url",
	"REDIS_URL":     "redis.url",
	"SMTP_PASSWORD": "mail.smtp.password",
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when empty), the flags in fs that were set explicitly (skipped when nil),
// and the environment. The result is validated.
func Load(path string, fs *pflag.FlagSet, getenv Getenv) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	if getenv != nil {
		for env, key := range envKeys {
			if v := strings.TrimSpace(getenv(env)); v != "" {
				if err := k.Set(key, v); err != nil {
					return nil, oops.Code("CONFIG_ENV_FAILED").With("env", env).Wrap(err)
				}
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return invalid("env", "env must be development, production or test, got %q", c.Env)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	for _, pattern := range c.HTTP.AllowedOrigins {
		if _, err := glob.Compile(pattern); err != nil {
			return invalid("http.allowed_origins", "invalid origin pattern %q: %v", pattern, err)
		}
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return invalid("http.shutdown_timeout", "shutdown timeout must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	if c.Database.URL == "" {
		return invalid("database.url", "DATABASE_URL environment variable or database.url is required")
	}
	if c.Database.ConnectAttempts <= 0 {
		return invalid("database.connect_attempts", "connect attempts must be positive")
	}
	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "session ttl must be positive")
	}
	if c.OTP.TTL <= 0 {
		return invalid("otp.ttl", "otp ttl must be positive")
	}
	switch c.OTP.Store {
	case OTPStorePostgres:
	case OTPStoreRedis:
		if c.Redis.URL == "" {
			return invalid("redis.url", "REDIS_URL or redis.url is required when otp.store is redis")
		}
	default:
		return invalid("otp.store", "otp store must be postgres or redis, got %q", c.OTP.Store)
	}
	if err := c.validateMail(); err != nil {
		return err
	}
	if err := c.Argon2Params().Validate(); err != nil {
		return invalid("argon2", "invalid argon2 parameters: %v", err)
	}
	if c.Sweep.Interval <= 0 {
		return invalid("sweep.interval", "sweep interval must be positive")
	}
	return nil
}

func (c *Config) validateMail() error {
	m := c.Mail
	switch m.Driver {
	case MailDriverLog:
		if c.Production() {
			return invalid("mail.driver", "the log mail driver is not allowed in production")
		}
	case MailDriverSMTP:
		if m.SMTP.Host == "" {
			return invalid("mail.smtp.host", "smtp host is required for the smtp driver")
		}
		if m.SMTP.Port <= 0 || m.SMTP.Port > 65535 {
			return invalid("mail.smtp.port", "smtp port out of range: %d", m.SMTP.Port)
		}
		if m.From == "" {
			return invalid("mail.from", "sender address is required for the smtp driver")
		}
		if m.SMTP.Timeout <= 0 {
			return invalid("mail.smtp.timeout", "smtp timeout must be positive")
		}
	default:
		return invalid("mail.driver", "mail driver must be smtp or log, got %q", m.Driver)
	}
	if m.QueueSize <= 0 {
		return invalid("mail.queue_size", "mail queue size must be positive")
	}
	if m.Workers <= 0 {
		return invalid("mail.workers", "mail workers must be positive")
	}
	if m.MaxAttempts <= 0 {
		return invalid("mail.max_attempts", "mail max attempts must be positive")
	}
	return nil
}

// Production reports whether the server runs in the production environment.
func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// Argon2Params returns the hashing parameters with the default salt and key
// lengths.
func (c *Config) Argon2Params() auth.Argon2idParams {
	p := auth.DefaultArgon2idParams()
	p.Time = c.Argon2.Time
	p.MemoryKiB = c.Argon2.MemoryKiB
	p.Threads = c.Argon2.Threads
	return p
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads portal configuration from an optional YAML file and
// command-line flags.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/portal/internal/logging"
)

// Session store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// DatabaseURLEnv is consulted when database.url is not configured.
const DatabaseURLEnv = "DATABASE_URL"

// Config is the complete portal configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Session  SessionConfig  `koanf:"session"`
	Redis    RedisConfig    `koanf:"redis"`
	Auth     AuthConfig     `koanf:"auth"`
}

// HTTPConfig configures the web server. GuardFallback is where the guard
// sends anonymous page loads of protected routes.
type HTTPConfig struct {
	Addr          string `koanf:"addr"`
	GuardFallback string `koanf:"guard_fallback"`
}

// MetricsConfig configures the observability server. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
}

// SessionConfig configures session storage and the session cookie.
type SessionConfig struct {
	Store        string        `koanf:"store"`
	TTL          time.Duration `koanf:"ttl"`
	RememberTTL  time.Duration `koanf:"remember_ttl"`
	CookieName   string        `koanf:"cookie_name"`
	CookieSecure bool          `koanf:"cookie_secure"`
}

// RedisConfig configures the redis session store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// AuthConfig configures credential hashing.
type AuthConfig struct {
	BcryptCost int `koanf:"bcrypt_cost"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Addr: ":8080", GuardFallback: "/"},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: DatabaseConfig{AutoMigrate: true},
		Log:      LogConfig{Format: logging.FormatJSON},
		Session: SessionConfig{
			Store:       StorePostgres,
			TTL:         24 * time.Hour,
			RememberTTL: 14 * 24 * time.Hour,
			CookieName:  "portal_session",
		},
		Redis: RedisConfig{Addr: "localhost:6379", Prefix: "portal"},
		Auth:  AuthConfig{BcryptCost: bcrypt.DefaultCost},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":      "http.addr",
	"guard-fallback": "http.guard_fallback",
	"metrics-addr":   "metrics.addr",
	"database-url":   "database.url",
	"auto-migrate":   "database.auto_migrate",
	"log-format":     "log.format",
	"session-store":  "session.store",
	"session-ttl":    "session.ttl",
	"remember-ttl":   "session.remember_ttl",
	"cookie-name":    "session.cookie_name",
	"cookie-secure":  "session.cookie_secure",
	"redis-addr":     "redis.addr",
	"redis-password": "redis.password",
	"redis-db":       "redis.db",
	"redis-prefix":   "redis.prefix",
	"bcrypt-cost":    "auth.bcrypt_cost",
}

// RegisterDatabaseFlags adds the flags needed to reach the database.
func RegisterDatabaseFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("database-url", d.Database.URL, "PostgreSQL URL (default $"+DatabaseURLEnv+")")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
}

// RegisterFlags adds every server flag to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	RegisterDatabaseFlags(fs)
	fs.String("http-addr", d.HTTP.Addr, "web listen address")
	fs.String("guard-fallback", d.HTTP.GuardFallback, "redirect target for anonymous requests to protected pages")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health listen address (empty = disabled)")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on start")
	fs.String("session-store", d.Session.Store, "session store (postgres or redis)")
	fs.Duration("session-ttl", d.Session.TTL, "lifetime of ordinary sessions")
	fs.Duration("remember-ttl", d.Session.RememberTTL, "lifetime of remember-me sessions")
	fs.String("cookie-name", d.Session.CookieName, "session cookie name")
	fs.Bool("cookie-secure", d.Session.CookieSecure, "mark the session cookie Secure")
	fs.String("redis-addr", d.Redis.Addr, "redis address")
	fs.String("redis-password", d.Redis.Password, "redis password")
	fs.Int("redis-db", d.Redis.DB, "redis database number")
	fs.String("redis-prefix", d.Redis.Prefix, "redis key prefix")
	fs.Int("bcrypt-cost", d.Auth.BcryptCost, "bcrypt work factor")
}

// Loader reads configuration. Getenv defaults to os.Getenv.
type Loader struct {
	Getenv func(string) string
}

// Load builds a Config from Default, then the YAML file at path (or at
// DefaultPath when path is empty and that file exists), then fs. Flags the user set override the file; untouched flags
// only fill keys the file left unset.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	return Loader{}.Load(path, fs)
}

// Load implements the package-level Load.
func (l Loader) Load(path string, fs *pflag.FlagSet) (*Config, error) {
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	if path == "" {
		if p := DefaultPath(getenv); fileExists(p) {
			path = p
		}
	}

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
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
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode configuration").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = getenv(DatabaseURLEnv)
	}
	return &cfg, nil
}

// ValidateDatabase checks the settings every database command needs.
func (c *Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return invalid("database.url", "database url is required (flag --database-url or $"+DatabaseURLEnv+")")
	}
	if logging.ValidateFormat(c.Log.Format) != nil {
		return invalid("log.format", "log format must be %q or %q", logging.FormatJSON, logging.FormatText)
	}
	return nil
}

// Validate checks the full server configuration.
func (c *Config) Validate() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	if !isLocalPath(c.HTTP.GuardFallback) {
		return invalid("http.guard_fallback", "guard fallback must be a local path starting with /")
	}
	switch c.Session.Store {
	case StorePostgres:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return invalid("redis.addr", "redis address is required for the redis session store")
		}
		if c.Redis.DB < 0 {
			return invalid("redis.db", "redis db must not be negative")
		}
	default:
		return invalid("session.store", "session store must be %q or %q", StorePostgres, StoreRedis)
	}
	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "session ttl must be positive")
	}
	if c.Session.RememberTTL <= 0 {
		return invalid("session.remember_ttl", "remember ttl must be positive")
	}
	if c.Session.CookieName == "" {
		return invalid("session.cookie_name", "cookie name is required")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return invalid("auth.bcrypt_cost", "bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

// isLocalPath reports whether p is an absolute path on this host. "//x"
// is a scheme-relative URL and is rejected.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads signon configuration from a YAML file, SIGNON_
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/signon/internal/logging"
	"github.com/holomush/signon/internal/signon"
	"github.com/holomush/signon/internal/xdg"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// key segments: SIGNON_DATABASE__URL sets database.url.
const EnvPrefix = "SIGNON_"

// Config is the complete signon configuration.
type Config struct {
	Telnet   TelnetConfig   `koanf:"telnet"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Routes   RoutesConfig   `koanf:"routes"`
	Form     FormConfig     `koanf:"form"`
	Auth     AuthConfig     `koanf:"auth"`
}

// TelnetConfig configures the sign-on listener.
type TelnetConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the observability server. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
	// AutoMigrate applies pending schema migrations when serve starts.
	AutoMigrate bool `koanf:"auto_migrate"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// RoutesConfig configures post-login navigation.
type RoutesConfig struct {
	Login         string   `koanf:"login"`
	Admin         string   `koanf:"admin"`
	Main          string   `koanf:"main"`
	AllowedReturn []string `koanf:"allowed_return"`
}

// FormConfig configures the sign-on form.
type FormConfig struct {
	ClearPasswordOnFailure bool `koanf:"clear_password_on_failure"`
}

// AuthConfig configures the auth service.
type AuthConfig struct {
	SessionTTL time.Duration `koanf:"session_ttl"`
	// PurgeInterval is how often expired sessions are deleted. Zero
	// disables the purge.
	PurgeInterval time.Duration `koanf:"purge_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Telnet:  TelnetConfig{Addr: ":4201"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9101"},
		Database: DatabaseConfig{
			ConnectAttempts: 5,
			ConnectBackoff:  500 * time.Millisecond,
			AutoMigrate:     true,
		},
		Log: LogConfig{Format: "json", Level: "info"},
		Routes: RoutesConfig{
			Login: "/login",
			Admin: "/menu/admin",
			Main:  "/menu/main",
			AllowedReturn: []string{
				"/menu/**", "/reports", "/reports/**",
				"/accounts/**", "/cards/**", "/transactions/**",
			},
		},
		Auth: AuthConfig{
			SessionTTL:    24 * time.Hour,
			PurgeInterval: 15 * time.Minute,
		},
	}
}

// flagKeys maps command-line flag names to configuration keys. Flags not
// listed here are not configuration.
var flagKeys = map[string]string{
	"telnet-addr":  "telnet.addr",
	"metrics-addr": "metrics.addr",
	"database-url": "database.url",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// RegisterFlags adds the configuration flags to fs with defaults from
// Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("telnet-addr", d.Telnet.Addr, "telnet listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics and health listen address (empty disables)")
	fs.String("database-url", d.Database.URL, "PostgreSQL connection URL")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
}

// Load reads configuration. path names a YAML file; when empty the XDG
// default file is used if it exists. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	filePath, explicit := path, path != ""
	if !explicit {
		def, err := xdg.DefaultConfigFile()
		if err == nil {
			filePath = def
		}
	}
	if filePath != "" {
		if err := loadFile(k, filePath, explicit); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithValue(flags, ".", k, func(name, value string) (string, any) {
			return flagKeys[name], value
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, filePath string, explicit bool) error {
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return oops.Code("CONFIG_NOT_FOUND").With("path", filePath).Wrap(err)
	}
	if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", filePath).Wrap(err)
	}
	return nil
}

// envValue maps SIGNON_ROUTES__ALLOWED_RETURN to routes.allowed_return.
// List keys take comma-separated values.
func envValue(name, value string) (string, any) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, EnvPrefix), "__", "."))
	if _, ok := listKeys[key]; ok {
		return key, splitList(value)
	}
	return key, value
}

var listKeys = map[string]struct{}{
	"routes.allowed_return": {},
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks values that cannot be expressed by types alone.
func (c *Config) Validate() error {
	if c.Telnet.Addr == "" {
		return invalid("telnet.addr", "must not be empty")
	}
	if c.Database.ConnectAttempts == 0 {
		return invalid("database.connect_attempts", "must be at least 1")
	}
	if c.Database.ConnectBackoff < 0 {
		return invalid("database.connect_backoff", "must not be negative")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "must be debug, info, warn or error")
	}
	for key, p := range map[string]string{
		"routes.login": c.Routes.Login,
		"routes.admin": c.Routes.Admin,
		"routes.main":  c.Routes.Main,
	} {
		if !path.IsAbs(p) {
			return invalid(key, "must be an absolute path")
		}
	}
	if c.Auth.SessionTTL <= 0 {
		return invalid("auth.session_ttl", "must be positive")
	}
	if c.Auth.PurgeInterval < 0 {
		return invalid("auth.purge_interval", "must not be negative")
	}
	return nil
}

// RequireDatabase reports CONFIG_INVALID when no database URL is set.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return invalid("database.url", "is required")
	}
	return nil
}

// SignonRoutes converts the routes section for the redirect guard.
func (c *Config) SignonRoutes() signon.Routes {
	return signon.Routes{
		Login: c.Routes.Login,
		Homes: map[signon.Role]string{
			signon.RoleAdmin: c.Routes.Admin,
			signon.RoleUser:  c.Routes.Main,
		},
		AllowedReturn: append([]string(nil), c.Routes.AllowedReturn...),
	}
}

func invalid(key, msg string) error {
	return oops.Code("CONFIG_INVALID").
		With("key", key).
		Errorf("%s %s", key, msg)
}

/*
Package config loads server configuration.

PURPOSE:
  Layered koanf configuration for cmd/server:
    1. defaults     Default()
    2. YAML file    -config flag, else CONFIG_PATH, else ./config.yaml
    3. environment  mapped names below (highest priority)

ENVIRONMENT:
  HTTP_HOST, HTTP_PORT           server.host, server.port
  CORS_ORIGINS                   server.cors_origins (comma separated)
  TRUSTED_PROXIES                server.trusted_proxies (comma separated)
  DB_PATH                        database.path
  LOG_LEVEL, LOG_FORMAT          logging.level, logging.format
  BITLABS_SECRET, BITLABS_SERVER webhook.secret, webhook.server_key
  WEBHOOK_DEBUG                  webhook.allow_debug
  WEBHOOK_MAX_CREDITS            webhook.max_credits
  JWT_SECRET, ADMIN_TOKEN        auth.jwt_secret, auth.admin_token
  RECLAIM_INTERVAL               reclaimer.interval
  RESERVATION_TIMEOUT            reclaimer.timeout
  CATALOG_PATH, SEED_CATALOG     catalog.path, catalog.seed_on_start

SEE ALSO:
  - cmd/server/main.go: flags that override the loaded values
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar names the config file when no -config flag is given.
const PathEnvVar = "CONFIG_PATH"

// DefaultPaths are tried in order when neither flag nor env names a file.
var DefaultPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Logging   LoggingConfig   `koanf:"logging"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Auth      AuthConfig      `koanf:"auth"`
	Reclaimer ReclaimerConfig `koanf:"reclaimer"`
	Catalog   CatalogConfig   `koanf:"catalog"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	TrustedProxies  []string      `koanf:"trusted_proxies"` // peers allowed to set X-Forwarded-For
	RateLimit       int           `koanf:"rate_limit"` // requests per minute per IP, 0 disables
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type DatabaseConfig struct {
	Path string `koanf:"path"` // SQLite file, or ":memory:"
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// WebhookConfig configures the partner callback.
type WebhookConfig struct {
	Source     string `koanf:"source"`
	Secret     string `koanf:"secret"`
	ServerKey  string `koanf:"server_key"`
	MaxBody    int64  `koanf:"max_body"`
	MaxCredits int64  `koanf:"max_credits"` // per event
	AllowDebug bool   `koanf:"allow_debug"`
	RateLimit  int    `koanf:"rate_limit"` // requests per minute per IP, 0 disables
}

type AuthConfig struct {
	JWTSecret  string `koanf:"jwt_secret"`
	Issuer     string `koanf:"issuer"`
	AdminToken string `koanf:"admin_token"`
}

type ReclaimerConfig struct {
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`
}

type CatalogConfig struct {
	Path        string `koanf:"path"` // YAML catalog; empty means the built-in one
	SeedOnStart bool   `koanf:"seed_on_start"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       300,
		},
		Database: DatabaseConfig{Path: "credits.db"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Webhook: WebhookConfig{
			Source:    "bitlabs",
			MaxBody:    64 << 10,
			MaxCredits: 1_000_000,
			RateLimit:  600,
		},
		Reclaimer: ReclaimerConfig{
			Interval: 10 * time.Minute,
			Timeout:  10 * time.Minute,
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	for _, path := range []string{"server.cors_origins", "server.trusted_proxies"} {
		if err := splitList(k, path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envKeys = map[string]string{
	"HTTP_HOST":           "server.host",
	"HTTP_PORT":           "server.port",
	"CORS_ORIGINS":        "server.cors_origins",
	"TRUSTED_PROXIES":     "server.trusted_proxies",
	"API_RATE_LIMIT":      "server.rate_limit",
	"DB_PATH":             "database.path",
	"LOG_LEVEL":           "logging.level",
	"LOG_FORMAT":          "logging.format",
	"LOG_CALLER":          "logging.caller",
	"BITLABS_SECRET":      "webhook.secret",
	"BITLABS_SERVER":      "webhook.server_key",
	"WEBHOOK_DEBUG":       "webhook.allow_debug",
	"WEBHOOK_MAX_BODY":    "webhook.max_body",
	"WEBHOOK_MAX_CREDITS": "webhook.max_credits",
	"WEBHOOK_RATE_LIMIT":  "webhook.rate_limit",
	"JWT_SECRET":          "auth.jwt_secret",
	"JWT_ISSUER":          "auth.issuer",
	"ADMIN_TOKEN":         "auth.admin_token",
	"RECLAIM_INTERVAL":    "reclaimer.interval",
	"RESERVATION_TIMEOUT": "reclaimer.timeout",
	"CATALOG_PATH":        "catalog.path",
	"SEED_CATALOG":        "catalog.seed_on_start",
}

// envKey maps a variable to its config path; unknown variables are skipped.
func envKey(name string) string {
	return envKeys[strings.ToUpper(name)]
}

// splitList turns a comma separated env value into a slice.
func splitList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return k.Set(path, out)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 || c.Webhook.RateLimit < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}
	if c.Webhook.Source == "" {
		errs = append(errs, errors.New("webhook.source is required"))
	}
	if c.Webhook.MaxBody <= 0 {
		errs = append(errs, errors.New("webhook.max_body must be positive"))
	}
	if c.Webhook.MaxCredits <= 0 {
		errs = append(errs, errors.New("webhook.max_credits must be positive"))
	}
	if c.Reclaimer.Interval <= 0 || c.Reclaimer.Timeout <= 0 {
		errs = append(errs, errors.New("reclaimer interval and timeout must be positive"))
	}
	return errors.Join(errs...)
}

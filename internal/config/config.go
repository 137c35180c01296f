package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/reqguard/internal/apperr"
	"github.com/tjfontaine/reqguard/internal/cipher"
	"github.com/tjfontaine/reqguard/internal/route"
)

// DefaultPath is the config file read by Load.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore, e.g. REQGUARD_SERVER__PORT.
const EnvPrefix = "REQGUARD_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Token     TokenConfig     `koanf:"token"`
	Auth      AuthConfig      `koanf:"auth"`
	Logging   LoggingConfig   `koanf:"logging"`
	Version   VersionConfig   `koanf:"version"`
	Whitelist WhitelistConfig `koanf:"whitelist"`
	Storage   StorageConfig   `koanf:"storage"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type TokenConfig struct {
	Key    string `koanf:"key"`    // base64 AES key, 16/24/32 bytes once decoded
	Prefix string `koanf:"prefix"` // prepended to every issued token
	Param  string `koanf:"param"`  // query/form parameter and header name
}

type AuthConfig struct {
	Skip [][]string `koanf:"skip"` // [method, uri-regex] pairs exempt from auth
}

type LoggingConfig struct {
	Level       string     `koanf:"level"`  // debug, info, warn, error
	Format      string     `koanf:"format"` // json, text
	LogErrors   bool       `koanf:"log_errors"`
	Skip        [][]string `koanf:"skip"` // [method, uri-regex] pairs logged only on failure
	ExtraHeader string     `koanf:"extra_header"`
}

// VersionConfig configures the client version gate. An empty Build disables it.
type VersionConfig struct {
	Header string `koanf:"header"`
	Build  string `koanf:"build"`
}

type WhitelistConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Users          []string      `koanf:"users"`
	File           string        `koanf:"file"`
	ReloadInterval time.Duration `koanf:"reload_interval"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// RateLimitConfig allows Requests per client IP in each Window. Zero
// Requests disables limiting.
type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":               8080,
	"server.request_timeout":    "30s",
	"token.param":               "token",
	"auth.skip":                 [][]string{{"GET", "/health"}, {"POST", "/api/session"}},
	"logging.level":             "info",
	"logging.format":            "json",
	"logging.skip":              [][]string{{"GET", "/health"}},
	"version.header":            "X-Client-Version",
	"whitelist.reload_interval": "1s",
	"storage.type":              "memory",
	"storage.sqlite.path":       "reqguard.db",
	"ratelimit.window":          "1m",
	"telemetry.service_name":    "reqguard",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads DefaultPath (if present) and environment overrides.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads path (if present) and environment overrides.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "decode configuration", err)
	}

	cfg.Token.Key = substituteEnvVars(cfg.Token.Key)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate reports the first configuration fault.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperr.Newf(apperr.KindConfiguration, "server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Token.Key) == "" {
		return apperr.Configuration("token.key is required")
	}
	if _, err := cipher.New(c.Token.Key); err != nil {
		return apperr.Wrap(apperr.KindConfiguration, "token.key: "+apperr.Message(err), err)
	}
	if _, err := route.Compile(c.Auth.Skip); err != nil {
		return apperr.Wrap(apperr.KindConfiguration, "auth.skip: "+err.Error(), err)
	}
	if _, err := route.Compile(c.Logging.Skip); err != nil {
		return apperr.Wrap(apperr.KindConfiguration, "logging.skip: "+err.Error(), err)
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return apperr.Newf(apperr.KindConfiguration, "logging.format %q must be json or text", c.Logging.Format)
	}
	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return apperr.Configuration("storage.sqlite.path is required for sqlite storage")
		}
	default:
		return apperr.Newf(apperr.KindConfiguration, "unknown storage.type %q", c.Storage.Type)
	}
	if c.RateLimit.Requests < 0 {
		return apperr.Configuration("ratelimit.requests must not be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return apperr.Configuration("ratelimit.window must be positive when ratelimit.requests is set")
	}
	return nil
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, apperr.Wrap(apperr.KindConfiguration, fmt.Sprintf("logging.level %q", l.Level), err)
	}
	return level, nil
}

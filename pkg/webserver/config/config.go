// Package config loads the webserver configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/htrucci/jwp-was-kakao/pkg/webserver/observe/apm"
	"github.com/htrucci/jwp-was-kakao/pkg/webserver/server"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete process configuration.
type Config struct {
	Server   server.Config `yaml:"server"`
	Static   StaticConfig  `yaml:"static"`
	Session  SessionConfig `yaml:"session"`
	Log      LogConfig     `yaml:"log"`
	Metrics  MetricsConfig `yaml:"metrics"`
	NewRelic apm.Config    `yaml:"newrelic"`
}

// StaticConfig configures file serving.
type StaticConfig struct {
	// Root serves /css, /js and /fonts.
	// Default: "./static"
	Root string `yaml:"root"`

	// Templates serves *.html pages.
	// Default: "./templates"
	Templates string `yaml:"templates"`

	// CacheEntries bounds the number of cached files. 0 disables caching.
	// Default: 256
	CacheEntries int `yaml:"cache_entries"`

	// CacheTTL bounds how long a cached file is trusted.
	// Default: 5 minutes
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Compress enables br/gzip content coding.
	Compress bool `yaml:"compress"`

	// Watch invalidates cached files when they change on disk.
	Watch bool `yaml:"watch"`
}

// SessionConfig configures login sessions.
type SessionConfig struct {
	// Secret signs session tokens. Must be at least 32 bytes.
	Secret string `yaml:"secret"`

	// TTL is the session lifetime.
	// Default: 24 hours
	TTL time.Duration `yaml:"ttl"`

	// CookieName is the name of the session cookie.
	// Default: "session"
	CookieName string `yaml:"cookie_name"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is a zerolog level name.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "console".
	// Default: "json"
	Format string `yaml:"format"`

	// Dump logs full request and response heads at debug level.
	Dump bool `yaml:"dump"`

	// SkipPaths produce no access line.
	SkipPaths []string `yaml:"skip_paths"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is served with GET.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: server.DefaultConfig(),
		Static: StaticConfig{
			Root:         "./static",
			Templates:    "./templates",
			CacheEntries: 256,
			CacheTTL:     5 * time.Minute,
			Compress:     true,
			Watch:        true,
		},
		Session: SessionConfig{
			TTL:        24 * time.Hour,
			CookieName: "session",
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			SkipPaths: []string{"/metrics"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		NewRelic: apm.Config{
			AppName: "webserver",
		},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values; unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Fields the document leaves empty fall back
// to their defaults.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField()); err != nil {
		return err
	}
	cfg.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.ReadBufferSize <= 0 {
		c.Server.ReadBufferSize = d.Server.ReadBufferSize
	}
	if c.Server.WriteBufferSize <= 0 {
		c.Server.WriteBufferSize = d.Server.WriteBufferSize
	}
	if c.Server.Limits.MaxRequestLineSize <= 0 {
		c.Server.Limits.MaxRequestLineSize = d.Server.Limits.MaxRequestLineSize
	}
	if c.Server.Limits.MaxHeadersSize <= 0 {
		c.Server.Limits.MaxHeadersSize = d.Server.Limits.MaxHeadersSize
	}
	if c.Server.Limits.MaxHeaders <= 0 {
		c.Server.Limits.MaxHeaders = d.Server.Limits.MaxHeaders
	}
	if c.Server.Limits.MaxBodySize <= 0 {
		c.Server.Limits.MaxBodySize = d.Server.Limits.MaxBodySize
	}
	if c.Static.Root == "" {
		c.Static.Root = d.Static.Root
	}
	if c.Static.Templates == "" {
		c.Static.Templates = d.Static.Templates
	}
	if c.Static.CacheTTL <= 0 {
		c.Static.CacheTTL = d.Static.CacheTTL
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = d.Session.TTL
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = d.Session.CookieName
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
	if c.NewRelic.AppName == "" {
		c.NewRelic.AppName = d.NewRelic.AppName
	}
}

// Validate reports every problem found in one error.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is empty")
	}
	if c.Server.MaxConcurrentConnections < 0 {
		problems = append(problems, "server.max_concurrent_connections is negative")
	}
	if c.Static.Root == "" {
		problems = append(problems, "static.root is empty")
	}
	if c.Static.Templates == "" {
		problems = append(problems, "static.templates is empty")
	}
	if c.Static.CacheEntries < 0 {
		problems = append(problems, "static.cache_entries is negative")
	}
	if len(c.Session.Secret) < 32 {
		problems = append(problems, "session.secret must be at least 32 bytes")
	}
	if c.Session.TTL <= 0 {
		problems = append(problems, "session.ttl must be positive")
	}
	if c.Session.CookieName == "" || strings.ContainsAny(c.Session.CookieName, "=; \t") {
		problems = append(problems, "session.cookie_name is not a valid cookie name")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not json or console", c.Log.Format))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		problems = append(problems, "metrics.path must start with /")
	}
	if c.NewRelic.Enabled && c.NewRelic.License == "" {
		problems = append(problems, "newrelic.license is required when newrelic is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

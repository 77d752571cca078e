// Package config loads pkgcache's YAML configuration.
//
// Precedence, lowest first: defaults, the config file, PKGCACHE_*
// environment variables, command-line flags (applied by the caller).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvConfig   = "PKGCACHE_CONFIG"
	EnvCacheDir = "PKGCACHE_CACHE_DIR"
	EnvLogLevel = "PKGCACHE_LOG_LEVEL"
	EnvAuditDB  = "PKGCACHE_AUDIT_DB"
)

// Config is the whole configuration.
type Config struct {
	// CacheDir is the cache root.
	CacheDir string `yaml:"cache_dir"`
	// ShortPathsDir holds packages of recipes that request short paths.
	// Default: <cache_dir>/short
	ShortPathsDir string `yaml:"short_paths_dir"`
	// AuditDB is the SQLite audit database. Empty disables the audit log.
	AuditDB string `yaml:"audit_db"`
	// MetricsFile, when set, receives a Prometheus textfile after each run.
	MetricsFile string      `yaml:"metrics_file"`
	Log         LogConfig   `yaml:"log"`
	Build       BuildConfig `yaml:"build"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// BuildConfig configures the build step of build-mode exports.
type BuildConfig struct {
	Shell string            `yaml:"shell"`
	Env   map[string]string `yaml:"env"`
	// PassEnv names host variables visible to the build command.
	PassEnv []string `yaml:"pass_env"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	root := "pkgcache"
	if dir, err := os.UserCacheDir(); err == nil {
		root = filepath.Join(dir, "pkgcache")
	}
	return &Config{
		CacheDir: root,
		Log:      LogConfig{Level: "info", Format: "text"},
		Build:    BuildConfig{Shell: "sh", PassEnv: []string{"PATH"}},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path falls back to $PKGCACHE_CONFIG; with neither, only defaults
// and environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvAuditDB); v != "" {
		c.AuditDB = v
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.CacheDir == "" {
		errs = append(errs, errors.New("cache_dir is required"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	for k := range c.Build.Env {
		if k == "" || strings.ContainsAny(k, "= ") {
			errs = append(errs, fmt.Errorf("build.env: invalid variable name %q", k))
		}
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level: unknown level %q", s)
}

// NewLogger builds the slog logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Package config provides application settings loaded from a file and the environment.
//
// Settings are created via Load() which handles:
// - Default value application
// - Optional YAML/TOML/JSON config file
// - MARKOV_* environment overrides (store.path -> MARKOV_STORE_PATH)
// - Validation, collecting every problem rather than stopping at the first

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/richinex/markov/internal/errs"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "MARKOV"

// Settings holds all application configuration.
type Settings struct {
	Store    StoreConfig    `mapstructure:"store"`
	Model    ModelConfig    `mapstructure:"model"`
	Generate GenerateConfig `mapstructure:"generate"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Log      LogConfig      `mapstructure:"log"`
}

// StoreConfig locates the frequency store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ModelConfig holds the Markov model shape.
type ModelConfig struct {
	ContextLength int `mapstructure:"context_length"`
}

// GenerateConfig holds generation limits.
type GenerateConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

// IngestConfig holds ingestion policy.
type IngestConfig struct {
	LineFilter string `mapstructure:"line_filter"`
}

// FetchConfig holds page retrieval settings.
type FetchConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	CacheDir       string `mapstructure:"cache_dir"`
}

// Timeout returns the request timeout as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"store.path":            "markov.db",
	"model.context_length":  8,
	"generate.max_length":   250,
	"ingest.line_filter":    "printable",
	"fetch.base_url":        "https://en.wikipedia.org/api/rest_v1/page/html/",
	"fetch.timeout_seconds": 30,
	"fetch.cache_dir":       "res",
	"log.level":             "info",
	"log.format":            "text",
}

// Load reads configuration from path (optional) with MARKOV_* environment
// overrides applied on top.
func Load(path string) (Settings, error) {
	v := viper.New()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, errs.Errorf(errs.CodeConfigInvalid, "reading config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errs.Errorf(errs.CodeConfigInvalid, "unmarshalling config: %w", err)
	}

	if problems := s.Validate(); len(problems) > 0 {
		return Settings{}, errs.Errorf(errs.CodeConfigInvalid, "validating config: %w", errors.Join(problems...))
	}

	return s, nil
}

// New loads settings from defaults and the environment only.
func New() (Settings, error) {
	return Load("")
}

// MustNew loads settings from defaults and the environment.
// Panics if the environment holds invalid values.
// Use this only when configuration errors should be fatal.
func MustNew() Settings {
	s, err := New()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return s
}

// Validate checks the settings for logical errors.
func (s Settings) Validate() []error {
	var problems []error

	invalid := func(key, format string, args ...any) {
		problems = append(problems, errs.Errorf(errs.CodeConfigInvalid,
			"invalid value for %s: "+format, append([]any{key}, args...)...))
	}

	if strings.TrimSpace(s.Store.Path) == "" {
		invalid("store.path", "must not be empty")
	}
	if s.Model.ContextLength <= 0 {
		invalid("model.context_length", "must be positive, got %d", s.Model.ContextLength)
	}
	if s.Generate.MaxLength <= 0 {
		invalid("generate.max_length", "must be positive, got %d", s.Generate.MaxLength)
	}

	switch strings.ToLower(s.Ingest.LineFilter) {
	case "printable", "none", "all":
	default:
		invalid("ingest.line_filter", "must be one of [printable, none], got %q", s.Ingest.LineFilter)
	}

	if u, err := url.Parse(s.Fetch.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		invalid("fetch.base_url", "must be an absolute URL, got %q", s.Fetch.BaseURL)
	}
	if s.Fetch.TimeoutSeconds <= 0 {
		invalid("fetch.timeout_seconds", "must be positive, got %d", s.Fetch.TimeoutSeconds)
	}
	if strings.TrimSpace(s.Fetch.CacheDir) == "" {
		invalid("fetch.cache_dir", "must not be empty")
	}

	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		invalid("log.level", "must be one of [debug, info, warn, error], got %q", s.Log.Level)
	}
	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		invalid("log.format", "must be one of [text, json], got %q", s.Log.Format)
	}

	return problems
}

// Package config handles application configuration from config.toml and
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"rssel/internal/filter"
	"rssel/internal/model"
)

const (
	// FileName is the config file inside the home directory.
	FileName = "config.toml"

	// DefaultHome is used when neither --home nor RSSEL_HOME is set.
	DefaultHome = ".rssel"
)

// Supported export formats.
var exportFormats = []string{"md", "txt", "json", "html"}

// Config holds the application configuration. It is built once at process
// start and passed to the components that need it.
type Config struct {
	Home string `toml:"-"`

	DatabasePath  string `toml:"database_path"`
	SourcesFile   string `toml:"sources_file"`
	StopwordsFile string `toml:"stopwords_file"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	FetchTimeout  string `toml:"fetch_timeout"`
	UserAgent     string `toml:"user_agent"`

	Tagging TaggingConfig `toml:"tagging"`
	Export  ExportConfig  `toml:"export"`
	Query   QueryConfig   `toml:"query"`
	Notify  NotifyConfig  `toml:"notify"`
	Server  ServerConfig  `toml:"server"`
}

// TaggingConfig controls the auto-tag stage of sync.
type TaggingConfig struct {
	Enabled       bool `toml:"enabled"`
	MaxTags       int  `toml:"max_tags"`
	MinLength     int  `toml:"min_length"`
	IncludeDomain bool `toml:"include_domain"`
}

// ExportConfig controls the file-tree export stage of sync.
type ExportConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
	Format  string `toml:"format"`
}

// QueryConfig holds query engine defaults.
type QueryConfig struct {
	DefaultLimit int `toml:"default_limit"`
	NewHours     int `toml:"new_hours"`
}

// NotifyConfig controls the optional Telegram notification stage.
// Include and Exclude entries prefixed with "re:" are regular expressions.
type NotifyConfig struct {
	Enabled          bool     `toml:"enabled"`
	TelegramBotToken string   `toml:"telegram_bot_token"`
	ChatID           int64    `toml:"chat_id"`
	Include          []string `toml:"include,omitempty"`
	Exclude          []string `toml:"exclude,omitempty"`
	MaxPerRun        int      `toml:"max_per_run"`
	WindowHours      int      `toml:"window_hours"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// Default returns the configuration used when no file is present.
func Default(home string) *Config {
	return &Config{
		Home:          home,
		DatabasePath:  filepath.Join(home, "rssel.db"),
		SourcesFile:   filepath.Join(home, "sources.json"),
		StopwordsFile: filepath.Join(home, "stopwords.txt"),
		LogLevel:      "info",
		LogFormat:     "text",
		FetchTimeout:  "15s",
		UserAgent:     "rssel/1.0",
		Tagging: TaggingConfig{
			Enabled:   true,
			MaxTags:   5,
			MinLength: 3,
		},
		Export: ExportConfig{
			Enabled: true,
			Dir:     filepath.Join(home, "fs"),
			Format:  "md",
		},
		Query: QueryConfig{
			DefaultLimit: 500,
			NewHours:     24,
		},
		Notify: NotifyConfig{
			MaxPerRun:   20,
			WindowHours: 24,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8089",
		},
	}
}

// ResolveHome picks the home directory: the override, then RSSEL_HOME,
// then ./.rssel.
func ResolveHome(override string) string {
	if override != "" {
		return override
	}
	if v := os.Getenv("RSSEL_HOME"); v != "" {
		return v
	}
	return DefaultHome
}

// Path returns the config file location for a home directory.
func Path(home string) string {
	return filepath.Join(home, FileName)
}

// Load reads <home>/config.toml (if present) over the defaults and applies
// environment overrides.
func Load(home string) (*Config, error) {
	home = ResolveHome(home)
	cfg := Default(home)

	path := Path(home)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	cfg.Home = home

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("RSSEL_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("RSSEL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RSSEL_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.TelegramBotToken = v
	}
	if raw := os.Getenv("RSSEL_TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat ID %q in RSSEL_TELEGRAM_CHAT_ID: %w", raw, err)
		}
		c.Notify.ChatID = id
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := c.FetchTimeoutDuration(); err != nil {
		return err
	}
	if c.Tagging.MaxTags < 1 {
		return fmt.Errorf("tagging.max_tags must be positive, got %d", c.Tagging.MaxTags)
	}
	if c.Tagging.MinLength < 1 {
		return fmt.Errorf("tagging.min_length must be positive, got %d", c.Tagging.MinLength)
	}
	if c.Query.DefaultLimit < 0 {
		return fmt.Errorf("query.default_limit must not be negative, got %d", c.Query.DefaultLimit)
	}
	if c.Query.NewHours < 1 {
		return fmt.Errorf("query.new_hours must be positive, got %d", c.Query.NewHours)
	}
	if !ValidExportFormat(c.Export.Format) {
		return fmt.Errorf("export.format must be one of %s, got %q", strings.Join(exportFormats, ", "), c.Export.Format)
	}
	if c.Notify.Enabled && (c.Notify.TelegramBotToken == "" || c.Notify.ChatID == 0) {
		return errors.New("notify requires telegram_bot_token and chat_id")
	}
	for _, f := range c.NotifyFilters() {
		if f.Kind != model.FilterIncludeRe && f.Kind != model.FilterExcludeRe {
			continue
		}
		if err := filter.ValidateRegex(f.Value); err != nil {
			return fmt.Errorf("notify filter %q: %w", f.Value, err)
		}
	}
	return nil
}

// FetchTimeoutDuration parses the fetch_timeout setting.
func (c *Config) FetchTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.FetchTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid fetch_timeout %q: %w", c.FetchTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("fetch_timeout must be positive, got %s", d)
	}
	return d, nil
}

// NotifyFilters converts the notify include/exclude lists into filter rules.
func (c *Config) NotifyFilters() []model.Filter {
	var out []model.Filter
	add := func(values []string, word, re model.FilterKind) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if pattern, ok := strings.CutPrefix(v, "re:"); ok {
				out = append(out, model.Filter{Kind: re, Scope: model.ScopeAll, Value: pattern})
				continue
			}
			out = append(out, model.Filter{Kind: word, Scope: model.ScopeAll, Value: v})
		}
	}
	add(c.Notify.Include, model.FilterInclude, model.FilterIncludeRe)
	add(c.Notify.Exclude, model.FilterExclude, model.FilterExcludeRe)
	return out
}

// ValidExportFormat reports whether f names a supported export format.
func ValidExportFormat(f string) bool {
	return slices.Contains(exportFormats, f)
}

// Template renders cfg as a config.toml document.
func Template(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# rssel configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

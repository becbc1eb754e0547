// Package logger builds the slog.Logger shared by every rssel component.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Supported output formats.
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

type config struct {
	level  slog.Level
	format string
	writer io.Writer
}

// Option configures a Logger created with New.
type Option func(*config)

// WithLevel sets the minimum level from its textual name.
func WithLevel(level string) Option {
	return func(c *config) {
		c.level = ParseLevel(level)
	}
}

// WithFormat selects text, json, or pretty output.
func WithFormat(format string) Option {
	return func(c *config) {
		c.format = strings.ToLower(format)
	}
}

// WithWriter overrides the output writer. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writer = w
	}
}

// New returns a logger configured by opts.
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo, format: FormatText, writer: os.Stderr}
	for _, o := range opts {
		o(c)
	}

	switch c.format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(c.writer, &slog.HandlerOptions{Level: c.level}))
	case FormatPretty:
		h := charmlog.NewWithOptions(c.writer, charmlog.Options{
			Level:           charmLevel(c.level),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
		})
		return slog.New(h)
	default:
		return slog.New(slog.NewTextHandler(c.writer, &slog.HandlerOptions{Level: c.level}))
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func charmLevel(l slog.Level) charmlog.Level {
	switch {
	case l <= slog.LevelDebug:
		return charmlog.DebugLevel
	case l <= slog.LevelInfo:
		return charmlog.InfoLevel
	case l <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}

// Package cli provides the rssel command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rssel/internal/config"
	"rssel/internal/logger"
	"rssel/internal/query"
	"rssel/internal/storage"
)

const rootLongDesc string = `rssel collects RSS and Atom feeds into a local SQLite archive.

Sources are listed in <home>/sources.json. A sync fetches them, stores new
items, tags them, mirrors them to a file tree and optionally pushes them to
Telegram. The archive can then be listed, filtered and grouped from the
command line or over a JSON API.

The home directory is --home, then $RSSEL_HOME, then ./.rssel.

Examples:
  rssel init
  rssel sync --group go
  rssel list --unread --group-by group
  rssel serve`

const rootShortDesc string = "rssel - a local feed archive"

// globals are the persistent flags shared by every command.
type globals struct {
	home      string
	logLevel  string
	logFormat string
}

// NewRootCmd builds the rssel command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "rssel",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.home, "home", "", "rssel home directory (default $RSSEL_HOME or ./.rssel)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: text, json, pretty (overrides config)")

	cmd.AddCommand(
		newInitCmd(g),
		newSourcesCmd(g),
		newFetchCmd(g),
		newSyncCmd(g),
		newListCmd(g),
		newNextCmd(g),
		newTagsCmd(g),
		newMarkCmd(g),
		newStarCmd(g),
		newArchiveCmd(g),
		newPurgeCmd(g),
		newServeCmd(g),
	)

	return cmd
}

// app bundles what a command needs once the home directory is known.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *storage.SQLite
	engine *query.Engine
	out    io.Writer
}

func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.home)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func (g *globals) newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.LogLevel
	if g.logLevel != "" {
		level = g.logLevel
	}
	format := cfg.LogFormat
	if g.logFormat != "" {
		format = g.logFormat
	}
	return logger.New(logger.WithLevel(level), logger.WithFormat(format), logger.WithWriter(w))
}

// open loads the config, builds the logger and opens the database,
// creating its directory when needed.
func (g *globals) open(cmd *cobra.Command) (*app, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	log := g.newLogger(cfg, cmd.ErrOrStderr())

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	log.Debug("database opened", "path", cfg.DatabasePath)

	return &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		engine: query.New(store.DB(), cfg.Query.DefaultLimit),
		out:    cmd.OutOrStdout(),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp adapts a command body that needs an open app into a RunE.
func withApp(g *globals, run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := g.open(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		return run(cmd, a, args)
	}
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"rssel/migrations"
)

// TimeLayout is the on-disk format of every timestamp column. Values sort
// lexicographically in time order.
const TimeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite opens a SQLite database at path and runs pending migrations.
func NewSQLite(path string) (*SQLite, error) {
	raw, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes
	// writers within the process.
	raw.SetMaxOpenConns(1)

	if _, err := raw.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(raw); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: sqlx.NewDb(raw, "sqlite3")}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle.
func (s *SQLite) DB() *sqlx.DB {
	return s.db
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FormatTime renders t in the storage layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp, returning the zero time on failure.
func ParseTime(s string) time.Time {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return FormatTime(t)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := ParseTime(ns.String)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed conditions whose slice arguments are expanded
// by sqlx.In.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// requireItems fails with ErrNotFound unless every id exists.
func requireItems(ctx context.Context, q sqlx.QueryerContext, ids []int64) error {
	ids = uniqueIDs(ids)
	query, args, err := sqlx.In(`SELECT id FROM items WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build item lookup: %w", err)
	}
	var found []int64
	if err := sqlx.SelectContext(ctx, q, &found, query, args...); err != nil {
		return fmt.Errorf("lookup items: %w", err)
	}
	if len(found) == len(ids) {
		return nil
	}
	have := make(map[int64]bool, len(found))
	for _, id := range found {
		have[id] = true
	}
	var missing []string
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, fmt.Sprint(id))
		}
	}
	return fmt.Errorf("item %s: %w", strings.Join(missing, ", "), ErrNotFound)
}

func execIn(ctx context.Context, e sqlx.ExtContext, query string, args ...any) (int, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := e.ExecContext(ctx, q, a...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

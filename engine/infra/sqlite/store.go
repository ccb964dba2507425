package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/examforge/examforge/pkg/logger"
	"github.com/google/uuid"
)

type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens the database at path. ":memory:" yields a database private
// to this store but shared by all of its pooled connections.
func NewStore(ctx context.Context, path string) (*Store, error) {
	return NewStoreWithConfig(ctx, &Config{Path: path})
}

func NewStoreWithConfig(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil || strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	db, err := sql.Open("sqlite", buildDSN(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	switch {
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	case cfg.Path == memoryPath:
		// shared-cache tables lock per connection; one writer avoids SQLITE_LOCKED
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping database: %w", err)
	}
	if err := applyBusyTimeout(ctx, db, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.FromContext(ctx).Debug("SQLite store opened", "path", cfg.Path)
	return &Store{db: db, path: cfg.Path}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close(ctx context.Context) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	logger.FromContext(ctx).Debug("SQLite store closed", "path", s.path)
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: health check: %w", err)
	}
	return nil
}

func buildDSN(path string) string {
	if path == memoryPath {
		// a named shared-cache database keeps pooled connections on the same data
		return fmt.Sprintf("file:examforge-%s?mode=memory&cache=shared&_pragma=foreign_keys(ON)", uuid.NewString())
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", defaultBusyTimeout.Milliseconds()))
	return "file:" + path + "?" + unescapePragmas(q.Encode())
}

// unescapePragmas keeps pragma parentheses readable in the DSN.
func unescapePragmas(s string) string {
	return strings.NewReplacer("%28", "(", "%29", ")").Replace(s)
}

func applyBusyTimeout(ctx context.Context, db *sql.DB, cfg *Config) error {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", timeout.Milliseconds())); err != nil {
		return fmt.Errorf("sqlite: set busy timeout: %w", err)
	}
	return nil
}

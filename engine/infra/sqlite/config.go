package sqlite

import "time"

const (
	memoryPath         = ":memory:"
	defaultBusyTimeout = 5 * time.Second
)

// Config captures SQLite store configuration derived from application settings.
type Config struct {
	// Path is the database file or ":memory:" for a private in-memory database.
	Path string
	// MaxOpenConns controls the pool size exposed by database/sql.
	MaxOpenConns int
	BusyTimeout  time.Duration
}

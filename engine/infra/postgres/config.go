package postgres

import "time"

// Config holds PostgreSQL connection settings for the driver.
type Config struct {
	ConnString  string
	MaxConns    int32
	PingTimeout time.Duration
}

// Package sqlite provides the modernc.org/sqlite backed task store.
//
// It mirrors the postgres driver layout: a Store owning the connection pool,
// embedded goose migrations, and a task.Repository implementation.
package sqlite

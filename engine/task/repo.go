package task

import (
	"context"

	"github.com/examforge/examforge/engine/core"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Repository persists tasks. Drivers must enforce the same transition rules
// as the Apply* helpers: MarkRunning repeats are no-ops, progress never goes
// down and only moves while RUNNING, and terminal states are written once.
type Repository interface {
	Insert(ctx context.Context, t *Task) error
	MarkRunning(ctx context.Context, id core.ID) error
	UpdateProgress(ctx context.Context, id core.ID, percent int, message string) error
	MarkSuccess(ctx context.Context, id core.ID, c *Completion) error
	MarkFailed(ctx context.Context, id core.ID, message string) error
	FindByID(ctx context.Context, id core.ID) (*Task, error)
	// FindRecentByOwner lists newest first. An empty kind matches both kinds.
	FindRecentByOwner(ctx context.Context, ownerID string, limit int, kind Kind) ([]*Task, error)
	// Delete reports false when no task with that id belongs to ownerID.
	Delete(ctx context.Context, id core.ID, ownerID string) (bool, error)
}

// ClampLimit maps a requested page size into [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

// Package memory keeps tasks in process memory. It backs tests and
// store.driver=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/engine/task"
)

type TaskRepo struct {
	mu    sync.RWMutex
	tasks map[core.ID]*task.Task
	now   func() time.Time
}

func NewTaskRepo() *TaskRepo {
	return &TaskRepo{
		tasks: make(map[core.ID]*task.Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *TaskRepo) Insert(_ context.Context, t *task.Task) error {
	if t == nil || t.ID.IsZero() {
		return core.NewValidationError("id", "is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; ok {
		return core.NewValidationError("id", "already exists")
	}
	r.tasks[t.ID] = t.Clone()
	return nil
}

func (r *TaskRepo) MarkRunning(_ context.Context, id core.ID) error {
	return r.update(id, func(t *task.Task) error {
		_, err := t.ApplyRunning(r.now())
		return err
	})
}

func (r *TaskRepo) UpdateProgress(_ context.Context, id core.ID, percent int, message string) error {
	return r.update(id, func(t *task.Task) error {
		t.ApplyProgress(percent, message, r.now())
		return nil
	})
}

func (r *TaskRepo) MarkSuccess(_ context.Context, id core.ID, c *task.Completion) error {
	return r.update(id, func(t *task.Task) error {
		return t.ApplySuccess(c, r.now())
	})
}

func (r *TaskRepo) MarkFailed(_ context.Context, id core.ID, message string) error {
	return r.update(id, func(t *task.Task) error {
		return t.ApplyFailure(message, r.now())
	})
}

func (r *TaskRepo) FindByID(_ context.Context, id core.ID) (*task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *TaskRepo) FindRecentByOwner(_ context.Context, ownerID string, limit int, kind task.Kind) ([]*task.Task, error) {
	r.mu.RLock()
	out := []*task.Task{}
	for _, t := range r.tasks {
		if t.OwnerID != ownerID || (kind != "" && t.Kind != kind) {
			continue
		}
		out = append(out, t.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = task.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TaskRepo) Delete(_ context.Context, id core.ID, ownerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return false, nil
	}
	delete(r.tasks, id)
	return true, nil
}

func (r *TaskRepo) update(id core.ID, fn func(t *task.Task) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return task.ErrNotFound
	}
	return fn(t)
}

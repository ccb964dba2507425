// Package tasktest holds the behavior every task.Repository driver must share.
package tasktest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/engine/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewTask builds a pending task for owner with the given kind.
func NewTask(t *testing.T, owner string, kind task.Kind) *task.Task {
	t.Helper()
	tk, err := task.New(owner, kind, map[string]any{"owner": owner}, true, "AIfromself", 3)
	require.NoError(t, err)
	return tk
}

// RunRepositoryContract exercises repo through a full task lifecycle. factory
// must return an empty repository on every call.
func RunRepositoryContract(t *testing.T, factory func(t *testing.T) task.Repository) {
	t.Run("Should insert and find a task", func(t *testing.T) {
		repo := factory(t)
		tk := NewTask(t, "alice", task.KindPaper)
		require.NoError(t, repo.Insert(t.Context(), tk))
		got, err := repo.FindByID(t.Context(), tk.ID)
		require.NoError(t, err)
		assert.Equal(t, tk.ID, got.ID)
		assert.Equal(t, "alice", got.OwnerID)
		assert.Equal(t, task.KindPaper, got.Kind)
		assert.Equal(t, task.StatusPending, got.Status)
		assert.Equal(t, 0, got.Progress)
		assert.Equal(t, 3, got.RequestedTotal)
		assert.True(t, got.Async)
		assert.Equal(t, "AIfromself", got.Source)
		assert.JSONEq(t, `{"owner":"alice"}`, string(got.Payload))
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("Should return ErrNotFound for unknown ids", func(t *testing.T) {
		repo := factory(t)
		missing := core.MustNewID()
		_, err := repo.FindByID(t.Context(), missing)
		assert.ErrorIs(t, err, task.ErrNotFound)
		assert.ErrorIs(t, repo.MarkRunning(t.Context(), missing), task.ErrNotFound)
		assert.ErrorIs(t, repo.MarkFailed(t.Context(), missing, "x"), task.ErrNotFound)
		assert.ErrorIs(t, repo.MarkSuccess(t.Context(), missing, &task.Completion{}), task.ErrNotFound)
	})

	t.Run("Should run a task to success", func(t *testing.T) {
		repo := factory(t)
		tk := NewTask(t, "bob", task.KindIntensive)
		require.NoError(t, repo.Insert(t.Context(), tk))
		require.NoError(t, repo.MarkRunning(t.Context(), tk.ID))
		require.NoError(t, repo.MarkRunning(t.Context(), tk.ID))
		require.NoError(t, repo.UpdateProgress(t.Context(), tk.ID, 40, "generating"))
		require.NoError(t, repo.UpdateProgress(t.Context(), tk.ID, 20, ""))
		got, err := repo.FindByID(t.Context(), tk.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusRunning, got.Status)
		assert.Equal(t, 40, got.Progress)
		assert.Equal(t, "generating", got.Message)

		require.NoError(t, repo.MarkSuccess(t.Context(), tk.ID, &task.Completion{
			Result:         json.RawMessage(`{"questions":[1,2]}`),
			GeneratedCount: 2,
			FailedCount:    1,
			FailedKinds:    []string{"listening"},
		}))
		got, err = repo.FindByID(t.Context(), tk.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusSucceeded, got.Status)
		assert.Equal(t, 100, got.Progress)
		assert.JSONEq(t, `{"questions":[1,2]}`, string(got.Result))
		assert.Equal(t, 2, got.GeneratedCount)
		assert.Equal(t, 1, got.FailedCount)
		assert.Equal(t, []string{"listening"}, got.FailedKinds)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("Should write a terminal state only once", func(t *testing.T) {
		repo := factory(t)
		tk := NewTask(t, "carol", task.KindPaper)
		require.NoError(t, repo.Insert(t.Context(), tk))
		require.NoError(t, repo.MarkRunning(t.Context(), tk.ID))
		require.NoError(t, repo.UpdateProgress(t.Context(), tk.ID, 60, ""))
		require.NoError(t, repo.MarkFailed(t.Context(), tk.ID, "unit 2 failed"))
		assert.ErrorIs(t, repo.MarkFailed(t.Context(), tk.ID, "again"), task.ErrInvalidTransition)
		assert.ErrorIs(t, repo.MarkSuccess(t.Context(), tk.ID, &task.Completion{}), task.ErrInvalidTransition)
		assert.ErrorIs(t, repo.MarkRunning(t.Context(), tk.ID), task.ErrInvalidTransition)
		require.NoError(t, repo.UpdateProgress(t.Context(), tk.ID, 90, "ignored"))
		got, err := repo.FindByID(t.Context(), tk.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Equal(t, 60, got.Progress)
		assert.Equal(t, "unit 2 failed", got.Message)
		assert.Empty(t, got.Result)
	})

	t.Run("Should not finish a task that never started", func(t *testing.T) {
		repo := factory(t)
		tk := NewTask(t, "gina", task.KindPaper)
		require.NoError(t, repo.Insert(t.Context(), tk))
		assert.ErrorIs(t, repo.MarkSuccess(t.Context(), tk.ID, &task.Completion{}), task.ErrInvalidTransition)
		assert.ErrorIs(t, repo.MarkFailed(t.Context(), tk.ID, "early"), task.ErrInvalidTransition)
		got, err := repo.FindByID(t.Context(), tk.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, got.Status)
		assert.Equal(t, 0, got.Progress)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("Should return an empty non-nil list for an owner without tasks", func(t *testing.T) {
		repo := factory(t)
		got, err := repo.FindRecentByOwner(t.Context(), "nobody", 10, "")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("Should list recent tasks per owner and kind", func(t *testing.T) {
		repo := factory(t)
		var ids []core.ID
		for i, kind := range []task.Kind{task.KindPaper, task.KindIntensive, task.KindPaper} {
			tk := NewTask(t, "dave", kind)
			tk.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
			require.NoError(t, repo.Insert(t.Context(), tk))
			ids = append(ids, tk.ID)
		}
		require.NoError(t, repo.Insert(t.Context(), NewTask(t, "erin", task.KindPaper)))

		all, err := repo.FindRecentByOwner(t.Context(), "dave", 10, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ids[2], all[0].ID)
		assert.Equal(t, ids[0], all[2].ID)

		papers, err := repo.FindRecentByOwner(t.Context(), "dave", 10, task.KindPaper)
		require.NoError(t, err)
		assert.Len(t, papers, 2)

		limited, err := repo.FindRecentByOwner(t.Context(), "dave", 1, "")
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, ids[2], limited[0].ID)
	})

	t.Run("Should delete only the owner's task", func(t *testing.T) {
		repo := factory(t)
		tk := NewTask(t, "frank", task.KindPaper)
		require.NoError(t, repo.Insert(t.Context(), tk))
		ok, err := repo.Delete(t.Context(), tk.ID, "mallory")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = repo.Delete(t.Context(), tk.ID, "frank")
		require.NoError(t, err)
		assert.True(t, ok)
		_, err = repo.FindByID(t.Context(), tk.ID)
		assert.ErrorIs(t, err, task.ErrNotFound)
		ok, err = repo.Delete(t.Context(), tk.ID, "frank")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

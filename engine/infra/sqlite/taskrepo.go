package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/engine/task"
)

const taskColumns = "id, owner_id, kind, status, progress, message, async_mode, source, payload, result, " +
	"requested_total, generated_count, failed_count, failed_kinds, created_at, updated_at, completed_at"

// TaskRepo implements task.Repository on top of a SQLite *sql.DB.
type TaskRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewTaskRepo(db *sql.DB) *TaskRepo {
	return &TaskRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *TaskRepo) Insert(ctx context.Context, t *task.Task) error {
	kinds, err := ToJSONText(nonNilKinds(t.FailedKinds))
	if err != nil {
		return err
	}
	var completedAt any
	if t.CompletedAt != nil {
		completedAt = formatTime(*t.CompletedAt)
	}
	const q = `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, q,
		t.ID, t.OwnerID, t.Kind, t.Status, t.Progress, t.Message, t.Async, t.Source,
		nullableJSON(t.Payload), nullableJSON(t.Result),
		t.RequestedTotal, t.GeneratedCount, t.FailedCount, kinds,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), completedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert task: %w", err)
	}
	return nil
}

func (r *TaskRepo) MarkRunning(ctx context.Context, id core.ID) error {
	const q = `UPDATE tasks SET status = 'RUNNING', progress = MAX(progress, ?), updated_at = ?
		WHERE id = ? AND status = 'PENDING'`
	n, err := r.exec(ctx, q, task.ProgressStarted, formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: mark running: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.explainNoop(ctx, id, task.StatusRunning)
}

func (r *TaskRepo) UpdateProgress(ctx context.Context, id core.ID, percent int, message string) error {
	const q = `UPDATE tasks SET progress = MAX(progress, ?),
		message = CASE WHEN ? = '' THEN message ELSE ? END, updated_at = ?
		WHERE id = ? AND status = 'RUNNING'`
	n, err := r.exec(ctx, q, percent, message, message, formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: update progress: %w", err)
	}
	if n > 0 {
		return nil
	}
	// ignored outside RUNNING
	_, err = r.status(ctx, id)
	return err
}

func (r *TaskRepo) MarkSuccess(ctx context.Context, id core.ID, c *task.Completion) error {
	if c == nil {
		c = &task.Completion{}
	}
	kinds, err := ToJSONText(nonNilKinds(c.FailedKinds))
	if err != nil {
		return err
	}
	now := formatTime(r.now())
	const q = `UPDATE tasks SET status = 'SUCCEEDED', progress = 100, result = ?,
		generated_count = ?, failed_count = ?, failed_kinds = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = 'RUNNING'`
	n, err := r.exec(ctx, q, nullableJSON(c.Result), c.GeneratedCount, c.FailedCount, kinds, now, now, id)
	if err != nil {
		return fmt.Errorf("sqlite: mark success: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.explainNoop(ctx, id, task.StatusSucceeded)
}

func (r *TaskRepo) MarkFailed(ctx context.Context, id core.ID, message string) error {
	now := formatTime(r.now())
	const q = `UPDATE tasks SET status = 'FAILED', message = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = 'RUNNING'`
	n, err := r.exec(ctx, q, message, now, now, id)
	if err != nil {
		return fmt.Errorf("sqlite: mark failed: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.explainNoop(ctx, id, task.StatusFailed)
}

func (r *TaskRepo) FindByID(ctx context.Context, id core.ID) (*task.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	t, err := scanTask(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, task.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: find task: %w", err)
	}
	return t, nil
}

func (r *TaskRepo) FindRecentByOwner(ctx context.Context, ownerID string, limit int, kind task.Kind) ([]*task.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = ?`
	args := []any{ownerID}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, task.ClampLimit(limit))
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()
	out := []*task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	return out, nil
}

func (r *TaskRepo) Delete(ctx context.Context, id core.ID, ownerID string) (bool, error) {
	n, err := r.exec(ctx, `DELETE FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete task: %w", err)
	}
	return n > 0, nil
}

func (r *TaskRepo) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *TaskRepo) status(ctx context.Context, id core.ID) (task.Status, error) {
	var s task.Status
	err := r.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", task.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: read task status: %w", err)
	}
	return s, nil
}

// explainNoop turns a zero-row conditional update into the matching error.
func (r *TaskRepo) explainNoop(ctx context.Context, id core.ID, next task.Status) error {
	current, err := r.status(ctx, id)
	if err != nil {
		return err
	}
	if next == task.StatusRunning && current == task.StatusRunning {
		return nil
	}
	return fmt.Errorf("%w: task %s is %s, cannot become %s", task.ErrInvalidTransition, id, current, next)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                    task.Task
		payload, result      sql.NullString
		kinds                string
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Kind, &t.Status, &t.Progress, &t.Message, &t.Async, &t.Source,
		&payload, &result, &t.RequestedTotal, &t.GeneratedCount, &t.FailedCount, &kinds,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		t.Payload = []byte(payload.String)
	}
	if result.Valid {
		t.Result = []byte(result.String)
	}
	if err := FromJSONText(kinds, &t.FailedKinds); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		at, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		t.CompletedAt = &at
	}
	return &t, nil
}

func nonNilKinds(kinds []string) []string {
	if kinds == nil {
		return []string{}
	}
	return kinds
}

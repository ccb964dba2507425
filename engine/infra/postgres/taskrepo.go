package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/engine/task"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var taskColumns = []string{
	"id",
	"owner_id",
	"kind",
	"status",
	"progress",
	"message",
	"async_mode",
	"source",
	"payload",
	"result",
	"requested_total",
	"generated_count",
	"failed_count",
	"failed_kinds",
	"created_at",
	"updated_at",
	"completed_at",
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// DB is the minimal database interface TaskRepo depends on (pgxpool or pgxmock).
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// taskRow mirrors the tasks table for pgxscan.
type taskRow struct {
	ID             string     `db:"id"`
	OwnerID        string     `db:"owner_id"`
	Kind           string     `db:"kind"`
	Status         string     `db:"status"`
	Progress       int        `db:"progress"`
	Message        string     `db:"message"`
	AsyncMode      bool       `db:"async_mode"`
	Source         string     `db:"source"`
	Payload        []byte     `db:"payload"`
	Result         []byte     `db:"result"`
	RequestedTotal int        `db:"requested_total"`
	GeneratedCount int        `db:"generated_count"`
	FailedCount    int        `db:"failed_count"`
	FailedKinds    []string   `db:"failed_kinds"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	CompletedAt    *time.Time `db:"completed_at"`
}

func (r *taskRow) toTask() *task.Task {
	return &task.Task{
		ID:             core.ID(r.ID),
		OwnerID:        r.OwnerID,
		Kind:           task.Kind(r.Kind),
		Status:         task.Status(r.Status),
		Progress:       r.Progress,
		Message:        r.Message,
		Async:          r.AsyncMode,
		Source:         r.Source,
		Payload:        json.RawMessage(r.Payload),
		Result:         json.RawMessage(r.Result),
		RequestedTotal: r.RequestedTotal,
		GeneratedCount: r.GeneratedCount,
		FailedCount:    r.FailedCount,
		FailedKinds:    r.FailedKinds,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		CompletedAt:    r.CompletedAt,
	}
}

// TaskRepo implements task.Repository backed by a pgx-compatible pool.
type TaskRepo struct {
	db  DB
	now func() time.Time
}

func NewTaskRepo(db DB) *TaskRepo {
	return &TaskRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *TaskRepo) Insert(ctx context.Context, t *task.Task) error {
	query, args, err := psql.Insert("tasks").Columns(taskColumns...).Values(
		t.ID.String(), t.OwnerID, string(t.Kind), string(t.Status), t.Progress, t.Message, t.Async, t.Source,
		jsonArg(t.Payload), jsonArg(t.Result), t.RequestedTotal, t.GeneratedCount, t.FailedCount,
		nonNilKinds(t.FailedKinds), t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	).ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

func (r *TaskRepo) MarkRunning(ctx context.Context, id core.ID) error {
	ub := psql.Update("tasks").
		Set("status", string(task.StatusRunning)).
		Set("progress", squirrel.Expr("GREATEST(progress, ?)", task.ProgressStarted)).
		Set("updated_at", r.now()).
		Where(squirrel.Eq{"id": id.String()}).
		Where(squirrel.Eq{"status": string(task.StatusPending)})
	n, err := r.update(ctx, ub)
	if err != nil {
		return fmt.Errorf("marking task running: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.explainNoop(ctx, id, task.StatusRunning)
}

func (r *TaskRepo) UpdateProgress(ctx context.Context, id core.ID, percent int, message string) error {
	ub := psql.Update("tasks").
		Set("progress", squirrel.Expr("GREATEST(progress, ?)", percent)).
		Set("updated_at", r.now()).
		Where(squirrel.Eq{"id": id.String()}).
		Where(squirrel.Eq{"status": string(task.StatusRunning)})
	if message != "" {
		ub = ub.Set("message", message)
	}
	n, err := r.update(ctx, ub)
	if err != nil {
		return fmt.Errorf("updating task progress: %w", err)
	}
	if n > 0 {
		return nil
	}
	_, err = r.status(ctx, id)
	return err
}

func (r *TaskRepo) MarkSuccess(ctx context.Context, id core.ID, c *task.Completion) error {
	if c == nil {
		c = &task.Completion{}
	}
	now := r.now()
	ub := psql.Update("tasks").
		Set("status", string(task.StatusSucceeded)).
		Set("progress", task.ProgressDone).
		Set("result", jsonArg(c.Result)).
		Set("generated_count", c.GeneratedCount).
		Set("failed_count", c.FailedCount).
		Set("failed_kinds", nonNilKinds(c.FailedKinds)).
		Set("updated_at", now).
		Set("completed_at", now).
		Where(squirrel.Eq{"id": id.String()}).
		Where(squirrel.Eq{"status": string(task.StatusRunning)})
	n, err := r.update(ctx, ub)
	if err != nil {
		return fmt.Errorf("marking task succeeded: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.explainNoop(ctx, id, task.StatusSucceeded)
}

func (r *TaskRepo) MarkFailed(ctx context.Context, id core.ID, message string) error {
	now := r.now()
	ub := psql.Update("tasks").
		Set("status", string(task.StatusFailed)).
		Set("message", message).
		Set("updated_at", now).
		Set("completed_at", now).
		Where(squirrel.Eq{"id": id.String()}).
		Where(squirrel.Eq{"status": string(task.StatusRunning)})
	n, err := r.update(ctx, ub)
	if err != nil {
		return fmt.Errorf("marking task failed: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.explainNoop(ctx, id, task.StatusFailed)
}

func (r *TaskRepo) FindByID(ctx context.Context, id core.ID) (*task.Task, error) {
	query, args, err := psql.Select(taskColumns...).From("tasks").Where(squirrel.Eq{"id": id.String()}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var row taskRow
	if err := pgxscan.Get(ctx, r.db, &row, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, task.ErrNotFound
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	return row.toTask(), nil
}

func (r *TaskRepo) FindRecentByOwner(ctx context.Context, ownerID string, limit int, kind task.Kind) ([]*task.Task, error) {
	sb := psql.Select(taskColumns...).From("tasks").Where(squirrel.Eq{"owner_id": ownerID})
	if kind != "" {
		sb = sb.Where(squirrel.Eq{"kind": string(kind)})
	}
	sb = sb.OrderBy("created_at DESC", "id DESC").Limit(uint64(task.ClampLimit(limit))) // #nosec G115 -- clamped to [1,100]
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var rows []*taskRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("scanning tasks: %w", err)
	}
	out := make([]*task.Task, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toTask())
	}
	return out, nil
}

func (r *TaskRepo) Delete(ctx context.Context, id core.ID, ownerID string) (bool, error) {
	query, args, err := psql.Delete("tasks").
		Where(squirrel.Eq{"id": id.String()}).
		Where(squirrel.Eq{"owner_id": ownerID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building delete: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("deleting task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TaskRepo) update(ctx context.Context, ub squirrel.UpdateBuilder) (int64, error) {
	query, args, err := ub.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building update: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *TaskRepo) status(ctx context.Context, id core.ID) (task.Status, error) {
	var s string
	err := r.db.QueryRow(ctx, "SELECT status FROM tasks WHERE id = $1", id.String()).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", task.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading task status: %w", err)
	}
	return task.Status(s), nil
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

func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nonNilKinds(kinds []string) []string {
	if kinds == nil {
		return []string{}
	}
	return kinds
}

package task

import (
	"fmt"
	"time"
)

// The Apply* helpers mutate an in-memory task the same way the SQL drivers'
// conditional updates do. They report whether anything changed.

func (t *Task) ApplyRunning(now time.Time) (bool, error) {
	if t.Status == StatusRunning {
		return false, nil
	}
	if t.Status != StatusPending {
		return false, transitionError(t, StatusRunning)
	}
	t.Status = StatusRunning
	t.Progress = max(t.Progress, ProgressStarted)
	t.UpdatedAt = now
	return true, nil
}

// ApplyProgress never lowers progress and is ignored outside RUNNING.
func (t *Task) ApplyProgress(percent int, message string, now time.Time) bool {
	if t.Status != StatusRunning {
		return false
	}
	changed := false
	if percent > t.Progress {
		t.Progress = percent
		changed = true
	}
	if message != "" {
		t.Message = message
		changed = true
	}
	if changed {
		t.UpdatedAt = now
	}
	return changed
}

func (t *Task) ApplySuccess(c *Completion, now time.Time) error {
	if !t.Status.CanTransition(StatusSucceeded) {
		return transitionError(t, StatusSucceeded)
	}
	if c == nil {
		c = &Completion{}
	}
	t.Status = StatusSucceeded
	t.Progress = ProgressDone
	t.Result = append([]byte(nil), c.Result...)
	t.GeneratedCount = c.GeneratedCount
	t.FailedCount = c.FailedCount
	t.FailedKinds = append([]string(nil), c.FailedKinds...)
	t.UpdatedAt = now
	t.CompletedAt = &now
	return nil
}

// ApplyFailure leaves progress where it was.
func (t *Task) ApplyFailure(message string, now time.Time) error {
	if !t.Status.CanTransition(StatusFailed) {
		return transitionError(t, StatusFailed)
	}
	t.Status = StatusFailed
	t.Message = message
	t.UpdatedAt = now
	t.CompletedAt = &now
	return nil
}

func transitionError(t *Task, next Status) error {
	return fmt.Errorf("%w: task %s is %s, cannot become %s", ErrInvalidTransition, t.ID, t.Status, next)
}

package task

import (
	"context"
	"math"

	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/pkg/logger"
)

const (
	minRunningPercent = 5
	maxRunningPercent = 99
)

// Percent rounds completed/total to a percentage clamped to [5, 99]. It
// returns -1 when total is not positive.
func Percent(completed, total int) int {
	if total <= 0 {
		return -1
	}
	p := int(math.Round(float64(completed) * 100 / float64(total)))
	return min(maxRunningPercent, max(minRunningPercent, p))
}

// ProgressReporter forwards pool progress to a task record.
type ProgressReporter struct {
	repo   Repository
	taskID core.ID
}

func NewProgressReporter(repo Repository, taskID core.ID) *ProgressReporter {
	return &ProgressReporter{repo: repo, taskID: taskID}
}

// Report stores the clamped percentage and returns it. Store errors are
// logged, never returned: progress must not abort generation.
func (r *ProgressReporter) Report(ctx context.Context, completed, total int) int {
	percent := Percent(completed, total)
	if percent < 0 {
		return percent
	}
	if err := r.repo.UpdateProgress(ctx, r.taskID, percent, ""); err != nil {
		logger.FromContext(ctx).Warn("Failed to update task progress",
			"task_id", r.taskID, "percent", percent, "error", err)
	}
	return percent
}

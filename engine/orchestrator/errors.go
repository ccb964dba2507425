package orchestrator

import (
	"errors"
	"fmt"

	"github.com/examforge/examforge/engine/core"
)

// ErrResultNotReady is the conflict returned when a result is requested for a
// task that has not succeeded.
var ErrResultNotReady = errors.New("task result not available")

// TaskError is the terminal failure of a task. Message is what the task
// record carries.
type TaskError struct {
	TaskID  core.ID
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

// Package task holds the generation task entity, its state machine and the
// repository contract every store driver implements.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/examforge/examforge/engine/core"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

type Kind string

const (
	KindPaper     Kind = "PAPER"
	KindIntensive Kind = "INTENSIVE"
)

func (k Kind) Valid() bool {
	return k == KindPaper || k == KindIntensive
}

// ParseKind accepts either kind case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", core.NewValidationError("kind", fmt.Sprintf("unknown task kind %q", s))
	}
	return k, nil
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition reports whether moving from s to next goes forward.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning
	case StatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

const (
	ProgressPending = 0
	ProgressStarted = 5
	ProgressDone    = 100
)

// Task is one orchestrated generation request.
type Task struct {
	ID             core.ID         `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Kind           Kind            `json:"kind"`
	Status         Status          `json:"status"`
	Progress       int             `json:"progress"`
	Message        string          `json:"message,omitempty"`
	Async          bool            `json:"async"`
	Source         string          `json:"source,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	RequestedTotal int             `json:"requested_total"`
	GeneratedCount int             `json:"generated_count"`
	FailedCount    int             `json:"failed_count"`
	FailedKinds    []string        `json:"failed_kinds,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// New builds a PENDING task with a fresh ID.
func New(ownerID string, kind Kind, payload any, async bool, source string, requestedTotal int) (*Task, error) {
	if !kind.Valid() {
		return nil, core.NewValidationError("kind", fmt.Sprintf("unknown task kind %q", kind))
	}
	id, err := core.NewID()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding task payload: %w", err)
	}
	now := time.Now().UTC()
	return &Task{
		ID:             id,
		OwnerID:        ownerID,
		Kind:           kind,
		Status:         StatusPending,
		Progress:       ProgressPending,
		Async:          async,
		Source:         source,
		Payload:        raw,
		RequestedTotal: requestedTotal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	c.Result = append(json.RawMessage(nil), t.Result...)
	c.FailedKinds = append([]string(nil), t.FailedKinds...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Completion is everything MarkSuccess persists.
type Completion struct {
	Result         json.RawMessage
	GeneratedCount int
	FailedCount    int
	FailedKinds    []string
}

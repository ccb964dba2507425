// Package orchestrator owns the task lifecycle: it validates submissions,
// runs the unit pool synchronously or in the background, applies the success
// policy of the task kind and serves the query surface.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/examforge/examforge/engine/catalog"
	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/engine/generation"
	"github.com/examforge/examforge/engine/infra/monitoring"
	"github.com/examforge/examforge/engine/resultcache"
	"github.com/examforge/examforge/engine/task"
	"github.com/examforge/examforge/pkg/logger"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	PaperPoolFactor     int
	IntensivePoolFactor int
	// MaxConcurrentTasks bounds background executions; further async tasks
	// stay PENDING until a slot frees up.
	MaxConcurrentTasks int
	// Parallelism sizes unit pools; zero means GOMAXPROCS.
	Parallelism int
}

func DefaultConfig() Config {
	return Config{
		PaperPoolFactor:     1,
		IntensivePoolFactor: 2,
		MaxConcurrentTasks:  8,
		Parallelism:         runtime.GOMAXPROCS(0),
	}
}

type Option func(*Orchestrator)

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		def := DefaultConfig()
		if cfg.PaperPoolFactor <= 0 {
			cfg.PaperPoolFactor = def.PaperPoolFactor
		}
		if cfg.IntensivePoolFactor <= 0 {
			cfg.IntensivePoolFactor = def.IntensivePoolFactor
		}
		if cfg.MaxConcurrentTasks <= 0 {
			cfg.MaxConcurrentTasks = def.MaxConcurrentTasks
		}
		if cfg.Parallelism <= 0 {
			cfg.Parallelism = def.Parallelism
		}
		o.cfg = cfg
	}
}

func WithResultCache(c *resultcache.Cache) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.cache = c
		}
	}
}

func WithRecorder(r monitoring.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.metrics = r
		}
	}
}

// WithRand makes topic assignment reproducible.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.planner.rnd = r
		}
	}
}

type Orchestrator struct {
	repo     task.Repository
	gen      generation.Generator
	planner  *planner
	cfg      Config
	cache    *resultcache.Cache
	metrics  monitoring.Recorder
	validate *validator.Validate
	slots    *semaphore.Weighted
	inflight sync.WaitGroup
}

func New(repo task.Repository, cat catalog.Catalog, gen generation.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo: repo,
		gen:  gen,
		planner: &planner{
			catalog: cat,
			rnd:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), // #nosec G404 -- topic sampling
		},
		cfg:      DefaultConfig(),
		cache:    resultcache.New(resultcache.DefaultSize, resultcache.DefaultTTL),
		metrics:  monitoring.Nop(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.slots = semaphore.NewWeighted(int64(o.cfg.MaxConcurrentTasks))
	return o
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Submission is what Submit reports. For sync submissions Task is the
// terminal snapshot taken before the record was deleted.
type Submission struct {
	TaskID core.ID     `json:"task_id"`
	Status task.Status `json:"status"`
	Task   *task.Task  `json:"task,omitempty"`
}

// Submit validates req and creates a PENDING task. Async submissions return
// at once; sync submissions run inline, delete the task record and return a
// *TaskError when the task failed. Validation failures never create a task.
func (o *Orchestrator) Submit(ctx context.Context, req *SubmitRequest) (*Submission, error) {
	if err := req.validate(o.validate); err != nil {
		return nil, err
	}
	source := req.source()
	t, err := task.New(req.OwnerID, req.Kind, req.payload(), req.Async, source, req.requestedTotal())
	if err != nil {
		return nil, err
	}
	if err := o.repo.Insert(ctx, t); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	log := logger.FromContext(ctx).With("task_id", t.ID, "kind", t.Kind)
	if req.Async {
		o.startAsync(ctx, t, req)
		log.Info("Task submitted", "mode", "async")
		return &Submission{TaskID: t.ID, Status: task.StatusPending}, nil
	}
	log.Info("Task submitted", "mode", "sync")
	return o.runSync(ctx, t, req)
}

func (o *Orchestrator) runSync(ctx context.Context, t *task.Task, req *SubmitRequest) (*Submission, error) {
	defer func() {
		// the record only existed to share the async execution path
		if _, err := o.repo.Delete(context.WithoutCancel(ctx), t.ID, t.OwnerID); err != nil {
			logger.FromContext(ctx).Warn("Failed to delete sync task", "task_id", t.ID, "error", err)
		}
	}()
	o.execute(ctx, t, req)
	final, err := o.repo.FindByID(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", t.ID, err)
	}
	sub := &Submission{TaskID: final.ID, Status: final.Status, Task: final}
	if final.Status == task.StatusFailed {
		return sub, &TaskError{TaskID: final.ID, Message: final.Message}
	}
	return sub, nil
}

func (o *Orchestrator) startAsync(ctx context.Context, t *task.Task, req *SubmitRequest) {
	// async work outlives the submitting request
	bg := context.WithoutCancel(ctx)
	o.inflight.Go(func() {
		if err := o.slots.Acquire(bg, 1); err != nil {
			return
		}
		defer o.slots.Release(1)
		o.execute(bg, t, req)
	})
}

// Wait blocks until every background task has reached a terminal state.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func (o *Orchestrator) execute(ctx context.Context, t *task.Task, req *SubmitRequest) {
	start := time.Now()
	log := logger.FromContext(ctx).With("task_id", t.ID, "kind", t.Kind)
	ctx = logger.ContextWithLogger(ctx, log)
	status := task.StatusFailed
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic while executing task", "error", r)
			o.fail(ctx, t.ID, fmt.Sprintf("internal error: %v", r))
			status = task.StatusFailed
		}
		o.metrics.TaskCompleted(ctx, string(t.Kind), string(status), time.Since(start))
	}()
	if err := o.repo.MarkRunning(ctx, t.ID); err != nil {
		log.Error("Failed to mark task running", "error", err)
		o.fail(ctx, t.ID, err.Error())
		return
	}
	p, err := o.planner.build(ctx, req, t.Source)
	if err != nil {
		log.Warn("Task planning failed", "error", err)
		o.fail(ctx, t.ID, err.Error())
		return
	}
	reporter := task.NewProgressReporter(o.repo, t.ID)
	pool := generation.NewPool(o.gen, o.poolFactor(t.Kind),
		generation.WithParallelism(o.cfg.Parallelism),
		generation.WithPoolRecorder(o.metrics),
	)
	results, failures := pool.Run(ctx, p.units, func(completed, total int) {
		reporter.Report(ctx, completed, total)
	})
	verdict, err := policyFor(t.Kind)(p, results, failures)
	if err != nil {
		o.fail(ctx, t.ID, err.Error())
		return
	}
	if verdict.failure != "" {
		log.Warn("Task failed", "succeeded", len(results), "failed", len(failures), "reason", verdict.failure)
		o.fail(ctx, t.ID, verdict.failure)
		return
	}
	if err := o.repo.MarkSuccess(ctx, t.ID, verdict.completion); err != nil {
		log.Error("Failed to record task success", "error", err)
		o.fail(ctx, t.ID, err.Error())
		return
	}
	status = task.StatusSucceeded
	log.Info("Task succeeded",
		"generated", verdict.completion.GeneratedCount,
		"failed", verdict.completion.FailedCount,
		"duration", time.Since(start),
	)
}

func (o *Orchestrator) fail(ctx context.Context, id core.ID, message string) {
	err := o.repo.MarkFailed(ctx, id, message)
	switch {
	case err == nil, errors.Is(err, task.ErrInvalidTransition):
	case errors.Is(err, task.ErrNotFound):
		logger.FromContext(ctx).Debug("Task deleted before it finished", "task_id", id)
	default:
		logger.FromContext(ctx).Error("Failed to record task failure", "task_id", id, "error", err)
	}
}

func (o *Orchestrator) poolFactor(kind task.Kind) int {
	if kind == task.KindPaper {
		return o.cfg.PaperPoolFactor
	}
	return o.cfg.IntensivePoolFactor
}

// GetTask returns the task when it belongs to ownerID. An empty ownerID
// skips the ownership check.
func (o *Orchestrator) GetTask(ctx context.Context, id core.ID, ownerID string) (*task.Task, error) {
	t, err := o.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && t.OwnerID != ownerID {
		return nil, task.ErrNotFound
	}
	return t, nil
}

// GetResult returns the result payload of a SUCCEEDED task, or
// ErrResultNotReady for any other status.
func (o *Orchestrator) GetResult(ctx context.Context, id core.ID, ownerID string) (json.RawMessage, error) {
	if e, ok := o.cache.Get(id); ok {
		if ownerID != "" && e.OwnerID != ownerID {
			return nil, task.ErrNotFound
		}
		return e.Result, nil
	}
	t, err := o.GetTask(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusSucceeded {
		if t.Status == task.StatusFailed {
			return nil, fmt.Errorf("%w: task %s failed: %s", ErrResultNotReady, id, t.Message)
		}
		return nil, fmt.Errorf("%w: task %s is %s", ErrResultNotReady, id, t.Status)
	}
	o.cache.Put(id, t.OwnerID, t.Result)
	return t.Result, nil
}

// ListRecent returns the owner's newest tasks; limit is clamped to [1, 100].
func (o *Orchestrator) ListRecent(ctx context.Context, ownerID string, limit int, kind task.Kind) ([]*task.Task, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, core.NewValidationError("owner_id", "must not be blank")
	}
	if kind != "" && !kind.Valid() {
		return nil, core.NewValidationError("kind", fmt.Sprintf("unknown task kind %q", kind))
	}
	return o.repo.FindRecentByOwner(ctx, ownerID, task.ClampLimit(limit), kind)
}

// Delete removes the owner's task record. In-flight work is not stopped.
func (o *Orchestrator) Delete(ctx context.Context, id core.ID, ownerID string) (bool, error) {
	ok, err := o.repo.Delete(ctx, id, ownerID)
	if err != nil {
		return false, err
	}
	if ok {
		o.cache.Evict(id)
	}
	return ok, nil
}

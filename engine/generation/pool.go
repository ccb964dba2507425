package generation

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/examforge/examforge/engine/infra/monitoring"
	"github.com/examforge/examforge/pkg/logger"
	"golang.org/x/sync/semaphore"
)

// Generator produces the result of a single unit. *Client implements it.
type Generator interface {
	Generate(ctx context.Context, u *Unit) (*Result, error)
}

// ProgressFunc receives the number of finished units after each completion.
// Calls come from one goroutine, in completion order, off the workers' path.
type ProgressFunc func(completed, total int)

type PoolOption func(*Pool)

// WithParallelism overrides the detected CPU count used to size the pool.
func WithParallelism(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

func WithPoolRecorder(r monitoring.Recorder) PoolOption {
	return func(p *Pool) {
		if r != nil {
			p.metrics = r
		}
	}
}

// Pool fans units out over a bounded set of goroutines and gathers them back
// in index order.
type Pool struct {
	gen         Generator
	factor      int
	parallelism int
	metrics     monitoring.Recorder
}

func NewPool(gen Generator, factor int, opts ...PoolOption) *Pool {
	if factor <= 0 {
		factor = 1
	}
	p := &Pool{
		gen:         gen,
		factor:      factor,
		parallelism: runtime.GOMAXPROCS(0),
		metrics:     monitoring.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PoolSize is max(1, min(units, parallelism*factor)).
func PoolSize(units, parallelism, factor int) int {
	return max(1, min(units, parallelism*factor))
}

func (p *Pool) Size(units int) int {
	return PoolSize(units, p.parallelism, p.factor)
}

type collector struct {
	mu        sync.Mutex
	results   []*Result
	failures  []*FailedUnit
	completed int
	// counts carries completion counts, in order, to the progress goroutine.
	counts chan int
}

// Run generates every unit and blocks until all of them finish. There is no
// short-circuit: one unit failing never stops the others. Successful results
// and failures are each returned sorted by unit index.
func (p *Pool) Run(ctx context.Context, units []*Unit, onProgress ProgressFunc) ([]*Result, []*FailedUnit) {
	if len(units) == 0 {
		return nil, nil
	}
	log := logger.FromContext(ctx)
	size := p.Size(len(units))
	log.Debug("Starting unit pool", "units", len(units), "workers", size)
	col := &collector{}
	var notified chan struct{}
	if onProgress != nil {
		col.counts = make(chan int, len(units))
		notified = make(chan struct{})
		go func() {
			defer close(notified)
			for completed := range col.counts {
				notify(ctx, onProgress, completed, len(units))
			}
		}()
	}
	sem := semaphore.NewWeighted(int64(size))
	var wg sync.WaitGroup
	for _, u := range units {
		wg.Go(func() {
			p.runUnit(ctx, sem, u, col)
		})
	}
	wg.Wait()
	if col.counts != nil {
		close(col.counts)
		<-notified
	}
	sort.Slice(col.results, func(i, j int) bool {
		return col.results[i].UnitIndex < col.results[j].UnitIndex
	})
	sort.Slice(col.failures, func(i, j int) bool {
		return col.failures[i].Index() < col.failures[j].Index()
	})
	log.Debug("Unit pool finished", "succeeded", len(col.results), "failed", len(col.failures))
	return col.results, col.failures
}

func (p *Pool) runUnit(ctx context.Context, sem *semaphore.Weighted, u *Unit, col *collector) {
	start := time.Now()
	res, err := p.generate(ctx, sem, u)
	kind := ""
	if u != nil {
		kind = u.ContentKind
	}
	outcome := monitoring.OutcomeSuccess
	if err != nil {
		outcome = monitoring.OutcomeFailure
	}
	p.metrics.UnitCompleted(ctx, kind, outcome, time.Since(start))
	col.finish(u, res, err)
}

func (p *Pool) generate(ctx context.Context, sem *semaphore.Weighted, u *Unit) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("Recovered panic while generating unit", "error", r)
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	// Acquire only fails once ctx is done; the unit is still accounted for.
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)
	res, err = p.gen.Generate(ctx, u)
	if err == nil && res == nil {
		err = fmt.Errorf("generator returned no result")
	}
	return res, err
}

func (c *collector) finish(u *Unit, res *Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if u == nil {
			u = &Unit{Index: -1}
		}
		c.failures = append(c.failures, &FailedUnit{Unit: u, Err: err})
	} else {
		c.results = append(c.results, res)
	}
	c.completed++
	if c.counts != nil {
		// buffered for every unit, so this never blocks
		c.counts <- c.completed
	}
}

func notify(ctx context.Context, progress ProgressFunc, completed, total int) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Warn("Progress callback panicked", "completed", completed, "error", r)
		}
	}()
	progress(completed, total)
}

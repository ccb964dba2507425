package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, u *Unit) (*Result, error) {
	args := m.Called(ctx, u)
	res, _ := args.Get(0).(*Result)
	return res, args.Error(1)
}

// funcGenerator adapts a function to Generator.
type funcGenerator func(ctx context.Context, u *Unit) (*Result, error)

func (f funcGenerator) Generate(ctx context.Context, u *Unit) (*Result, error) { return f(ctx, u) }

func units(n int) []*Unit {
	out := make([]*Unit, n)
	for i := range out {
		out[i] = testUnit(i)
	}
	return out
}

func echoResult(u *Unit) *Result {
	return &Result{UnitIndex: u.Index, ContentKind: u.ContentKind}
}

func TestPoolSize(t *testing.T) {
	t.Run("Should bound the pool by the unit count", func(t *testing.T) {
		assert.Equal(t, 3, PoolSize(3, 8, 2))
	})
	t.Run("Should bound the pool by parallelism times factor", func(t *testing.T) {
		assert.Equal(t, 16, PoolSize(100, 8, 2))
	})
	t.Run("Should never go below one worker", func(t *testing.T) {
		assert.Equal(t, 1, PoolSize(0, 8, 2))
		assert.Equal(t, 1, PoolSize(5, 0, 1))
	})
}

func TestPool_Run(t *testing.T) {
	t.Run("Should return results in index order regardless of completion order", func(t *testing.T) {
		gen := funcGenerator(func(_ context.Context, u *Unit) (*Result, error) {
			// later units finish first
			time.Sleep(time.Duration(10-u.Index) * time.Millisecond)
			return echoResult(u), nil
		})
		pool := NewPool(gen, 2, WithParallelism(4))
		results, failures := pool.Run(t.Context(), units(10), nil)
		require.Len(t, results, 10)
		assert.Empty(t, failures)
		for i, r := range results {
			assert.Equal(t, i, r.UnitIndex)
		}
	})

	t.Run("Should report strictly increasing progress that ends at the total", func(t *testing.T) {
		gen := funcGenerator(func(_ context.Context, u *Unit) (*Result, error) {
			if u.Index%3 == 0 {
				return nil, errors.New("boom")
			}
			return echoResult(u), nil
		})
		var mu sync.Mutex
		var seen []int
		pool := NewPool(gen, 4, WithParallelism(4))
		results, failures := pool.Run(t.Context(), units(25), func(completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 25, total)
			seen = append(seen, completed)
		})
		assert.Equal(t, 25, len(results)+len(failures))
		require.Len(t, seen, 25)
		for i, c := range seen {
			assert.Equal(t, i+1, c)
		}
	})

	t.Run("Should let workers finish while a slow progress callback catches up", func(t *testing.T) {
		const n = 6
		var generated atomic.Int32
		gen := funcGenerator(func(_ context.Context, u *Unit) (*Result, error) {
			generated.Add(1)
			return echoResult(u), nil
		})
		release := make(chan struct{})
		var seen []int
		done := make(chan struct{})
		go func() {
			defer close(done)
			results, _ := NewPool(gen, 1, WithParallelism(1)).Run(t.Context(), units(n), func(completed, _ int) {
				if completed == 1 {
					<-release
				}
				seen = append(seen, completed)
			})
			assert.Len(t, results, n)
		}()
		require.Eventually(t, func() bool { return generated.Load() == n }, time.Second, 5*time.Millisecond)
		close(release)
		<-done
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, seen)
	})

	t.Run("Should keep running every unit when some fail", func(t *testing.T) {
		gen := &mockGenerator{}
		in := units(5)
		for _, u := range in {
			if u.Index == 2 {
				gen.On("Generate", mock.Anything, u).Return(nil, fmt.Errorf("unit %d exhausted", u.Index)).Once()
				continue
			}
			gen.On("Generate", mock.Anything, u).Return(echoResult(u), nil).Once()
		}
		pool := NewPool(gen, 1, WithParallelism(2))
		results, failures := pool.Run(t.Context(), in, nil)
		require.Len(t, results, 4)
		require.Len(t, failures, 1)
		assert.Equal(t, 2, failures[0].Index())
		assert.Equal(t, "unit 2 exhausted", failures[0].Message())
		assert.Equal(t, []int{0, 1, 3, 4}, []int{
			results[0].UnitIndex, results[1].UnitIndex, results[2].UnitIndex, results[3].UnitIndex,
		})
		gen.AssertExpectations(t)
	})

	t.Run("Should sort failures by index", func(t *testing.T) {
		gen := funcGenerator(func(_ context.Context, u *Unit) (*Result, error) {
			time.Sleep(time.Duration(6-u.Index) * time.Millisecond)
			return nil, errors.New("down")
		})
		_, failures := NewPool(gen, 1, WithParallelism(6)).Run(t.Context(), units(6), nil)
		require.Len(t, failures, 6)
		for i, f := range failures {
			assert.Equal(t, i, f.Index())
		}
	})

	t.Run("Should never exceed the pool size in flight", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		gen := funcGenerator(func(_ context.Context, u *Unit) (*Result, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return echoResult(u), nil
		})
		pool := NewPool(gen, 1, WithParallelism(3))
		results, _ := pool.Run(t.Context(), units(12), nil)
		assert.Len(t, results, 12)
		assert.LessOrEqual(t, peak.Load(), int32(3))
	})

	t.Run("Should convert a panicking unit into a failure", func(t *testing.T) {
		gen := funcGenerator(func(_ context.Context, u *Unit) (*Result, error) {
			if u.Index == 1 {
				panic("provider exploded")
			}
			return echoResult(u), nil
		})
		results, failures := NewPool(gen, 1).Run(t.Context(), units(3), nil)
		assert.Len(t, results, 2)
		require.Len(t, failures, 1)
		assert.Contains(t, failures[0].Message(), "provider exploded")
	})

	t.Run("Should swallow a panicking progress callback", func(t *testing.T) {
		gen := funcGenerator(func(_ context.Context, u *Unit) (*Result, error) {
			return echoResult(u), nil
		})
		var calls atomic.Int32
		results, failures := NewPool(gen, 1).Run(t.Context(), units(4), func(_, _ int) {
			calls.Add(1)
			panic("progress sink down")
		})
		assert.Len(t, results, 4)
		assert.Empty(t, failures)
		assert.EqualValues(t, 4, calls.Load())
	})

	t.Run("Should treat a nil result without error as a failure", func(t *testing.T) {
		gen := funcGenerator(func(_ context.Context, _ *Unit) (*Result, error) {
			return nil, nil
		})
		results, failures := NewPool(gen, 1).Run(t.Context(), units(1), nil)
		assert.Empty(t, results)
		assert.Len(t, failures, 1)
	})

	t.Run("Should return nothing for an empty batch", func(t *testing.T) {
		results, failures := NewPool(funcGenerator(nil), 1).Run(t.Context(), nil, nil)
		assert.Nil(t, results)
		assert.Nil(t, failures)
	})

	t.Run("Should drive a real client end to end", func(t *testing.T) {
		primary, calls := countingProvider("primary", 0, validOutput)
		client := NewClient(primary, nil, fastConfig(1))
		results, failures := NewPool(client, 2).Run(t.Context(), units(5), nil)
		assert.Len(t, results, 5)
		assert.Empty(t, failures)
		assert.EqualValues(t, 5, calls.Load())
	})
}

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/examforge/examforge/engine/catalog"
	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/engine/generation"
	"github.com/examforge/examforge/engine/infra/memory"
	"github.com/examforge/examforge/engine/provider"
	"github.com/examforge/examforge/engine/resultcache"
	"github.com/examforge/examforge/engine/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type genFunc func(ctx context.Context, u *generation.Unit) (*generation.Result, error)

func (f genFunc) Generate(ctx context.Context, u *generation.Unit) (*generation.Result, error) {
	return f(ctx, u)
}

func okResult(u *generation.Unit) *generation.Result {
	return &generation.Result{
		UnitIndex:   u.Index,
		SegmentTag:  u.SegmentTag,
		ContentKind: u.ContentKind,
		Topic:       u.Topic,
		Output:      json.RawMessage(fmt.Sprintf(`{"unit":%d}`, u.Index)),
		Answers:     map[string]string{},
	}
}

// failing fails units matching pred and succeeds the rest.
func failing(pred func(u *generation.Unit) bool) genFunc {
	return func(_ context.Context, u *generation.Unit) (*generation.Result, error) {
		if pred(u) {
			return nil, &generation.ExhaustedError{Attempts: 3, PrimaryErr: errors.New("timeout"), FallbackErr: errors.New("503")}
		}
		return okResult(u), nil
	}
}

func never(*generation.Unit) bool { return false }

func testCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	data := &catalog.Data{
		Topics: []string{"energy", "campus", "travel"},
		Papers: []catalog.Paper{{
			ID:      "real-1",
			Subject: "CET4",
			Source:  catalog.SourceReal,
			Units: []catalog.TemplateUnit{
				{SegmentID: "1W", ContentKind: "writing", PartID: "1", Document: "write"},
				{SegmentID: "2L", ContentKind: "listening", PartID: "2", Document: "listen"},
				{SegmentID: "3C", ContentKind: "cloze", PartID: "3", Document: "cloze"},
				{SegmentID: "4R", ContentKind: "reading", PartID: "3", Document: "read"},
				{SegmentID: "5T", ContentKind: "translation", PartID: "4", Document: "translate"},
			},
		}},
		WrongBank: []catalog.WrongBankEntry{{OwnerID: "alice", ContentKind: "A", Documents: []string{"missed A"}}},
	}
	// kinds A and B for intensive requests
	data.Papers = append(data.Papers, catalog.Paper{
		ID: "real-2", Subject: "CET6", Source: catalog.SourceReal,
		Units: []catalog.TemplateUnit{
			{SegmentID: "1A", ContentKind: "A", Document: "doc A"},
			{SegmentID: "2B", ContentKind: "B", Document: "doc B"},
		},
	})
	c, err := catalog.NewStatic(data, catalog.WithRand(rand.New(rand.NewPCG(7, 7))))
	require.NoError(t, err)
	return c
}

func newOrchestrator(t *testing.T, gen generation.Generator, opts ...Option) (*Orchestrator, *memory.TaskRepo) {
	t.Helper()
	repo := memory.NewTaskRepo()
	opts = append([]Option{
		WithRand(rand.New(rand.NewPCG(1, 1))),
		WithConfig(Config{Parallelism: 4}),
	}, opts...)
	o := New(repo, testCatalog(t), gen, opts...)
	t.Cleanup(o.Wait)
	return o, repo
}

func paperRequest(async bool) *SubmitRequest {
	return &SubmitRequest{
		OwnerID: "alice",
		Kind:    task.KindPaper,
		Async:   async,
		Paper:   &PaperRequest{Name: "Mock 1", Subject: "CET4"},
	}
}

func intensiveRequest(async bool) *SubmitRequest {
	return &SubmitRequest{
		OwnerID:   "alice",
		Kind:      task.KindIntensive,
		Async:     async,
		Intensive: &IntensiveRequest{Types: []string{"A", "B"}, Counts: []int{2, 1}},
	}
}

func submitAndWait(t *testing.T, o *Orchestrator, req *SubmitRequest) *task.Task {
	t.Helper()
	sub, err := o.Submit(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, sub.Status)
	o.Wait()
	got, err := o.GetTask(t.Context(), sub.TaskID, req.OwnerID)
	require.NoError(t, err)
	return got
}

func TestOrchestrator_PaperPolicy(t *testing.T) {
	t.Run("Should succeed with every unit in template order", func(t *testing.T) {
		o, _ := newOrchestrator(t, failing(never))
		got := submitAndWait(t, o, paperRequest(true))
		assert.Equal(t, task.StatusSucceeded, got.Status)
		assert.Equal(t, 100, got.Progress)
		assert.Equal(t, 5, got.GeneratedCount)
		assert.Equal(t, SourcePaper, got.Source)

		raw, err := o.GetResult(t.Context(), got.ID, "alice")
		require.NoError(t, err)
		var res struct {
			TemplatePaper string `json:"template_paper"`
			Source        string `json:"source"`
			Units         []struct {
				UnitIndex  int    `json:"unit_index"`
				SegmentTag string `json:"segment_tag"`
				PartID     string `json:"part_id"`
				Topic      string `json:"topic"`
			} `json:"units"`
		}
		require.NoError(t, json.Unmarshal(raw, &res))
		assert.Equal(t, "real-1", res.TemplatePaper)
		assert.Equal(t, SourcePaper, res.Source)
		require.Len(t, res.Units, 5)
		for i, u := range res.Units {
			assert.Equal(t, i, u.UnitIndex)
			assert.NotEmpty(t, u.Topic)
		}
		assert.Equal(t, "3C", res.Units[2].SegmentTag)
	})

	t.Run("Should fail the whole paper when one unit is exhausted", func(t *testing.T) {
		o, _ := newOrchestrator(t, failing(func(u *generation.Unit) bool { return u.Index == 2 }))
		got := submitAndWait(t, o, paperRequest(true))
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Empty(t, got.Result)
		assert.Contains(t, got.Message, "unit 2 (3C) failed")
		assert.Less(t, got.Progress, 100)

		_, err := o.GetResult(t.Context(), got.ID, "alice")
		assert.ErrorIs(t, err, ErrResultNotReady)
	})

	t.Run("Should report the lowest failing unit", func(t *testing.T) {
		o, _ := newOrchestrator(t, failing(func(u *generation.Unit) bool { return u.Index >= 1 }))
		got := submitAndWait(t, o, paperRequest(true))
		assert.Contains(t, got.Message, "unit 1 (2L)")
	})

	t.Run("Should fail when the subject has no template paper", func(t *testing.T) {
		o, _ := newOrchestrator(t, failing(never))
		req := paperRequest(true)
		req.Paper.Subject = "IELTS"
		got := submitAndWait(t, o, req)
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Contains(t, got.Message, "no real template paper")
	})
}

func TestOrchestrator_IntensivePolicy(t *testing.T) {
	t.Run("Should succeed with partial failures recorded by kind", func(t *testing.T) {
		o, _ := newOrchestrator(t, failing(func(u *generation.Unit) bool { return u.ContentKind == "B" }))
		got := submitAndWait(t, o, intensiveRequest(true))
		assert.Equal(t, task.StatusSucceeded, got.Status)
		assert.Equal(t, 3, got.RequestedTotal)
		assert.Equal(t, 2, got.GeneratedCount)
		assert.Equal(t, 1, got.FailedCount)
		assert.Equal(t, []string{"B"}, got.FailedKinds)
		assert.Equal(t, SourceIntensive, got.Source)

		raw, err := o.GetResult(t.Context(), got.ID, "alice")
		require.NoError(t, err)
		var res struct {
			Questions []struct {
				UnitIndex  int    `json:"unit_index"`
				SegmentTag string `json:"segment_tag"`
			} `json:"questions"`
			FailedKinds []string `json:"failed_kinds"`
		}
		require.NoError(t, json.Unmarshal(raw, &res))
		require.Len(t, res.Questions, 2)
		assert.Equal(t, "1A", res.Questions[0].SegmentTag)
		assert.Equal(t, "2A", res.Questions[1].SegmentTag)
		assert.Equal(t, []string{"B"}, res.FailedKinds)
	})

	t.Run("Should list a failed kind once", func(t *testing.T) {
		o, _ := newOrchestrator(t, failing(func(u *generation.Unit) bool { return u.ContentKind == "B" }))
		req := intensiveRequest(true)
		req.Intensive.Counts = []int{1, 3}
		got := submitAndWait(t, o, req)
		assert.Equal(t, task.StatusSucceeded, got.Status)
		assert.Equal(t, 3, got.FailedCount)
		assert.Equal(t, []string{"B"}, got.FailedKinds)
	})

	t.Run("Should fail only when nothing was generated", func(t *testing.T) {
		o, _ := newOrchestrator(t, failing(func(*generation.Unit) bool { return true }))
		got := submitAndWait(t, o, intensiveRequest(true))
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Contains(t, got.Message, "no unit was generated")
	})

	t.Run("Should count units without a sample document as failed", func(t *testing.T) {
		client := generation.NewClient(
			provider.NewFunc("primary", func(context.Context, *provider.Request) (string, error) {
				return `{"passage":"ok"}`, nil
			}),
			nil,
			generation.ClientConfig{MaxAttempts: 1},
		)
		o, _ := newOrchestrator(t, client)
		req := intensiveRequest(true)
		req.Intensive.Types = []string{"A", "unknown-kind"}
		got := submitAndWait(t, o, req)
		assert.Equal(t, task.StatusSucceeded, got.Status)
		assert.Equal(t, 2, got.GeneratedCount)
		assert.Equal(t, []string{"unknown-kind"}, got.FailedKinds)
	})

	t.Run("Should tag wrong-bank requests and draw from the owner's bank", func(t *testing.T) {
		var mu sync.Mutex
		var docs []string
		gen := genFunc(func(_ context.Context, u *generation.Unit) (*generation.Result, error) {
			mu.Lock()
			docs = append(docs, u.SourceDocument)
			mu.Unlock()
			assert.Equal(t, SourceWrongBank, u.SourceTag)
			return okResult(u), nil
		})
		o, _ := newOrchestrator(t, gen)
		req := intensiveRequest(true)
		req.Intensive.FromWrongBank = true
		req.Intensive.Counts = []int{1, 0}
		got := submitAndWait(t, o, req)
		assert.Equal(t, SourceWrongBank, got.Source)
		assert.Equal(t, []string{"missed A"}, docs)
	})
}

func TestOrchestrator_SyncMode(t *testing.T) {
	t.Run("Should return the terminal task and leave no record behind", func(t *testing.T) {
		o, repo := newOrchestrator(t, failing(never))
		sub, err := o.Submit(t.Context(), paperRequest(false))
		require.NoError(t, err)
		assert.Equal(t, task.StatusSucceeded, sub.Status)
		require.NotNil(t, sub.Task)
		assert.Equal(t, 100, sub.Task.Progress)
		assert.NotEmpty(t, sub.Task.Result)
		recent, err := repo.FindRecentByOwner(t.Context(), "alice", 10, "")
		require.NoError(t, err)
		assert.Empty(t, recent)
	})

	t.Run("Should return a TaskError and still delete the record on failure", func(t *testing.T) {
		o, repo := newOrchestrator(t, failing(func(u *generation.Unit) bool { return u.Index == 2 }))
		sub, err := o.Submit(t.Context(), paperRequest(false))
		var taskErr *TaskError
		require.ErrorAs(t, err, &taskErr)
		assert.Equal(t, sub.TaskID, taskErr.TaskID)
		assert.Contains(t, taskErr.Message, "unit 2")
		assert.Equal(t, task.StatusFailed, sub.Status)
		recent, err := o.ListRecent(t.Context(), "alice", 10, "")
		require.NoError(t, err)
		assert.Empty(t, recent)
		_, err = repo.FindByID(t.Context(), sub.TaskID)
		assert.ErrorIs(t, err, task.ErrNotFound)
	})
}

// progressRepo records every progress write.
type progressRepo struct {
	*memory.TaskRepo
	mu       sync.Mutex
	percents []int
}

func (r *progressRepo) UpdateProgress(ctx context.Context, id core.ID, percent int, message string) error {
	r.mu.Lock()
	r.percents = append(r.percents, percent)
	r.mu.Unlock()
	return r.TaskRepo.UpdateProgress(ctx, id, percent, message)
}

func TestOrchestrator_Progress(t *testing.T) {
	t.Run("Should report clamped non-decreasing progress", func(t *testing.T) {
		repo := &progressRepo{TaskRepo: memory.NewTaskRepo()}
		o := New(repo, testCatalog(t), failing(never), WithConfig(Config{Parallelism: 3}))
		req := intensiveRequest(true)
		req.Intensive.Counts = []int{6, 4}
		sub, err := o.Submit(t.Context(), req)
		require.NoError(t, err)
		o.Wait()
		require.Len(t, repo.percents, 10)
		for i := 1; i < len(repo.percents); i++ {
			assert.GreaterOrEqual(t, repo.percents[i], repo.percents[i-1])
		}
		assert.GreaterOrEqual(t, repo.percents[0], 5)
		assert.Equal(t, 99, repo.percents[len(repo.percents)-1])
		got, err := repo.FindByID(t.Context(), sub.TaskID)
		require.NoError(t, err)
		assert.Equal(t, 100, got.Progress)
	})
}

func TestOrchestrator_Validation(t *testing.T) {
	cases := []struct {
		name  string
		req   *SubmitRequest
		field string
	}{
		{"missing owner", &SubmitRequest{Kind: task.KindPaper, Paper: &PaperRequest{Subject: "CET4"}}, "owner_id"},
		{"unknown kind", &SubmitRequest{OwnerID: "a", Kind: "QUIZ"}, "kind"},
		{"paper without subject", &SubmitRequest{OwnerID: "a", Kind: task.KindPaper, Paper: &PaperRequest{Subject: " "}}, "subject"},
		{"paper without payload", &SubmitRequest{OwnerID: "a", Kind: task.KindPaper}, "paper"},
		{"mismatched lengths", &SubmitRequest{
			OwnerID: "a", Kind: task.KindIntensive,
			Intensive: &IntensiveRequest{Types: []string{"A", "B"}, Counts: []int{1}},
		}, "intensive.counts"},
		{"no positive count", &SubmitRequest{
			OwnerID: "a", Kind: task.KindIntensive,
			Intensive: &IntensiveRequest{Types: []string{"A"}, Counts: []int{0}},
		}, "intensive.counts"},
		{"blank type", &SubmitRequest{
			OwnerID: "a", Kind: task.KindIntensive,
			Intensive: &IntensiveRequest{Types: []string{"A", "  "}, Counts: []int{1, 1}},
		}, "intensive.types[1]"},
		{"negative count", &SubmitRequest{
			OwnerID: "a", Kind: task.KindIntensive,
			Intensive: &IntensiveRequest{Types: []string{"A"}, Counts: []int{-1}},
		}, "counts[0]"},
	}
	for _, tc := range cases {
		t.Run("Should reject "+tc.name+" without creating a task", func(t *testing.T) {
			o, repo := newOrchestrator(t, failing(never))
			tc.req.Async = true
			sub, err := o.Submit(t.Context(), tc.req)
			require.ErrorIs(t, err, core.ErrValidation)
			assert.Nil(t, sub)
			assert.Contains(t, err.Error(), tc.field)
			recent, err := repo.FindRecentByOwner(t.Context(), "a", 10, "")
			require.NoError(t, err)
			assert.Empty(t, recent)
		})
	}
}

func TestOrchestrator_Queries(t *testing.T) {
	t.Run("Should hide other owners' tasks", func(t *testing.T) {
		o, _ := newOrchestrator(t, failing(never))
		got := submitAndWait(t, o, paperRequest(true))
		_, err := o.GetTask(t.Context(), got.ID, "mallory")
		assert.ErrorIs(t, err, task.ErrNotFound)
		_, err = o.GetResult(t.Context(), got.ID, "mallory")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("Should serve cached results and evict them on delete", func(t *testing.T) {
		cache := resultcache.New(8, 0)
		o, _ := newOrchestrator(t, failing(never), WithResultCache(cache))
		got := submitAndWait(t, o, paperRequest(true))
		first, err := o.GetResult(t.Context(), got.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, cache.Len())
		second, err := o.GetResult(t.Context(), got.ID, "alice")
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(second))

		ok, err := o.Delete(t.Context(), got.ID, "mallory")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = o.Delete(t.Context(), got.ID, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0, cache.Len())
		_, err = o.GetResult(t.Context(), got.ID, "alice")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("Should list recent tasks filtered by kind", func(t *testing.T) {
		o, _ := newOrchestrator(t, failing(never))
		submitAndWait(t, o, paperRequest(true))
		submitAndWait(t, o, intensiveRequest(true))
		all, err := o.ListRecent(t.Context(), "alice", 0, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)
		papers, err := o.ListRecent(t.Context(), "alice", 0, task.KindPaper)
		require.NoError(t, err)
		assert.Len(t, papers, 1)
		_, err = o.ListRecent(t.Context(), " ", 0, "")
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("Should report a pending result as not ready", func(t *testing.T) {
		o, repo := newOrchestrator(t, failing(never))
		tk, err := task.New("alice", task.KindPaper, nil, true, SourcePaper, 0)
		require.NoError(t, err)
		require.NoError(t, repo.Insert(t.Context(), tk))
		_, err = o.GetResult(t.Context(), tk.ID, "alice")
		assert.ErrorIs(t, err, ErrResultNotReady)
		assert.Contains(t, err.Error(), "PENDING")
	})
}

func TestOrchestrator_Panics(t *testing.T) {
	t.Run("Should fail the task when a unit panics under the paper policy", func(t *testing.T) {
		gen := genFunc(func(_ context.Context, u *generation.Unit) (*generation.Result, error) {
			if u.Index == 0 {
				panic("boom")
			}
			return okResult(u), nil
		})
		o, _ := newOrchestrator(t, gen)
		got := submitAndWait(t, o, paperRequest(true))
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Contains(t, got.Message, "panic: boom")
	})
}

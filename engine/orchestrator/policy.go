package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/examforge/examforge/engine/generation"
	"github.com/examforge/examforge/engine/task"
)

// outcome is a success policy's verdict. Exactly one of completion and
// failure is set.
type outcome struct {
	completion *task.Completion
	failure    string
}

// policy decides a task's terminal state from its unit outcomes. Results and
// failures arrive sorted by unit index.
type policy func(p *plan, results []*generation.Result, failures []*generation.FailedUnit) (*outcome, error)

func policyFor(kind task.Kind) policy {
	if kind == task.KindPaper {
		return paperPolicy
	}
	return intensivePolicy
}

type paperResult struct {
	TemplatePaper string               `json:"template_paper"`
	Subject       string               `json:"subject"`
	Source        string               `json:"source"`
	Units         []*generation.Result `json:"units"`
}

// paperPolicy is all-or-nothing: a paper with a missing unit is not a paper.
func paperPolicy(p *plan, results []*generation.Result, failures []*generation.FailedUnit) (*outcome, error) {
	if len(failures) > 0 {
		return &outcome{failure: unitFailure(failures[0])}, nil
	}
	if len(results) == 0 {
		return &outcome{failure: "template paper has no units"}, nil
	}
	raw, err := json.Marshal(&paperResult{
		TemplatePaper: p.paperID,
		Subject:       p.subject,
		Source:        p.source,
		Units:         results,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding paper result: %w", err)
	}
	return &outcome{completion: &task.Completion{
		Result:         raw,
		GeneratedCount: len(results),
	}}, nil
}

type intensiveResult struct {
	Source         string               `json:"source"`
	Questions      []*generation.Result `json:"questions"`
	GeneratedCount int                  `json:"generated_count"`
	FailedCount    int                  `json:"failed_count"`
	FailedKinds    []string             `json:"failed_kinds"`
}

// intensivePolicy succeeds while at least one unit did.
func intensivePolicy(p *plan, results []*generation.Result, failures []*generation.FailedUnit) (*outcome, error) {
	if len(results) == 0 {
		if len(failures) == 0 {
			return &outcome{failure: "no units were planned"}, nil
		}
		return &outcome{failure: "no unit was generated: " + unitFailure(failures[0])}, nil
	}
	kinds := failedKinds(failures)
	failedCount := max(0, p.expected-len(results))
	raw, err := json.Marshal(&intensiveResult{
		Source:         p.source,
		Questions:      results,
		GeneratedCount: len(results),
		FailedCount:    failedCount,
		FailedKinds:    kinds,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding intensive result: %w", err)
	}
	return &outcome{completion: &task.Completion{
		Result:         raw,
		GeneratedCount: len(results),
		FailedCount:    failedCount,
		FailedKinds:    kinds,
	}}, nil
}

// failedKinds lists each failed content kind once, in unit order.
func failedKinds(failures []*generation.FailedUnit) []string {
	kinds := []string{}
	seen := make(map[string]struct{})
	for _, f := range failures {
		k := f.Unit.ContentKind
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		kinds = append(kinds, k)
	}
	return kinds
}

func unitFailure(f *generation.FailedUnit) string {
	return fmt.Sprintf("unit %d (%s) failed: %s", f.Index(), f.Unit.SegmentTag, f.Message())
}

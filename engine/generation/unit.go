// Package generation runs provider calls for exam content units: one unit at
// a time through Client, many at once through Pool.
package generation

import (
	"encoding/json"

	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/engine/normalizer"
	"github.com/examforge/examforge/engine/provider"
)

const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
)

// Unit is one independent piece of generation work.
type Unit struct {
	Index          int
	SourceDocument string
	Topic          string
	SegmentTag     string
	ContentKind    string
	SourceTag      string
	PartID         string
}

// Validate checks the inputs every provider call needs.
func (u *Unit) Validate() error {
	if u == nil {
		return core.NewValidationError("unit", "is required")
	}
	return core.RequireNonBlank(
		"source_document", u.SourceDocument,
		"topic", u.Topic,
		"segment_tag", u.SegmentTag,
		"content_kind", u.ContentKind,
	)
}

func (u *Unit) request() *provider.Request {
	return &provider.Request{
		Topic:          u.Topic,
		SourceDocument: u.SourceDocument,
		SourceTag:      u.SourceTag,
		SegmentTag:     u.SegmentTag,
	}
}

// Result is the outcome of one successful unit.
type Result struct {
	UnitIndex      int               `json:"unit_index"`
	SegmentTag     string            `json:"segment_tag"`
	ContentKind    string            `json:"content_kind"`
	Topic          string            `json:"topic"`
	SourceDocument string            `json:"original_document"`
	SourceTag      string            `json:"source_tag,omitempty"`
	PartID         string            `json:"part_id,omitempty"`
	Output         json.RawMessage   `json:"output"`
	Answers        map[string]string `json:"answers"`
	Value          any               `json:"-"`
	RawResponse    string            `json:"-"`
	// Source is the audit tag of the provider that produced the output.
	Source   string `json:"-"`
	Attempts int    `json:"-"`
}

func newResult(u *Unit, out *normalizer.Output, raw string) *Result {
	return &Result{
		UnitIndex:      u.Index,
		SegmentTag:     u.SegmentTag,
		ContentKind:    u.ContentKind,
		Topic:          u.Topic,
		SourceDocument: u.SourceDocument,
		SourceTag:      u.SourceTag,
		PartID:         u.PartID,
		Output:         out.JSON,
		Answers:        normalizer.ExtractAnswers(out.Value),
		Value:          out.Value,
		RawResponse:    raw,
	}
}

// FailedUnit records a unit that produced no result.
type FailedUnit struct {
	Unit *Unit
	Err  error
}

func (f *FailedUnit) Index() int { return f.Unit.Index }

func (f *FailedUnit) Message() string {
	if f.Err == nil {
		return "unknown failure"
	}
	return f.Err.Error()
}

package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/engine/task"
	"github.com/go-playground/validator/v10"
)

const (
	SourcePaper     = "AIfromreal"
	SourceIntensive = "AIfromself"
	SourceWrongBank = "AIfromWrongBank"
)

// PaperRequest asks for a full paper modeled on one real paper of Subject.
type PaperRequest struct {
	Name        string `json:"name,omitempty"        yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Subject     string `json:"subject"               yaml:"subject"     validate:"required"`
	Source      string `json:"source,omitempty"      yaml:"source"`
}

// IntensiveRequest asks for Counts[i] practice items of kind Types[i].
type IntensiveRequest struct {
	Types         []string `json:"types"                     yaml:"types"           validate:"required,min=1,dive,required"`
	Counts        []int    `json:"counts"                    yaml:"counts"          validate:"required,min=1,dive,min=0"`
	FromWrongBank bool     `json:"from_wrong_bank,omitempty" yaml:"from_wrong_bank"`
	Source        string   `json:"source,omitempty"          yaml:"source"`
}

// SubmitRequest is everything Submit needs. Exactly one of Paper and
// Intensive must be set, matching Kind.
type SubmitRequest struct {
	OwnerID   string            `json:"owner_id"            yaml:"owner_id"  validate:"required"`
	Kind      task.Kind         `json:"kind"                yaml:"kind"      validate:"required"`
	Async     bool              `json:"async"               yaml:"async"`
	Paper     *PaperRequest     `json:"paper,omitempty"     yaml:"paper"`
	Intensive *IntensiveRequest `json:"intensive,omitempty" yaml:"intensive"`
}

func (r *SubmitRequest) validate(v *validator.Validate) error {
	if r == nil {
		return core.NewValidationError("request", "is required")
	}
	if err := v.Struct(r); err != nil {
		return translateValidation(err)
	}
	switch r.Kind {
	case task.KindPaper:
		if r.Paper == nil {
			return core.NewValidationError("paper", "is required for PAPER tasks")
		}
		if err := v.Struct(r.Paper); err != nil {
			return translateValidation(err)
		}
		return core.RequireNonBlank("paper.subject", r.Paper.Subject)
	case task.KindIntensive:
		if r.Intensive == nil {
			return core.NewValidationError("intensive", "is required for INTENSIVE tasks")
		}
		in := r.Intensive
		if len(in.Types) != len(in.Counts) {
			return core.NewValidationError("intensive.counts",
				fmt.Sprintf("has %d entries but types has %d", len(in.Counts), len(in.Types)))
		}
		if err := v.Struct(in); err != nil {
			return translateValidation(err)
		}
		for i, kind := range in.Types {
			if strings.TrimSpace(kind) == "" {
				return core.NewValidationError(fmt.Sprintf("intensive.types[%d]", i), "must not be blank")
			}
		}
		if in.requestedTotal() == 0 {
			return core.NewValidationError("intensive.counts", "needs at least one positive count")
		}
		return nil
	default:
		return core.NewValidationError("kind", fmt.Sprintf("unknown task kind %q", r.Kind))
	}
}

func (r *SubmitRequest) payload() any {
	if r.Kind == task.KindPaper {
		return r.Paper
	}
	return r.Intensive
}

// source resolves the audit tag stored with every generated unit.
func (r *SubmitRequest) source() string {
	switch r.Kind {
	case task.KindPaper:
		return withDefault(r.Paper.Source, SourcePaper)
	default:
		if r.Intensive.FromWrongBank {
			return SourceWrongBank
		}
		return withDefault(r.Intensive.Source, SourceIntensive)
	}
}

// requestedTotal is unknown for papers until the template is picked.
func (r *SubmitRequest) requestedTotal() int {
	if r.Kind == task.KindIntensive {
		return r.Intensive.requestedTotal()
	}
	return 0
}

func (r *IntensiveRequest) requestedTotal() int {
	total := 0
	for _, c := range r.Counts {
		if c > 0 {
			total += c
		}
	}
	return total
}

func withDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func translateValidation(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return core.NewValidationError(fieldPath(fe.Namespace()), fmt.Sprintf("failed %q check", fe.Tag()))
	}
	return core.NewValidationError("request", err.Error())
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

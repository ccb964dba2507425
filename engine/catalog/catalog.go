// Package catalog supplies the inputs generation units are planned from:
// topics, real template papers and sample documents.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const SourceReal = "real"

var (
	ErrNoTopics   = errors.New("catalog has no topics")
	ErrNoTemplate = errors.New("no real template paper for subject")
	ErrNoSample   = errors.New("no sample document for content kind")
)

// Catalog is read-only from the engine's point of view.
type Catalog interface {
	Topics(ctx context.Context) ([]string, error)
	// TemplatePaper picks one real paper of subject at random.
	TemplatePaper(ctx context.Context, subject string) (*Paper, error)
	SampleDocument(ctx context.Context, q SampleQuery) (string, error)
}

type SampleQuery struct {
	OwnerID       string
	ContentKind   string
	FromWrongBank bool
}

type TemplateUnit struct {
	SegmentID   string `yaml:"segment_id"   json:"segment_id"`
	ContentKind string `yaml:"content_kind" json:"content_kind"`
	PartID      string `yaml:"part_id"      json:"part_id"`
	Document    string `yaml:"document"     json:"document"`
}

type Paper struct {
	ID      string         `yaml:"id"      json:"id"`
	Subject string         `yaml:"subject" json:"subject"`
	Source  string         `yaml:"source"  json:"source"`
	Units   []TemplateUnit `yaml:"units"   json:"units"`
}

type WrongBankEntry struct {
	OwnerID     string   `yaml:"owner_id"     json:"owner_id"`
	ContentKind string   `yaml:"content_kind" json:"content_kind"`
	Documents   []string `yaml:"documents"    json:"documents"`
}

// Data is the on-disk catalog layout.
type Data struct {
	Topics    []string         `yaml:"topics"`
	Papers    []Paper          `yaml:"papers"`
	WrongBank []WrongBankEntry `yaml:"wrong_bank"`
}

type Option func(*Static)

// WithRand makes random picks reproducible.
func WithRand(r *rand.Rand) Option {
	return func(s *Static) {
		if r != nil {
			s.rnd = r
		}
	}
}

// Static serves a catalog held in memory.
type Static struct {
	data Data
	mu   sync.Mutex
	rnd  *rand.Rand
}

func NewStatic(data *Data, opts ...Option) (*Static, error) {
	if data == nil {
		data = &Data{}
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	s := &Static{data: *data, rnd: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))} // #nosec G404 -- sampling, not security
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load reads a YAML catalog file.
func Load(path string, opts ...Option) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(raw, opts...)
}

func Parse(raw []byte, opts ...Option) (*Static, error) {
	var data Data
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return NewStatic(&data, opts...)
}

func (d *Data) Validate() error {
	seen := make(map[string]struct{}, len(d.Papers))
	for i := range d.Papers {
		p := &d.Papers[i]
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("catalog: paper %d has no id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("catalog: duplicate paper id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		for j, u := range p.Units {
			if strings.TrimSpace(u.Document) == "" || strings.TrimSpace(u.ContentKind) == "" {
				return fmt.Errorf("catalog: paper %q unit %d needs content_kind and document", p.ID, j)
			}
		}
	}
	return nil
}

func (s *Static) Topics(_ context.Context) ([]string, error) {
	if len(s.data.Topics) == 0 {
		return nil, ErrNoTopics
	}
	return slices.Clone(s.data.Topics), nil
}

func (s *Static) TemplatePaper(_ context.Context, subject string) (*Paper, error) {
	var candidates []*Paper
	for i := range s.data.Papers {
		p := &s.data.Papers[i]
		if p.Source == SourceReal && strings.EqualFold(p.Subject, subject) && len(p.Units) > 0 {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w %q", ErrNoTemplate, subject)
	}
	picked := candidates[s.intN(len(candidates))]
	out := *picked
	out.Units = slices.Clone(picked.Units)
	return &out, nil
}

// SampleDocument prefers the owner's wrong bank when asked, except for
// writing and translation which always use real papers. It falls back to a
// random real unit of the same kind.
func (s *Static) SampleDocument(_ context.Context, q SampleQuery) (string, error) {
	if q.FromWrongBank && !realOnlyKind(q.ContentKind) {
		var docs []string
		for _, e := range s.data.WrongBank {
			if e.OwnerID == q.OwnerID && strings.EqualFold(e.ContentKind, q.ContentKind) {
				docs = append(docs, nonBlank(e.Documents)...)
			}
		}
		if len(docs) > 0 {
			return docs[s.intN(len(docs))], nil
		}
	}
	var docs []string
	for _, p := range s.data.Papers {
		if p.Source != SourceReal {
			continue
		}
		for _, u := range p.Units {
			if strings.EqualFold(u.ContentKind, q.ContentKind) {
				docs = append(docs, u.Document)
			}
		}
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("%w %q", ErrNoSample, q.ContentKind)
	}
	return docs[s.intN(len(docs))], nil
}

func (s *Static) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(n)
}

func realOnlyKind(kind string) bool {
	k := strings.ToLower(strings.TrimSpace(kind))
	return k == "writing" || k == "translation"
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

package orchestrator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/examforge/examforge/engine/catalog"
	"github.com/examforge/examforge/engine/generation"
	"github.com/examforge/examforge/engine/task"
	"github.com/examforge/examforge/pkg/logger"
)

// planner turns a validated request into generation units.
type planner struct {
	catalog catalog.Catalog
	mu      sync.Mutex
	rnd     *rand.Rand
}

// plan is a unit list plus what the result payload needs to know about it.
type plan struct {
	units    []*generation.Unit
	paperID  string
	subject  string
	source   string
	expected int
}

func (p *planner) build(ctx context.Context, req *SubmitRequest, source string) (*plan, error) {
	topics, err := p.catalog.Topics(ctx)
	if err == nil && len(topics) == 0 {
		err = catalog.ErrNoTopics
	}
	if err != nil {
		return nil, fmt.Errorf("loading topics: %w", err)
	}
	if req.Kind == task.KindPaper {
		return p.paper(ctx, req.Paper, source, topics)
	}
	return p.intensive(ctx, req.OwnerID, req.Intensive, source, topics), nil
}

// paper assigns topics round-robin from a shuffled list, one unit per
// template unit.
func (p *planner) paper(ctx context.Context, req *PaperRequest, source string, topics []string) (*plan, error) {
	tpl, err := p.catalog.TemplatePaper(ctx, req.Subject)
	if err != nil {
		return nil, err
	}
	shuffled := p.shuffle(topics)
	units := make([]*generation.Unit, len(tpl.Units))
	for i, tu := range tpl.Units {
		units[i] = &generation.Unit{
			Index:          i,
			SourceDocument: tu.Document,
			Topic:          shuffled[i%len(shuffled)],
			SegmentTag:     withDefault(tu.SegmentID, segmentTag(i, tu.ContentKind)),
			ContentKind:    tu.ContentKind,
			SourceTag:      source,
			PartID:         tu.PartID,
		}
	}
	logger.FromContext(ctx).Debug("Planned paper units", "template_paper", tpl.ID, "units", len(units))
	return &plan{units: units, paperID: tpl.ID, subject: req.Subject, source: source, expected: len(units)}, nil
}

// intensive expands kinds by their counts. A unit whose sample document
// cannot be found is still planned; it fails validation and is counted as a
// failed unit instead of failing the task.
func (p *planner) intensive(
	ctx context.Context,
	ownerID string,
	req *IntensiveRequest,
	source string,
	topics []string,
) *plan {
	log := logger.FromContext(ctx)
	var units []*generation.Unit
	for i, kind := range req.Types {
		kind = strings.TrimSpace(kind)
		for range max(0, req.Counts[i]) {
			idx := len(units)
			doc, err := p.catalog.SampleDocument(ctx, catalog.SampleQuery{
				OwnerID:       ownerID,
				ContentKind:   kind,
				FromWrongBank: req.FromWrongBank,
			})
			if err != nil {
				log.Warn("No sample document for unit", "unit_index", idx, "content_kind", kind, "error", err)
			}
			units = append(units, &generation.Unit{
				Index:          idx,
				SourceDocument: doc,
				Topic:          p.pick(topics),
				SegmentTag:     segmentTag(idx, kind),
				ContentKind:    kind,
				SourceTag:      source,
			})
		}
	}
	return &plan{units: units, source: source, expected: req.requestedTotal()}
}

func segmentTag(index int, kind string) string {
	return fmt.Sprintf("%d%s", index+1, kind)
}

func (p *planner) shuffle(items []string) []string {
	out := append([]string(nil), items...)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (p *planner) pick(items []string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return items[p.rnd.IntN(len(items))]
}

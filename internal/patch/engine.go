// Package patch implements the patch engine: a pure transition that applies
// an ordered list of typed operations to a scene document.
//
// Operations run in order against a working copy, so later operations see
// the effects of earlier ones. After the last operation the document is
// normalized, passed through the quality pass in fix mode and normalized
// again so the revision hash reflects the repaired content. A batch either
// applies completely or returns an error and no document.
package patch

import (
	"fmt"
	"sort"
	"time"

	"github.com/duhman/excalidraw-mcp/internal/quality"
	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/google/uuid"
)

// Engine applies operation batches. The zero value is not usable; build
// one with NewEngine.
type Engine struct {
	now   func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for element "updated" timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the generator for ids of elements added without one.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine creates an Engine with the wall clock and uuid element ids.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of Apply.
type Result struct {
	Document scene.Document
	// ChangedIDs holds every element id touched by an operation, sorted
	// and de-duplicated.
	ChangedIDs []string
	// Issues and FixesApplied report the quality pass run after the batch.
	Issues       []quality.Issue
	FixesApplied int
}

// Apply runs ops against a copy of doc. Zero operations is a
// normalization-only pass. The input document is never modified.
func (e *Engine) Apply(doc scene.Document, ops []Operation) (Result, error) {
	st := &state{
		doc:     doc.Clone(),
		changed: make(map[string]struct{}),
		now:     e.now().UTC(),
		newID:   e.newID,
	}

	for i, op := range ops {
		if op == nil {
			return Result{}, fmt.Errorf("operation %d: %w: null operation", i, scene.ErrInvalidInput)
		}
		if err := op.apply(st); err != nil {
			return Result{}, fmt.Errorf("operation %d (%s): %w", i, op.Kind(), err)
		}
	}

	normalized := scene.Normalize(st.doc)
	if err := checkLiveIDs(normalized); err != nil {
		return Result{}, err
	}
	q := quality.Analyze(normalized, true)

	return Result{
		Document:     scene.Normalize(q.Document),
		ChangedIDs:   st.changedIDs(),
		Issues:       q.Issues,
		FixesApplied: q.FixesApplied,
	}, nil
}

// checkLiveIDs rejects documents in which two live elements share an id.
// Whole-element replacement (save, import) bypasses the per-op checks.
func checkLiveIDs(doc scene.Document) error {
	seen := make(map[string]bool, len(doc.Elements))
	for i := range doc.Elements {
		e := &doc.Elements[i]
		if e.IsDeleted {
			continue
		}
		if seen[e.ID] {
			return fmt.Errorf("%w: element id %q is used by more than one live element", scene.ErrInvalidInput, e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// Kinds lists the wire tags of ops in order, for journaling.
func Kinds(ops []Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		if op != nil {
			out = append(out, op.Kind())
		}
	}
	return out
}

// state is the working copy threaded through one batch.
type state struct {
	doc     scene.Document
	changed map[string]struct{}
	now     time.Time
	newID   func() string
}

func (st *state) touch(id string) {
	if id != "" {
		st.changed[id] = struct{}{}
	}
}

func (st *state) nowMillis() int64 {
	return st.now.UnixMilli()
}

func (st *state) changedIDs() []string {
	ids := make([]string, 0, len(st.changed))
	for id := range st.changed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// registerBackRefs records the element on the targets it points at: the
// container of a text element and the bound ends of a connector.
func (st *state) registerBackRefs(id string) {
	el := st.doc.LiveElement(id)
	if el == nil {
		return
	}

	var targets []string
	if el.Type == scene.TypeText {
		targets = append(targets, el.Container())
	}
	if el.Type.IsConnector() {
		for _, b := range []*scene.Binding{el.StartBinding, el.EndBinding} {
			if b != nil {
				targets = append(targets, b.ElementID)
			}
		}
	}

	for _, targetID := range targets {
		if targetID == "" || targetID == id {
			continue
		}
		target := st.doc.LiveElement(targetID)
		if target == nil || target.HasBoundElement(id) {
			continue
		}
		target.BoundElements = append(target.BoundElements, scene.BoundElement{ID: id, Type: string(el.Type)})
		target.Version++
		target.Updated = st.nowMillis()
		st.touch(target.ID)
	}
}

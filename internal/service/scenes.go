package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/duhman/excalidraw-mcp/internal/patch"
	"github.com/duhman/excalidraw-mcp/internal/quality"
	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/duhman/excalidraw-mcp/internal/store"
)

// CreateRequest describes a new document.
type CreateRequest struct {
	// ID is generated when empty.
	ID       string
	Name     string
	Elements []map[string]any
	AppState map[string]any
	// Session, when set, becomes bound to the new document.
	Session string
}

// CreateScene creates and persists a document, optionally seeded with
// element skeletons and app state. Fails with scene.ErrConflict if the id
// is taken.
func (s *Service) CreateScene(ctx context.Context, req CreateRequest) (patch.Result, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = s.newDocID()
	}
	if err := store.ValidateID(id); err != nil {
		return patch.Result{}, err
	}

	var ops []patch.Operation
	if len(req.Elements) > 0 {
		ops = append(ops, patch.AddElements{Elements: req.Elements})
	}
	if len(req.AppState) > 0 {
		ops = append(ops, patch.SetAppState{State: req.AppState})
	}

	res, err := s.createWith(ctx, id, "create", func() (patch.Result, error) {
		now := timeNow()
		return s.engine.Apply(scene.New(id, strings.TrimSpace(req.Name), now), ops)
	})
	if err != nil {
		return patch.Result{}, err
	}
	s.bindSession(req.Session, id)
	return res, nil
}

// createWith persists a new document built by build under the id's lock.
func (s *Service) createWith(ctx context.Context, id, operation string, build func() (patch.Result, error)) (patch.Result, error) {
	release := s.locks.Lock(id)
	defer release()

	exists, err := s.store.Exists(ctx, id)
	if err != nil {
		return patch.Result{}, err
	}
	if exists {
		return patch.Result{}, fmt.Errorf("%w: document %q already exists", scene.ErrConflict, id)
	}

	res, err := build()
	if err != nil {
		return patch.Result{}, err
	}
	if err := s.persist(ctx, &res.Document, res.Document.Metadata.CreatedAt); err != nil {
		return patch.Result{}, err
	}
	s.record(ctx, res, operation)
	return res, nil
}

// OpenScene binds session to an existing document and returns its metadata.
func (s *Service) OpenScene(ctx context.Context, session, id string) (scene.Metadata, error) {
	if err := store.ValidateID(id); err != nil {
		return scene.Metadata{}, err
	}
	doc, err := s.store.Load(ctx, id)
	if err != nil {
		return scene.Metadata{}, err
	}
	s.bindSession(session, id)
	return doc.Metadata, nil
}

// ListScenes returns the metadata of every document, most recently updated
// first.
func (s *Service) ListScenes(ctx context.Context) ([]scene.Metadata, error) {
	return s.store.ListMetadata(ctx)
}

// GetScene returns the latest persisted document.
func (s *Service) GetScene(ctx context.Context, session, id string) (scene.Document, error) {
	id, err := s.resolve(session, id)
	if err != nil {
		return scene.Document{}, err
	}
	return s.store.Load(ctx, id)
}

// Content is a full replacement of a document's mutable content. Nil
// fields keep the current value.
type Content struct {
	Name         *string
	Elements     []scene.Element
	AppState     map[string]any
	Files        map[string]scene.FileRecord
	LibraryItems []scene.LibraryItem
}

// SaveScene replaces the document content with c, then normalizes, repairs
// and persists it. With a nil c the document is re-persisted as is.
func (s *Service) SaveScene(ctx context.Context, session, id string, c *Content) (patch.Result, error) {
	id, err := s.resolve(session, id)
	if err != nil {
		return patch.Result{}, err
	}

	return s.mutate(ctx, id, "save", func(doc scene.Document) (patch.Result, bool, error) {
		var changed []string
		var ops []patch.Operation
		if c != nil {
			if c.Name != nil {
				ops = append(ops, patch.SetName{Name: *c.Name})
			}
			if c.Elements != nil {
				doc.Elements = make([]scene.Element, len(c.Elements))
				for i, e := range c.Elements {
					if err := scene.ValidateType(e.Type); err != nil {
						return patch.Result{}, false, fmt.Errorf("element %d: %w", i, err)
					}
					doc.Elements[i] = e.Clone()
					changed = append(changed, e.ID)
				}
			}
			if c.AppState != nil {
				ops = append(ops, patch.SetAppState{State: c.AppState, Replace: true})
			}
			if c.Files != nil {
				ops = append(ops, patch.SetFiles{Files: c.Files, Replace: true})
			}
			if c.LibraryItems != nil {
				ops = append(ops, patch.SetLibrary{Items: c.LibraryItems})
			}
		}

		res, err := s.engine.Apply(doc, ops)
		if err != nil {
			return patch.Result{}, false, err
		}
		if len(changed) > 0 {
			res.ChangedIDs = mergeIDs(res.ChangedIDs, liveIDs(res.Document))
		}
		return res, true, nil
	})
}

// PatchScene applies ops as one batch and persists the result.
func (s *Service) PatchScene(ctx context.Context, session, id string, ops []patch.Operation) (patch.Result, error) {
	id, err := s.resolve(session, id)
	if err != nil {
		return patch.Result{}, err
	}
	operation := "patch"
	if kinds := patch.Kinds(ops); len(kinds) > 0 {
		operation += ":" + strings.Join(kinds, ",")
	}
	return s.mutate(ctx, id, operation, s.applyOps(ops...))
}

// NormalizeScene runs a normalization-only pass and persists the result.
func (s *Service) NormalizeScene(ctx context.Context, session, id string) (patch.Result, error) {
	id, err := s.resolve(session, id)
	if err != nil {
		return patch.Result{}, err
	}
	return s.mutate(ctx, id, "normalize", s.applyOps())
}

// ValidationReport is the outcome of ValidateScene.
type ValidationReport struct {
	Valid        bool                    `json:"valid"`
	RevisionHash string                  `json:"revisionHash"`
	Structural   []scene.StructuralIssue `json:"structuralIssues"`
	Quality      []quality.Issue         `json:"qualityIssues"`
}

// ValidateScene reports structural issues and quality issues (analysis
// only) of the persisted document. The document is valid iff there are no
// structural issues and no quality issue of error severity.
func (s *Service) ValidateScene(ctx context.Context, session, id string) (ValidationReport, error) {
	doc, err := s.GetScene(ctx, session, id)
	if err != nil {
		return ValidationReport{}, err
	}
	return Validate(doc), nil
}

// Validate checks doc without persisting anything.
func Validate(doc scene.Document) ValidationReport {
	structural := scene.ValidateStructure(doc)
	q := quality.Analyze(scene.Normalize(doc), false)

	report := ValidationReport{
		Valid:        len(structural) == 0 && !q.HasErrors(),
		RevisionHash: doc.Metadata.RevisionHash,
		Structural:   structural,
		Quality:      q.Issues,
	}
	if report.Structural == nil {
		report.Structural = []scene.StructuralIssue{}
	}
	if report.Quality == nil {
		report.Quality = []quality.Issue{}
	}
	return report
}

func liveIDs(doc scene.Document) []string {
	ids := make([]string, 0, len(doc.Elements))
	for i := range doc.Elements {
		if !doc.Elements[i].IsDeleted {
			ids = append(ids, doc.Elements[i].ID)
		}
	}
	return ids
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

package service

import (
	"context"
	"fmt"
	"math"

	"github.com/duhman/excalidraw-mcp/internal/patch"
	"github.com/duhman/excalidraw-mcp/internal/scene"
)

// ElementFilter narrows ListElements. The zero value lists every live
// element.
type ElementFilter struct {
	Types          []scene.ElementType
	IDs            []string
	IncludeDeleted bool
	// BBox keeps only elements whose bounds intersect it.
	BBox *scene.Bounds
}

func (f ElementFilter) match(e *scene.Element, types, ids map[string]bool) bool {
	if e.IsDeleted && !f.IncludeDeleted {
		return false
	}
	if len(types) > 0 && !types[string(e.Type)] {
		return false
	}
	if len(ids) > 0 && !ids[e.ID] {
		return false
	}
	if f.BBox != nil && !e.Bounds().Intersects(*f.BBox) {
		return false
	}
	return true
}

// ListElements returns the elements of the persisted document matching f,
// in document order.
func (s *Service) ListElements(ctx context.Context, session, id string, f ElementFilter) ([]scene.Element, error) {
	doc, err := s.GetScene(ctx, session, id)
	if err != nil {
		return nil, err
	}

	types := make(map[string]bool, len(f.Types))
	for _, t := range f.Types {
		if err := scene.ValidateType(t); err != nil {
			return nil, err
		}
		types[string(t)] = true
	}
	ids := make(map[string]bool, len(f.IDs))
	for _, elID := range f.IDs {
		ids[elID] = true
	}

	out := make([]scene.Element, 0, len(doc.Elements))
	for i := range doc.Elements {
		if f.match(&doc.Elements[i], types, ids) {
			out = append(out, doc.Elements[i])
		}
	}
	return out, nil
}

// GetAppState returns the persisted view state.
func (s *Service) GetAppState(ctx context.Context, session, id string) (map[string]any, error) {
	doc, err := s.GetScene(ctx, session, id)
	if err != nil {
		return nil, err
	}
	if doc.AppState == nil {
		return map[string]any{}, nil
	}
	return doc.AppState, nil
}

// PatchAppState merges state into the view state, or replaces it.
func (s *Service) PatchAppState(ctx context.Context, session, id string, state map[string]any, replace bool) (patch.Result, error) {
	return s.PatchScene(ctx, session, id, []patch.Operation{patch.SetAppState{State: state, Replace: replace}})
}

// GetLibrary returns the persisted library items.
func (s *Service) GetLibrary(ctx context.Context, session, id string) ([]scene.LibraryItem, error) {
	doc, err := s.GetScene(ctx, session, id)
	if err != nil {
		return nil, err
	}
	if doc.LibraryItems == nil {
		return []scene.LibraryItem{}, nil
	}
	return doc.LibraryItems, nil
}

// UpdateLibrary replaces the library with items, or appends them when
// merge is set. Duplicates collapse either way.
func (s *Service) UpdateLibrary(ctx context.Context, session, id string, items []scene.LibraryItem, merge bool) (patch.Result, error) {
	return s.PatchScene(ctx, session, id, []patch.Operation{patch.SetLibrary{Items: items, Merge: merge}})
}

// ─── Fit to content ──────────────────────────────────────────────────────────

// Fit-to-content defaults and zoom clamp.
const (
	DefaultViewportWidth  = 1280.0
	DefaultViewportHeight = 800.0
	DefaultFitPadding     = 40.0
	MinZoom               = 0.1
	MaxZoom               = 30.0
)

// FitOptions tune FitToContent. Zero fields use the view state's
// width/height and DefaultFitPadding.
type FitOptions struct {
	ViewportWidth  float64
	ViewportHeight float64
	Padding        float64
}

// Viewport is the scroll and zoom written by FitToContent.
type Viewport struct {
	ScrollX float64       `json:"scrollX"`
	ScrollY float64       `json:"scrollY"`
	Zoom    float64       `json:"zoom"`
	Bounds  *scene.Bounds `json:"bounds,omitempty"`
}

// FitToContent sets scrollX, scrollY and zoom so every live element is
// visible in the viewport, and persists the result.
func (s *Service) FitToContent(ctx context.Context, session, id string, opts FitOptions) (Viewport, patch.Result, error) {
	id, err := s.resolve(session, id)
	if err != nil {
		return Viewport{}, patch.Result{}, err
	}

	var vp Viewport
	res, err := s.mutate(ctx, id, "fit", func(doc scene.Document) (patch.Result, bool, error) {
		v, err := fitViewport(doc, opts)
		if err != nil {
			return patch.Result{}, false, err
		}
		vp = v
		state := map[string]any{
			"scrollX": v.ScrollX,
			"scrollY": v.ScrollY,
			"zoom":    map[string]any{"value": v.Zoom},
		}
		return s.applyOps(patch.SetAppState{State: state})(doc)
	})
	if err != nil {
		return Viewport{}, patch.Result{}, err
	}
	return vp, res, nil
}

func fitViewport(doc scene.Document, opts FitOptions) (Viewport, error) {
	vw := opts.ViewportWidth
	if vw == 0 {
		vw = appStateNumber(doc.AppState, "width", DefaultViewportWidth)
	}
	vh := opts.ViewportHeight
	if vh == 0 {
		vh = appStateNumber(doc.AppState, "height", DefaultViewportHeight)
	}
	pad := opts.Padding
	if pad == 0 {
		pad = DefaultFitPadding
	}
	if vw <= 0 || vh <= 0 || pad < 0 {
		return Viewport{}, fmt.Errorf("%w: viewport %gx%g with padding %g", scene.ErrInvalidInput, vw, vh, pad)
	}

	b, ok := scene.ContentBounds(doc.Elements)
	if !ok {
		return Viewport{Zoom: 1}, nil
	}

	availW := math.Max(vw-2*pad, 1)
	availH := math.Max(vh-2*pad, 1)
	zoom := MaxZoom
	if w := b.Width(); w > 0 {
		zoom = math.Min(zoom, availW/w)
	}
	if h := b.Height(); h > 0 {
		zoom = math.Min(zoom, availH/h)
	}
	zoom = math.Max(MinZoom, math.Min(MaxZoom, zoom))

	cx, cy := b.Center()
	return Viewport{
		ScrollX: vw/(2*zoom) - cx,
		ScrollY: vh/(2*zoom) - cy,
		Zoom:    zoom,
		Bounds:  &b,
	}, nil
}

// appStateNumber reads a positive number from the view state.
func appStateNumber(state map[string]any, key string, fallback float64) float64 {
	switch v := state[key].(type) {
	case float64:
		if v > 0 && !math.IsInf(v, 0) {
			return v
		}
	case int:
		if v > 0 {
			return float64(v)
		}
	}
	return fallback
}

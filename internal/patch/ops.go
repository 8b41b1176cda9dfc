package patch

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/duhman/excalidraw-mcp/internal/scene"
)

// Operation is one typed mutation. The set is closed: only the types in
// this package implement it.
type Operation interface {
	// Kind returns the wire tag of the operation.
	Kind() string
	apply(st *state) error
}

// Wire tags.
const (
	KindSetName        = "setName"
	KindAddElements    = "addElements"
	KindUpdateElements = "updateElements"
	KindDeleteElements = "deleteElements"
	KindSetAppState    = "setAppState"
	KindSetLibrary     = "setLibrary"
	KindSetFiles       = "setFiles"
)

// Default geometry for skeletons without explicit size.
const (
	DefaultWidth  = 1.0
	DefaultHeight = 1.0
)

// SetName replaces the display name.
type SetName struct {
	Name string
}

// AddElements appends skeleton elements completed with defaults. A skeleton
// is the open JSON object form of an element; only "type" is required.
type AddElements struct {
	Elements []map[string]any
}

// ElementUpdate is a shallow patch for one element. A nil value removes
// the attribute.
type ElementUpdate struct {
	ID    string         `json:"id"`
	Patch map[string]any `json:"patch"`
}

// UpdateElements shallow-merges patches onto existing elements.
type UpdateElements struct {
	Updates []ElementUpdate
}

// DeleteElements soft-deletes elements, or removes them when HardDelete is set.
type DeleteElements struct {
	IDs        []string
	HardDelete bool
}

// SetAppState merges State into the app state, or replaces it wholesale
// when Replace is set.
type SetAppState struct {
	State   map[string]any
	Replace bool
}

// SetLibrary replaces the library, or merges Items by library key when
// Merge is set.
type SetLibrary struct {
	Items []scene.LibraryItem
	Merge bool
}

// SetFiles merges Files into the file map, or replaces it when Replace is set.
type SetFiles struct {
	Files   map[string]scene.FileRecord
	Replace bool
}

func (SetName) Kind() string        { return KindSetName }
func (AddElements) Kind() string    { return KindAddElements }
func (UpdateElements) Kind() string { return KindUpdateElements }
func (DeleteElements) Kind() string { return KindDeleteElements }
func (SetAppState) Kind() string    { return KindSetAppState }
func (SetLibrary) Kind() string     { return KindSetLibrary }
func (SetFiles) Kind() string       { return KindSetFiles }

// --- SetName ---

func (op SetName) apply(st *state) error {
	st.doc.Metadata.Name = strings.TrimSpace(op.Name)
	return nil
}

// --- AddElements ---

func (op AddElements) apply(st *state) error {
	added := make([]string, 0, len(op.Elements))
	for i, skeleton := range op.Elements {
		el, err := st.completeSkeleton(skeleton)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		st.doc.Elements = append(st.doc.Elements, el)
		st.touch(el.ID)
		added = append(added, el.ID)
	}
	for _, id := range added {
		st.registerBackRefs(id)
	}
	return nil
}

func (st *state) completeSkeleton(skeleton map[string]any) (scene.Element, error) {
	if skeleton == nil {
		return scene.Element{}, fmt.Errorf("%w: element skeleton is null", scene.ErrInvalidInput)
	}
	m := scene.CloneMap(skeleton)

	rawType, ok := m["type"].(string)
	if !ok || rawType == "" {
		return scene.Element{}, fmt.Errorf("%w: element type is required", scene.ErrInvalidInput)
	}
	if err := scene.ValidateType(scene.ElementType(rawType)); err != nil {
		return scene.Element{}, err
	}

	switch id := m["id"].(type) {
	case nil:
		m["id"] = st.newID()
	case string:
		if strings.TrimSpace(id) == "" {
			m["id"] = st.newID()
		}
	default:
		return scene.Element{}, fmt.Errorf("%w: element id must be a string", scene.ErrInvalidInput)
	}
	if err := coerceNumbers(m); err != nil {
		return scene.Element{}, err
	}

	el, err := scene.ElementFromMap(m)
	if err != nil {
		return scene.Element{}, err
	}
	if st.doc.LiveElement(el.ID) != nil {
		return scene.Element{}, fmt.Errorf("%w: element id %q already exists", scene.ErrInvalidInput, el.ID)
	}

	_, hasWidth := m["width"]
	_, hasHeight := m["height"]
	if el.Type.IsLinear() && len(el.Points) > 0 {
		w, h := pointExtents(el.Points)
		if !hasWidth {
			el.Width = w
		}
		if !hasHeight {
			el.Height = h
		}
	} else {
		if !hasWidth {
			el.Width = DefaultWidth
		}
		if !hasHeight {
			el.Height = DefaultHeight
		}
	}

	if el.Version < 1 {
		el.Version = 1
	}
	el.IsDeleted = false
	el.Updated = st.nowMillis()
	return el, nil
}

func pointExtents(points []scene.Point) (w, h float64) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
		minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
	}
	return maxX - minX, maxY - minY
}

// --- UpdateElements ---

func (op UpdateElements) apply(st *state) error {
	for _, u := range op.Updates {
		idx := st.doc.ElementIndex(u.ID)
		if u.ID == "" || idx < 0 {
			return fmt.Errorf("%w: element %q", scene.ErrNotFound, u.ID)
		}
		current := st.doc.Elements[idx]

		m, err := current.ToMap()
		if err != nil {
			return fmt.Errorf("%w: %v", scene.ErrInternal, err)
		}
		for k, v := range u.Patch {
			if k == "id" {
				if s, ok := v.(string); !ok || s != current.ID {
					return fmt.Errorf("%w: element %q: id cannot be changed", scene.ErrInvalidInput, current.ID)
				}
				continue
			}
			if v == nil {
				delete(m, k)
				continue
			}
			m[k] = scene.CloneValue(v)
		}
		if err := coerceNumbers(m); err != nil {
			return fmt.Errorf("element %q: %w", current.ID, err)
		}

		updated, err := scene.ElementFromMap(m)
		if err != nil {
			return fmt.Errorf("element %q: %w", current.ID, err)
		}
		if err := scene.ValidateType(updated.Type); err != nil {
			return fmt.Errorf("element %q: %w", current.ID, err)
		}
		updated.Version = current.Version + 1
		updated.Updated = st.nowMillis()

		st.doc.Elements[idx] = updated
		st.touch(updated.ID)
		st.registerBackRefs(updated.ID)
	}
	return nil
}

// --- DeleteElements ---

func (op DeleteElements) apply(st *state) error {
	if op.HardDelete {
		st.hardDelete(op.IDs)
		return nil
	}
	deleted := make(map[string]bool, len(op.IDs))
	for _, id := range op.IDs {
		el := st.doc.LiveElement(id)
		if el == nil {
			continue
		}
		st.softDelete(el)
		deleted[id] = true
	}
	if len(deleted) == 0 {
		return nil
	}

	// Bound text goes with its container.
	for i := range st.doc.Elements {
		el := &st.doc.Elements[i]
		if !el.IsDeleted && el.Type == scene.TypeText && deleted[el.Container()] {
			st.softDelete(el)
		}
	}
	return nil
}

func (st *state) softDelete(el *scene.Element) {
	el.IsDeleted = true
	el.Version++
	el.Updated = st.nowMillis()
	st.touch(el.ID)
}

func (st *state) hardDelete(ids []string) {
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if st.doc.ElementIndex(id) >= 0 {
			doomed[id] = true
		}
	}
	if len(doomed) == 0 {
		return
	}

	kept := st.doc.Elements[:0]
	for _, el := range st.doc.Elements {
		if doomed[el.ID] {
			continue
		}
		kept = append(kept, el)
	}
	st.doc.Elements = kept

	// Strip references to removed elements from the survivors.
	for i := range st.doc.Elements {
		el := &st.doc.Elements[i]
		changed := false

		if len(el.BoundElements) > 0 {
			refs := el.BoundElements[:0]
			for _, b := range el.BoundElements {
				if doomed[b.ID] {
					changed = true
					continue
				}
				refs = append(refs, b)
			}
			el.BoundElements = refs
			if len(el.BoundElements) == 0 {
				el.BoundElements = nil
			}
		}
		if doomed[el.Container()] {
			el.ContainerID = nil
			changed = true
		}
		if changed {
			el.Version++
			el.Updated = st.nowMillis()
			st.touch(el.ID)
		}
	}

	for id := range doomed {
		st.touch(id)
	}
}

// --- SetAppState ---

func (op SetAppState) apply(st *state) error {
	if op.Replace {
		st.doc.AppState = scene.CloneMap(op.State)
		return nil
	}
	if st.doc.AppState == nil {
		st.doc.AppState = make(map[string]any, len(op.State))
	}
	for k, v := range op.State {
		if v == nil {
			delete(st.doc.AppState, k)
			continue
		}
		st.doc.AppState[k] = scene.CloneValue(v)
	}
	return nil
}

// --- SetLibrary ---

func (op SetLibrary) apply(st *state) error {
	items := make([]scene.LibraryItem, 0, len(op.Items))
	for i, item := range op.Items {
		if item == nil {
			return fmt.Errorf("%w: library item %d is null", scene.ErrInvalidInput, i)
		}
		items = append(items, scene.LibraryItem(scene.CloneMap(item)))
	}
	if op.Merge {
		items = append(append([]scene.LibraryItem{}, st.doc.LibraryItems...), items...)
	}
	st.doc.LibraryItems = scene.DedupeLibrary(items)
	return nil
}

// --- SetFiles ---

func (op SetFiles) apply(st *state) error {
	keys := make([]string, 0, len(op.Files))
	for k := range op.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	incoming := make(map[string]scene.FileRecord, len(op.Files))
	for _, key := range keys {
		f := op.Files[key]
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: file id is empty", scene.ErrInvalidInput)
		}
		if f.ID == "" {
			f.ID = key
		}
		if err := scene.ValidateFile(key, f); err != nil {
			return err
		}
		if f.Created == 0 {
			f.Created = st.nowMillis()
		}
		incoming[key] = f
	}

	if op.Replace || st.doc.Files == nil {
		st.doc.Files = incoming
		return nil
	}
	for k, f := range incoming {
		st.doc.Files[k] = f
	}
	return nil
}

// --- helpers ---

var numericKeys = []string{"x", "y", "width", "height", "angle", "fontSize", "lineHeight", "version"}

// coerceNumbers converts numeric attributes given as strings to numbers and
// replaces non-finite values with 0. Other value types are rejected.
func coerceNumbers(m map[string]any) error {
	for _, k := range numericKeys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case nil:
			delete(m, k)
		case float64:
			m[k] = finiteOrZero(t)
		case float32:
			m[k] = finiteOrZero(float64(t))
		case int:
			m[k] = float64(t)
		case int64:
			m[k] = float64(t)
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return fmt.Errorf("%w: %s must be a number, got %q", scene.ErrInvalidInput, k, t)
			}
			m[k] = finiteOrZero(f)
		default:
			return fmt.Errorf("%w: %s must be a number", scene.ErrInvalidInput, k)
		}
	}
	if v, ok := m["version"].(float64); ok {
		m["version"] = math.Trunc(v)
	}
	return nil
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

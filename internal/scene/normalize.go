package scene

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Structural defaults for text elements.
const (
	DefaultFontSize   = 20.0
	DefaultLineHeight = 1.25
)

// Normalize returns a copy of d with structural defaults filled and all
// derived metadata recomputed. It is pure and idempotent:
// Normalize(Normalize(d)) equals Normalize(d). Geometry, text and bindings
// set by the caller are preserved except where a value is not a finite
// number.
func Normalize(d Document) Document {
	out := d.Clone()

	if out.Elements == nil {
		out.Elements = []Element{}
	}
	for i := range out.Elements {
		normalizeElement(&out.Elements[i], out.Metadata.ID, i)
	}

	out.AppState = sanitizeMap(out.AppState)
	if out.AppState == nil {
		out.AppState = map[string]any{}
	}

	if out.Files == nil {
		out.Files = map[string]FileRecord{}
	}
	for key, f := range out.Files {
		if f.ID == "" {
			f.ID = key
			out.Files[key] = f
		}
	}

	library := make([]LibraryItem, 0, len(out.LibraryItems))
	for _, item := range out.LibraryItems {
		if item == nil {
			continue
		}
		library = append(library, LibraryItem(sanitizeMap(item)))
	}
	out.LibraryItems = DedupeLibrary(library)

	refreshMetadata(&out)
	return out
}

// Rehash recomputes counts, hints and the revision hash in place without
// touching elements.
func Rehash(d *Document) {
	refreshMetadata(d)
}

func refreshMetadata(d *Document) {
	m := &d.Metadata
	m.ElementCount = 0
	m.HasFrames, m.HasEmbeds, m.HasImages = false, false, false
	for i := range d.Elements {
		e := &d.Elements[i]
		if e.IsDeleted {
			continue
		}
		m.ElementCount++
		switch e.Type {
		case TypeFrame, TypeMagicFrame:
			m.HasFrames = true
		case TypeEmbeddable, TypeIFrame:
			m.HasEmbeds = true
		case TypeImage:
			m.HasImages = true
		}
	}
	m.FileCount = len(d.Files)

	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	if m.UpdatedAt.Before(m.CreatedAt) {
		m.UpdatedAt = m.CreatedAt
	}

	m.RevisionHash = RevisionHash(*d)
}

func normalizeElement(e *Element, docID string, index int) {
	if e.ID == "" {
		e.ID = derivedElementID(docID, index, e.Type)
	}

	e.X = finite(e.X, 0)
	e.Y = finite(e.Y, 0)
	e.Width = finite(e.Width, 0)
	e.Height = finite(e.Height, 0)
	e.Angle = finite(e.Angle, 0)
	for i := range e.Points {
		e.Points[i][0] = finite(e.Points[i][0], 0)
		e.Points[i][1] = finite(e.Points[i][1], 0)
	}
	for _, b := range []*Binding{e.StartBinding, e.EndBinding} {
		if b != nil {
			b.Focus = finite(b.Focus, 0)
			b.Gap = finite(b.Gap, 0)
		}
	}

	if e.Version < 1 {
		e.Version = 1
	}
	if e.VersionNonce == 0 {
		e.VersionNonce = derivedNonce(e.ID)
	}

	if e.Type == TypeText {
		if fs := finite(e.FontSize, 0); fs <= 0 {
			e.FontSize = DefaultFontSize
		}
		if lh := finite(e.LineHeight, 0); lh <= 0 {
			e.LineHeight = DefaultLineHeight
		}
		if e.OriginalText == "" {
			e.OriginalText = e.Text
		}
	} else {
		e.FontSize = finite(e.FontSize, 0)
		e.LineHeight = finite(e.LineHeight, 0)
	}

	if e.CustomData != nil {
		e.CustomData = sanitizeMap(e.CustomData)
	}
	if e.Extra != nil {
		e.Extra = sanitizeMap(e.Extra)
		for k := range e.Extra {
			if knownElementKeys[k] {
				delete(e.Extra, k)
			}
		}
	}
}

// derivedElementID is deterministic so Normalize stays a pure function.
func derivedElementID(docID string, index int, t ElementType) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", docID, index, t)))
	return "el-" + hex.EncodeToString(sum[:10])
}

func derivedNonce(id string) int64 {
	sum := sha256.Sum256([]byte(id))
	return int64(binary.BigEndian.Uint32(sum[:4])&0x7fffffff) + 1
}

func finite(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// sanitizeMap replaces non-finite numbers anywhere in a JSON-shaped map
// with 0 so the document stays serializable.
func sanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	for k, v := range m {
		m[k] = sanitizeValue(v)
	}
	return m
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case float64:
		return finite(t, 0)
	case float32:
		return finite(float64(t), 0)
	case map[string]any:
		return sanitizeMap(t)
	case []any:
		for i := range t {
			t[i] = sanitizeValue(t[i])
		}
		return t
	default:
		return v
	}
}

// Package scene defines the scene document aggregate and the pure
// transformations that keep it consistent.
//
// A Document holds ordered elements, an open app-state bag, embedded
// binary files and reusable library items. Normalize fills structural
// defaults and recomputes the derived metadata (counts, hints and the
// content-addressed revision hash). Everything in this package is free of
// I/O so the patch engine and quality pass can run it to completion on a
// single snapshot.
package scene

import (
	"fmt"
	"time"
)

// --- Element type enum ---

// ElementType identifies the kind of drawable an element represents.
type ElementType string

const (
	TypeRectangle  ElementType = "rectangle"
	TypeDiamond    ElementType = "diamond"
	TypeEllipse    ElementType = "ellipse"
	TypeArrow      ElementType = "arrow"
	TypeLine       ElementType = "line"
	TypeFreeDraw   ElementType = "freedraw"
	TypeText       ElementType = "text"
	TypeImage      ElementType = "image"
	TypeFrame      ElementType = "frame"
	TypeMagicFrame ElementType = "magicframe"
	TypeEmbeddable ElementType = "embeddable"
	TypeIFrame     ElementType = "iframe"
)

// validTypes is the set of allowed element types.
var validTypes = map[ElementType]bool{
	TypeRectangle:  true,
	TypeDiamond:    true,
	TypeEllipse:    true,
	TypeArrow:      true,
	TypeLine:       true,
	TypeFreeDraw:   true,
	TypeText:       true,
	TypeImage:      true,
	TypeFrame:      true,
	TypeMagicFrame: true,
	TypeEmbeddable: true,
	TypeIFrame:     true,
}

// ValidateType returns an error wrapping ErrInvalidInput if the type is not recognized.
func ValidateType(t ElementType) error {
	if !validTypes[t] {
		return fmt.Errorf("%w: unknown element type %q", ErrInvalidInput, t)
	}
	return nil
}

// IsConnector reports whether elements of this type can bind to two endpoints.
func (t ElementType) IsConnector() bool {
	return t == TypeArrow || t == TypeLine
}

// IsLinear reports whether the element geometry is described by a polyline.
func (t ElementType) IsLinear() bool {
	return t == TypeArrow || t == TypeLine || t == TypeFreeDraw
}

// --- Element parts ---

// Point is a polyline vertex relative to the element origin, encoded as [x, y].
type Point [2]float64

// Binding attaches a connector endpoint to a target element.
type Binding struct {
	ElementID string  `json:"elementId"`
	Focus     float64 `json:"focus"`
	Gap       float64 `json:"gap"`
}

// BoundElement is a back-reference from a target to an element bound to it.
type BoundElement struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Element is one drawable unit. The known fields cover identity, geometry
// and the type-specific attributes the core reasons about; every other
// attribute round-trips through Extra untouched.
type Element struct {
	ID           string      `json:"id"`
	Type         ElementType `json:"type"`
	X            float64     `json:"x"`
	Y            float64     `json:"y"`
	Width        float64     `json:"width"`
	Height       float64     `json:"height"`
	Angle        float64     `json:"angle"`
	IsDeleted    bool        `json:"isDeleted"`
	Version      int         `json:"version"`
	VersionNonce int64       `json:"versionNonce"`
	Updated      int64       `json:"updated,omitempty"`

	// Connector attributes.
	Points        []Point        `json:"points,omitempty"`
	StartBinding  *Binding       `json:"startBinding,omitempty"`
	EndBinding    *Binding       `json:"endBinding,omitempty"`
	BoundElements []BoundElement `json:"boundElements,omitempty"`

	// Text attributes.
	ContainerID  *string `json:"containerId,omitempty"`
	Text         string  `json:"text,omitempty"`
	OriginalText string  `json:"originalText,omitempty"`
	FontSize     float64 `json:"fontSize,omitempty"`
	LineHeight   float64 `json:"lineHeight,omitempty"`

	CustomData map[string]any `json:"customData,omitempty"`

	// Extra holds attributes without a dedicated field (colors, roughness,
	// fileId, groupIds, ...). Keys never shadow a known field.
	Extra map[string]any `json:"-"`
}

// Container returns the container id of a text element, or "".
func (e *Element) Container() string {
	if e.ContainerID == nil {
		return ""
	}
	return *e.ContainerID
}

// HasBoundElement reports whether id is already registered as bound to e.
func (e *Element) HasBoundElement(id string) bool {
	for _, b := range e.BoundElements {
		if b.ID == id {
			return true
		}
	}
	return false
}

// --- Files and library ---

// FileRecord is an embedded binary payload stored as a base64 data URL.
type FileRecord struct {
	ID            string `json:"id"`
	MimeType      string `json:"mimeType"`
	DataURL       string `json:"dataURL"`
	Created       int64  `json:"created"`
	LastRetrieved int64  `json:"lastRetrieved,omitempty"`
	Version       int    `json:"version,omitempty"`
}

// LibraryItem is an opaque reusable-item record.
type LibraryItem map[string]any

// --- Document ---

// Metadata carries identity and the fields derived by Normalize.
type Metadata struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	ElementCount int       `json:"elementCount"`
	FileCount    int       `json:"fileCount"`
	HasFrames    bool      `json:"hasFrames"`
	HasEmbeds    bool      `json:"hasEmbeds"`
	HasImages    bool      `json:"hasImages"`
	RevisionHash string    `json:"revisionHash"`
}

// Document is the persisted scene aggregate.
type Document struct {
	Metadata     Metadata              `json:"metadata"`
	Elements     []Element             `json:"elements"`
	AppState     map[string]any        `json:"appState"`
	Files        map[string]FileRecord `json:"files"`
	LibraryItems []LibraryItem         `json:"libraryItems"`
}

// New returns an empty, normalized document.
func New(id, name string, now time.Time) Document {
	now = now.UTC()
	return Normalize(Document{
		Metadata: Metadata{
			ID:        id,
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		},
	})
}

// ElementIndex returns the position of the first element with the given
// id, preferring live elements over soft-deleted ones. Returns -1 if absent.
func (d *Document) ElementIndex(id string) int {
	deleted := -1
	for i := range d.Elements {
		if d.Elements[i].ID != id {
			continue
		}
		if !d.Elements[i].IsDeleted {
			return i
		}
		if deleted < 0 {
			deleted = i
		}
	}
	return deleted
}

// LiveElement returns the non-deleted element with the given id, or nil.
func (d *Document) LiveElement(id string) *Element {
	if id == "" {
		return nil
	}
	for i := range d.Elements {
		if d.Elements[i].ID == id && !d.Elements[i].IsDeleted {
			return &d.Elements[i]
		}
	}
	return nil
}

// Package quality implements the diagram quality pass: connector binding
// repair by geometric inference and text overflow repair inside bound
// containers.
//
// Analyze is deterministic. Elements are visited in document order and the
// only tie-break is first-encountered-wins, so repeated runs over the same
// document with the same fix flag yield identical issues and fixes.
package quality

import (
	"github.com/duhman/excalidraw-mcp/internal/scene"
)

// Heuristic estimator constants. They approximate rendered geometry and are
// not tied to any specific rendering engine.
const (
	// BindingMargin expands candidate bounds when testing endpoint containment.
	BindingMargin = 12.0
	// GlyphWidthFactor estimates an average glyph width as a fraction of font size.
	GlyphWidthFactor = 0.9
	// ContainerPadding is subtracted from a container's width to get the text area.
	ContainerPadding = 20.0
	// MinCharsPerLine bounds the re-wrap width from below.
	MinCharsPerLine = 8
)

// Code identifies a quality issue kind.
type Code string

const (
	CodeConnectorUnbound Code = "CONNECTOR_UNBOUND"
	CodeConnectorRebound Code = "CONNECTOR_BINDING_INFERRED"
	CodeTextOverflow     Code = "TEXT_OVERFLOW"
)

// Severity grades an issue. Only SeverityError makes a document invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one finding of the quality pass.
type Issue struct {
	Code      Code     `json:"code"`
	Severity  Severity `json:"severity"`
	ElementID string   `json:"elementId"`
	Side      string   `json:"side,omitempty"`
	TargetID  string   `json:"targetId,omitempty"`
	Message   string   `json:"message"`
	Fixed     bool     `json:"fixed"`
}

// Result is the outcome of Analyze.
type Result struct {
	Document     scene.Document
	Issues       []Issue
	FixesApplied int
}

// HasErrors reports whether any issue has error severity.
func (r Result) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Analyze runs the binding and text passes over a copy of doc. With fix
// false the returned document equals the input.
func Analyze(doc scene.Document, fix bool) Result {
	work := doc.Clone()
	var res Result

	repairBindings(&work, fix, &res)
	repairTextOverflow(&work, fix, &res)

	res.Document = work
	return res
}

package scene

import (
	"fmt"
	"sort"
)

// Structural issue codes reported by ValidateStructure.
const (
	CodeDuplicateID   = "DUPLICATE_ELEMENT_ID"
	CodeMissingID     = "MISSING_ELEMENT_ID"
	CodeUnknownType   = "UNKNOWN_ELEMENT_TYPE"
	CodeMalformedFile = "MALFORMED_FILE"
)

// StructuralIssue is a data-integrity problem that makes a document invalid.
type StructuralIssue struct {
	Code      string `json:"code"`
	ElementID string `json:"elementId,omitempty"`
	FileID    string `json:"fileId,omitempty"`
	Message   string `json:"message"`
}

// ValidateStructure reports duplicate or missing element ids among live
// elements, unknown element types and malformed file payloads. The result
// order is deterministic.
func ValidateStructure(d Document) []StructuralIssue {
	var issues []StructuralIssue

	seen := make(map[string]bool, len(d.Elements))
	for i := range d.Elements {
		e := &d.Elements[i]
		if e.ID == "" {
			issues = append(issues, StructuralIssue{
				Code:    CodeMissingID,
				Message: fmt.Sprintf("element at index %d has no id", i),
			})
		}
		if err := ValidateType(e.Type); err != nil {
			issues = append(issues, StructuralIssue{
				Code:      CodeUnknownType,
				ElementID: e.ID,
				Message:   fmt.Sprintf("element %q has unknown type %q", e.ID, e.Type),
			})
		}
		if e.IsDeleted || e.ID == "" {
			continue
		}
		if seen[e.ID] {
			issues = append(issues, StructuralIssue{
				Code:      CodeDuplicateID,
				ElementID: e.ID,
				Message:   fmt.Sprintf("element id %q is used by more than one live element", e.ID),
			})
		}
		seen[e.ID] = true
	}

	keys := make([]string, 0, len(d.Files))
	for k := range d.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := ValidateFile(k, d.Files[k]); err != nil {
			issues = append(issues, StructuralIssue{
				Code:    CodeMalformedFile,
				FileID:  k,
				Message: err.Error(),
			})
		}
	}

	return issues
}

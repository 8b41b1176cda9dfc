package patch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/duhman/excalidraw-mcp/internal/scene"
)

// wireOp is the JSON form of every operation, discriminated by "op".
//
//	{"op": "setName", "name": "..."}
//	{"op": "addElements", "elements": [{...}]}
//	{"op": "updateElements", "updates": [{"id": "...", "patch": {...}}]}
//	{"op": "deleteElements", "ids": ["..."], "hardDelete": false}
//	{"op": "setAppState", "state": {...}, "merge": true}
//	{"op": "setLibrary", "items": [{...}], "merge": false}
//	{"op": "setFiles", "files": {"id": {...}}, "merge": true}
type wireOp struct {
	Op         string                      `json:"op"`
	Name       *string                     `json:"name,omitempty"`
	Elements   []map[string]any            `json:"elements,omitempty"`
	Updates    []ElementUpdate             `json:"updates,omitempty"`
	IDs        []string                    `json:"ids,omitempty"`
	HardDelete bool                        `json:"hardDelete,omitempty"`
	State      map[string]any              `json:"state,omitempty"`
	Items      []scene.LibraryItem         `json:"items,omitempty"`
	Files      map[string]scene.FileRecord `json:"files,omitempty"`
	Merge      *bool                       `json:"merge,omitempty"`
}

// ParseOperations decodes a JSON array of tagged operations. Malformed
// input and unknown tags are reported as scene.ErrInvalidInput.
func ParseOperations(data []byte) ([]Operation, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: operations must be a JSON array: %v", scene.ErrInvalidInput, err)
	}

	ops := make([]Operation, 0, len(raw))
	for i, msg := range raw {
		op, err := parseOperation(msg)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseOperation(msg json.RawMessage) (Operation, error) {
	var w wireOp
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", scene.ErrInvalidInput, err)
	}

	switch w.Op {
	case KindSetName:
		if w.Name == nil {
			return nil, fmt.Errorf("%w: setName requires \"name\"", scene.ErrInvalidInput)
		}
		return SetName{Name: *w.Name}, nil
	case KindAddElements:
		return AddElements{Elements: w.Elements}, nil
	case KindUpdateElements:
		return UpdateElements{Updates: w.Updates}, nil
	case KindDeleteElements:
		return DeleteElements{IDs: w.IDs, HardDelete: w.HardDelete}, nil
	case KindSetAppState:
		return SetAppState{State: w.State, Replace: w.Merge != nil && !*w.Merge}, nil
	case KindSetLibrary:
		return SetLibrary{Items: w.Items, Merge: w.Merge != nil && *w.Merge}, nil
	case KindSetFiles:
		return SetFiles{Files: w.Files, Replace: w.Merge != nil && !*w.Merge}, nil
	case "":
		return nil, fmt.Errorf("%w: missing \"op\"", scene.ErrInvalidInput)
	default:
		return nil, fmt.Errorf("%w: unknown op %q", scene.ErrInvalidInput, w.Op)
	}
}

// MarshalOperations encodes ops in the form ParseOperations reads.
func MarshalOperations(ops []Operation) ([]byte, error) {
	out := make([]wireOp, 0, len(ops))
	for _, op := range ops {
		w := wireOp{Op: op.Kind()}
		switch o := op.(type) {
		case SetName:
			w.Name = &o.Name
		case AddElements:
			w.Elements = o.Elements
		case UpdateElements:
			w.Updates = o.Updates
		case DeleteElements:
			w.IDs, w.HardDelete = o.IDs, o.HardDelete
		case SetAppState:
			w.State, w.Merge = o.State, boolPtr(!o.Replace)
		case SetLibrary:
			w.Items, w.Merge = o.Items, boolPtr(o.Merge)
		case SetFiles:
			w.Files, w.Merge = o.Files, boolPtr(!o.Replace)
		}
		out = append(out, w)
	}
	return json.Marshal(out)
}

func boolPtr(b bool) *bool { return &b }

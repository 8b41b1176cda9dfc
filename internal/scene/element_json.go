package scene

import (
	"encoding/json"
	"fmt"
)

// knownElementKeys are the JSON keys backed by a dedicated Element field.
var knownElementKeys = map[string]bool{
	"id": true, "type": true,
	"x": true, "y": true, "width": true, "height": true, "angle": true,
	"isDeleted": true, "version": true, "versionNonce": true, "updated": true,
	"points": true, "startBinding": true, "endBinding": true, "boundElements": true,
	"containerId": true, "text": true, "originalText": true,
	"fontSize": true, "lineHeight": true,
	"customData": true,
}

// IsKnownElementKey reports whether key maps to a dedicated Element field.
func IsKnownElementKey(key string) bool {
	return knownElementKeys[key]
}

// plainElement has Element's fields without its JSON methods.
type plainElement Element

// MarshalJSON writes the known fields and merges Extra into the same object.
func (e Element) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(plainElement(e))
	if err != nil || len(e.Extra) == 0 {
		return base, err
	}

	merged := make(map[string]json.RawMessage, len(e.Extra)+len(knownElementKeys))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if knownElementKeys[k] {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshaling element attribute %q: %w", k, err)
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads the known fields and keeps every other key in Extra.
func (e *Element) UnmarshalJSON(data []byte) error {
	var p plainElement
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownElementKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("element attribute %q: %w", k, err)
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = val
	}

	*e = Element(p)
	return nil
}

// ToMap converts the element into its open JSON object form.
func (e Element) ToMap() (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding element %q: %w", e.ID, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding element %q: %w", e.ID, err)
	}
	return m, nil
}

// ElementFromMap builds an element from its open JSON object form.
// Type mismatches on known fields are reported as ErrInvalidInput.
func ElementFromMap(m map[string]any) (Element, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Element{}, fmt.Errorf("%w: element is not serializable: %v", ErrInvalidInput, err)
	}
	var e Element
	if err := json.Unmarshal(data, &e); err != nil {
		return Element{}, fmt.Errorf("%w: malformed element: %v", ErrInvalidInput, err)
	}
	return e, nil
}

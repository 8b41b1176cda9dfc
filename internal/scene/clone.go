package scene

import (
	"encoding/json"
	"reflect"
)

// Clone returns a deep copy of the document. The copy shares no slices,
// maps or pointers with the receiver.
func (d Document) Clone() Document {
	out := Document{Metadata: d.Metadata}

	if d.Elements != nil {
		out.Elements = make([]Element, len(d.Elements))
		for i := range d.Elements {
			out.Elements[i] = d.Elements[i].Clone()
		}
	}
	if d.AppState != nil {
		out.AppState = CloneMap(d.AppState)
	}
	if d.Files != nil {
		out.Files = make(map[string]FileRecord, len(d.Files))
		for k, v := range d.Files {
			out.Files[k] = v
		}
	}
	if d.LibraryItems != nil {
		out.LibraryItems = make([]LibraryItem, len(d.LibraryItems))
		for i, item := range d.LibraryItems {
			out.LibraryItems[i] = LibraryItem(CloneMap(item))
		}
	}
	return out
}

// Clone returns a deep copy of the element.
func (e Element) Clone() Element {
	out := e
	if e.Points != nil {
		out.Points = append([]Point(nil), e.Points...)
	}
	if e.StartBinding != nil {
		b := *e.StartBinding
		out.StartBinding = &b
	}
	if e.EndBinding != nil {
		b := *e.EndBinding
		out.EndBinding = &b
	}
	if e.BoundElements != nil {
		out.BoundElements = append([]BoundElement(nil), e.BoundElements...)
	}
	if e.ContainerID != nil {
		c := *e.ContainerID
		out.ContainerID = &c
	}
	if e.CustomData != nil {
		out.CustomData = CloneMap(e.CustomData)
	}
	if e.Extra != nil {
		out.Extra = CloneMap(e.Extra)
	}
	return out
}

// CloneMap deep-copies a JSON-shaped map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a JSON-shaped value. Composite values of other
// Go types are copied through a JSON round trip.
func CloneValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64, float32, int, int64, int32, json.Number:
		return t
	case map[string]any:
		return CloneMap(t)
	case LibraryItem:
		return LibraryItem(CloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Struct, reflect.Array:
		data, err := json.Marshal(v)
		if err != nil {
			return v
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return v
		}
		return out
	default:
		return v
	}
}

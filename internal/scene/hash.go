package scene

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalContent is the hashed projection of a document. Library items
// are ordered by their de-duplication key so insertion order does not
// leak into the revision hash.
type canonicalContent struct {
	Elements     []Element             `json:"elements"`
	AppState     map[string]any        `json:"appState"`
	Files        map[string]FileRecord `json:"files"`
	LibraryItems []LibraryItem         `json:"libraryItems"`
}

// RevisionHash computes the hex SHA-256 digest over the canonical
// serialization of elements, app state, files and library items.
// encoding/json writes map keys in sorted order, which makes the
// serialization canonical. Returns "" only if the content cannot be
// serialized, which Normalize rules out by sanitizing numbers first.
func RevisionHash(d Document) string {
	c := canonicalContent{
		Elements:     d.Elements,
		AppState:     d.AppState,
		Files:        d.Files,
		LibraryItems: sortedLibrary(d.LibraryItems),
	}
	if c.Elements == nil {
		c.Elements = []Element{}
	}
	if c.AppState == nil {
		c.AppState = map[string]any{}
	}
	if c.Files == nil {
		c.Files = map[string]FileRecord{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedLibrary(items []LibraryItem) []LibraryItem {
	out := make([]LibraryItem, len(items))
	copy(out, items)
	keys := make([]string, len(out))
	for i, item := range out {
		keys[i] = item.Key()
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })
	sorted := make([]LibraryItem, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted
}

// Key returns the de-duplication key: the item id if present, else its
// name, else a digest of its full content.
func (it LibraryItem) Key() string {
	if id, ok := it["id"].(string); ok && id != "" {
		return "id:" + id
	}
	if name, ok := it["name"].(string); ok && name != "" {
		return "name:" + name
	}
	data, err := json.Marshal(map[string]any(it))
	if err != nil {
		return "invalid"
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// DedupeLibrary collapses items sharing a key. A later item replaces an
// earlier one in the earlier one's position.
func DedupeLibrary(items []LibraryItem) []LibraryItem {
	out := make([]LibraryItem, 0, len(items))
	pos := make(map[string]int, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		key := item.Key()
		if i, ok := pos[key]; ok {
			out[i] = item
			continue
		}
		pos[key] = len(out)
		out = append(out, item)
	}
	return out
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/google/go-cmp/cmp"
)

// --- Helpers ---

func newTestStore(t *testing.T, opts ...Option) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return fs
}

func sampleDoc(id string, updated time.Time) scene.Document {
	doc := scene.New(id, "Sample "+id, updated.Add(-time.Minute))
	doc.Metadata.UpdatedAt = updated
	doc.Elements = []scene.Element{
		{ID: "r1", Type: scene.TypeRectangle, X: 10, Y: 20, Width: 100, Height: 50,
			Extra: map[string]any{"strokeColor": "#1e1e1e"}},
	}
	return scene.Normalize(doc)
}

// --- Tests ---

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)
	doc := sampleDoc("alpha", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	if err := fs.Save(ctx, doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := fs.Load(ctx, "alpha")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Errorf("round trip mismatch:\n%s", diff)
	}

	// A fresh store reads the same content from disk.
	other, err := NewFileStore(fs.Root())
	if err != nil {
		t.Fatal(err)
	}
	fromDisk, err := other.Load(ctx, "alpha")
	if err != nil {
		t.Fatalf("Load() from disk error = %v", err)
	}
	if diff := cmp.Diff(doc, fromDisk); diff != "" {
		t.Errorf("disk round trip mismatch:\n%s", diff)
	}
}

func TestFileStore_PrettyPrintedFile(t *testing.T) {
	fs := newTestStore(t)
	if err := fs.Save(context.Background(), sampleDoc("pretty", time.Now())); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(fs.Root(), "pretty.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  \"metadata\": {") {
		t.Errorf("file is not pretty-printed:\n%s", data)
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"metadata", "elements", "appState", "files", "libraryItems"} {
		if _, ok := shape[key]; !ok {
			t.Errorf("persisted document missing %q", key)
		}
	}
}

func TestFileStore_LoadReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)
	if err := fs.Save(ctx, sampleDoc("iso", time.Now())); err != nil {
		t.Fatal(err)
	}

	first, _ := fs.Load(ctx, "iso")
	first.Elements[0].X = 9999
	first.Elements[0].Extra["strokeColor"] = "mutated"
	first.AppState["theme"] = "dark"

	second, err := fs.Load(ctx, "iso")
	if err != nil {
		t.Fatal(err)
	}
	if second.Elements[0].X == 9999 || second.Elements[0].Extra["strokeColor"] == "mutated" {
		t.Error("mutation of a loaded document leaked into the cache")
	}
	if _, ok := second.AppState["theme"]; ok {
		t.Error("app state aliasing between loads")
	}
}

func TestFileStore_SaveDoesNotAliasCaller(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)
	doc := sampleDoc("caller", time.Now())
	if err := fs.Save(ctx, doc); err != nil {
		t.Fatal(err)
	}
	doc.Elements[0].Width = -1

	got, _ := fs.Load(ctx, "caller")
	if got.Elements[0].Width != 100 {
		t.Errorf("Width = %v, want 100", got.Elements[0].Width)
	}
}

func TestFileStore_CacheKeyedByModTime(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)
	doc := sampleDoc("cached", time.Now())
	if err := fs.Save(ctx, doc); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(fs.Root(), "cached.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	// Same size and same mtime: the cache entry is considered fresh.
	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), "Sample cached", "Sample CACHED", 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}
	got, err := fs.Load(ctx, "cached")
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata.Name != "Sample cached" {
		t.Errorf("Name = %q, want cached value", got.Metadata.Name)
	}

	// A different mtime forces a re-read.
	later := info.ModTime().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	got, err = fs.Load(ctx, "cached")
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata.Name != "Sample CACHED" {
		t.Errorf("Name = %q, want re-read value", got.Metadata.Name)
	}
}

func TestFileStore_LoadErrors(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	if _, err := fs.Load(ctx, "missing"); !errors.Is(err, scene.ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}

	if err := os.WriteFile(filepath.Join(fs.Root(), "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(ctx, "broken"); !errors.Is(err, scene.ErrIOFailure) {
		t.Errorf("corrupt: err = %v, want ErrIOFailure", err)
	}
}

func TestFileStore_RejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	bad := []string{"", "../escape", "a/b", `a\b`, ".hidden", "-lead", "has space", "dot.json", strings.Repeat("a", 129)}
	for _, id := range bad {
		t.Run(id, func(t *testing.T) {
			if _, err := fs.Load(ctx, id); !errors.Is(err, scene.ErrInvalidInput) {
				t.Errorf("Load(%q) err = %v, want ErrInvalidInput", id, err)
			}
			if _, err := fs.Exists(ctx, id); !errors.Is(err, scene.ErrInvalidInput) {
				t.Errorf("Exists(%q) err = %v, want ErrInvalidInput", id, err)
			}
			doc := sampleDoc("ok", time.Now())
			doc.Metadata.ID = id
			if err := fs.Save(ctx, doc); !errors.Is(err, scene.ErrInvalidInput) {
				t.Errorf("Save(%q) err = %v, want ErrInvalidInput", id, err)
			}
		})
	}

	for _, id := range []string{"a", "Doc_1", "x-y-z", strings.Repeat("b", 128)} {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v, want nil", id, err)
		}
	}
}

func TestFileStore_Exists(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)

	ok, err := fs.Exists(ctx, "doc")
	if err != nil || ok {
		t.Fatalf("Exists before save = %v, %v; want false, nil", ok, err)
	}
	if err := fs.Save(ctx, sampleDoc("doc", time.Now())); err != nil {
		t.Fatal(err)
	}
	ok, err = fs.Exists(ctx, "doc")
	if err != nil || !ok {
		t.Fatalf("Exists after save = %v, %v; want true, nil", ok, err)
	}
}

func TestFileStore_ListMetadataOrder(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for _, d := range []scene.Document{
		sampleDoc("old", base),
		sampleDoc("new", base.Add(2*time.Hour)),
		sampleDoc("tie-b", base.Add(time.Hour)),
		sampleDoc("tie-a", base.Add(time.Hour)),
	} {
		if err := fs.Save(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	// Non-document files are ignored.
	_ = os.WriteFile(filepath.Join(fs.Root(), "notes.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(fs.Root(), "garbage.json"), []byte("nope"), 0o644)

	list, err := fs.ListMetadata(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"new", "tie-a", "tie-b", "old"}, ids); diff != "" {
		t.Errorf("ListMetadata order mismatch:\n%s", diff)
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)
	for i := 0; i < 5; i++ {
		if err := fs.Save(ctx, sampleDoc("churn", time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(fs.Root())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestFileStore_MaxBytes(t *testing.T) {
	fs := newTestStore(t, WithMaxBytes(256))
	doc := sampleDoc("big", time.Now())
	doc.AppState["blob"] = strings.Repeat("x", 1024)
	if err := fs.Save(context.Background(), doc); !errors.Is(err, scene.ErrInvalidInput) {
		t.Errorf("oversized save err = %v, want ErrInvalidInput", err)
	}
}

func TestFileStore_ConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)
	doc := sampleDoc("shared", time.Now())
	if err := fs.Save(ctx, doc); err != nil {
		t.Fatal(err)
	}
	fs.Invalidate("shared")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := fs.Load(ctx, "shared")
			if err != nil {
				errs <- err
				return
			}
			if got.Metadata.RevisionHash != doc.Metadata.RevisionHash {
				errs <- errors.New("revision hash mismatch")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestFileStore_ReadsAreNotSharedAcrossVersions(t *testing.T) {
	ctx := context.Background()
	fs := newTestStore(t)
	v1 := sampleDoc("racy", time.Now())
	if err := fs.Save(ctx, v1); err != nil {
		t.Fatal(err)
	}
	fs.Invalidate("racy")

	decoded := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	afterDecode = func(string) {
		once.Do(func() {
			close(decoded)
			<-release
		})
	}
	t.Cleanup(func() { afterDecode = nil })

	// A slow reader holds the old version in flight.
	slow := make(chan scene.Document, 1)
	go func() {
		doc, _ := fs.Load(ctx, "racy")
		slow <- doc
	}()
	<-decoded

	v2 := v1.Clone()
	v2.Elements = append(v2.Elements, scene.Element{ID: "r2", Type: scene.TypeEllipse, Width: 40, Height: 40})
	v2 = scene.Normalize(v2)
	if err := fs.Save(ctx, v2); err != nil {
		t.Fatal(err)
	}
	fs.Invalidate("racy")

	fresh := make(chan scene.Document, 1)
	go func() {
		doc, _ := fs.Load(ctx, "racy")
		fresh <- doc
	}()
	select {
	case got := <-fresh:
		if got.Metadata.RevisionHash != v2.Metadata.RevisionHash {
			t.Errorf("Load returned revision %s, want the saved %s", got.Metadata.RevisionHash, v2.Metadata.RevisionHash)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Load joined a read of an older file version")
	}

	close(release)
	if got := <-slow; got.Metadata.RevisionHash != v1.Metadata.RevisionHash {
		t.Errorf("slow reader got %s, want %s", got.Metadata.RevisionHash, v1.Metadata.RevisionHash)
	}
	got, err := fs.Load(ctx, "racy")
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata.RevisionHash != v2.Metadata.RevisionHash {
		t.Error("a late read of the old version left a stale cache entry")
	}
}

func TestFileStore_PathStaysInsideRoot(t *testing.T) {
	fs := newTestStore(t)
	outside := filepath.Join(t.TempDir(), "outside.json")
	if err := os.WriteFile(outside, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(fs.Root(), "link.json")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	p, err := fs.Path("link")
	if err != nil {
		t.Fatal(err)
	}
	rel, err := filepath.Rel(fs.Root(), p)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Errorf("Path(link) = %q, escapes root %q", p, fs.Root())
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	fs := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fs.Load(ctx, "any"); !errors.Is(err, context.Canceled) {
		t.Errorf("Load err = %v, want context.Canceled", err)
	}
}

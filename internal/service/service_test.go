package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/duhman/excalidraw-mcp/internal/history"
	"github.com/duhman/excalidraw-mcp/internal/patch"
	"github.com/duhman/excalidraw-mcp/internal/quality"
	"github.com/duhman/excalidraw-mcp/internal/render"
	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/duhman/excalidraw-mcp/internal/store"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

// --- Helpers ---

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	return New(st, opts...)
}

func rect(id string, x, y, w, h float64) map[string]any {
	return map[string]any{"id": id, "type": "rectangle", "x": x, "y": y, "width": w, "height": h}
}

func mustCreate(t *testing.T, s *Service, id string, elements ...map[string]any) patch.Result {
	t.Helper()
	res, err := s.CreateScene(context.Background(), CreateRequest{ID: id, Name: "Test " + id, Elements: elements})
	if err != nil {
		t.Fatalf("CreateScene(%q) error: %v", id, err)
	}
	return res
}

func withClock(t *testing.T, now time.Time) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = orig })
}

type stubRenderer struct {
	img render.Image
	err error
	got render.Options
}

func (r *stubRenderer) Render(_ context.Context, _ scene.Document, opts render.Options) (render.Image, error) {
	r.got = opts
	return r.img, r.err
}

type failingJournal struct{ calls int }

func (j *failingJournal) Record(context.Context, history.Entry) (int64, error) {
	j.calls++
	return 0, errors.New("disk full")
}

func (j *failingJournal) List(context.Context, string, int) ([]history.Entry, error) {
	return nil, errors.New("disk full")
}

// --- Create / open / list ---

func TestCreateScene_SeedsAndPersists(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	res, err := s.CreateScene(ctx, CreateRequest{
		ID:       "plan",
		Name:     "  Plan  ",
		Elements: []map[string]any{rect("box", 0, 0, 100, 50)},
		AppState: map[string]any{"viewBackgroundColor": "#ffffff"},
	})
	if err != nil {
		t.Fatalf("CreateScene() error: %v", err)
	}
	if res.Document.Metadata.Name != "Plan" || res.Document.Metadata.ElementCount != 1 {
		t.Errorf("metadata = %+v", res.Document.Metadata)
	}

	doc, err := s.GetScene(ctx, "", "plan")
	if err != nil {
		t.Fatalf("GetScene() error: %v", err)
	}
	if doc.Metadata.RevisionHash != res.Document.Metadata.RevisionHash {
		t.Errorf("persisted hash %s, returned %s", doc.Metadata.RevisionHash, res.Document.Metadata.RevisionHash)
	}
	if doc.AppState["viewBackgroundColor"] != "#ffffff" {
		t.Errorf("appState = %v", doc.AppState)
	}
}

func TestCreateScene_GeneratesID(t *testing.T) {
	s := newTestService(t, WithDocumentIDGenerator(func() string { return "generated" }))
	res, err := s.CreateScene(context.Background(), CreateRequest{})
	if err != nil {
		t.Fatalf("CreateScene() error: %v", err)
	}
	if res.Document.Metadata.ID != "generated" {
		t.Errorf("ID = %q, want generated", res.Document.Metadata.ID)
	}
}

func TestCreateScene_Errors(t *testing.T) {
	s := newTestService(t)
	mustCreate(t, s, "taken")

	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"existing id", CreateRequest{ID: "taken"}, scene.ErrConflict},
		{"path traversal", CreateRequest{ID: "../escape"}, scene.ErrInvalidInput},
		{"bad element", CreateRequest{ID: "fresh", Elements: []map[string]any{{"type": "blob"}}}, scene.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateScene(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("CreateScene() error = %v, want %v", err, tt.want)
			}
		})
	}

	if ok, _ := s.store.Exists(context.Background(), "fresh"); ok {
		t.Error("failed create must not persist a document")
	}
}

func TestListScenes(t *testing.T) {
	s := newTestService(t)
	mustCreate(t, s, "one")
	mustCreate(t, s, "two")

	metas, err := s.ListScenes(context.Background())
	if err != nil {
		t.Fatalf("ListScenes() error: %v", err)
	}
	if len(metas) != 2 {
		t.Errorf("len = %d, want 2", len(metas))
	}
}

// --- Sessions ---

func TestSessions_ActiveSceneFallback(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "first")
	mustCreate(t, s, "second")

	if _, err := s.GetScene(ctx, "sess", ""); !errors.Is(err, scene.ErrInvalidInput) {
		t.Fatalf("GetScene() without binding error = %v, want InvalidInput", err)
	}

	if _, err := s.OpenScene(ctx, "sess", "second"); err != nil {
		t.Fatalf("OpenScene() error: %v", err)
	}
	doc, err := s.GetScene(ctx, "sess", "")
	if err != nil {
		t.Fatalf("GetScene() error: %v", err)
	}
	if doc.Metadata.ID != "second" {
		t.Errorf("active scene = %q, want second", doc.Metadata.ID)
	}

	// An explicit id wins over the binding.
	doc, err = s.GetScene(ctx, "sess", "first")
	if err != nil || doc.Metadata.ID != "first" {
		t.Errorf("GetScene(explicit) = %q, %v", doc.Metadata.ID, err)
	}

	// Other sessions are unaffected.
	if _, ok := s.ActiveScene("other"); ok {
		t.Error("binding leaked to another session")
	}

	if !s.CloseScene("sess") {
		t.Error("CloseScene() = false, want true")
	}
	if s.CloseScene("sess") {
		t.Error("second CloseScene() = true, want false")
	}
	if _, err := s.GetScene(ctx, "sess", ""); !errors.Is(err, scene.ErrInvalidInput) {
		t.Errorf("GetScene() after close error = %v", err)
	}
}

func TestSessions_CreateBindsAndReset(t *testing.T) {
	s := newTestService(t)
	if _, err := s.CreateScene(context.Background(), CreateRequest{ID: "doc", Session: "a"}); err != nil {
		t.Fatal(err)
	}
	if id, ok := s.ActiveScene("a"); !ok || id != "doc" {
		t.Errorf("ActiveScene(a) = %q, %v", id, ok)
	}
	s.ResetSessions()
	if _, ok := s.ActiveScene("a"); ok {
		t.Error("ResetSessions() kept a binding")
	}
}

func TestOpenScene_Missing(t *testing.T) {
	s := newTestService(t)
	if _, err := s.OpenScene(context.Background(), "sess", "ghost"); !errors.Is(err, scene.ErrNotFound) {
		t.Errorf("OpenScene() error = %v, want NotFound", err)
	}
	if _, ok := s.ActiveScene("sess"); ok {
		t.Error("failed open must not bind the session")
	}
}

// --- Patch and locking ---

func TestPatchScene_ConcurrentCallsLoseNoUpdate(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestService(t)
	mustCreate(t, s, "busy")

	const n = 24
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			_, err := s.PatchScene(context.Background(), "", "busy", []patch.Operation{
				patch.AddElements{Elements: []map[string]any{rect(fmt.Sprintf("r%02d", i), float64(i)*300, 0, 100, 100)}},
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("PatchScene() error: %v", err)
	}

	doc, err := s.GetScene(context.Background(), "", "busy")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata.ElementCount != n {
		t.Errorf("ElementCount = %d, want %d", doc.Metadata.ElementCount, n)
	}
	if s.locks.Pending("busy") != 0 {
		t.Errorf("lock still held by %d callers", s.locks.Pending("busy"))
	}
}

func waitPending(t *testing.T, s *Service, id string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.locks.Pending(id) != n {
		if time.Now().After(deadline) {
			t.Fatalf("Pending(%q) = %d, want %d", id, s.locks.Pending(id), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPatchScene_AppliesInArrivalOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestService(t)
	mustCreate(t, s, "ordered")
	ctx := context.Background()

	// Hold the document so both calls queue up behind us.
	release := s.locks.Lock("ordered")

	var g errgroup.Group
	g.Go(func() error {
		_, err := s.PatchScene(ctx, "", "ordered", []patch.Operation{
			patch.AddElements{Elements: []map[string]any{rect("x", 0, 0, 10, 10)}},
			patch.SetName{Name: "first"},
		})
		return err
	})
	waitPending(t, s, "ordered", 2)
	g.Go(func() error {
		// Fails with NotFound unless the first call ran before it.
		_, err := s.PatchScene(ctx, "", "ordered", []patch.Operation{
			patch.UpdateElements{Updates: []patch.ElementUpdate{{ID: "x", Patch: map[string]any{"width": 99.0}}}},
			patch.SetName{Name: "second"},
		})
		return err
	})
	waitPending(t, s, "ordered", 3)
	release()

	if err := g.Wait(); err != nil {
		t.Fatalf("PatchScene() error: %v", err)
	}
	doc, err := s.GetScene(ctx, "", "ordered")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata.Name != "second" {
		t.Errorf("Name = %q, want second", doc.Metadata.Name)
	}
	if el := doc.LiveElement("x"); el == nil || el.Width != 99 {
		t.Errorf("element x = %+v", el)
	}
}

func TestPatchScene_FailedBatchPersistsNothing(t *testing.T) {
	s := newTestService(t)
	before := mustCreate(t, s, "atomic", rect("a", 0, 0, 10, 10))
	ctx := context.Background()

	_, err := s.PatchScene(ctx, "", "atomic", []patch.Operation{
		patch.SetName{Name: "changed"},
		patch.UpdateElements{Updates: []patch.ElementUpdate{{ID: "missing", Patch: map[string]any{"x": 1.0}}}},
	})
	if !errors.Is(err, scene.ErrNotFound) {
		t.Fatalf("PatchScene() error = %v, want NotFound", err)
	}

	doc, err := s.GetScene(ctx, "", "atomic")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata.RevisionHash != before.Document.Metadata.RevisionHash || doc.Metadata.Name != "Test atomic" {
		t.Errorf("failed batch changed the document: %+v", doc.Metadata)
	}

	// The lock is released for the next caller.
	if _, err := s.PatchScene(ctx, "", "atomic", []patch.Operation{patch.SetName{Name: "ok"}}); err != nil {
		t.Errorf("PatchScene() after failure error: %v", err)
	}
}

func TestPatchScene_UpdatedAtNeverMovesBackwards(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	withClock(t, t0)
	s := newTestService(t)
	mustCreate(t, s, "clock")

	withClock(t, t0.Add(-time.Hour))
	res, err := s.PatchScene(context.Background(), "", "clock", []patch.Operation{patch.SetName{Name: "skewed"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Document.Metadata.UpdatedAt.Equal(t0) {
		t.Errorf("UpdatedAt = %v, want %v", res.Document.Metadata.UpdatedAt, t0)
	}
}

// --- Deletion semantics ---

func TestDeletionSemantics(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "del", rect("keep", 0, 0, 10, 10), rect("gone", 50, 0, 10, 10))

	if _, err := s.PatchScene(ctx, "", "del", []patch.Operation{patch.DeleteElements{IDs: []string{"gone"}}}); err != nil {
		t.Fatal(err)
	}

	live, err := s.ListElements(ctx, "", "del", ElementFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].ID != "keep" {
		t.Errorf("default listing = %v, want only keep", ids(live))
	}

	all, err := s.ListElements(ctx, "", "del", ElementFilter{IncludeDeleted: true, IDs: []string{"gone"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || !all[0].IsDeleted || all[0].Version != 2 {
		t.Fatalf("soft-deleted element = %+v", all)
	}

	if _, err := s.PatchScene(ctx, "", "del", []patch.Operation{patch.DeleteElements{IDs: []string{"gone"}, HardDelete: true}}); err != nil {
		t.Fatal(err)
	}
	all, err = s.ListElements(ctx, "", "del", ElementFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"keep"}, ids(all)); diff != "" {
		t.Errorf("after hard delete:\n%s", diff)
	}

	_, err = s.PatchScene(ctx, "", "del", []patch.Operation{
		patch.UpdateElements{Updates: []patch.ElementUpdate{{ID: "gone", Patch: map[string]any{"x": 1.0}}}},
	})
	if !errors.Is(err, scene.ErrNotFound) {
		t.Errorf("update of hard-deleted element error = %v, want NotFound", err)
	}
}

func ids(elements []scene.Element) []string {
	out := make([]string, len(elements))
	for i := range elements {
		out[i] = elements[i].ID
	}
	return out
}

func TestListElements_Filters(t *testing.T) {
	s := newTestService(t)
	mustCreate(t, s, "filters",
		rect("a", 0, 0, 10, 10),
		map[string]any{"id": "b", "type": "ellipse", "x": 100, "y": 100, "width": 20, "height": 20},
		rect("c", 500, 500, 10, 10),
	)

	tests := []struct {
		name   string
		filter ElementFilter
		want   []string
	}{
		{"all", ElementFilter{}, []string{"a", "b", "c"}},
		{"by type", ElementFilter{Types: []scene.ElementType{scene.TypeRectangle}}, []string{"a", "c"}},
		{"by id", ElementFilter{IDs: []string{"c", "b"}}, []string{"b", "c"}},
		{"by bbox", ElementFilter{BBox: &scene.Bounds{MinX: 90, MinY: 90, MaxX: 600, MaxY: 600}}, []string{"b", "c"}},
		{"combined", ElementFilter{Types: []scene.ElementType{scene.TypeRectangle}, BBox: &scene.Bounds{MaxX: 50, MaxY: 50}}, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListElements(context.Background(), "", "filters", tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("mismatch:\n%s", diff)
			}
		})
	}

	_, err := s.ListElements(context.Background(), "", "filters", ElementFilter{Types: []scene.ElementType{"blob"}})
	if !errors.Is(err, scene.ErrInvalidInput) {
		t.Errorf("unknown type filter error = %v", err)
	}
}

// --- Save / normalize / validate ---

func TestSaveScene_ReplacesContent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "save", rect("old", 0, 0, 10, 10))

	name := "Renamed"
	res, err := s.SaveScene(ctx, "", "save", &Content{
		Name:     &name,
		Elements: []scene.Element{{ID: "new", Type: scene.TypeEllipse, Width: 40, Height: 40, Version: 1}},
		AppState: map[string]any{"gridSize": 20.0},
	})
	if err != nil {
		t.Fatalf("SaveScene() error: %v", err)
	}
	if diff := cmp.Diff([]string{"new"}, res.ChangedIDs); diff != "" {
		t.Errorf("ChangedIDs mismatch:\n%s", diff)
	}

	doc, err := s.GetScene(ctx, "", "save")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata.Name != "Renamed" || doc.LiveElement("old") != nil || doc.LiveElement("new") == nil {
		t.Errorf("saved document = %+v", doc)
	}
	if diff := cmp.Diff(map[string]any{"gridSize": 20.0}, doc.AppState); diff != "" {
		t.Errorf("appState mismatch:\n%s", diff)
	}

	_, err = s.SaveScene(ctx, "", "save", &Content{Elements: []scene.Element{{ID: "bad", Type: "blob"}}})
	if !errors.Is(err, scene.ErrInvalidInput) {
		t.Errorf("SaveScene(bad type) error = %v", err)
	}
}

func TestSaveScene_RejectsDuplicateLiveIDs(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	before := mustCreate(t, s, "dupes", rect("keep", 0, 0, 10, 10))

	_, err := s.SaveScene(ctx, "", "dupes", &Content{Elements: []scene.Element{
		{ID: "a", Type: scene.TypeRectangle, Width: 10, Height: 10},
		{ID: "a", Type: scene.TypeEllipse, Width: 10, Height: 10},
	}})
	if !errors.Is(err, scene.ErrInvalidInput) {
		t.Fatalf("SaveScene(duplicate ids) error = %v, want InvalidInput", err)
	}

	doc, err := s.GetScene(ctx, "", "dupes")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata.RevisionHash != before.Document.Metadata.RevisionHash {
		t.Error("rejected save changed the persisted document")
	}

	// A soft-deleted element may share the id of a live one.
	if _, err := s.SaveScene(ctx, "", "dupes", &Content{Elements: []scene.Element{
		{ID: "a", Type: scene.TypeRectangle, Width: 10, Height: 10, IsDeleted: true},
		{ID: "a", Type: scene.TypeEllipse, Width: 10, Height: 10},
	}}); err != nil {
		t.Errorf("SaveScene(deleted + live) error = %v", err)
	}
}

func TestImportScene_RejectsDuplicateLiveIDs(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	payload := `{"type":"excalidraw","version":2,"elements":[
		{"id":"x","type":"rectangle","width":10,"height":10},
		{"id":"x","type":"diamond","width":10,"height":10}
	]}`

	_, err := s.ImportScene(ctx, ImportRequest{Payload: []byte(payload), ID: "imported"})
	if !errors.Is(err, scene.ErrInvalidInput) {
		t.Fatalf("ImportScene(duplicate ids) error = %v, want InvalidInput", err)
	}
	if _, err := s.GetScene(ctx, "", "imported"); !errors.Is(err, scene.ErrNotFound) {
		t.Errorf("rejected import left a document behind: %v", err)
	}
}

func TestNormalizeScene_IsStable(t *testing.T) {
	s := newTestService(t)
	created := mustCreate(t, s, "norm", rect("a", 0, 0, 10, 10))

	res, err := s.NormalizeScene(context.Background(), "", "norm")
	if err != nil {
		t.Fatal(err)
	}
	if res.Document.Metadata.RevisionHash != created.Document.Metadata.RevisionHash {
		t.Error("normalizing a normalized document changed its hash")
	}
	if len(res.ChangedIDs) != 0 {
		t.Errorf("ChangedIDs = %v, want none", res.ChangedIDs)
	}
}

func TestValidateScene(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "clean", rect("a", 0, 0, 100, 100))
	mustCreate(t, s, "dangling", map[string]any{
		"id": "arrow", "type": "arrow", "x": 1000, "y": 1000,
		"points": []any{[]any{0.0, 0.0}, []any{100.0, 0.0}},
	})

	report, err := s.ValidateScene(ctx, "", "clean")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || len(report.Structural) != 0 || len(report.Quality) != 0 {
		t.Errorf("clean report = %+v", report)
	}

	report, err = s.ValidateScene(ctx, "", "dangling")
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Error("scene with unbound connector reported valid")
	}
	unbound := 0
	for _, issue := range report.Quality {
		if issue.Code == quality.CodeConnectorUnbound {
			unbound++
		}
	}
	if unbound != 2 {
		t.Errorf("CONNECTOR_UNBOUND issues = %d, want 2", unbound)
	}
}

func TestValidate_StructuralIssueInvalidates(t *testing.T) {
	doc := scene.New("doc", "", time.Now())
	doc.Elements = []scene.Element{
		{ID: "dup", Type: scene.TypeRectangle, Width: 10, Height: 10},
		{ID: "dup", Type: scene.TypeRectangle, Width: 10, Height: 10},
	}
	report := Validate(doc)
	if report.Valid || len(report.Structural) == 0 {
		t.Errorf("report = %+v, want structural issue", report)
	}
}

// --- App state, library, fit ---

func TestPatchAppState(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "view")

	if _, err := s.PatchAppState(ctx, "", "view", map[string]any{"gridSize": 20.0, "theme": "dark"}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PatchAppState(ctx, "", "view", map[string]any{"theme": nil}, false); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetAppState(ctx, "", "view")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"gridSize": 20.0}, got); diff != "" {
		t.Errorf("merged appState mismatch:\n%s", diff)
	}

	if _, err := s.PatchAppState(ctx, "", "view", map[string]any{"zenModeEnabled": true}, true); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetAppState(ctx, "", "view")
	if diff := cmp.Diff(map[string]any{"zenModeEnabled": true}, got); diff != "" {
		t.Errorf("replaced appState mismatch:\n%s", diff)
	}
}

func TestUpdateLibrary(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "lib")

	if _, err := s.UpdateLibrary(ctx, "", "lib", []scene.LibraryItem{{"id": "one"}, {"id": "two"}}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateLibrary(ctx, "", "lib", []scene.LibraryItem{{"id": "two", "status": "published"}, {"id": "three"}}, true); err != nil {
		t.Fatal(err)
	}
	items, err := s.GetLibrary(ctx, "", "lib")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 || items[1]["status"] != "published" {
		t.Errorf("library = %v", items)
	}
}

func TestFitToContent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "fit", rect("a", 0, 0, 200, 100))

	vp, _, err := s.FitToContent(ctx, "", "fit", FitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// 1280x800 viewport, 40 px padding: min(1200/200, 720/100) = 6.
	if vp.Zoom != 6 {
		t.Errorf("Zoom = %v, want 6", vp.Zoom)
	}
	if math.Abs(vp.ScrollX-(1280.0/12-100)) > 1e-9 || math.Abs(vp.ScrollY-(800.0/12-50)) > 1e-9 {
		t.Errorf("scroll = (%v, %v)", vp.ScrollX, vp.ScrollY)
	}

	state, err := s.GetAppState(ctx, "", "fit")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"value": 6.0}, state["zoom"]); diff != "" {
		t.Errorf("persisted zoom mismatch:\n%s", diff)
	}
}

func TestFitToContent_ClampsAndEmpty(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "empty")
	mustCreate(t, s, "tiny", rect("dot", 10, 10, 1, 1))

	vp, _, err := s.FitToContent(ctx, "", "empty", FitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if vp.Zoom != 1 || vp.ScrollX != 0 || vp.ScrollY != 0 || vp.Bounds != nil {
		t.Errorf("empty viewport = %+v", vp)
	}

	vp, _, err = s.FitToContent(ctx, "", "tiny", FitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if vp.Zoom != MaxZoom {
		t.Errorf("Zoom = %v, want clamp to %v", vp.Zoom, MaxZoom)
	}

	if _, _, err := s.FitToContent(ctx, "", "tiny", FitOptions{Padding: -1}); !errors.Is(err, scene.ErrInvalidInput) {
		t.Errorf("negative padding error = %v", err)
	}
}

// --- Files ---

func TestAttachFile_Deduplicates(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "files")
	payload := []byte("\x89PNG fake image bytes")

	first, err := s.AttachFile(ctx, "", "files", AttachRequest{MimeType: "image/png", Payload: payload})
	if err != nil {
		t.Fatalf("AttachFile() error: %v", err)
	}
	if first.Deduplicated || first.FileCount != 1 || len(first.FileID) != fileIDLength {
		t.Errorf("first attach = %+v", first)
	}

	second, err := s.AttachFile(ctx, "", "files", AttachRequest{FileID: "other", MimeType: "image/png", Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Deduplicated || second.FileID != first.FileID || second.FileCount != 1 {
		t.Errorf("second attach = %+v, want dedup of %s", second, first.FileID)
	}

	doc, _ := s.GetScene(ctx, "", "files")
	if len(doc.Files) != 1 {
		t.Errorf("files = %d, want 1", len(doc.Files))
	}
}

func TestAttachFile_Errors(t *testing.T) {
	s := newTestService(t, WithMaxPayloadBytes(8))
	ctx := context.Background()
	mustCreate(t, s, "files")
	if _, err := s.AttachFile(ctx, "", "files", AttachRequest{FileID: "img", MimeType: "image/png", Payload: []byte("a")}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  AttachRequest
		want error
	}{
		{"too large", AttachRequest{MimeType: "image/png", Payload: []byte("123456789")}, scene.ErrInvalidInput},
		{"empty", AttachRequest{MimeType: "image/png"}, scene.ErrInvalidInput},
		{"no mime", AttachRequest{Payload: []byte("b")}, scene.ErrInvalidInput},
		{"id taken", AttachRequest{FileID: "img", MimeType: "image/png", Payload: []byte("b")}, scene.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.AttachFile(ctx, "", "files", tt.req); !errors.Is(err, tt.want) {
				t.Errorf("AttachFile() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDetachFile_Idempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "files")
	att, err := s.AttachFile(ctx, "", "files", AttachRequest{MimeType: "text/plain", Payload: []byte("hello")})
	if err != nil {
		t.Fatal(err)
	}

	removed, err := s.DetachFile(ctx, "", "files", att.FileID)
	if err != nil || !removed {
		t.Fatalf("DetachFile() = %v, %v; want true", removed, err)
	}
	removed, err = s.DetachFile(ctx, "", "files", att.FileID)
	if err != nil || removed {
		t.Errorf("second DetachFile() = %v, %v; want false", removed, err)
	}
	doc, _ := s.GetScene(ctx, "", "files")
	if doc.Metadata.FileCount != 0 {
		t.Errorf("FileCount = %d, want 0", doc.Metadata.FileCount)
	}
}

// --- Export / import ---

func TestExportImport_RoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, "source",
		rect("left", 0, 0, 180, 80),
		rect("right", 340, 0, 180, 80),
		map[string]any{"id": "link", "type": "arrow", "x": 80, "y": 40, "points": []any{[]any{0.0, 0.0}, []any{320.0, 0.0}}},
		map[string]any{"id": "label", "type": "text", "x": 10, "y": 10, "text": "a label that needs wrapping", "fontSize": 20.0, "containerId": "left"},
	)
	if _, err := s.AttachFile(ctx, "", "source", AttachRequest{MimeType: "image/png", Payload: []byte("pixels")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateLibrary(ctx, "", "source", []scene.LibraryItem{{"id": "lib-1"}}, false); err != nil {
		t.Fatal(err)
	}

	out, err := s.Export(ctx, "", "source", ExportOptions{Format: "json"})
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if out.MimeType != "application/json" || out.Image != nil {
		t.Errorf("export = %+v", out)
	}

	if _, err := s.ImportScene(ctx, ImportRequest{Payload: []byte(out.JSON), ID: "copy", Session: "sess"}); err != nil {
		t.Fatalf("ImportScene() error: %v", err)
	}
	if id, _ := s.ActiveScene("sess"); id != "copy" {
		t.Errorf("import did not bind session, active = %q", id)
	}

	src, _ := s.GetScene(ctx, "", "source")
	dst, err := s.GetScene(ctx, "", "copy")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(src.Elements, dst.Elements); diff != "" {
		t.Errorf("elements differ after round trip:\n%s", diff)
	}
	if diff := cmp.Diff(src.Files, dst.Files); diff != "" {
		t.Errorf("files differ after round trip:\n%s", diff)
	}
	if diff := cmp.Diff(src.LibraryItems, dst.LibraryItems); diff != "" {
		t.Errorf("library differs after round trip:\n%s", diff)
	}
	if dst.Metadata.Name != "copy" {
		t.Errorf("Name = %q, want id fallback", dst.Metadata.Name)
	}
}

func TestImportScene_Rejects(t *testing.T) {
	s := newTestService(t, WithMaxPayloadBytes(256))
	mustCreate(t, s, "taken")
	valid := `{"type":"excalidraw","version":2,"elements":[]}`

	tests := []struct {
		name    string
		payload string
		id      string
		want    error
	}{
		{"not json", "{", "", scene.ErrInvalidInput},
		{"wrong type", `{"type":"svg","elements":[]}`, "", scene.ErrInvalidInput},
		{"unknown element", `{"type":"excalidraw","elements":[{"id":"a","type":"blob"}]}`, "", scene.ErrInvalidInput},
		{"too large", `{"type":"excalidraw","pad":"` + string(make([]byte, 300)) + `"}`, "", scene.ErrInvalidInput},
		{"existing id", valid, "taken", scene.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ImportScene(context.Background(), ImportRequest{Payload: []byte(tt.payload), ID: tt.id})
			if !errors.Is(err, tt.want) {
				t.Errorf("ImportScene() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExport_ImageNeedsRenderer(t *testing.T) {
	s := newTestService(t)
	mustCreate(t, s, "pic")
	_, err := s.Export(context.Background(), "", "pic", ExportOptions{Format: "png"})
	if !errors.Is(err, scene.ErrDegradedMode) {
		t.Errorf("Export() error = %v, want DegradedMode", err)
	}
}

func TestExport_RendererFailureIsDegraded(t *testing.T) {
	r := &stubRenderer{err: errors.New("gpu lost")}
	s := newTestService(t, WithRenderer(r))
	before := mustCreate(t, s, "pic", rect("a", 0, 0, 10, 10))
	ctx := context.Background()

	_, err := s.Export(ctx, "", "pic", ExportOptions{Format: "jpg", Image: render.Options{Scale: 2}})
	if !errors.Is(err, scene.ErrDegradedMode) {
		t.Fatalf("Export() error = %v, want DegradedMode", err)
	}
	if r.got.Format != render.FormatJPEG || r.got.Scale != 2 || r.got.Padding != render.DefaultPadding {
		t.Errorf("renderer options = %+v", r.got)
	}

	doc, _ := s.GetScene(ctx, "", "pic")
	if doc.Metadata.RevisionHash != before.Document.Metadata.RevisionHash {
		t.Error("failed export changed the document")
	}

	r.err = fmt.Errorf("%w: bad options", scene.ErrInvalidInput)
	if _, err := s.Export(ctx, "", "pic", ExportOptions{Format: "png"}); !errors.Is(err, scene.ErrInvalidInput) {
		t.Errorf("Export() error = %v, want InvalidInput passed through", err)
	}
}

func TestExport_PreviewRenderer(t *testing.T) {
	s := newTestService(t, WithRenderer(render.NewPreviewRenderer(0)))
	mustCreate(t, s, "pic", rect("a", 0, 0, 100, 50))

	out, err := s.Export(context.Background(), "", "pic", ExportOptions{Format: "png"})
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if out.Image == nil || out.MimeType != "image/png" || out.Image.Width != 120 || out.Image.Height != 70 {
		t.Errorf("export = %+v", out)
	}
}

func TestExport_UnknownFormat(t *testing.T) {
	s := newTestService(t)
	mustCreate(t, s, "pic")
	if _, err := s.Export(context.Background(), "", "pic", ExportOptions{Format: "gif"}); !errors.Is(err, scene.ErrInvalidInput) {
		t.Errorf("Export() error = %v, want InvalidInput", err)
	}
}

// --- History ---

func TestHistory(t *testing.T) {
	j, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	s := newTestService(t, WithJournal(j))
	ctx := context.Background()
	mustCreate(t, s, "tracked")
	if _, err := s.PatchScene(ctx, "", "tracked", []patch.Operation{
		patch.AddElements{Elements: []map[string]any{rect("a", 0, 0, 10, 10)}},
		patch.SetName{Name: "n"},
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.History(ctx, "", "tracked", 0)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	var ops []string
	for _, e := range entries {
		ops = append(ops, e.Operation)
	}
	if diff := cmp.Diff([]string{"patch:addElements,setName", "create"}, ops); diff != "" {
		t.Errorf("journal mismatch:\n%s", diff)
	}

	if _, err := s.History(ctx, "", "ghost", 0); !errors.Is(err, scene.ErrNotFound) {
		t.Errorf("History(ghost) error = %v", err)
	}
}

func TestHistory_Disabled(t *testing.T) {
	s := newTestService(t)
	mustCreate(t, s, "doc")
	if _, err := s.History(context.Background(), "", "doc", 0); !errors.Is(err, scene.ErrDegradedMode) {
		t.Errorf("History() error = %v, want DegradedMode", err)
	}
}

func TestJournalFailureDoesNotFailMutation(t *testing.T) {
	j := &failingJournal{}
	s := newTestService(t, WithJournal(j))
	mustCreate(t, s, "doc")
	if _, err := s.PatchScene(context.Background(), "", "doc", []patch.Operation{patch.SetName{Name: "x"}}); err != nil {
		t.Errorf("PatchScene() error = %v", err)
	}
	if j.calls != 2 {
		t.Errorf("journal calls = %d, want 2", j.calls)
	}
}

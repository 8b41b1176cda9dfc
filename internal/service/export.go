package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/duhman/excalidraw-mcp/internal/history"
	"github.com/duhman/excalidraw-mcp/internal/patch"
	"github.com/duhman/excalidraw-mcp/internal/render"
	"github.com/duhman/excalidraw-mcp/internal/scene"
	"go.uber.org/zap"
)

// Envelope identity written by JSON export and required by import.
const (
	EnvelopeType    = "excalidraw"
	EnvelopeVersion = 2
	EnvelopeSource  = "excalidraw-mcp"
)

// Envelope is the self-describing JSON export format.
type Envelope struct {
	Type         string                      `json:"type"`
	Version      int                         `json:"version"`
	Source       string                      `json:"source"`
	Elements     []scene.Element             `json:"elements"`
	AppState     map[string]any              `json:"appState"`
	Files        map[string]scene.FileRecord `json:"files"`
	LibraryItems []scene.LibraryItem         `json:"libraryItems,omitempty"`
}

// NewEnvelope wraps the content of doc.
func NewEnvelope(doc scene.Document) Envelope {
	env := Envelope{
		Type:         EnvelopeType,
		Version:      EnvelopeVersion,
		Source:       EnvelopeSource,
		Elements:     doc.Elements,
		AppState:     doc.AppState,
		Files:        doc.Files,
		LibraryItems: doc.LibraryItems,
	}
	if env.Elements == nil {
		env.Elements = []scene.Element{}
	}
	if env.AppState == nil {
		env.AppState = map[string]any{}
	}
	if env.Files == nil {
		env.Files = map[string]scene.FileRecord{}
	}
	return env
}

// ParseEnvelope decodes and checks an export payload.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: invalid scene payload: %v", scene.ErrInvalidInput, err)
	}
	if env.Type != EnvelopeType {
		return Envelope{}, fmt.Errorf("%w: payload type is %q, want %q", scene.ErrInvalidInput, env.Type, EnvelopeType)
	}
	for i := range env.Elements {
		if err := scene.ValidateType(env.Elements[i].Type); err != nil {
			return Envelope{}, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return env, nil
}

// ExportFormatJSON selects the envelope export. Any other format is an
// image format handled by the renderer.
const ExportFormatJSON = "json"

// ExportOptions select the export format. Image options apply to png and
// jpeg only.
type ExportOptions struct {
	Format string
	Image  render.Options
}

// ExportResult carries either the JSON envelope or a rendered image.
type ExportResult struct {
	Format   string        `json:"format"`
	MimeType string        `json:"mimeType"`
	JSON     string        `json:"json,omitempty"`
	Image    *render.Image `json:"image,omitempty"`
}

// Export produces the export payload of the persisted document. Image
// formats require a renderer; renderer failures surface as
// scene.ErrDegradedMode and never touch the document.
func (s *Service) Export(ctx context.Context, session, id string, opts ExportOptions) (ExportResult, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = ExportFormatJSON
	}

	var imageFormat render.Format
	if format != ExportFormatJSON {
		f, err := render.ParseFormat(format)
		if err != nil {
			return ExportResult{}, err
		}
		imageFormat = f
	}

	doc, err := s.GetScene(ctx, session, id)
	if err != nil {
		return ExportResult{}, err
	}

	if format == ExportFormatJSON {
		data, err := json.MarshalIndent(NewEnvelope(doc), "", "  ")
		if err != nil {
			return ExportResult{}, fmt.Errorf("%w: encode export: %v", scene.ErrInternal, err)
		}
		return ExportResult{Format: ExportFormatJSON, MimeType: "application/json", JSON: string(data)}, nil
	}

	if s.renderer == nil {
		return ExportResult{}, fmt.Errorf("%w: image export is unavailable: no renderer configured", scene.ErrDegradedMode)
	}
	ro := opts.Image
	ro.Format = imageFormat
	img, err := s.renderer.Render(ctx, doc, ro.WithDefaults())
	if err != nil {
		if passThrough(err) {
			return ExportResult{}, err
		}
		s.logger.Warn("renderer failed", zap.String("id", doc.Metadata.ID), zap.Error(err))
		return ExportResult{}, fmt.Errorf("%w: render %s: %v", scene.ErrDegradedMode, imageFormat, err)
	}
	return ExportResult{Format: string(imageFormat), MimeType: img.MimeType, Image: &img}, nil
}

// ImportRequest creates a document from an export envelope.
type ImportRequest struct {
	Payload []byte
	// ID is generated when empty.
	ID      string
	Name    string
	Session string
}

// ImportScene creates a new document from a JSON export payload.
func (s *Service) ImportScene(ctx context.Context, req ImportRequest) (patch.Result, error) {
	if err := s.checkPayload(len(req.Payload), "scene payload"); err != nil {
		return patch.Result{}, err
	}
	env, err := ParseEnvelope(req.Payload)
	if err != nil {
		return patch.Result{}, err
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = s.newDocID()
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = id
	}

	res, err := s.createWith(ctx, id, "import", func() (patch.Result, error) {
		doc := scene.New(id, name, timeNow())
		doc.Elements = env.Elements
		ops := []patch.Operation{patch.SetAppState{State: env.AppState, Replace: true}}
		if len(env.Files) > 0 {
			ops = append(ops, patch.SetFiles{Files: env.Files, Replace: true})
		}
		if len(env.LibraryItems) > 0 {
			ops = append(ops, patch.SetLibrary{Items: env.LibraryItems})
		}
		res, err := s.engine.Apply(doc, ops)
		if err != nil {
			return patch.Result{}, err
		}
		res.ChangedIDs = mergeIDs(res.ChangedIDs, liveIDs(res.Document))
		return res, nil
	})
	if err != nil {
		return patch.Result{}, err
	}
	s.bindSession(req.Session, id)
	return res, nil
}

// History returns journaled revisions of a document, newest first.
func (s *Service) History(ctx context.Context, session, id string, limit int) ([]history.Entry, error) {
	if s.journal == nil {
		return nil, fmt.Errorf("%w: revision history is disabled", scene.ErrDegradedMode)
	}
	id, err := s.resolve(session, id)
	if err != nil {
		return nil, err
	}
	exists, err := s.store.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: document %q", scene.ErrNotFound, id)
	}
	entries, err := s.journal.List(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scene.ErrDegradedMode, err)
	}
	return entries, nil
}

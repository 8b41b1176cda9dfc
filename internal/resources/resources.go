// Package resources implements MCP resource handlers for scene documents.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (scene://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/duhman/excalidraw-mcp/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
)

// URIs served by the Handler.
const (
	DocumentsURI        = "scene://documents"
	DocumentURITemplate = "scene://documents/{id}"
	documentURIPrefix   = "scene://documents/"
)

// Handler manages scene resource endpoints.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a resource Handler over the scene service.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// DocumentsResource returns the MCP resource definition for the document index.
func (h *Handler) DocumentsResource() mcp.Resource {
	return mcp.NewResource(
		DocumentsURI,
		"Scene documents",
		mcp.WithResourceDescription("Metadata of every stored scene, most recently updated first"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleDocuments returns the document index as JSON.
func (h *Handler) HandleDocuments(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	metas, err := h.svc.ListScenes(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err), nil
	}
	if metas == nil {
		metas = []scene.Metadata{}
	}
	return jsonResource(req.Params.URI, metas)
}

// DocumentTemplate returns the MCP resource template for a single document.
func (h *Handler) DocumentTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		DocumentURITemplate,
		"Scene document",
		mcp.WithTemplateDescription("A full scene document: metadata, elements, view state, files and library"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleDocument returns one document as JSON.
func (h *Handler) HandleDocument(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id, ok := strings.CutPrefix(req.Params.URI, documentURIPrefix)
	if !ok || id == "" {
		return errorResource(req.Params.URI, fmt.Errorf("%w: expected %s", scene.ErrInvalidInput, DocumentURITemplate)), nil
	}
	doc, err := h.svc.GetScene(ctx, "", id)
	if err != nil {
		return errorResource(req.Params.URI, err), nil
	}
	return jsonResource(req.Params.URI, doc)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri string, err error) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s: %v", scene.KindOf(err), err),
		},
	}
}

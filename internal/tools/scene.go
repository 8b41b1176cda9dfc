package tools

import (
	"context"

	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/duhman/excalidraw-mcp/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── CreateTool ─────────────────────────────────────────────────────────────

// CreateTool handles the scene_create MCP tool.
type CreateTool struct {
	svc *service.Service
}

// NewCreateTool creates a CreateTool over the scene service.
func NewCreateTool(svc *service.Service) *CreateTool {
	return &CreateTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_create.
func (t *CreateTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_create",
		mcp.WithDescription(
			"Create a new scene document and make it the session's active scene. "+
				"Optionally seed it with element skeletons (each needs at least a `type`) and view state. "+
				"Connectors drawn between shapes are bound automatically.",
		),
		mcp.WithString("id",
			mcp.Description("Document id (letters, digits, '-' and '_'). Generated when omitted."),
		),
		mcp.WithString("name",
			mcp.Description("Display name"),
		),
		mcp.WithArray("elements",
			mcp.Description("Element skeletons, e.g. {\"type\":\"rectangle\",\"x\":0,\"y\":0,\"width\":180,\"height\":80}"),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithObject("app_state",
			mcp.Description("Initial view state (viewBackgroundColor, gridSize, ...)"),
		),
		sessionParam,
	)
}

// Handle processes the scene_create tool call.
func (t *CreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	create := service.CreateRequest{
		ID:      req.GetString("id", ""),
		Name:    req.GetString("name", ""),
		Session: sessionID(ctx, req),
	}
	if _, err := decodeArg(req, "elements", &create.Elements); err != nil {
		return failure(err)
	}
	if _, err := decodeArg(req, "app_state", &create.AppState); err != nil {
		return failure(err)
	}

	res, err := t.svc.CreateScene(ctx, create)
	if err != nil {
		return failure(err)
	}
	return jsonResult(summarize(res))
}

// ─── OpenTool ───────────────────────────────────────────────────────────────

// OpenTool handles the scene_open MCP tool.
type OpenTool struct {
	svc *service.Service
}

// NewOpenTool creates an OpenTool.
func NewOpenTool(svc *service.Service) *OpenTool {
	return &OpenTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_open.
func (t *OpenTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_open",
		mcp.WithDescription(
			"Open an existing scene and make it the session's active scene, so later calls may omit `id`.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Document id to open"),
		),
		sessionParam,
	)
}

// Handle processes the scene_open tool call.
func (t *OpenTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	meta, err := t.svc.OpenScene(ctx, sessionID(ctx, req), id)
	if err != nil {
		return failure(err)
	}
	return jsonResult(meta)
}

// ─── ListTool ───────────────────────────────────────────────────────────────

// ListTool handles the scene_list MCP tool.
type ListTool struct {
	svc *service.Service
}

// NewListTool creates a ListTool.
func NewListTool(svc *service.Service) *ListTool {
	return &ListTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_list.
func (t *ListTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_list",
		mcp.WithDescription("List all scene documents, most recently updated first."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the scene_list tool call.
func (t *ListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	metas, err := t.svc.ListScenes(ctx)
	if err != nil {
		return failure(err)
	}
	if metas == nil {
		metas = []scene.Metadata{}
	}
	return jsonResult(map[string]any{"count": len(metas), "scenes": metas})
}

// ─── GetTool ────────────────────────────────────────────────────────────────

// GetTool handles the scene_get MCP tool.
type GetTool struct {
	svc *service.Service
}

// NewGetTool creates a GetTool.
func NewGetTool(svc *service.Service) *GetTool {
	return &GetTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_get.
func (t *GetTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_get",
		mcp.WithDescription("Return the full scene document: metadata, elements, view state, files and library."),
		mcp.WithReadOnlyHintAnnotation(true),
		idParam,
		sessionParam,
	)
}

// Handle processes the scene_get tool call.
func (t *GetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := t.svc.GetScene(ctx, sessionID(ctx, req), req.GetString("id", ""))
	if err != nil {
		return failure(err)
	}
	return jsonResult(doc)
}

// ─── SaveTool ───────────────────────────────────────────────────────────────

// SaveTool handles the scene_save MCP tool.
type SaveTool struct {
	svc *service.Service
}

// NewSaveTool creates a SaveTool.
func NewSaveTool(svc *service.Service) *SaveTool {
	return &SaveTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_save.
func (t *SaveTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_save",
		mcp.WithDescription(
			"Replace scene content wholesale. Only the provided parts are replaced; the result is "+
				"normalized and repaired before it is persisted. Prefer scene_patch for incremental edits.",
		),
		idParam,
		sessionParam,
		mcp.WithString("name",
			mcp.Description("New display name"),
		),
		mcp.WithArray("elements",
			mcp.Description("Complete element list replacing the current one"),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithObject("app_state",
			mcp.Description("View state replacing the current one"),
		),
		mcp.WithObject("files",
			mcp.Description("Files keyed by id: {\"id\",\"mimeType\",\"dataURL\"}"),
		),
		mcp.WithArray("library_items",
			mcp.Description("Library items replacing the current library"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
}

// Handle processes the scene_save tool call.
func (t *SaveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var content service.Content
	if name, ok := req.GetArguments()["name"].(string); ok {
		content.Name = &name
	}
	for key, dst := range map[string]any{
		"elements":      &content.Elements,
		"app_state":     &content.AppState,
		"files":         &content.Files,
		"library_items": &content.LibraryItems,
	} {
		if _, err := decodeArg(req, key, dst); err != nil {
			return failure(err)
		}
	}

	res, err := t.svc.SaveScene(ctx, sessionID(ctx, req), req.GetString("id", ""), &content)
	if err != nil {
		return failure(err)
	}
	return jsonResult(summarize(res))
}

// ─── CloseTool ──────────────────────────────────────────────────────────────

// CloseTool handles the scene_close MCP tool.
type CloseTool struct {
	svc *service.Service
}

// NewCloseTool creates a CloseTool.
func NewCloseTool(svc *service.Service) *CloseTool {
	return &CloseTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_close.
func (t *CloseTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_close",
		mcp.WithDescription("Clear the session's active scene. The document itself is untouched."),
		sessionParam,
	)
}

// Handle processes the scene_close tool call.
func (t *CloseTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	closed := t.svc.CloseScene(sessionID(ctx, req))
	return jsonResult(map[string]bool{"closed": closed})
}

package tools

import (
	"context"
	"fmt"

	"github.com/duhman/excalidraw-mcp/internal/patch"
	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/duhman/excalidraw-mcp/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── PatchTool ──────────────────────────────────────────────────────────────

// PatchTool handles the scene_patch MCP tool.
type PatchTool struct {
	svc *service.Service
}

// NewPatchTool creates a PatchTool.
func NewPatchTool(svc *service.Service) *PatchTool {
	return &PatchTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_patch.
func (t *PatchTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_patch",
		mcp.WithDescription(
			"Apply a batch of operations atomically: either every operation applies and the scene is "+
				"persisted, or nothing changes. Operations (field `op`):\n"+
				"- setName {name}\n"+
				"- addElements {elements: [skeleton]}\n"+
				"- updateElements {updates: [{id, patch}]} (a null value removes the attribute)\n"+
				"- deleteElements {ids, hardDelete}\n"+
				"- setAppState {state, merge (default true)}\n"+
				"- setLibrary {items, merge (default false)}\n"+
				"- setFiles {files, merge (default true)}\n"+
				"Returns the changed element ids and any diagram quality issues found or fixed.",
		),
		idParam,
		sessionParam,
		mcp.WithArray("operations",
			mcp.Required(),
			mcp.Description("Ordered operations; later operations see the effects of earlier ones"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
}

// Handle processes the scene_patch tool call.
func (t *PatchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok, err := rawArg(req, "operations")
	if err != nil {
		return failure(err)
	}
	if !ok {
		return mcp.NewToolResultError("'operations' is required"), nil
	}
	ops, err := patch.ParseOperations(raw)
	if err != nil {
		return failure(err)
	}

	res, err := t.svc.PatchScene(ctx, sessionID(ctx, req), req.GetString("id", ""), ops)
	if err != nil {
		return failure(err)
	}
	return jsonResult(summarize(res))
}

// ─── ValidateTool ───────────────────────────────────────────────────────────

// ValidateTool handles the scene_validate MCP tool.
type ValidateTool struct {
	svc *service.Service
}

// NewValidateTool creates a ValidateTool.
func NewValidateTool(svc *service.Service) *ValidateTool {
	return &ValidateTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_validate.
func (t *ValidateTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_validate",
		mcp.WithDescription(
			"Check a scene without changing it. Reports structural issues (duplicate or missing ids, "+
				"unknown types, malformed files) and diagram quality issues (unbound connectors, "+
				"overflowing text). The scene is valid when there are no structural issues and no "+
				"quality issue of severity error.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		idParam,
		sessionParam,
	)
}

// Handle processes the scene_validate tool call.
func (t *ValidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := t.svc.ValidateScene(ctx, sessionID(ctx, req), req.GetString("id", ""))
	if err != nil {
		return failure(err)
	}
	return jsonResult(report)
}

// ─── NormalizeTool ──────────────────────────────────────────────────────────

// NormalizeTool handles the scene_normalize MCP tool.
type NormalizeTool struct {
	svc *service.Service
}

// NewNormalizeTool creates a NormalizeTool.
func NewNormalizeTool(svc *service.Service) *NormalizeTool {
	return &NormalizeTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_normalize.
func (t *NormalizeTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_normalize",
		mcp.WithDescription(
			"Normalize and repair a scene in place: fill structural defaults, bind connectors, "+
				"re-wrap overflowing text and recompute the revision hash.",
		),
		idParam,
		sessionParam,
	)
}

// Handle processes the scene_normalize tool call.
func (t *NormalizeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.svc.NormalizeScene(ctx, sessionID(ctx, req), req.GetString("id", ""))
	if err != nil {
		return failure(err)
	}
	return jsonResult(summarize(res))
}

// ─── ElementsListTool ───────────────────────────────────────────────────────

// ElementsListTool handles the elements_list MCP tool.
type ElementsListTool struct {
	svc *service.Service
}

// NewElementsListTool creates an ElementsListTool.
func NewElementsListTool(svc *service.Service) *ElementsListTool {
	return &ElementsListTool{svc: svc}
}

// Definition returns the MCP tool definition for elements_list.
func (t *ElementsListTool) Definition() mcp.Tool {
	return mcp.NewTool("elements_list",
		mcp.WithDescription("List scene elements in document order, optionally filtered. Deleted elements are hidden unless requested."),
		mcp.WithReadOnlyHintAnnotation(true),
		idParam,
		sessionParam,
		mcp.WithArray("types",
			mcp.Description("Keep only these element types (rectangle, ellipse, arrow, text, ...)"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithArray("ids",
			mcp.Description("Keep only these element ids"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithBoolean("include_deleted",
			mcp.Description("Include soft-deleted elements"),
		),
		mcp.WithObject("bbox",
			mcp.Description("Keep only elements intersecting {minX, minY, maxX, maxY}"),
		),
	)
}

// Handle processes the elements_list tool call.
func (t *ElementsListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := service.ElementFilter{IncludeDeleted: boolArg(req, "include_deleted", false)}
	if _, err := decodeArg(req, "types", &filter.Types); err != nil {
		return failure(err)
	}
	if _, err := decodeArg(req, "ids", &filter.IDs); err != nil {
		return failure(err)
	}
	var bbox scene.Bounds
	ok, err := decodeArg(req, "bbox", &bbox)
	if err != nil {
		return failure(err)
	}
	if ok {
		if bbox.MinX > bbox.MaxX || bbox.MinY > bbox.MaxY {
			return failure(fmt.Errorf("%w: bbox min exceeds max", scene.ErrInvalidInput))
		}
		filter.BBox = &bbox
	}

	elements, err := t.svc.ListElements(ctx, sessionID(ctx, req), req.GetString("id", ""), filter)
	if err != nil {
		return failure(err)
	}
	return jsonResult(map[string]any{"count": len(elements), "elements": elements})
}

// ─── AppStateGetTool ────────────────────────────────────────────────────────

// AppStateGetTool handles the appstate_get MCP tool.
type AppStateGetTool struct {
	svc *service.Service
}

// NewAppStateGetTool creates an AppStateGetTool.
func NewAppStateGetTool(svc *service.Service) *AppStateGetTool {
	return &AppStateGetTool{svc: svc}
}

// Definition returns the MCP tool definition for appstate_get.
func (t *AppStateGetTool) Definition() mcp.Tool {
	return mcp.NewTool("appstate_get",
		mcp.WithDescription("Return the scene's view state (scroll, zoom, background, grid, ...)."),
		mcp.WithReadOnlyHintAnnotation(true),
		idParam,
		sessionParam,
	)
}

// Handle processes the appstate_get tool call.
func (t *AppStateGetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := t.svc.GetAppState(ctx, sessionID(ctx, req), req.GetString("id", ""))
	if err != nil {
		return failure(err)
	}
	return jsonResult(state)
}

// ─── AppStatePatchTool ──────────────────────────────────────────────────────

// AppStatePatchTool handles the appstate_patch MCP tool.
type AppStatePatchTool struct {
	svc *service.Service
}

// NewAppStatePatchTool creates an AppStatePatchTool.
func NewAppStatePatchTool(svc *service.Service) *AppStatePatchTool {
	return &AppStatePatchTool{svc: svc}
}

// Definition returns the MCP tool definition for appstate_patch.
func (t *AppStatePatchTool) Definition() mcp.Tool {
	return mcp.NewTool("appstate_patch",
		mcp.WithDescription("Merge keys into the view state (a null value removes the key), or replace it entirely."),
		idParam,
		sessionParam,
		mcp.WithObject("state",
			mcp.Required(),
			mcp.Description("View state keys to set"),
		),
		mcp.WithBoolean("replace",
			mcp.Description("Replace the whole view state instead of merging"),
		),
	)
}

// Handle processes the appstate_patch tool call.
func (t *AppStatePatchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var state map[string]any
	ok, err := decodeArg(req, "state", &state)
	if err != nil {
		return failure(err)
	}
	if !ok {
		return mcp.NewToolResultError("'state' is required"), nil
	}

	res, err := t.svc.PatchAppState(ctx, sessionID(ctx, req), req.GetString("id", ""), state, boolArg(req, "replace", false))
	if err != nil {
		return failure(err)
	}
	return jsonResult(summarize(res))
}

package tools

import (
	"context"
	"fmt"

	"github.com/duhman/excalidraw-mcp/internal/history"
	"github.com/duhman/excalidraw-mcp/internal/render"
	"github.com/duhman/excalidraw-mcp/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── FitTool ────────────────────────────────────────────────────────────────

// FitTool handles the scene_fit MCP tool.
type FitTool struct {
	svc *service.Service
}

// NewFitTool creates a FitTool.
func NewFitTool(svc *service.Service) *FitTool {
	return &FitTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_fit.
func (t *FitTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_fit",
		mcp.WithDescription(
			"Set scroll and zoom so every element is visible. The viewport defaults to the view "+
				"state's width/height, or 1280x800.",
		),
		idParam,
		sessionParam,
		mcp.WithNumber("viewport_width",
			mcp.Description("Viewport width in pixels"),
		),
		mcp.WithNumber("viewport_height",
			mcp.Description("Viewport height in pixels"),
		),
		mcp.WithNumber("padding",
			mcp.Description("Margin around the content in pixels (default 40)"),
		),
	)
}

// Handle processes the scene_fit tool call.
func (t *FitTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vp, res, err := t.svc.FitToContent(ctx, sessionID(ctx, req), req.GetString("id", ""), service.FitOptions{
		ViewportWidth:  floatArg(req, "viewport_width", 0),
		ViewportHeight: floatArg(req, "viewport_height", 0),
		Padding:        floatArg(req, "padding", 0),
	})
	if err != nil {
		return failure(err)
	}
	return jsonResult(map[string]any{
		"viewport":     vp,
		"revisionHash": res.Document.Metadata.RevisionHash,
	})
}

// ─── ExportTool ─────────────────────────────────────────────────────────────

// ExportTool handles the scene_export MCP tool.
type ExportTool struct {
	svc *service.Service
}

// NewExportTool creates an ExportTool.
func NewExportTool(svc *service.Service) *ExportTool {
	return &ExportTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_export.
func (t *ExportTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_export",
		mcp.WithDescription(
			"Export the scene. `json` returns an .excalidraw envelope that scene_import accepts; "+
				"`png` and `jpeg` return a rendered preview image.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		idParam,
		sessionParam,
		mcp.WithString("format",
			mcp.Description("Export format"),
			mcp.Enum("json", "png", "jpeg"),
		),
		mcp.WithNumber("scale",
			mcp.Description("Image scale factor (0.1 to 10, default 1)"),
		),
		mcp.WithNumber("padding",
			mcp.Description("Image padding in scene pixels (default 10)"),
		),
		mcp.WithBoolean("dark_mode",
			mcp.Description("Render with the dark palette"),
		),
		mcp.WithNumber("quality",
			mcp.Description("JPEG quality 1 to 100 (default 92)"),
		),
		mcp.WithNumber("max_dimension",
			mcp.Description("Upper bound on the image's longer side in pixels"),
		),
	)
}

// Handle processes the scene_export tool call.
func (t *ExportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := t.svc.Export(ctx, sessionID(ctx, req), req.GetString("id", ""), service.ExportOptions{
		Format: req.GetString("format", service.ExportFormatJSON),
		Image: render.Options{
			Scale:        floatArg(req, "scale", 0),
			Padding:      floatArg(req, "padding", 0),
			DarkMode:     boolArg(req, "dark_mode", false),
			Quality:      intArg(req, "quality", 0),
			MaxDimension: intArg(req, "max_dimension", 0),
		},
	})
	if err != nil {
		return failure(err)
	}
	if out.Image == nil {
		return mcp.NewToolResultText(out.JSON), nil
	}
	caption := fmt.Sprintf("%s export, %dx%d", out.Format, out.Image.Width, out.Image.Height)
	return mcp.NewToolResultImage(caption, out.Image.Base64, out.MimeType), nil
}

// ─── ImportTool ─────────────────────────────────────────────────────────────

// ImportTool handles the scene_import MCP tool.
type ImportTool struct {
	svc *service.Service
}

// NewImportTool creates an ImportTool.
func NewImportTool(svc *service.Service) *ImportTool {
	return &ImportTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_import.
func (t *ImportTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_import",
		mcp.WithDescription(
			"Create a new scene from an .excalidraw JSON payload (as produced by scene_export) and "+
				"make it the session's active scene.",
		),
		mcp.WithString("payload",
			mcp.Required(),
			mcp.Description("The .excalidraw JSON document, as a string or object"),
		),
		mcp.WithString("id",
			mcp.Description("Id for the new document. Generated when omitted."),
		),
		mcp.WithString("name",
			mcp.Description("Display name. Defaults to the id."),
		),
		sessionParam,
	)
}

// Handle processes the scene_import tool call.
func (t *ImportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, ok, err := rawArg(req, "payload")
	if err != nil {
		return failure(err)
	}
	if !ok {
		return mcp.NewToolResultError("'payload' is required"), nil
	}

	res, err := t.svc.ImportScene(ctx, service.ImportRequest{
		Payload: payload,
		ID:      req.GetString("id", ""),
		Name:    req.GetString("name", ""),
		Session: sessionID(ctx, req),
	})
	if err != nil {
		return failure(err)
	}
	return jsonResult(summarize(res))
}

// ─── HistoryTool ────────────────────────────────────────────────────────────

// HistoryTool handles the scene_history MCP tool.
type HistoryTool struct {
	svc *service.Service
}

// NewHistoryTool creates a HistoryTool.
func NewHistoryTool(svc *service.Service) *HistoryTool {
	return &HistoryTool{svc: svc}
}

// Definition returns the MCP tool definition for scene_history.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("scene_history",
		mcp.WithDescription("List the scene's persisted revisions, newest first: operation, changed ids and revision hash."),
		mcp.WithReadOnlyHintAnnotation(true),
		idParam,
		sessionParam,
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum entries (default %d, max %d)", history.DefaultLimit, history.MaxLimit)),
		),
	)
}

// Handle processes the scene_history tool call.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := t.svc.History(ctx, sessionID(ctx, req), req.GetString("id", ""), intArg(req, "limit", 0))
	if err != nil {
		return failure(err)
	}
	return jsonResult(map[string]any{"count": len(entries), "revisions": entries})
}

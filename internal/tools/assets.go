package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/duhman/excalidraw-mcp/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── FileAttachTool ─────────────────────────────────────────────────────────

// FileAttachTool handles the file_attach MCP tool.
type FileAttachTool struct {
	svc *service.Service
}

// NewFileAttachTool creates a FileAttachTool.
func NewFileAttachTool(svc *service.Service) *FileAttachTool {
	return &FileAttachTool{svc: svc}
}

// Definition returns the MCP tool definition for file_attach.
func (t *FileAttachTool) Definition() mcp.Tool {
	return mcp.NewTool("file_attach",
		mcp.WithDescription(
			"Embed a binary file (typically an image) in the scene. Identical content is stored once: "+
				"attaching it again returns the existing file id with deduplicated=true. Reference the "+
				"returned id from an image element's `fileId`.",
		),
		idParam,
		sessionParam,
		mcp.WithString("data",
			mcp.Required(),
			mcp.Description("File content as base64, or as a data URL (data:<mime>;base64,...)"),
		),
		mcp.WithString("mime_type",
			mcp.Description("Media type, e.g. image/png. Optional when `data` is a data URL."),
		),
		mcp.WithString("file_id",
			mcp.Description("File id. Derived from the content hash when omitted."),
		),
	)
}

// Handle processes the file_attach tool call.
func (t *FileAttachTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := req.RequireString("data")
	if err != nil || strings.TrimSpace(data) == "" {
		return mcp.NewToolResultError("'data' is required"), nil
	}
	mimeType, payload, err := decodePayload(strings.TrimSpace(data), req.GetString("mime_type", ""))
	if err != nil {
		return failure(err)
	}

	res, err := t.svc.AttachFile(ctx, sessionID(ctx, req), req.GetString("id", ""), service.AttachRequest{
		FileID:   req.GetString("file_id", ""),
		MimeType: mimeType,
		Payload:  payload,
	})
	if err != nil {
		return failure(err)
	}
	return jsonResult(res)
}

// decodePayload accepts a data URL or bare base64. An explicit mime type
// wins over the one in the data URL.
func decodePayload(data, mimeType string) (string, []byte, error) {
	if strings.HasPrefix(data, "data:") {
		urlMime, payload, err := scene.DecodeDataURL(data)
		if err != nil {
			return "", nil, err
		}
		if strings.TrimSpace(mimeType) == "" {
			mimeType = urlMime
		}
		return mimeType, payload, nil
	}
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: data is not valid base64: %v", scene.ErrInvalidInput, err)
	}
	return mimeType, payload, nil
}

// ─── FileDetachTool ─────────────────────────────────────────────────────────

// FileDetachTool handles the file_detach MCP tool.
type FileDetachTool struct {
	svc *service.Service
}

// NewFileDetachTool creates a FileDetachTool.
func NewFileDetachTool(svc *service.Service) *FileDetachTool {
	return &FileDetachTool{svc: svc}
}

// Definition returns the MCP tool definition for file_detach.
func (t *FileDetachTool) Definition() mcp.Tool {
	return mcp.NewTool("file_detach",
		mcp.WithDescription("Remove an embedded file. Succeeds with removed=false when the file is not attached."),
		mcp.WithIdempotentHintAnnotation(true),
		idParam,
		sessionParam,
		mcp.WithString("file_id",
			mcp.Required(),
			mcp.Description("File id to remove"),
		),
	)
}

// Handle processes the file_detach tool call.
func (t *FileDetachTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fileID, err := req.RequireString("file_id")
	if err != nil {
		return mcp.NewToolResultError("'file_id' is required"), nil
	}
	removed, err := t.svc.DetachFile(ctx, sessionID(ctx, req), req.GetString("id", ""), fileID)
	if err != nil {
		return failure(err)
	}
	return jsonResult(map[string]any{"fileId": fileID, "removed": removed})
}

// ─── LibraryGetTool ─────────────────────────────────────────────────────────

// LibraryGetTool handles the library_get MCP tool.
type LibraryGetTool struct {
	svc *service.Service
}

// NewLibraryGetTool creates a LibraryGetTool.
func NewLibraryGetTool(svc *service.Service) *LibraryGetTool {
	return &LibraryGetTool{svc: svc}
}

// Definition returns the MCP tool definition for library_get.
func (t *LibraryGetTool) Definition() mcp.Tool {
	return mcp.NewTool("library_get",
		mcp.WithDescription("Return the scene's reusable library items."),
		mcp.WithReadOnlyHintAnnotation(true),
		idParam,
		sessionParam,
	)
}

// Handle processes the library_get tool call.
func (t *LibraryGetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := t.svc.GetLibrary(ctx, sessionID(ctx, req), req.GetString("id", ""))
	if err != nil {
		return failure(err)
	}
	return jsonResult(map[string]any{"count": len(items), "libraryItems": items})
}

// ─── LibraryUpdateTool ──────────────────────────────────────────────────────

// LibraryUpdateTool handles the library_update MCP tool.
type LibraryUpdateTool struct {
	svc *service.Service
}

// NewLibraryUpdateTool creates a LibraryUpdateTool.
func NewLibraryUpdateTool(svc *service.Service) *LibraryUpdateTool {
	return &LibraryUpdateTool{svc: svc}
}

// Definition returns the MCP tool definition for library_update.
func (t *LibraryUpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("library_update",
		mcp.WithDescription(
			"Replace the library, or append to it with merge=true. Items sharing an id (or name) "+
				"collapse into one, the later item winning.",
		),
		idParam,
		sessionParam,
		mcp.WithArray("items",
			mcp.Required(),
			mcp.Description("Library items"),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithBoolean("merge",
			mcp.Description("Append to the existing library instead of replacing it"),
		),
	)
}

// Handle processes the library_update tool call.
func (t *LibraryUpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var items []scene.LibraryItem
	ok, err := decodeArg(req, "items", &items)
	if err != nil {
		return failure(err)
	}
	if !ok {
		return mcp.NewToolResultError("'items' is required"), nil
	}

	res, err := t.svc.UpdateLibrary(ctx, sessionID(ctx, req), req.GetString("id", ""), items, boolArg(req, "merge", false))
	if err != nil {
		return failure(err)
	}
	return jsonResult(summarize(res))
}

// Package tools implements the MCP tool handlers over the scene service.
//
// Each tool is a struct holding its dependencies, with Definition()
// returning the mcp.Tool schema and Handle() processing one call. Domain
// failures become tool results flagged as errors whose text starts with
// the failure kind (InvalidInput, NotFound, ...). Only unclassified
// failures surface as Go errors.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/duhman/excalidraw-mcp/internal/patch"
	"github.com/duhman/excalidraw-mcp/internal/quality"
	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Parameters shared by every tool that addresses a document.
var (
	idParam = mcp.WithString("id",
		mcp.Description("Scene document id. Defaults to the session's active scene (see scene_open)."),
	)
	sessionParam = mcp.WithString("session",
		mcp.Description("Session token for the active-scene binding. Defaults to the MCP client session."),
	)
)

// sessionID returns the explicit session argument, or the id of the MCP
// client session carried by ctx.
func sessionID(ctx context.Context, req mcp.CallToolRequest) string {
	if s := strings.TrimSpace(req.GetString("session", "")); s != "" {
		return s
	}
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		return cs.SessionID()
	}
	return ""
}

// intArg extracts an integer argument, returning defaultVal if the key is
// missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// floatArg extracts a number argument.
func floatArg(req mcp.CallToolRequest, key string, defaultVal float64) float64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return v
}

// decodeArg decodes a structured argument into dst. Clients that send the
// value as a JSON string are accepted too. Reports whether the key was
// present and non-null.
func decodeArg(req mcp.CallToolRequest, key string, dst any) (bool, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return false, nil
	}
	var data []byte
	if s, isString := v.(string); isString {
		data = []byte(s)
	} else {
		var err error
		if data, err = json.Marshal(v); err != nil {
			return false, fmt.Errorf("%w: argument %q: %v", scene.ErrInvalidInput, key, err)
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("%w: argument %q: %v", scene.ErrInvalidInput, key, err)
	}
	return true, nil
}

// rawArg returns a structured argument as JSON bytes.
func rawArg(req mcp.CallToolRequest, key string) ([]byte, bool, error) {
	var raw json.RawMessage
	ok, err := decodeArg(req, key, &raw)
	return raw, ok, err
}

// failure converts a service error into a tool result.
func failure(err error) (*mcp.CallToolResult, error) {
	kind := scene.KindOf(err)
	if kind == scene.KindInternal {
		return nil, err
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", kind, err)), nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mutationSummary is the result body of every mutating tool.
type mutationSummary struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	RevisionHash string          `json:"revisionHash"`
	ElementCount int             `json:"elementCount"`
	FileCount    int             `json:"fileCount"`
	ChangedIDs   []string        `json:"changedIds"`
	FixesApplied int             `json:"fixesApplied"`
	Issues       []quality.Issue `json:"issues,omitempty"`
}

func summarize(res patch.Result) mutationSummary {
	meta := res.Document.Metadata
	out := mutationSummary{
		ID:           meta.ID,
		Name:         meta.Name,
		RevisionHash: meta.RevisionHash,
		ElementCount: meta.ElementCount,
		FileCount:    meta.FileCount,
		ChangedIDs:   res.ChangedIDs,
		FixesApplied: res.FixesApplied,
		Issues:       res.Issues,
	}
	if out.ChangedIDs == nil {
		out.ChangedIDs = []string{}
	}
	return out
}

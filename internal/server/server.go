// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools, prompts and resources. No business logic
// lives here, only wiring.
package server

import (
	"context"
	"fmt"

	"github.com/duhman/excalidraw-mcp/internal/config"
	"github.com/duhman/excalidraw-mcp/internal/history"
	"github.com/duhman/excalidraw-mcp/internal/logging"
	"github.com/duhman/excalidraw-mcp/internal/prompts"
	"github.com/duhman/excalidraw-mcp/internal/render"
	"github.com/duhman/excalidraw-mcp/internal/resources"
	"github.com/duhman/excalidraw-mcp/internal/service"
	"github.com/duhman/excalidraw-mcp/internal/store"
	"github.com/duhman/excalidraw-mcp/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Version is set at build time via ldflags.
var Version = "dev"

// openJournal is a package-level var to allow test injection.
var openJournal = history.Open

// New creates and configures the MCP server with all tools, prompts and
// resources registered. This is the single place where all dependencies
// are resolved.
//
// The returned cleanup function closes the history journal and must be
// called on shutdown (typically via defer). It is always non-nil and safe
// to call even if the journal failed to open.
func New(cfg *config.Config, logger *zap.Logger) (*server.MCPServer, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, noop, fmt.Errorf("invalid config: %w", err)
	}
	logger = logging.OrNop(logger)

	svc, cleanup, err := NewService(cfg, logger)
	if err != nil {
		return nil, noop, err
	}

	s := server.NewMCPServer(
		"excalidraw-mcp",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	for _, t := range toolset(svc) {
		s.AddTool(t.Definition(), t.Handle)
	}

	guide := prompts.NewGuidePrompt()
	s.AddPrompt(guide.Definition(), guide.Handle)

	resourceHandler := resources.NewHandler(svc)
	s.AddResource(resourceHandler.DocumentsResource(), resourceHandler.HandleDocuments)
	s.AddResourceTemplate(resourceHandler.DocumentTemplate(), resourceHandler.HandleDocument)

	logger.Info("server ready",
		zap.String("version", Version),
		zap.String("root", cfg.Storage.Root),
	)
	return s, cleanup, nil
}

// NewService builds the scene service from cfg.
//
// The history journal is an independent subsystem: if it fails to open,
// the service keeps working without it and History reports degraded mode.
func NewService(cfg *config.Config, logger *zap.Logger) (*service.Service, func(), error) {
	logger = logging.OrNop(logger)

	st, err := store.NewFileStore(cfg.Storage.Root,
		store.WithLogger(logger),
		store.WithMaxBytes(cfg.Storage.MaxPayloadBytes),
	)
	if err != nil {
		return nil, noop, fmt.Errorf("opening scene store: %w", err)
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMaxPayloadBytes(cfg.Storage.MaxPayloadBytes),
	}
	if cfg.Render.Enabled {
		opts = append(opts, service.WithRenderer(render.NewPreviewRenderer(cfg.Render.MaxDimension)))
	}

	cleanup := noop
	if cfg.History.Enabled {
		journal, err := openJournal(cfg.HistoryPath())
		if err != nil {
			logger.Warn("history journal disabled", zap.Error(err))
		} else {
			opts = append(opts, service.WithJournal(journal))
			cleanup = func() {
				if err := journal.Close(); err != nil {
					logger.Warn("history journal close", zap.Error(err))
				}
			}
		}
	}

	return service.New(st, opts...), cleanup, nil
}

// tool is the shape every handler in internal/tools shares.
type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

func toolset(svc *service.Service) []tool {
	return []tool{
		// --- Documents ---
		tools.NewCreateTool(svc),
		tools.NewOpenTool(svc),
		tools.NewListTool(svc),
		tools.NewGetTool(svc),
		tools.NewSaveTool(svc),
		tools.NewCloseTool(svc),

		// --- Editing ---
		tools.NewPatchTool(svc),
		tools.NewValidateTool(svc),
		tools.NewNormalizeTool(svc),
		tools.NewElementsListTool(svc),
		tools.NewAppStateGetTool(svc),
		tools.NewAppStatePatchTool(svc),

		// --- Files and library ---
		tools.NewFileAttachTool(svc),
		tools.NewFileDetachTool(svc),
		tools.NewLibraryGetTool(svc),
		tools.NewLibraryUpdateTool(svc),

		// --- Output ---
		tools.NewFitTool(svc),
		tools.NewExportTool(svc),
		tools.NewImportTool(svc),
		tools.NewHistoryTool(svc),
	}
}

// noop is the default cleanup when the journal is disabled.
func noop() {}

// serverInstructions returns the system instructions that tell the AI how
// to use the scene tools.
func serverInstructions() string {
	return `You have access to excalidraw-mcp, a server that stores and edits Excalidraw scenes.

## WORKFLOW

1. scene_create (new drawing) or scene_open (existing one). Either makes the
   scene active for this session, so later calls may omit "id".
2. scene_patch with batches of operations. A batch applies completely or not
   at all. Give elements stable ids so later patches can update them.
3. scene_validate before presenting a result. Fix every issue with severity
   "error"; warnings are advisory.
4. scene_fit, then scene_export (png for a preview, json for a file the user
   can open in Excalidraw).

## DRAWING TIPS

- Shapes: rectangle, ellipse, diamond, frame. Connectors: arrow, line with
  "points" relative to the element's x/y.
- Arrows whose endpoints fall inside shapes are bound to them automatically.
  Hints: customData.startElementId / customData.endElementId.
- Labels: a text element with "containerId" set to its shape. Text that
  does not fit is re-wrapped and the label grows downward.
- Images: file_attach the bytes, then add an image element whose "fileId"
  is the returned id.

## ERRORS

Failed calls start with a kind: InvalidInput (fix the arguments), NotFound,
Conflict (id already taken), IOFailure (storage problem, tell the user),
DegradedMode (image export or history unavailable; the scene is unaffected).`
}

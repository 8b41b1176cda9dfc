// excalidraw-mcp: an MCP server for reading and editing Excalidraw scenes.
//
// Usage:
//
//	excalidraw-mcp serve              # Start MCP server (stdio transport)
//	excalidraw-mcp validate <file>    # Check a .excalidraw file
//	excalidraw-mcp version
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/duhman/excalidraw-mcp/internal/config"
	"github.com/duhman/excalidraw-mcp/internal/logging"
	"github.com/duhman/excalidraw-mcp/internal/scene"
	sceneserver "github.com/duhman/excalidraw-mcp/internal/server"
	"github.com/duhman/excalidraw-mcp/internal/service"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "excalidraw-mcp",
	Short: "MCP server for Excalidraw scenes",
	Long: `excalidraw-mcp stores Excalidraw scenes on disk and exposes them to AI
tools over the Model Context Protocol: create, patch, validate, fit and
export drawings.

Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "excalidraw": {
        "command": "excalidraw-mcp",
        "args": ["serve"]
      }
    }
  }`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		// stdout carries the MCP transport; zap writes to stderr.
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Development)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Report structural and quality issues of a scene file",
	Long: `Reads a stored scene document or an .excalidraw export and prints the
validation report as JSON. Exits non-zero when the scene is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateFile(cmd, args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	// Skips config loading.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "excalidraw-mcp v%s\n", sceneserver.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to config.yaml")
	rootCmd.AddCommand(serveCmd, validateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	s, cleanup, err := sceneserver.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	// ServeStdio installs its own SIGINT/SIGTERM handling.
	if err := server.ServeStdio(s); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// errInvalidScene makes validate exit non-zero after printing the report.
var errInvalidScene = errors.New("scene is invalid")

func validateFile(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := decodeSceneFile(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	report := service.Validate(doc)
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if !report.Valid {
		return errInvalidScene
	}
	return nil
}

// decodeSceneFile accepts both the export envelope and the stored document
// layout.
func decodeSceneFile(data []byte) (scene.Document, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return scene.Document{}, fmt.Errorf("%w: %v", scene.ErrInvalidInput, err)
	}
	if head.Type != "" {
		env, err := service.ParseEnvelope(data)
		if err != nil {
			return scene.Document{}, err
		}
		return scene.Document{
			Elements:     env.Elements,
			AppState:     env.AppState,
			Files:        env.Files,
			LibraryItems: env.LibraryItems,
		}, nil
	}
	var doc scene.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return scene.Document{}, fmt.Errorf("%w: %v", scene.ErrInvalidInput, err)
	}
	return doc, nil
}

// Package prompts implements MCP prompt handlers.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// GuidePrompt handles the scene-guide MCP prompt.
// It walks the AI through drawing a diagram with the scene tools.
type GuidePrompt struct{}

// NewGuidePrompt creates a GuidePrompt.
func NewGuidePrompt() *GuidePrompt {
	return &GuidePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *GuidePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("scene-guide",
		mcp.WithPromptDescription(
			"Draw or edit an Excalidraw diagram. Opens (or creates) a scene, "+
				"builds it with batched patches and checks it before you export.",
		),
		mcp.WithArgument("scene_id",
			mcp.ArgumentDescription("Scene to work on. A new scene is created when omitted."),
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What the diagram should show"),
		),
	)
}

// Handle processes the scene-guide prompt request.
func (p *GuidePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	sceneID := strings.TrimSpace(req.Params.Arguments["scene_id"])
	goal := strings.TrimSpace(req.Params.Arguments["goal"])
	if goal == "" {
		goal = "a clear diagram of whatever I describe next"
	}

	open := "1. Run `scene_create` with a short name to start a new scene\n"
	if sceneID != "" {
		open = fmt.Sprintf("1. Run `scene_open` with id='%s'\n", sceneID)
	}

	return &mcp.GetPromptResult{
		Description: "Scene drawing guide",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"I want to draw " + goal + ".\n\n" +
						"Please:\n" +
						open +
						"2. Add shapes with one `scene_patch` call per logical step (`addElements`), giving every element an `id` you can refer to later\n" +
						"3. Connect shapes with arrows whose first and last points sit inside the source and target shapes; bindings are inferred for you\n" +
						"4. Put labels inside shapes as `text` elements with `containerId`; long labels are wrapped automatically\n" +
						"5. Run `scene_validate` and fix any error-severity issue it reports\n" +
						"6. Run `scene_fit`, then `scene_export` with format='png' to show me the result",
				),
			},
		},
	}, nil
}

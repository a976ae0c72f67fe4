package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/deskconf/internal/schema"
	"github.com/kalambet/deskconf/internal/storage"
	"github.com/kalambet/deskconf/internal/viewmodel"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions *Sessions
	Store    *storage.Store
	Schema   schema.Registry
	Config   viewmodel.Configuration
}

// NewMCPServer creates an MCP server with all settings tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Schema == nil {
		deps.Schema = schema.Desktop()
	}

	s := server.NewMCPServer(
		"deskconf",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("deskconf: read and change desktop settings such as theme, wallpaper and locale."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_settings",
			mcp.WithDescription("List every editable setting with its current value and where the value comes from."),
		),
		mcpListSettings(deps),
	)

	s.AddTool(
		mcp.NewTool("get_setting",
			mcp.WithDescription("Read one setting by its dot-separated path, e.g. desktop.theme."),
			mcp.WithString("path", mcp.Description("Setting path"), mcp.Required()),
		),
		mcpGetSetting(deps),
	)

	s.AddTool(
		mcp.NewTool("set_setting",
			mcp.WithDescription("Change one setting and save it. Choice settings only accept one of their options."),
			mcp.WithString("path", mcp.Description("Setting path under desktop or locale, e.g. desktop.theme"), mcp.Required()),
			mcp.WithString("value", mcp.Description("New value"), mcp.Required()),
		),
		mcpSetSetting(deps),
	)

	s.AddTool(
		mcp.NewTool("list_choices",
			mcp.WithDescription("List the allowed values of a choice setting."),
			mcp.WithString("path", mcp.Description("Setting path"), mcp.Required()),
		),
		mcpListChoices(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"settings://schema",
			"Settings Schema",
			mcp.WithResourceDescription("Sections and items of the settings form as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSchema(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"settings://current",
			"Current Settings",
			mcp.WithResourceDescription("Saved settings and defaults as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCurrent(deps),
	)

	return s
}

func mcpListSettings(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, err := currentSettings(ctx, deps.Store, deps.Config)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load settings: %v", err)), nil
		}

		type settingResult struct {
			Section string `json:"section"`
			Label   string `json:"label"`
			ValueView
		}

		var results []settingResult
		for _, sec := range deps.Schema {
			for _, it := range sec.Items {
				results = append(results, settingResult{
					Section:   sec.Title,
					Label:     it.Label,
					ValueView: resolveValue(view, it.Path),
				})
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal settings: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetSetting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		view, err := currentSettings(ctx, deps.Store, deps.Config)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load settings: %v", err)), nil
		}

		b, err := json.Marshal(resolveValue(view, path))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal value: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetSetting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := deps.Sessions.SetValue(ctx, path, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set %s: %v", path, err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", path, value)), nil
	}
}

func mcpListChoices(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		choices, err := deps.Sessions.Choices(ctx, path)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list choices: %v", err)), nil
		}

		b, err := json.Marshal(choices)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal choices: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSchema(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Schema.Describe())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceCurrent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		view, err := currentSettings(ctx, deps.Store, deps.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}

		b, err := json.Marshal(view)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

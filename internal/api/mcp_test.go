package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/deskconf/internal/schema"
	"github.com/kalambet/deskconf/internal/tree"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *testEnv) {
	t.Helper()
	env := setupApp(t)
	cfg := env.sessions.deps.Config
	return MCPDeps{
		Sessions: env.sessions,
		Store:    env.store,
		Schema:   schema.Desktop(),
		Config:   cfg,
	}, env
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_ListSettings(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpListSettings(deps)(context.Background(), makeCallToolRequest("list_settings", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var settings []struct {
		Section string `json:"section"`
		Label   string `json:"label"`
		Path    string `json:"path"`
		Value   any    `json:"value"`
		Source  string `json:"source"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &settings); err != nil {
		t.Fatalf("decoding: %v", err)
	}

	want := 0
	for _, sec := range deps.Schema {
		want += len(sec.Items)
	}
	if len(settings) != want {
		t.Fatalf("got %d settings, want %d", len(settings), want)
	}
	for _, s := range settings {
		if s.Path == "desktop.theme" {
			if s.Value != "StandardTheme" || s.Source != "defaults" || s.Section != "Themes" {
				t.Errorf("desktop.theme = %+v", s)
			}
			return
		}
	}
	t.Error("desktop.theme not listed")
}

func TestMCPTool_SetThenGet(t *testing.T) {
	deps, env := newTestMCPDeps(t)

	result, err := mcpSetSetting(deps)(context.Background(), makeCallToolRequest("set_setting", map[string]interface{}{
		"path":  "locale.format.timestamp",
		"value": "hh:mm a",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	sc, err := env.store.GetScope(context.Background(), "deskconf/locale")
	if err != nil {
		t.Fatalf("GetScope: %v", err)
	}
	if got := tree.Resolve(sc.Document, "format.timestamp", nil); got != "hh:mm a" {
		t.Errorf("stored timestamp = %v", got)
	}

	result, err = mcpGetSetting(deps)(context.Background(), makeCallToolRequest("get_setting", map[string]interface{}{
		"path": "locale.format.timestamp",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v ValueView
	if err := json.Unmarshal([]byte(toolText(t, result)), &v); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if v.Value != "hh:mm a" || v.Source != "settings" {
		t.Errorf("value = %+v", v)
	}
}

func TestMCPTool_SetSetting_RejectsInvalidChoice(t *testing.T) {
	deps, env := newTestMCPDeps(t)

	result, err := mcpSetSetting(deps)(context.Background(), makeCallToolRequest("set_setting", map[string]interface{}{
		"path":  "locale.language",
		"value": "xx_XX",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected tool error, got %s", toolText(t, result))
	}
	if _, err := env.store.GetScope(context.Background(), "deskconf/locale"); err == nil {
		t.Error("invalid choice was saved")
	}
}

func TestMCPTool_SetSetting_RejectsUnsavedPath(t *testing.T) {
	deps, env := newTestMCPDeps(t)
	ctx := context.Background()

	for _, path := range []string{"panels.position", "desktop..theme"} {
		result, err := mcpSetSetting(deps)(ctx, makeCallToolRequest("set_setting", map[string]interface{}{
			"path":  path,
			"value": "top",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("%s: expected tool error, got %s", path, toolText(t, result))
		}
	}

	revs, err := env.store.ListHistory(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(revs) != 0 {
		t.Errorf("rejected writes saved %d revisions", len(revs))
	}
}

func TestMCPTool_MissingArguments(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	tests := []struct {
		name string
		call func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args map[string]interface{}
	}{
		{"get_setting", mcpGetSetting(deps), nil},
		{"set_setting", mcpSetSetting(deps), map[string]interface{}{"path": "desktop.theme"}},
		{"list_choices", mcpListChoices(deps), nil},
	}
	for _, tt := range tests {
		result, err := tt.call(context.Background(), makeCallToolRequest(tt.name, tt.args))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if !result.IsError {
			t.Errorf("%s: expected tool error", tt.name)
		}
	}
}

func TestMCPTool_ListChoices(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpListChoices(deps)(context.Background(), makeCallToolRequest("list_choices", map[string]interface{}{
		"path": "desktop.sounds",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var choices []schema.Choice
	if err := json.Unmarshal([]byte(toolText(t, result)), &choices); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(choices) != 2 || choices[0].Label != "None" || choices[1].Value != "FreedesktopSounds" {
		t.Errorf("choices = %+v", choices)
	}

	result, _ = mcpListChoices(deps)(context.Background(), makeCallToolRequest("list_choices", map[string]interface{}{
		"path": "desktop.unknown",
	}))
	if !result.IsError {
		t.Error("expected error for unknown path")
	}
}

func TestMCPResource_Schema(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	contents, err := mcpResourceSchema(deps)(context.Background(), makeReadResourceRequest("settings://schema"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "settings://schema" || !strings.Contains(tc.Text, `"desktop.background.src"`) {
		t.Errorf("contents = %+v", tc)
	}
}

func TestMCPResource_Current(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if err := deps.Sessions.SetValue(context.Background(), "desktop.icons", "GnomeIcons"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	contents, err := mcpResourceCurrent(deps)(context.Background(), makeReadResourceRequest("settings://current"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)

	var view SettingsView
	if err := json.Unmarshal([]byte(tc.Text), &view); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got := tree.Resolve(view.Settings, "desktop.icons", nil); got != "GnomeIcons" {
		t.Errorf("settings = %v", view.Settings)
	}
	if got := tree.Resolve(view.Defaults, "locale.language", nil); got != "en_EN" {
		t.Errorf("defaults = %v", view.Defaults)
	}
}

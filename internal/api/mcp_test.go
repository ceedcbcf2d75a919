package api

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
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

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	app, _ := newTestDeps(t)
	return MCPDeps{Memory: app.Memory, Profile: app.Profile}
}

func TestMCPAddDialogueUnit(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAddDialogueUnit(deps)

	result, err := handler(context.Background(), makeCallToolRequest("add_dialogue_unit", map[string]any{
		"prompt":   "what's the weather like",
		"response": "sunny and mild",
		"intent":   "question",
		"topics":   []string{"weather"},
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("result error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "Recorded dialogue unit") {
		t.Errorf("text = %s", toolText(t, result))
	}

	// Missing required argument comes back as a tool error, not a Go error.
	result, err = handler(context.Background(), makeCallToolRequest("add_dialogue_unit", map[string]any{
		"response": "orphan response",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !result.IsError {
		t.Error("missing prompt should produce a tool error")
	}
}

func TestMCPFindDialogueUnits(t *testing.T) {
	deps := newTestMCPDeps(t)
	if _, err := deps.Memory.AddDialogueUnit("a question", "an answer", "question", nil, nil); err != nil {
		t.Fatal(err)
	}

	handler := mcpFindDialogueUnits(deps)
	result, err := handler(context.Background(), makeCallToolRequest("find_dialogue_units", map[string]any{
		"intent": "question",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("result error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "dialogue_unit_ids") {
		t.Errorf("text = %s", toolText(t, result))
	}

	result, err = handler(context.Background(), makeCallToolRequest("find_dialogue_units", map[string]any{
		"limit": 11,
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !result.IsError {
		t.Error("limit 11 should produce a tool error")
	}
}

func TestMCPGetDiscussion(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpGetDiscussion(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_discussion", map[string]any{
		"discussion_id": "current",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("result error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "discussion_id") {
		t.Errorf("text = %s", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("get_discussion", map[string]any{
		"discussion_id": "999",
	}))
	if !result.IsError {
		t.Error("missing discussion should produce a tool error")
	}
}

func TestMCPCategoryTools(t *testing.T) {
	deps := newTestMCPDeps(t)

	assign := mcpAssignCategory(deps)
	result, err := assign(context.Background(), makeCallToolRequest("assign_category", map[string]any{
		"discussion_id": "current",
		"name":          "small talk",
		"score":         0.8,
	}))
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if result.IsError {
		t.Fatalf("assign error: %s", toolText(t, result))
	}

	remove := mcpRemoveCategory(deps)
	result, err = remove(context.Background(), makeCallToolRequest("remove_category", map[string]any{
		"discussion_id": "current",
		"name":          "small talk",
	}))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if result.IsError {
		t.Fatalf("remove error: %s", toolText(t, result))
	}

	result, _ = remove(context.Background(), makeCallToolRequest("remove_category", map[string]any{
		"discussion_id": "current",
		"name":          "small talk",
	}))
	if !result.IsError {
		t.Error("removing a removed category should produce a tool error")
	}
}

func TestMCPGetStatistics(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpGetStatistics(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_statistics", map[string]any{
		"type":   "count",
		"entity": "dialogue_unit_id",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("result error: %s", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("get_statistics", map[string]any{
		"type":   "median",
		"entity": "cost",
	}))
	if !result.IsError {
		t.Error("invalid aggregation type should produce a tool error")
	}
}

func TestMCPProfileResource(t *testing.T) {
	deps := newTestMCPDeps(t)
	if err := deps.Profile.Set("identity.name", "Ada"); err != nil {
		t.Fatal(err)
	}

	handler := mcpResourceProfile(deps)
	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "memory://profile"},
	})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d items", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if !strings.Contains(text.Text, "Ada") {
		t.Errorf("profile JSON = %s", text.Text)
	}
}

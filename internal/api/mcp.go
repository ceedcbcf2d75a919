package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chatmem/chatmem/internal/memory"
	"github.com/chatmem/chatmem/internal/profile"
	"github.com/chatmem/chatmem/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Memory  *memory.Store
	Profile *profile.Manager
}

// NewMCPServer creates an MCP server with the chatmem tools and resources
// registered. Tool failures come back as textual MCP errors so a model
// can read them and retry with fixed arguments.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"chatmem",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("chatmem: long-term discussion memory. Store dialogue exchanges, search them by filters or meaning, and track discussion metadata."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("add_dialogue_unit",
			mcp.WithDescription("Record one prompt/response exchange in the current discussion."),
			mcp.WithString("prompt", mcp.Description("The user's utterance"), mcp.Required()),
			mcp.WithString("response", mcp.Description("The assistant's reply"), mcp.Required()),
			mcp.WithString("intent", mcp.Description("Classified intent of the prompt, e.g. question")),
			mcp.WithArray("topics", mcp.Description("Topic labels for the exchange")),
			mcp.WithNumber("positive_sentiment", mcp.Description("Positive sentiment score in [0, 1]")),
			mcp.WithNumber("negative_sentiment", mcp.Description("Negative sentiment score in [0, 1]")),
		),
		mcpAddDialogueUnit(deps),
	)

	s.AddTool(
		mcp.NewTool("find_discussions",
			mcp.WithDescription("Find discussion ids by title, featured flag, category, or cost."),
			mcp.WithString("title", mcp.Description("Substring of the discussion title")),
			mcp.WithBoolean("featured", mcp.Description("Only featured (true) or unfeatured (false) discussions")),
			mcp.WithString("category", mcp.Description("Category name the discussion must carry")),
			mcp.WithString("category_score", mcp.Description("Category score condition, e.g. \">= 0.7\"")),
			mcp.WithString("cost", mcp.Description("Cost condition, e.g. \"< 0.5\"")),
			mcp.WithString("order_by", mcp.Description("Sort field: title, starttime, endtime, featured, or cost")),
			mcp.WithString("order", mcp.Description("ASC or DESC (default DESC)")),
			mcp.WithNumber("limit", mcp.Description("Results per page, max 10 (default 5)")),
			mcp.WithNumber("page", mcp.Description("Zero-based page number")),
		),
		mcpFindDiscussions(deps),
	)

	s.AddTool(
		mcp.NewTool("find_dialogue_units",
			mcp.WithDescription("Find dialogue unit ids by filters, optionally ranked against a search phrase. With a phrase, filters restrict the semantic results and distances are returned."),
			mcp.WithString("phrase", mcp.Description("Free-text phrase for semantic search")),
			mcp.WithString("topic", mcp.Description("Substring of a topic label")),
			mcp.WithString("intent", mcp.Description("Exact intent")),
			mcp.WithString("prompt", mcp.Description("Substring of the prompt")),
			mcp.WithString("response", mcp.Description("Substring of the response")),
			mcp.WithString("discussion_id", mcp.Description("Discussion id or keyword (current, latest, first, featured, random)")),
			mcp.WithString("positive_sentiment", mcp.Description("Positive sentiment condition, e.g. \"> 0.5\"")),
			mcp.WithString("negative_sentiment", mcp.Description("Negative sentiment condition")),
			mcp.WithString("after", mcp.Description("Only units at or after this RFC 3339 timestamp")),
			mcp.WithString("before", mcp.Description("Only units at or before this RFC 3339 timestamp")),
			mcp.WithString("order_by", mcp.Description("Sort field: timestamp, intent, prompt, response, or topic")),
			mcp.WithString("order", mcp.Description("ASC or DESC (default DESC)")),
			mcp.WithNumber("limit", mcp.Description("Results per page, max 10 (default 5)")),
			mcp.WithNumber("page", mcp.Description("Zero-based page number")),
		),
		mcpFindDialogueUnits(deps),
	)

	s.AddTool(
		mcp.NewTool("get_discussion",
			mcp.WithDescription("Fetch one discussion with its categories and unit count."),
			mcp.WithString("discussion_id", mcp.Description("Discussion id or keyword (current, latest, first, featured, random)"), mcp.Required()),
		),
		mcpGetDiscussion(deps),
	)

	s.AddTool(
		mcp.NewTool("get_dialogue_unit",
			mcp.WithDescription("Fetch one dialogue unit with its topics, sentiment, and discussion."),
			mcp.WithNumber("dialogue_unit_id", mcp.Description("Numeric dialogue unit id"), mcp.Required()),
		),
		mcpGetDialogueUnit(deps),
	)

	s.AddTool(
		mcp.NewTool("modify_discussion",
			mcp.WithDescription("Change the title and/or featured flag of a discussion."),
			mcp.WithString("discussion_id", mcp.Description("Discussion id or keyword"), mcp.Required()),
			mcp.WithString("title", mcp.Description("New title; empty string clears it")),
			mcp.WithBoolean("featured", mcp.Description("New featured flag")),
		),
		mcpModifyDiscussion(deps),
	)

	s.AddTool(
		mcp.NewTool("assign_category",
			mcp.WithDescription("Attach a scored category to a discussion. Re-assigning an existing name updates its score."),
			mcp.WithString("discussion_id", mcp.Description("Discussion id or keyword"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Category name"), mcp.Required()),
			mcp.WithNumber("score", mcp.Description("Relevance score in [0, 1]"), mcp.Required()),
		),
		mcpAssignCategory(deps),
	)

	s.AddTool(
		mcp.NewTool("remove_category",
			mcp.WithDescription("Detach a category from a discussion by name."),
			mcp.WithString("discussion_id", mcp.Description("Discussion id or keyword"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Category name"), mcp.Required()),
		),
		mcpRemoveCategory(deps),
	)

	s.AddTool(
		mcp.NewTool("update_cost",
			mcp.WithDescription("Overwrite the accumulated LLM cost of the current discussion."),
			mcp.WithNumber("cost", mcp.Description("Total cost so far, in dollars"), mcp.Required()),
		),
		mcpUpdateCost(deps),
	)

	s.AddTool(
		mcp.NewTool("get_statistics",
			mcp.WithDescription("Compute an aggregate over stored dialogue units. Types: count, average, sum, minimum, maximum. Dimensions: topic, intent, timestamp, sentiment, category, cost, discussion_id, dialogue_unit_id."),
			mcp.WithString("type", mcp.Description("Aggregation type"), mcp.Required()),
			mcp.WithString("entity", mcp.Description("Dimension to aggregate over"), mcp.Required()),
			mcp.WithString("grouping", mcp.Description("Optional dimension to group by")),
			mcp.WithObject("filters", mcp.Description("Optional filters: topic, intent, starttime, endtime, category")),
		),
		mcpGetStatistics(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://profile",
			"User Profile",
			mcp.WithResourceDescription("Current user profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpAddDialogueUnit(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		response, err := req.RequireString("response")
		if err != nil {
			return mcpError("response is required"), nil
		}

		intent := req.GetString("intent", "")
		topics := req.GetStringSlice("topics", nil)

		var sentiment *storage.Sentiment
		pos := req.GetFloat("positive_sentiment", 0)
		neg := req.GetFloat("negative_sentiment", 0)
		if pos != 0 || neg != 0 {
			sentiment = &storage.Sentiment{Positive: pos, Negative: neg}
		}

		id, err := deps.Memory.AddDialogueUnit(prompt, response, intent, topics, sentiment)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record dialogue unit: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded dialogue unit %d", id)), nil
	}
}

func mcpFindDiscussions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := memory.DiscussionFilter{
			Title:          req.GetString("title", ""),
			Category:       req.GetString("category", ""),
			CategoryScore:  req.GetString("category_score", ""),
			Cost:           req.GetString("cost", ""),
			OrderBy:        req.GetString("order_by", ""),
			OrderDirection: req.GetString("order", ""),
			Limit:          req.GetInt("limit", 0),
			Page:           req.GetInt("page", 0),
		}
		if args := req.GetArguments(); args != nil {
			if v, ok := args["featured"].(bool); ok {
				f.Featured = &v
			}
		}

		ids, err := deps.Memory.FindDiscussions(f)
		if err != nil {
			return mcpError(fmt.Sprintf("find failed: %v", err)), nil
		}
		return mcpJSON(map[string]any{"discussion_ids": ids})
	}
}

func mcpFindDialogueUnits(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := memory.UnitFilter{
			Topic:          req.GetString("topic", ""),
			Intent:         req.GetString("intent", ""),
			Prompt:         req.GetString("prompt", ""),
			Response:       req.GetString("response", ""),
			DiscussionID:   req.GetString("discussion_id", ""),
			OrderBy:        req.GetString("order_by", ""),
			OrderDirection: req.GetString("order", ""),
			Limit:          req.GetInt("limit", 0),
			Page:           req.GetInt("page", 0),
		}

		sentiment := map[string]string{}
		if v := req.GetString("positive_sentiment", ""); v != "" {
			sentiment["positive"] = v
		}
		if v := req.GetString("negative_sentiment", ""); v != "" {
			sentiment["negative"] = v
		}
		if len(sentiment) > 0 {
			f.Sentiment = sentiment
		}

		var err error
		if f.After, err = parseTimeParam(req.GetString("after", "")); err != nil {
			return mcpError(fmt.Sprintf("invalid after timestamp: %v", err)), nil
		}
		if f.Before, err = parseTimeParam(req.GetString("before", "")); err != nil {
			return mcpError(fmt.Sprintf("invalid before timestamp: %v", err)), nil
		}

		res, err := deps.Memory.FindDialogueUnits(ctx, f, req.GetString("phrase", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		out := map[string]any{"dialogue_unit_ids": res.IDs}
		if res.Distances != nil {
			out["distances"] = res.Distances
		}
		return mcpJSON(out)
	}
}

func mcpGetDiscussion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref, err := req.RequireString("discussion_id")
		if err != nil {
			return mcpError("discussion_id is required"), nil
		}
		v, err := deps.Memory.DiscussionByID(ref)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to fetch discussion: %v", err)), nil
		}
		return mcpJSON(v)
	}
}

func mcpGetDialogueUnit(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("dialogue_unit_id")
		if err != nil {
			return mcpError("dialogue_unit_id is required and must be numeric"), nil
		}
		v, err := deps.Memory.DialogueUnitByID(int64(id))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to fetch dialogue unit: %v", err)), nil
		}
		return mcpJSON(v)
	}
}

func mcpModifyDiscussion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref, err := req.RequireString("discussion_id")
		if err != nil {
			return mcpError("discussion_id is required"), nil
		}

		var title *string
		var featured *bool
		if args := req.GetArguments(); args != nil {
			if v, ok := args["title"].(string); ok {
				title = &v
			}
			if v, ok := args["featured"].(bool); ok {
				featured = &v
			}
		}

		if err := deps.Memory.ModifyDiscussion(ref, title, featured); err != nil {
			return mcpError(fmt.Sprintf("failed to modify discussion: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Updated discussion %s", ref)), nil
	}
}

func mcpAssignCategory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref, err := req.RequireString("discussion_id")
		if err != nil {
			return mcpError("discussion_id is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		score, err := req.RequireFloat("score")
		if err != nil {
			return mcpError("score is required and must be numeric"), nil
		}

		if err := deps.Memory.AssignCategory(ref, name, score); err != nil {
			return mcpError(fmt.Sprintf("failed to assign category: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Assigned category %q to discussion %s", name, ref)), nil
	}
}

func mcpRemoveCategory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref, err := req.RequireString("discussion_id")
		if err != nil {
			return mcpError("discussion_id is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		if err := deps.Memory.RemoveCategory(ref, name); err != nil {
			return mcpError(fmt.Sprintf("failed to remove category: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Removed category %q from discussion %s", name, ref)), nil
	}
}

func mcpUpdateCost(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cost, err := req.RequireFloat("cost")
		if err != nil {
			return mcpError("cost is required and must be numeric"), nil
		}
		if err := deps.Memory.UpdateCurrentCost(cost); err != nil {
			return mcpError(fmt.Sprintf("failed to update cost: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Updated discussion cost to %.4f", cost)), nil
	}
}

func mcpGetStatistics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		typ, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}
		entity, err := req.RequireString("entity")
		if err != nil {
			return mcpError("entity is required"), nil
		}

		filters := map[string]string{}
		if args := req.GetArguments(); args != nil {
			if raw, ok := args["filters"].(map[string]any); ok {
				for k, v := range raw {
					filters[k] = fmt.Sprint(v)
				}
			}
		}

		rows, err := deps.Memory.Statistics(memory.StatsParams{
			Type:     typ,
			Entity:   entity,
			Grouping: req.GetString("grouping", ""),
			Filters:  filters,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("statistics failed: %v", err)), nil
		}
		if rows == nil {
			rows = []memory.StatRow{}
		}
		return mcpJSON(rows)
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Profile.Get()
		if err != nil {
			return nil, fmt.Errorf("loading profile: %w", err)
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding profile: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kovalev/memoria/internal/jobs"
	"github.com/kovalev/memoria/internal/provider"
	"github.com/kovalev/memoria/internal/search"
	"github.com/kovalev/memoria/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Engine   Searcher
	Queue    *jobs.Queue
	Registry *provider.Registry
}

// NewMCPServer creates an MCP server with all memoria tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"memoria",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("memoria — personal memory store with hybrid semantic and keyword search."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("add_to_memory",
			mcp.WithDescription("Store a memory for later retrieval. Embedding generation is queued asynchronously."),
			mcp.WithString("content", mcp.Description("The text content to remember"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Title for the memory")),
			mcp.WithString("project", mcp.Description("Project name for grouping")),
			mcp.WithArray("tags", mcp.Description("Optional tags for categorization")),
		),
		mcpAddToMemory(deps),
	)

	s.AddTool(
		mcp.NewTool("search_memory",
			mcp.WithDescription("Search memories combining semantic similarity and keyword relevance."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
			mcp.WithBoolean("semantic", mcp.Description("Use semantic similarity (default true)")),
		),
		mcpSearchMemory(deps),
	)

	s.AddTool(
		mcp.NewTool("fetch_memory",
			mcp.WithDescription("Fetch a single memory by id."),
			mcp.WithString("id", mcp.Description("Memory id"), mcp.Required()),
		),
		mcpFetchMemory(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_status",
			mcp.WithDescription("Report embedding job counts and per-provider health."),
		),
		mcpMemoryStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("configure_provider",
			mcp.WithDescription("Switch the default embedding provider for this session."),
			mcp.WithString("provider", mcp.Description("Provider name (e.g. openai, cloudflare, cohere)"), mcp.Required()),
		),
		mcpConfigureProvider(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memoria://providers/health",
			"Provider Health",
			mcp.WithResourceDescription("Current health of all embedding providers as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProviderHealth(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memoria://recent",
			"Recent Memories",
			mcp.WithResourceDescription("Last 10 stored memories"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAddToMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		m := &storage.Memory{
			UserID:      DefaultUserID,
			Content:     content,
			Title:       req.GetString("title", ""),
			ProjectName: req.GetString("project", ""),
			Tags:        req.GetStringSlice("tags", nil),
		}
		if err := deps.Store.SaveMemory(ctx, m); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		if _, err := deps.Queue.Enqueue(ctx, m.ID, ""); err != nil {
			return mcpText(fmt.Sprintf("Stored memory %s (embedding not queued: %v)", m.ID, err)), nil
		}
		return mcpText(fmt.Sprintf("Stored memory %s", m.ID)), nil
	}
}

func mcpSearchMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}
		semantic := req.GetBool("semantic", true)

		res, err := deps.Engine.Search(ctx, DefaultUserID, query, search.Options{
			Limit:              limit,
			UseEmbedding:       semantic,
			UseHybridSearch:    semantic,
			FallbackToDatabase: true,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpFetchMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		m, err := deps.Store.GetMemory(ctx, DefaultUserID, id)
		if err != nil {
			return mcpError(fmt.Sprintf("memory not found: %v", err)), nil
		}

		b, err := json.Marshal(memoryResponse(m))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal memory: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMemoryStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts, err := deps.Store.CountJobsByStatus(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to count jobs: %v", err)), nil
		}
		health, err := deps.Store.ListProviderHealth(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list provider health: %v", err)), nil
		}

		type providerStatus struct {
			Provider     string `json:"provider"`
			Healthy      bool   `json:"healthy"`
			LastCheck    string `json:"last_check,omitempty"`
			ErrorCount   int    `json:"error_count"`
			SuccessCount int    `json:"success_count"`
			LastError    string `json:"last_error,omitempty"`
		}
		providers := make([]providerStatus, len(health))
		for i, h := range health {
			providers[i] = providerStatus{
				Provider:     h.Provider,
				Healthy:      h.IsHealthy,
				ErrorCount:   h.ErrorCount,
				SuccessCount: h.SuccessCount,
				LastError:    h.LastError,
			}
			if !h.LastCheck.IsZero() {
				providers[i].LastCheck = h.LastCheck.Format(time.RFC3339)
			}
		}

		b, err := json.Marshal(map[string]any{
			"jobs": map[string]int{
				"pending":    counts.Pending,
				"processing": counts.Processing,
				"completed":  counts.Completed,
				"failed":     counts.Failed,
			},
			"providers":        providers,
			"default_provider": deps.Registry.DefaultName(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpConfigureProvider(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("provider")
		if err != nil {
			return mcpError("provider is required"), nil
		}
		if err := deps.Registry.SetDefault(name); err != nil {
			return mcpError(fmt.Sprintf("failed to set provider: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Default provider set to %s", name)), nil
	}
}

func mcpResourceProviderHealth(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rows, err := deps.Store.ListProviderHealth(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list provider health: %w", err)
		}
		b, err := json.Marshal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal provider health: %w", err)
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

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		memories, err := deps.Store.ListRecentMemories(ctx, DefaultUserID, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list memories: %w", err)
		}
		out := make([]MemoryResponse, 0, len(memories))
		for _, m := range memories {
			out = append(out, memoryResponse(m))
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal memories: %w", err)
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

package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sagekb/sage/internal/assistant"
	"github.com/sagekb/sage/internal/ingest"
	"github.com/sagekb/sage/internal/parser"
	"github.com/sagekb/sage/internal/rag"
)

// MCPDeps holds dependencies for the MCP server. Search carries the
// configured retrieval defaults.
type MCPDeps struct {
	Assistant *assistant.Assistant
	Pipeline  *ingest.Pipeline
	Search    rag.SearchOptions
}

// NewMCPServer creates an MCP server exposing the assistant as tools, so
// agent hosts can query and feed the knowledge base directly.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sage",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("sage — sector-scoped knowledge base with retrieval-augmented answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the knowledge base a question. Answers are grounded in ingested documents and keep per-user conversation context."),
			mcp.WithString("user_id", mcp.Description("Caller's user id"), mcp.Required()),
			mcp.WithString("sector_id", mcp.Description("Sector (tenant) to query"), mcp.Required()),
			mcp.WithString("query", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Continue a specific conversation (optional)")),
			mcp.WithNumber("max_results", mcp.Description("Maximum retrieved fragments (default 5)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Ingest a text or markdown document into the knowledge base."),
			mcp.WithString("sector_id", mcp.Description("Sector (tenant) the document belongs to"), mcp.Required()),
			mcp.WithString("content", mcp.Description("The document text"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Title for the document")),
			mcp.WithString("format", mcp.Description("One of: text, markdown (default text)")),
		),
		mcpAddDocument(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		sectorID, err := req.RequireString("sector_id")
		if err != nil {
			return mcpError("sector_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		opts := rag.SearchOptions{
			MaxResults:    req.GetInt("max_results", deps.Search.MaxResults),
			MinSimilarity: deps.Search.MinSimilarity,
		}
		uc := assistant.UserContext{UserID: userID, SectorID: sectorID}

		out, err := deps.Assistant.Execute(ctx, uc, query, req.GetString("conversation_id", ""), opts)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		type askResult struct {
			ConversationID string   `json:"conversation_id"`
			Response       string   `json:"response"`
			Type           string   `json:"type"`
			SourceIDs      []string `json:"source_ids,omitempty"`
		}
		result := askResult{
			ConversationID: out.ConversationID,
			Response:       out.Response,
			Type:           string(out.Type),
		}
		for _, s := range out.Sources {
			result.SourceIDs = append(result.SourceIDs, s.FragmentID)
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sectorID, err := req.RequireString("sector_id")
		if err != nil {
			return mcpError("sector_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		format := parser.Format(req.GetString("format", string(parser.FormatText)))
		title := req.GetString("title", "untitled")

		result := deps.Pipeline.IngestOne(ctx, ingest.Document{
			Title:    title,
			SectorID: sectorID,
			Format:   format,
			Data:     []byte(content),
		})
		if result.Err != nil {
			return mcpError(fmt.Sprintf("ingestion failed: %v", result.Err)), nil
		}

		return mcpText(fmt.Sprintf("Ingested document %s (%d chunks)", result.DocumentID, result.ChunkCount)), nil
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

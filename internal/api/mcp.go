package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
	"github.com/brevia-ai/brevia-sync/internal/importer"
)

// MCPStore is the mirror-store surface the MCP tools read.
type MCPStore interface {
	ListCollections() ([]catalog.Collection, error)
	GetDocument(id string) (catalog.Document, error)
}

// Reindexer runs a full collection reindex.
type Reindexer interface {
	Reindex(ctx context.Context, collectionName string, opts importer.ReindexOptions) (importer.ReindexResult, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     MCPStore
	Reindexer Reindexer
}

// NewMCPServer creates an MCP server exposing the operational tools of
// the sync engine.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"brevia-sync",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("brevia-sync — synchronizes CMS content into Brevia vector index collections."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_collections",
			mcp.WithDescription("List the mirrored collections with their remote sync state."),
		),
		mcpListCollections(deps),
	)

	s.AddTool(
		mcp.NewTool("document_status",
			mcp.WithDescription("Show the index sync status of a document."),
			mcp.WithString("id", mcp.Description("Document id"), mcp.Required()),
		),
		mcpDocumentStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("reindex_collection",
			mcp.WithDescription("Re-push every document of a collection into the vector index."),
			mcp.WithString("collection", mcp.Description("Unique collection name"), mcp.Required()),
			mcp.WithNumber("concurrency", mcp.Description("Parallel index calls (default 4)")),
		),
		mcpReindexCollection(deps),
	)

	return s
}

func mcpListCollections(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		collections, err := deps.Store.ListCollections()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list collections: %v", err)), nil
		}

		type collectionResult struct {
			ID        string     `json:"id"`
			Name      string     `json:"name"`
			Title     string     `json:"title,omitempty"`
			UUID      string     `json:"collection_uuid,omitempty"`
			Synced    bool       `json:"synced"`
			UpdatedAt *time.Time `json:"collection_updated,omitempty"`
		}
		results := make([]collectionResult, len(collections))
		for i, c := range collections {
			results[i] = collectionResult{
				ID:        c.ID,
				Name:      c.Name,
				Title:     c.Title,
				UUID:      c.CollectionUUID,
				Synced:    c.CollectionUUID != "",
				UpdatedAt: c.CollectionUpdated,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDocumentStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, catalog.ErrNotFound) {
			return mcpError(fmt.Sprintf("document not found: %s", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load document: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"id":            doc.ID,
			"type":          doc.Kind,
			"title":         doc.Title,
			"status":        doc.Status,
			"deleted":       doc.Deleted,
			"index_status":  doc.IndexStatus,
			"index_updated": doc.IndexUpdated,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReindexCollection(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("collection")
		if err != nil {
			return mcpError("collection is required"), nil
		}
		concurrency := req.GetInt("concurrency", 0)

		res, err := deps.Reindexer.Reindex(ctx, name, importer.ReindexOptions{Concurrency: concurrency})
		if err != nil {
			return mcpError(fmt.Sprintf("reindex failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Reindexed %d documents, %d failed", res.Indexed, res.Failed)), nil
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

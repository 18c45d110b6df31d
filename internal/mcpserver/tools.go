// Package mcpserver registers MCP tools that expose the document index.
// It adapts Docs to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterTools adds all document tools to the given MCP server.
func RegisterTools(server *mcp.Server, d *Docs) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "docs_list",
		Description: "List every markdown document being previewed, sorted by path, with title and tags from front matter. Optionally restrict to a folder.",
	}, listHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "docs_read",
		Description: "Read a document. format=html (default) returns the rendered HTML exactly as served; format=markdown returns the source with optional line-range pagination (1-indexed, auto-truncated at 200 lines).",
	}, readHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "docs_search",
		Description: "Case-insensitive search across document paths, front matter tags and markdown source. Returns one match per document with a context snippet and line number.",
	}, searchHandler(d))
}

// ListInput holds parameters for docs_list.
type ListInput struct {
	Prefix string `json:"prefix,omitempty" jsonschema:"folder path relative to the root, defaults to everything"`
}

// ReadInput holds parameters for docs_read.
type ReadInput struct {
	Path   string `json:"path" jsonschema:"document path relative to the root, as returned by docs_list"`
	Format string `json:"format,omitempty" jsonschema:"html or markdown, defaults to html"`
	Offset int    `json:"offset,omitempty" jsonschema:"markdown only: start line (1-indexed), defaults to 1"`
	Limit  int    `json:"limit,omitempty" jsonschema:"markdown only: number of lines to return, 0 means all remaining"`
}

// SearchInput holds parameters for docs_search.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of results, defaults to 20"`
}

func listHandler(d *Docs) mcp.ToolHandlerFor[ListInput, *ListResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, *ListResult, error) {
		result := d.List(input.Prefix)
		return textResult(result), result, nil
	}
}

func readHandler(d *Docs) mcp.ToolHandlerFor[ReadInput, *ReadResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ReadInput) (*mcp.CallToolResult, *ReadResult, error) {
		result, err := d.Read(input.Path, input.Format, input.Offset, input.Limit)
		if err != nil {
			return nil, nil, err
		}

		return textResult(result), result, nil
	}
}

func searchHandler(d *Docs) mcp.ToolHandlerFor[SearchInput, *SearchResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, *SearchResult, error) {
		result, err := d.Search(input.Query, input.MaxResults)
		if err != nil {
			return nil, nil, err
		}

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes catalog tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/marcom/internal/apperr"
	"github.com/starford/marcom/internal/catalog"
	"github.com/starford/marcom/internal/query"
)

const syntaxURI = "marcom://query-syntax"

// Server wraps the MCP server with catalog tools.
type Server struct {
	mcp *server.MCPServer
	svc *catalog.Service
}

// New creates a new MCP server with all catalog tools registered.
func New(svc *catalog.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Marcom",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_components",
		mcp.WithDescription("Find content components by property filters and a boolean tag expression. "+
			"Read the syntax first via get_query_syntax or the "+syntaxURI+" resource."),
		mcp.WithString("domain", mcp.Description("Comma-separated domain values (any may match)")),
		mcp.WithString("about", mcp.Description("Comma-separated about values (any may match)")),
		mcp.WithString("context", mcp.Description("Comma-separated context values (any may match)")),
		mcp.WithString("size", mcp.Description("Size bucket"), mcp.Enum("bullet", "summary", "description", "overview")),
		mcp.WithString("criteria", mcp.Description("Tag expression, e.g. 'acme' & ('cloud' | 'edge')")),
		mcp.WithBoolean("unique", mcp.Description("Return each component once")),
	), s.searchComponents)

	s.mcp.AddTool(mcp.NewTool("get_component",
		mcp.WithDescription("Read a component's content, properties and linked tags."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Component key (SHA-256 of its content)")),
	), s.getComponent)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List every registered tag."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("property_values",
		mcp.WithDescription("List the distinct stored values of a filterable property."),
		mcp.WithString("field", mcp.Required(), mcp.Enum(query.Fields()...)),
	), s.propertyValues)

	s.mcp.AddTool(mcp.NewTool("ingest_component",
		mcp.WithDescription("Add a component from a source reference (URL, Google Drive link or content-root path) "+
			"or from inline text. Identical content updates the existing component's properties."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Component name")),
		mcp.WithString("source", mcp.Description("Where to fetch the content from")),
		mcp.WithString("content", mcp.Description("Inline content, used when source is empty")),
		mcp.WithString("domain", mcp.Description("Domain property")),
		mcp.WithString("about", mcp.Description("About property")),
		mcp.WithString("context", mcp.Description("Context property")),
		mcp.WithString("comment", mcp.Description("Free-form comment")),
	), s.ingestComponent)

	s.mcp.AddTool(mcp.NewTool("link_component",
		mcp.WithDescription("Extract tag candidates from a component and link the registered ones. Unknown tags are skipped."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Component key")),
	), s.linkComponent)

	s.mcp.AddTool(mcp.NewTool("get_query_syntax",
		mcp.WithDescription("Returns the filter and tag criteria syntax used by search_components."),
	), s.getQuerySyntax)

	s.mcp.AddResource(
		mcp.NewResource(syntaxURI, "Component Query Syntax",
			mcp.WithResourceDescription("Property filters, size buckets and tag criteria grammar."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readQuerySyntax,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *Server) searchComponents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	size, err := query.ParseBucket(req.GetString("size", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c := query.Constraints{
		Domain:  splitList(req.GetString("domain", "")),
		About:   splitList(req.GetString("about", "")),
		Context: splitList(req.GetString("context", "")),
		Size:    size,
	}
	results, err := s.svc.Search(ctx, c, req.GetString("criteria", ""), req.GetBool("unique", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no components found"), nil
	}
	return jsonResult(results)
}

func (s *Server) getComponent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.svc.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError("not found: " + key), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(c)
}

func (s *Server) listTags(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.svc.ListTags(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	if len(names) == 0 {
		return mcp.NewToolResultText("no tags registered"), nil
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) propertyValues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	field, err := req.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	values, err := s.svc.PropertyValues(ctx, field)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strings.Join(values, "\n")), nil
}

func (s *Server) linkComponent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum, err := s.svc.Link(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sum)
}

func (s *Server) getQuerySyntax(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(QuerySyntax), nil
}

func (s *Server) readQuerySyntax(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      syntaxURI,
			MIMEType: "text/markdown",
			Text:     QuerySyntax,
		},
	}, nil
}

// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the leetlab catalog via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/leetlab/internal/demoservice"
	"github.com/starford/leetlab/internal/sandbox"
)

const demoFormatURI = "leetlab://demo-format"

// Server wraps the MCP server with leetlab tools.
type Server struct {
	mcp *server.MCPServer
	svc *demoservice.Service
}

// New creates a new MCP server with all leetlab tools registered.
func New(svc *demoservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"leetlab",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_demos",
		mcp.WithDescription("List demos in catalog order, optionally filtered by a search query and a tag."),
		mcp.WithString("query", mcp.Description("Case-insensitive text matched against title, id and tags")),
		mcp.WithString("tag", mcp.Description("Exact tag to filter by (default \"all\")")),
	), s.listDemos)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List every tag used in the catalog, \"all\" first."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("get_demo",
		mcp.WithDescription("Get a demo's catalog entry together with its HTML view, script and exported functions."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Demo id (folder name)")),
	), s.getDemo)

	s.mcp.AddTool(mcp.NewTool("invoke_demo",
		mcp.WithDescription("Run a closure factory from a demo's algo.js, then call the returned closure "+
			"once per entry of calls. All calls share one runtime, so closure state carries over."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Demo id (folder name)")),
		mcp.WithString("factory", mcp.Required(), mcp.Description("Name of a top-level function in algo.js")),
		mcp.WithArray("args", mcp.Description("Arguments passed to the factory")),
		mcp.WithArray("calls", mcp.Description("One argument list per closure call, e.g. [[], [], []]")),
	), s.invokeDemo)

	s.mcp.AddTool(mcp.NewTool("get_demo_contract",
		mcp.WithDescription("Returns the demo folder format contract. "+
			"Read it before authoring a new demo."),
	), s.getDemoContract)

	s.mcp.AddResource(
		mcp.NewResource(demoFormatURI, "Demo Format Contract",
			mcp.WithResourceDescription("Folder layout and metadata rules every demo follows."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDemoFormatResource,
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

func (s *Server) listDemos(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.ListDemos(ctx, req.GetString("query", ""), req.GetString("tag", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items)
}

func (s *Server) listTags(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Tags(ctx))
}

func (s *Server) getDemo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.GetDemoWithView(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d)
}

func (s *Server) invokeDemo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	factory, err := req.RequireString("factory")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := req.GetArguments()
	in := demoservice.InvokeRequest{Factory: factory}
	if raw, ok := args["args"].([]any); ok {
		in.Args = raw
	}
	if raw, ok := args["calls"].([]any); ok {
		for i, c := range raw {
			callArgs, ok := c.([]any)
			if !ok && c != nil {
				return mcp.NewToolResultError(fmt.Sprintf("calls[%d] must be an array of arguments", i)), nil
			}
			in.Calls = append(in.Calls, sandbox.Call{Args: callArgs})
		}
	}

	res, err := s.svc.Invoke(ctx, id, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) getDemoContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DemoFormatContract), nil
}

func (s *Server) readDemoFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      demoFormatURI,
			MIMEType: "text/markdown",
			Text:     DemoFormatContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

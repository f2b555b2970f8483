// Package mcp provides the travelinfo MCP server, registering the lookup
// tool and publishing model instructions.
package mcp

import (
	_ "embed"

	"github.com/deixis/travelinfo"
	"github.com/deixis/travelinfo/internal/config"
	"github.com/deixis/travelinfo/internal/travel"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	engine *travel.Engine
	opts   config.Options
}

// NewServer creates an MCP server with the travelinfo tools registered.
// Every tool call runs the agent with opts.
func NewServer(engine *travel.Engine, opts config.Options) *mcp.Server {
	h := &handler{engine: engine, opts: opts}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "travelinfo", Version: travelinfo.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "travel_info",
		Description: `Look up current travel information for a traveller: useful apps, SIM/eSIM options,
visa and entry requirements, and pre-travel forms.

Runs a web-research agent (may take a few minutes). The answer is returned only if the
agent cited at least one web source; otherwise the call fails.`,
	}, h.lookupHandler)

	return s
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}

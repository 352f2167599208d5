// Package mcp exposes light and effect control as MCP tools over stdio.
// Every tool call is routed through the dispatcher.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dokzlo13/huefx/internal/dispatch"
)

// Dispatcher handles one request with exactly one response.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Response
}

// Server wraps the MCP server.
type Server struct {
	mcpServer  *server.MCPServer
	dispatcher Dispatcher
	handlers   map[string]server.ToolHandlerFunc
}

// NewServer creates a new MCP server.
func NewServer(d Dispatcher, version string) *Server {
	s := &Server{dispatcher: d, handlers: make(map[string]server.ToolHandlerFunc)}

	s.mcpServer = server.NewMCPServer(
		"huefx",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

// ServeStdio serves MCP over stdin/stdout until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

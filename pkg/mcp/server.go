// Package mcp exposes broker tools to MCP clients over stdio or streamable
// HTTP. Every call goes through the broker, so permissions, cache and retry
// apply exactly as they do inside the pipeline.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/governance"
)

// Caller executes a broker tool on behalf of an agent.
type Caller interface {
	Call(ctx context.Context, tool, agent string, args core.Args) (core.Result, error)
}

// ToolSpec describes a tool to MCP clients.
type ToolSpec struct {
	Name        string
	Description string
	Options     []mcp.ToolOption
}

// Server wraps the mcp-go server and forwards tool calls to a broker.
type Server struct {
	mcpServer *server.MCPServer
	caller    Caller
	agent     string
	filter    *governance.ToolFilter
	logger    *slog.Logger
	exposed   []string
}

// Option configures a Server.
type Option func(*Server)

// WithAgentName sets the agent name used for broker permission checks.
func WithAgentName(name string) Option {
	return func(s *Server) { s.agent = name }
}

// WithToolFilter limits which tools are exposed.
func WithToolFilter(f *governance.ToolFilter) Option {
	return func(s *Server) { s.filter = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new MCP server backed by caller.
func NewServer(name, version string, caller Caller, opts ...Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		caller:    caller,
		filter:    governance.NewToolFilter(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Expose registers every spec the filter allows and returns the exposed
// names.
func (s *Server) Expose(ctx context.Context, specs ...ToolSpec) []string {
	for _, spec := range specs {
		if d := s.filter.IsAllowed(ctx, spec.Name); !d.IsAllowed() {
			s.logger.Debug("mcp tool hidden", "tool", spec.Name, "reason", d.Reason)
			continue
		}
		opts := append([]mcp.ToolOption{mcp.WithDescription(spec.Description)}, spec.Options...)
		s.mcpServer.AddTool(mcp.NewTool(spec.Name, opts...), s.handler(spec.Name))
		s.exposed = append(s.exposed, spec.Name)
	}
	sort.Strings(s.exposed)
	return append([]string(nil), s.exposed...)
}

// Tools returns the exposed tool names.
func (s *Server) Tools() []string { return append([]string(nil), s.exposed...) }

func (s *Server) handler(tool string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		ctx, requestID := core.EnsureRequestID(ctx)
		res, err := s.caller.Call(ctx, tool, s.agent, core.Args(args))
		if err != nil {
			e := errors.As(err)
			s.logger.WarnContext(ctx, "mcp tool call failed",
				"tool", tool, "code", string(e.Code), "request_id", requestID)
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{mcp.TextContent{Type: "text", Text: e.Error()}},
			}, nil
		}
		return toolResult(res)
	}
}

// toolResult returns the result as structured content with a JSON text
// fallback for clients that only read text.
func toolResult(res core.Result) (*mcp.CallToolResult, error) {
	text, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.TextContent{Type: "text", Text: string(text)}},
		StructuredContent: map[string]any(res),
	}, nil
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeStreamableHTTP serves MCP over streamable HTTP on addr.
func (s *Server) ServeStreamableHTTP(addr string) error {
	return server.NewStreamableHTTPServer(s.mcpServer).Start(addr)
}

// Package mcp exposes the memory dispatcher as a Model Context Protocol
// server over stdio, so IDE agents can search and update memory.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jholhewres/clawmem/pkg/clawmem/copilot"
)

// Server wraps an MCP server whose tools delegate to a memory tool executor.
type Server struct {
	mcp      *mcpserver.MCPServer
	executor *copilot.ToolExecutor
	logger   *slog.Logger
}

// New creates a server named name that dispatches through executor.
// The executor must have the memory tool registered.
func New(name, version string, executor *copilot.ToolExecutor, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !executor.HasTool(copilot.MemoryToolName) {
		return nil, fmt.Errorf("executor has no %q tool", copilot.MemoryToolName)
	}

	s := &Server{
		mcp:      mcpserver.NewMCPServer(name, version, mcpserver.WithToolCapabilities(false)),
		executor: executor,
		logger:   logger.With("component", "mcp"),
	}
	for _, spec := range toolSpecs() {
		s.mcp.AddTool(spec.tool, s.handler(spec))
	}
	return s, nil
}

// ServeStdio serves JSON-RPC on stdin/stdout until ctx is cancelled or
// stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves JSON-RPC on the given streams.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("MCP server listening on stdio", "tools", len(toolSpecs()))
	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// handler maps an MCP tool call onto a memory dispatcher action. Only the
// tool's declared arguments are forwarded.
func (s *Server) handler(spec toolSpec) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in := req.GetArguments()
		args := map[string]any{"action": spec.action}
		for _, key := range spec.required {
			v, err := req.RequireString(key)
			if err != nil || v == "" {
				return mcp.NewToolResultError(fmt.Sprintf("missing required parameter: %s", key)), nil
			}
			args[key] = v
		}
		for _, key := range spec.optional {
			if v, ok := in[key]; ok && v != nil {
				args[key] = v
			}
		}

		out, err := s.executor.Call(ctx, copilot.MemoryToolName, args)
		if err != nil {
			s.logger.Warn("tool call failed", "tool", spec.tool.Name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

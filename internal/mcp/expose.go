package mcp

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"toolcal/internal/logger"
	"toolcal/internal/tool"
)

// NewToolServer publishes every registered tool as an MCP tool. Calls go
// through invoker, so argument checks, hooks and failure values behave as
// they do inside a conversation; a failure comes back as an error result.
func NewToolServer(invoker *tool.Invoker, log *logger.Logger) *mcp.Server {
	if log == nil {
		log = logger.Discard()
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    implementationName,
		Version: Version,
	}, nil)

	var seq atomic.Uint64
	for _, entry := range invoker.Registry().List() {
		spec := entry.Spec
		server.AddTool(&mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.Schema(),
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			call := tool.Call{
				ID:        fmt.Sprintf("mcp-%d", seq.Add(1)),
				Name:      spec.Name,
				Arguments: req.Params.Arguments,
			}
			result := invoker.Invoke(ctx, call)
			if !result.OK() {
				log.Warn("MCP call %s (%s): %s", call.Name, call.ID, result.Failure.Message)
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: result.Content()}},
				IsError: !result.OK(),
			}, nil
		})
		log.Debug("MCP tool exposed: %s", spec.Name)
	}

	return server
}

// ServeStdio runs server on stdin/stdout until the client disconnects or ctx
// is done. Nothing else may write to stdout meanwhile.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server: %w", err)
	}
	return nil
}

package mcp

import (
	"context"
	"fmt"

	"toolcal/internal/config"
)

// Server is a running external MCP server whose tools are bridged
type Server struct {
	config   config.MCPServerConfig
	client   *Client
	adapters []*Adapter
}

// Dialer connects to the server a config describes
type Dialer func(ctx context.Context, cfg config.MCPServerConfig) (*Client, error)

// DialCommand launches the configured command over stdio. Env values are
// expanded when the process starts.
func DialCommand(ctx context.Context, cfg config.MCPServerConfig) (*Client, error) {
	return NewClient(ctx, cfg.Name, cfg.Command, cfg.Args, cfg.Env)
}

// NewServer connects through dial and wraps every listed tool
func NewServer(ctx context.Context, cfg config.MCPServerConfig, dial Dialer) (*Server, error) {
	client, err := dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	adapters := make([]*Adapter, 0, len(client.Tools()))
	for _, t := range client.Tools() {
		adapters = append(adapters, NewAdapter(client, t))
	}

	return &Server{
		config:   cfg,
		client:   client,
		adapters: adapters,
	}, nil
}

// Name returns the server name
func (s *Server) Name() string {
	return s.config.Name
}

func (s *Server) Adapters() []*Adapter {
	return s.adapters
}

// Close shuts down the server
func (s *Server) Close() error {
	return s.client.Close()
}

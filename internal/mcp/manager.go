package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"toolcal/internal/config"
	"toolcal/internal/logger"
	"toolcal/internal/tool"
)

// Manager coordinates multiple MCP servers
type Manager struct {
	servers  map[string]*Server
	registry *tool.Registry
	log      *logger.Logger
	dial     Dialer
	mu       sync.RWMutex
}

// NewManager bridges server tools into registry
func NewManager(registry *tool.Registry, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		servers:  make(map[string]*Server),
		registry: registry,
		log:      log,
		dial:     DialCommand,
	}
}

// SetDialer replaces how servers are reached
func (m *Manager) SetDialer(d Dialer) {
	m.dial = d
}

// Initialize starts every enabled server concurrently. Failed servers are
// reported in the error; the ones that started stay registered.
func (m *Manager) Initialize(ctx context.Context, cfg config.MCPConfig) error {
	servers := cfg.EnabledServers()
	if len(servers) == 0 {
		return nil
	}

	errs := gather(servers, func(cfg config.MCPServerConfig) error {
		if err := m.startServer(ctx, cfg); err != nil {
			return fmt.Errorf("server %s: %w", cfg.Name, err)
		}
		return nil
	})

	if len(errs) == 0 {
		return nil
	}
	if len(errs) == len(servers) {
		return fmt.Errorf("all MCP servers failed to initialize: %w", errors.Join(errs...))
	}
	return fmt.Errorf("some MCP servers failed (loaded %d/%d): %w",
		len(servers)-len(errs), len(servers), errors.Join(errs...))
}

// startServer connects one server and registers all of its tools, or none
func (m *Manager) startServer(ctx context.Context, serverCfg config.MCPServerConfig) error {
	server, err := NewServer(ctx, serverCfg, m.dial)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range server.Adapters() {
		if _, err := m.registry.Lookup(a.Name()); err == nil {
			server.Close()
			return fmt.Errorf("failed to register tool %s: %w", a.Name(), &tool.DuplicateToolError{Name: a.Name()})
		}
	}
	for _, a := range server.Adapters() {
		if err := m.registry.Register(a.Spec(), a.Execute); err != nil {
			server.Close()
			return fmt.Errorf("failed to register tool %s: %w", a.Name(), err)
		}
	}

	m.servers[serverCfg.Name] = server
	m.log.Debug("MCP server %s: %d tool(s) registered", serverCfg.Name, len(server.Adapters()))
	return nil
}

// Close shuts down every server. The registered tools stay in the registry
// and fail once their session is gone.
func (m *Manager) Close() error {
	m.mu.Lock()
	running := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		running = append(running, s)
	}
	m.servers = make(map[string]*Server)
	m.mu.Unlock()

	errs := gather(running, func(s *Server) error {
		if err := s.Close(); err != nil {
			return fmt.Errorf("server %s: %w", s.Name(), err)
		}
		return nil
	})
	if len(errs) > 0 {
		return fmt.Errorf("errors closing servers: %w", errors.Join(errs...))
	}
	return nil
}

// ListServers returns all active server names, sorted
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// gather runs fn on every item concurrently and collects the failures.
func gather[T any](items []T, fn func(T) error) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(item); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"toolcal/internal/calendar"
	"toolcal/internal/logger"
	"toolcal/internal/tool"
	"toolcal/internal/tracer"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 1024
	DefaultMaxRounds   = 8

	DefaultCredentialsFile = "credentials.json"
	DefaultTokenFile       = "token.json"
	DefaultStorePath       = "toolcal.db"

	SourceGoogle = "google"
	SourceFile   = "file"

	DriverEphemeral = "ephemeral"
	DriverSQLite    = "sqlite"
)

// Config represents the complete toolcal configuration
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Agent    AgentConfig    `yaml:"agent"`
	Calendar CalendarConfig `yaml:"calendar"`
	Store    StoreConfig    `yaml:"store"`
	Tracing  tracer.Config  `yaml:"tracing"`
	MCP      MCPConfig      `yaml:"mcp"`
	Hooks    HooksConfig    `yaml:"hooks"`
	LogLevel string         `yaml:"log_level"`
}

// ModelConfig selects the chat-completions endpoint
type ModelConfig struct {
	APIKey      string  `yaml:"api_key"`  // ${OPENAI_API_KEY} style references are expanded
	BaseURL     string  `yaml:"base_url"` // Empty means the OpenAI default
	Name        string  `yaml:"name"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Streaming   *bool   `yaml:"streaming"` // Unset means streaming
}

// AgentConfig bounds a conversation turn
type AgentConfig struct {
	MaxRounds        int    `yaml:"max_rounds"`
	ExecutionMode    string `yaml:"execution_mode"`     // "parallel" or "sequential"
	SystemPromptFile string `yaml:"system_prompt_file"` // Replaces the built-in prompt
	Timezone         string `yaml:"timezone"`           // IANA name, empty means local
}

// CalendarConfig selects where events are read from
type CalendarConfig struct {
	Source          string                 `yaml:"source"` // "google" or "file"
	CalendarID      string                 `yaml:"calendar_id"`
	CredentialsFile string                 `yaml:"credentials_file"`
	TokenFile       string                 `yaml:"token_file"`
	EventsFile      string                 `yaml:"events_file"` // Required for the file source
	BaseURL         string                 `yaml:"base_url"`
	Breaker         calendar.BreakerConfig `yaml:"breaker"`
}

// StoreConfig selects where committed turns are kept
type StoreConfig struct {
	Driver string `yaml:"driver"` // "ephemeral" or "sqlite"
	Path   string `yaml:"path"`
}

// HooksConfig contains hook-related settings
type HooksConfig struct {
	// ConfirmTools asks the user before any of these tools runs
	ConfirmTools []string `yaml:"confirm_tools"`
	// DenyTools never runs any of these tools
	DenyTools []string `yaml:"deny_tools"`
}

// MCPConfig contains MCP-specific settings
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig defines a single MCP server
type MCPServerConfig struct {
	Name      string            `yaml:"name"`      // Unique server identifier
	Transport string            `yaml:"transport"` // "stdio" (only supported initially)
	Command   string            `yaml:"command"`   // Executable to run
	Args      []string          `yaml:"args"`      // Command arguments
	Env       map[string]string `yaml:"env"`       // Environment variables with ${VAR} support
	Disabled  bool              `yaml:"disabled"`  // Skip this server if true
}

// Default returns the configuration used when no file is found
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the YAML config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, expands environment references, fills
// defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Locations lists the files LoadWithDefaults tries, in order
func Locations() []string {
	locations := []string{
		"./toolcal.yaml",
		"./configs/toolcal.yaml",
	}

	// Add user config directory if available
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".config", "toolcal", "toolcal.yaml"))
	}

	// Add system-wide config
	return append(locations, "/etc/toolcal/toolcal.yaml")
}

// LoadWithDefaults loads the first config found in Locations. It returns the
// path it used, empty when none exists.
func LoadWithDefaults() (*Config, string, error) {
	return loadFirst(Locations())
}

func loadFirst(locations []string) (*Config, string, error) {
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			cfg, err := Load(loc)
			return cfg, loc, err
		}
	}

	// No config found - defaults only (not an error)
	return Default(), "", nil
}

func (c *Config) expandEnv() {
	c.Model.APIKey = ExpandEnv(c.Model.APIKey)
	c.Model.BaseURL = ExpandEnv(c.Model.BaseURL)
	c.Agent.SystemPromptFile = ExpandEnv(c.Agent.SystemPromptFile)
	c.Calendar.CredentialsFile = ExpandEnv(c.Calendar.CredentialsFile)
	c.Calendar.TokenFile = ExpandEnv(c.Calendar.TokenFile)
	c.Calendar.EventsFile = ExpandEnv(c.Calendar.EventsFile)
	c.Store.Path = ExpandEnv(c.Store.Path)
}

func (c *Config) applyDefaults() {
	if c.Model.Name == "" {
		c.Model.Name = DefaultModel
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = DefaultTemperature
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = DefaultMaxTokens
	}
	if c.Model.Streaming == nil {
		streaming := true
		c.Model.Streaming = &streaming
	}

	if c.Agent.MaxRounds == 0 {
		c.Agent.MaxRounds = DefaultMaxRounds
	}
	if c.Agent.ExecutionMode == "" {
		c.Agent.ExecutionMode = string(tool.ExecutionModeParallel)
	}

	if c.Calendar.Source == "" {
		c.Calendar.Source = SourceGoogle
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = calendar.DefaultCalendarID
	}
	if c.Calendar.CredentialsFile == "" {
		c.Calendar.CredentialsFile = DefaultCredentialsFile
	}
	if c.Calendar.TokenFile == "" {
		c.Calendar.TokenFile = DefaultTokenFile
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverEphemeral
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
}

// StreamingEnabled reports whether model output is streamed
func (c *Config) StreamingEnabled() bool {
	return c.Model.Streaming == nil || *c.Model.Streaming
}

// Location resolves the configured time zone
func (c *Config) Location() (*time.Location, error) {
	if c.Agent.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Agent.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Agent.Timezone, err)
	}
	return loc, nil
}

// Validate checks config correctness
func (c *Config) Validate() error {
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature %.2f out of range [0, 2]", c.Model.Temperature)
	}
	if c.Model.MaxTokens < 0 {
		return errors.New("model.max_tokens cannot be negative")
	}

	if c.Agent.MaxRounds < 1 {
		return fmt.Errorf("agent.max_rounds must be at least 1, got %d", c.Agent.MaxRounds)
	}
	if _, err := tool.ParseExecutionMode(c.Agent.ExecutionMode); err != nil {
		return fmt.Errorf("agent.execution_mode: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("agent.%w", err)
	}

	switch c.Calendar.Source {
	case SourceGoogle:
	case SourceFile:
		if c.Calendar.EventsFile == "" {
			return errors.New("calendar.events_file is required for the file source")
		}
	default:
		return fmt.Errorf("unsupported calendar source: %s (want google or file)", c.Calendar.Source)
	}

	switch c.Store.Driver {
	case DriverEphemeral, DriverSQLite:
	default:
		return fmt.Errorf("unsupported store driver: %s (want ephemeral or sqlite)", c.Store.Driver)
	}

	switch c.Tracing.Exporter {
	case "", "stdout", "noop":
	default:
		return fmt.Errorf("unsupported tracing exporter: %s", c.Tracing.Exporter)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	for _, name := range append(append([]string{}, c.Hooks.ConfirmTools...), c.Hooks.DenyTools...) {
		if name == "" {
			return errors.New("hooks: tool name cannot be empty")
		}
	}

	return c.MCP.Validate()
}

// Validate checks the server list
func (m *MCPConfig) Validate() error {
	// Check for duplicate server names
	names := make(map[string]bool)
	for i, server := range m.Servers {
		if server.Name == "" {
			return fmt.Errorf("server #%d: name cannot be empty", i+1)
		}

		if names[server.Name] {
			return fmt.Errorf("duplicate server name: %s", server.Name)
		}
		names[server.Name] = true

		if err := server.Validate(); err != nil {
			return fmt.Errorf("server %s: %w", server.Name, err)
		}
	}

	return nil
}

// Validate checks a single server config
func (s *MCPServerConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	// Server names prefix bridged tool names, so they follow the same
	// pattern: ^[a-zA-Z0-9_-]+$
	for _, ch := range s.Name {
		if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_' || ch == '-') {
			return fmt.Errorf("server name '%s' contains invalid character '%c' (only alphanumeric, underscore, and hyphen allowed)", s.Name, ch)
		}
	}

	if s.Transport == "" {
		return fmt.Errorf("transport is required")
	}

	if s.Transport != "stdio" {
		return fmt.Errorf("unsupported transport: %s (only 'stdio' is supported)", s.Transport)
	}

	if s.Command == "" {
		return fmt.Errorf("command is required")
	}

	return nil
}

// EnabledServers returns the servers that are not disabled
func (m *MCPConfig) EnabledServers() []MCPServerConfig {
	var out []MCPServerConfig
	for _, s := range m.Servers {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

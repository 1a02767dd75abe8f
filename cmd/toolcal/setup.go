package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"toolcal/internal/agent"
	"toolcal/internal/calendar"
	"toolcal/internal/config"
	"toolcal/internal/hook"
	"toolcal/internal/hook/handlers"
	"toolcal/internal/llm/openai"
	"toolcal/internal/logger"
	"toolcal/internal/mcp"
	"toolcal/internal/prompts"
	"toolcal/internal/store"
	"toolcal/internal/tool"
	"toolcal/internal/tool/builtin"
	"toolcal/internal/tracer"
)

// loadConfig reads --config or the first default location, then applies the
// flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, _, err = config.LoadWithDefaults()
	}
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if apiKey != "" && (changed("api-key") || cfg.Model.APIKey == "") {
		cfg.Model.APIKey = apiKey
	}
	if apiBaseURL != "" && (changed("api-base-url") || cfg.Model.BaseURL == "") {
		cfg.Model.BaseURL = apiBaseURL
	}
	if changed("model") {
		cfg.Model.Name = model
	}
	if changed("temperature") {
		cfg.Model.Temperature = temperature
	}
	if changed("max-rounds") {
		cfg.Agent.MaxRounds = maxRounds
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logger.NewLogger(w, level)
	if noColor {
		log.SetColorMode(false)
	}
	return log, nil
}

type appOptions struct {
	// confirmInput answers confirm_tools prompts. Without it those tools are
	// refused.
	confirmInput *bufio.Reader
	// withoutModel skips the chat client and the engine.
	withoutModel bool
}

// app holds everything a command needs once the config is loaded.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	loc      *time.Location
	registry *tool.Registry
	invoker  *tool.Invoker
	hooks    *hook.Manager
	servers  *mcp.Manager
	store    store.Store
	engine   *agent.Engine

	shutdownTracing func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error
	a.shutdownTracing, err = tracer.Setup(ctx, cfg.Tracing, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	a.loc, err = cfg.Location()
	if err != nil {
		return nil, err
	}

	source, err := newSource(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	log.Debug("Registering built-in tools")
	a.registry = tool.NewRegistry()
	if err := builtin.Register(a.registry,
		builtin.NewDateTool(time.Now, a.loc),
		builtin.NewCalendarTool(source, a.loc),
	); err != nil {
		return nil, err
	}

	a.servers = mcp.NewManager(a.registry, log)
	if err := a.servers.Initialize(ctx, cfg.MCP); err != nil {
		// Built-in tools still work without the external servers
		log.Warn("MCP: %v", err)
	}
	if servers := a.servers.ListServers(); len(servers) > 0 {
		log.Info("MCP servers: %s", strings.Join(servers, ", "))
	}
	log.Debug("Registered %d tools: %v", a.registry.Len(), a.registry.Names())

	a.hooks = newHooks(cfg.Hooks, log, opts.confirmInput)
	a.invoker = tool.NewInvoker(a.registry)
	a.invoker.SetHookManager(a.hooks)

	if opts.withoutModel {
		ready = true
		return a, nil
	}

	if cfg.Model.APIKey == "" && cfg.Model.BaseURL == "" {
		return nil, fmt.Errorf("OpenAI API key required (set OPENAI_API_KEY, model.api_key or use --api-key)")
	}

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := prompts.SystemPrompt(cfg.Agent.SystemPromptFile)
	if err != nil {
		return nil, err
	}

	mode, err := tool.ParseExecutionMode(cfg.Agent.ExecutionMode)
	if err != nil {
		return nil, err
	}

	log.Debug("Creating LLM client (model: %s)", cfg.Model.Name)
	client := openai.NewClient(cfg.Model.APIKey, cfg.Model.Name, cfg.Model.BaseURL)

	a.engine = agent.NewEngine(client, a.invoker, systemPrompt, agent.Config{
		MaxRounds:     cfg.Agent.MaxRounds,
		Temperature:   cfg.Model.Temperature,
		MaxTokens:     cfg.Model.MaxTokens,
		Streaming:     cfg.StreamingEnabled(),
		ExecutionMode: mode,
	},
		agent.WithStore(a.store),
		agent.WithHooks(a.hooks),
		agent.WithLogger(log),
	)
	log.Debug("Engine created with max_rounds=%d, temperature=%.2f", cfg.Agent.MaxRounds, cfg.Model.Temperature)

	ready = true
	return a, nil
}

// session resumes id, or starts a new session when id is empty.
func (a *app) session(ctx context.Context, id string) (*agent.Session, error) {
	if id == "" {
		return a.engine.NewSession(), nil
	}
	return a.engine.ResumeSession(ctx, id)
}

func (a *app) Close() {
	if a.servers != nil {
		if err := a.servers.Close(); err != nil {
			a.log.Warn("%v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store: %v", err)
		}
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.log.Warn("shutdown tracing: %v", err)
		}
	}
}

func newSource(ctx context.Context, cfg *config.Config, log *logger.Logger) (calendar.Source, error) {
	c := cfg.Calendar
	if c.Source == config.SourceFile {
		log.Debug("Reading events from %s", c.EventsFile)
		return calendar.NewFile(c.EventsFile), nil
	}

	src, err := calendar.NewGoogleFromFiles(ctx, c.CredentialsFile, c.TokenFile, calendar.GoogleOptions{
		BaseURL:    c.BaseURL,
		CalendarID: c.CalendarID,
		Breaker:    c.Breaker,
		Log:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("google calendar: %w", err)
	}
	return src, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == config.DriverSQLite {
		return store.NewSQLite(ctx, cfg.Store.Path)
	}
	return store.NewEphemeral(), nil
}

// newHooks installs the audit trail and the configured tool policies.
func newHooks(cfg config.HooksConfig, log *logger.Logger, in *bufio.Reader) *hook.Manager {
	m := hook.NewManager()
	m.Register(handlers.NewAuditHandler(log))

	if len(cfg.DenyTools) > 0 {
		m.Register(handlers.NewDenyHandler("disabled by configuration", cfg.DenyTools...))
	}

	if len(cfg.ConfirmTools) > 0 {
		if in != nil {
			m.Register(handlers.NewToolConfirmHandlerWithIO(in, os.Stdout, cfg.ConfirmTools...))
		} else {
			m.Register(handlers.NewDenyHandler("needs confirmation, which is not available here", cfg.ConfirmTools...))
		}
	}

	return m
}

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"toolcal/internal/hook"
	"toolcal/internal/llm"
	"toolcal/internal/logger"
	"toolcal/internal/store"
	"toolcal/internal/tool"
)

// Engine runs conversation turns against a model with a fixed tool set. It
// holds no per-conversation state; every Session owns its own log.
type Engine struct {
	client       llm.Client
	executor     *tool.Executor
	registry     *tool.Registry
	systemPrompt string
	config       Config
	store        store.Store
	hooks        *hook.Manager
	log          *logger.Logger
}

type Option func(*Engine)

// WithStore persists every committed turn.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithHooks triggers turn lifecycle hooks. Tool hooks are wired on the
// invoker itself.
func WithHooks(m *hook.Manager) Option {
	return func(e *Engine) { e.hooks = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func NewEngine(client llm.Client, invoker *tool.Invoker, systemPrompt string, cfg Config, opts ...Option) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}

	executor := tool.NewExecutor(invoker)
	if cfg.ExecutionMode != "" {
		executor.SetMode(cfg.ExecutionMode)
	}

	e := &Engine{
		client:       client,
		executor:     executor,
		registry:     invoker.Registry(),
		systemPrompt: systemPrompt,
		config:       cfg,
		store:        store.NewEphemeral(),
		log:          logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) Registry() *tool.Registry {
	return e.registry
}

func NewSessionID() string {
	return ulid.Make().String()
}

// NewSession starts an empty conversation.
func (e *Engine) NewSession() *Session {
	return newSession(e, NewSessionID(), nil, llm.Usage{})
}

// ResumeSession continues a conversation from the store.
func (e *Engine) ResumeSession(ctx context.Context, id string) (*Session, error) {
	msgs, err := e.store.Messages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resume session %s: %w", id, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("resume session %s: no such session", id)
	}
	usage, err := e.store.Usage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resume session %s: %w", id, err)
	}
	return newSession(e, id, msgs, usage), nil
}

func (e *Engine) notify(ctx context.Context, point hook.HookPoint, sessionID, outcome string) {
	if e.hooks == nil {
		return
	}
	data := hook.NewHookData(point, "").Set(hook.KeySessionID, sessionID)
	if outcome != "" {
		data.Set(hook.KeyOutcome, outcome)
	}
	// Turn hooks observe only; a cancelled ctx must not suppress them
	if err := e.hooks.Notify(context.WithoutCancel(ctx), data); err != nil {
		e.log.Warn("%s hook: %v", point, err)
	}
}

func (e *Engine) request(messages []llm.Message, last bool) *llm.ChatRequest {
	req := &llm.ChatRequest{
		Messages:    messages,
		Tools:       e.registry.GetToolDefinitions(),
		ToolChoice:  llm.ToolChoiceAuto,
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
	}
	if last {
		req.Messages = append(append([]llm.Message{}, messages...), llm.Message{
			Role:      llm.RoleSystem,
			Content:   roundLimitPrompt,
			Timestamp: time.Now(),
		})
		req.ToolChoice = llm.ToolChoiceNone
	}
	return req
}

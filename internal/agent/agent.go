package agent

import (
	"errors"
	"fmt"

	"toolcal/internal/llm"
	"toolcal/internal/tool"
)

// State is where a session is in the request/response loop of one user turn.
type State string

const (
	StateAwaitingUserInput State = "awaiting_user_input"
	StateModelGenerating   State = "model_generating"
	StateToolCallsPending  State = "tool_calls_pending"
	StateToolInvocation    State = "tool_invocation"
	StateFinalReply        State = "final_reply"
)

var (
	// ErrRoundLimit is returned when the model still asks for tools on the
	// last round it is allowed.
	ErrRoundLimit = errors.New("round limit reached")

	// ErrTurnInProgress is returned when Send is called while the session is
	// still answering an earlier message.
	ErrTurnInProgress = errors.New("a turn is already in progress")
)

// ProtocolError reports a tool-call request the model produced that cannot be
// correlated with a result.
type ProtocolError struct {
	Index  int
	CallID string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.CallID == "" {
		return fmt.Sprintf("model protocol error: tool call #%d %s", e.Index+1, e.Reason)
	}
	return fmt.Sprintf("model protocol error: tool call #%d (%s) %s", e.Index+1, e.CallID, e.Reason)
}

const (
	DefaultMaxRounds = 8

	// TruncationMarker is appended to a reply cut off by the token limit
	TruncationMarker = "\n\n[Response truncated due to length limit]"

	roundLimitPrompt = `You have reached the maximum number of sequential tool calls without a user
interaction. Answer the user now with the information you already have. If more tool calls are
needed, say so and continue once the user responds.`
)

type Config struct {
	MaxRounds     int
	Temperature   float32
	MaxTokens     int
	Streaming     bool
	ExecutionMode tool.ExecutionMode
}

func DefaultConfig() Config {
	return Config{
		MaxRounds:     DefaultMaxRounds,
		Temperature:   0.2,
		MaxTokens:     1024,
		Streaming:     true,
		ExecutionMode: tool.ExecutionModeParallel,
	}
}

// Reply is the outcome of a completed turn.
type Reply struct {
	Content   string
	Reasoning string
	Truncated bool
	Rounds    int
	ToolCalls []*tool.CallResult
	Usage     llm.Usage
}

type EventKind string

const (
	EventState     EventKind = "state"
	EventDelta     EventKind = "delta"
	EventReasoning EventKind = "reasoning"
	EventToolCall  EventKind = "tool_call"
	EventResult    EventKind = "tool_result"
	EventReply     EventKind = "reply"
	EventError     EventKind = "error"
)

// Event is published to observers while a turn runs. Only the field matching
// Kind is set.
type Event struct {
	Kind      EventKind
	SessionID string
	State     State
	Text      string
	Call      *tool.Call
	Result    *tool.CallResult
	Reply     *Reply
	Err       error
}

// Observer receives events on the goroutine running the turn; it must not
// block for long.
type Observer func(Event)

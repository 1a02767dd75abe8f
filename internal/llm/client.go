package llm

import "context"

// Client is a chat model endpoint that understands function tools.
type Client interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req *ChatRequest) (StreamReader, error)
	Provider() string
	Model() string
}

type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// ChatRequest is one model round-trip. ToolChoiceNone keeps the tools in
// context but forbids calling them.
type ChatRequest struct {
	Messages    []Message
	Tools       []*ToolDefinition
	ToolChoice  ToolChoice
	Temperature float32
	MaxTokens   int
}

type ChatResponse struct {
	Message    Message
	StopReason StopReason
	Usage      Usage
}

// ToolDefinition is a tool as advertised to the model, in the
// function-calling wire shape.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function *FunctionDef `json:"function"`
}

type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// StreamReader yields incremental deltas. The final delta has Done set and
// carries the accumulated response.
type StreamReader interface {
	Recv() (*Delta, error)
	Close() error
}

type Delta struct {
	Role      Role
	Reason    string
	Content   string
	ToolCalls []*ToolCall
	Done      bool

	// Response is only set on the final (Done) delta.
	Response *ChatResponse
}

// Package hook lets handlers observe tool calls and turns, and veto a tool
// call before it runs.
package hook

import (
	"context"
	"time"

	"github.com/spf13/cast"
)

// HookPoint names a moment a handler can subscribe to.
type HookPoint string

const (
	// Triggered by the tool invoker. Only BeforeToolExecution can deny.
	BeforeToolExecution HookPoint = "before_tool_execution"
	AfterToolExecution  HookPoint = "after_tool_execution"

	// Notified by the conversation engine around each user turn.
	OnTurnStart HookPoint = "on_turn_start"
	OnTurnEnd   HookPoint = "on_turn_end"
)

// Keys the invoker and the engine fill in.
const (
	KeyCallID    = "call_id"
	KeyParams    = "params"   // raw JSON arguments
	KeySuccess   = "success"  // after a tool call
	KeyDuration  = "duration" // after a tool call
	KeyError     = "error"    // failure message, after a failed tool call
	KeySessionID = "session_id"
	KeyOutcome   = "outcome" // turn end: "reply" or the error
	KeyModified  = "_modified"
)

// HookData is what a handler receives. ToolName is empty for turn hooks.
type HookData struct {
	Point     HookPoint
	Timestamp time.Time
	ToolName  string
	Data      map[string]any
}

func NewHookData(point HookPoint, toolName string) *HookData {
	return &HookData{
		Point:     point,
		Timestamp: time.Now(),
		ToolName:  toolName,
		Data:      make(map[string]any),
	}
}

// Set stores value under key and returns d for chaining.
func (d *HookData) Set(key string, value any) *HookData {
	d.Data[key] = value
	return d
}

func (d *HookData) Get(key string) any {
	return d.Data[key]
}

// GetString, GetBool and GetDuration convert loosely; a missing or
// unconvertible value reads as the zero value.
func (d *HookData) GetString(key string) string {
	return cast.ToString(d.Data[key])
}

func (d *HookData) GetBool(key string) bool {
	return cast.ToBool(d.Data[key])
}

func (d *HookData) GetDuration(key string) time.Duration {
	return cast.ToDuration(d.Data[key])
}

// Feedback is a handler's verdict on a BeforeToolExecution call. Modified is
// passed on to later handlers under KeyModified.
type Feedback struct {
	Allow    bool
	Message  string
	Modified any
}

func AllowFeedback() *Feedback {
	return &Feedback{Allow: true}
}

// DenyFeedback refuses the call; message reaches the model in the failure.
func DenyFeedback(message string) *Feedback {
	return &Feedback{Allow: false, Message: message}
}

// Handler reacts to the points it lists. Higher Priority runs first. A nil
// Feedback means no opinion.
type Handler interface {
	Name() string
	Points() []HookPoint
	Handle(ctx context.Context, data *HookData) (*Feedback, error)
	Priority() int
}

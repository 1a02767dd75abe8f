package tool

import (
	"encoding/json"
	"fmt"
	"time"
)

// FailureKind classifies why a tool call did not produce a value.
type FailureKind string

const (
	FailureUnknownTool      FailureKind = "unknown_tool"
	FailureInvalidArguments FailureKind = "invalid_arguments"
	FailureExecution        FailureKind = "tool_execution_error"
)

type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Result is the outcome of one tool call: a Success carrying Value, or a
// Failure. Exactly one of the two is meaningful; OK reports which.
type Result struct {
	CallID   string   `json:"call_id"`
	ToolName string   `json:"tool_name"`
	Value    any      `json:"value,omitempty"`
	Failure  *Failure `json:"failure,omitempty"`
}

func Success(callID, toolName string, value any) *Result {
	return &Result{CallID: callID, ToolName: toolName, Value: value}
}

func Fail(callID, toolName string, kind FailureKind, message string) *Result {
	return &Result{
		CallID:   callID,
		ToolName: toolName,
		Failure:  &Failure{Kind: kind, Message: message},
	}
}

func (r *Result) OK() bool {
	return r.Failure == nil
}

// Content renders the result for the model. Values are JSON encoded;
// failures are visibly marked as errors so the model can decide to retry.
func (r *Result) Content() string {
	if r.Failure != nil {
		return fmt.Sprintf("ERROR (%s): %s", r.Failure.Kind, r.Failure.Message)
	}

	if s, ok := r.Value.(string); ok {
		return s
	}

	data, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Sprintf("%v", r.Value)
	}
	return string(data)
}

// CallResult records the timing of one dispatched call alongside its result.
type CallResult struct {
	Call      Call
	Result    *Result
	StartTime time.Time
	EndTime   time.Time
}

func (c *CallResult) Duration() time.Duration {
	return c.EndTime.Sub(c.StartTime)
}

package agent

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"toolcal/internal/llm"
)

// step scripts one model round-trip. before, when set, runs as the request
// arrives (tests use it to cancel mid-turn).
type step struct {
	resp   *llm.ChatResponse
	err    error
	before func()
}

// scriptedClient answers requests from a fixed script and records them.
type scriptedClient struct {
	mu       sync.Mutex
	steps    []step
	requests []*llm.ChatRequest
}

func newScriptedClient(steps ...step) *scriptedClient {
	return &scriptedClient{steps: steps}
}

func (c *scriptedClient) next(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if len(c.steps) == 0 {
		c.mu.Unlock()
		return nil, errors.New("script exhausted")
	}
	s := c.steps[0]
	c.steps = c.steps[1:]
	c.mu.Unlock()

	if s.before != nil {
		s.before()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.resp, s.err
}

func (c *scriptedClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return c.next(ctx, req)
}

func (c *scriptedClient) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.StreamReader, error) {
	resp, err := c.next(ctx, req)
	if err != nil {
		return nil, err
	}
	return newFakeStream(resp), nil
}

func (c *scriptedClient) Provider() string { return "scripted" }
func (c *scriptedClient) Model() string    { return "scripted-1" }

func (c *scriptedClient) Requests() []*llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*llm.ChatRequest(nil), c.requests...)
}

// fakeStream splits the scripted content into words.
type fakeStream struct {
	deltas []*llm.Delta
}

func newFakeStream(resp *llm.ChatResponse) *fakeStream {
	var deltas []*llm.Delta
	if resp.Message.Reason != "" {
		deltas = append(deltas, &llm.Delta{Reason: resp.Message.Reason})
	}
	for _, w := range strings.SplitAfter(resp.Message.Content, " ") {
		if w != "" {
			deltas = append(deltas, &llm.Delta{Content: w})
		}
	}
	deltas = append(deltas, &llm.Delta{Done: true, Response: resp})
	return &fakeStream{deltas: deltas}
}

func (s *fakeStream) Recv() (*llm.Delta, error) {
	if len(s.deltas) == 0 {
		return nil, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *fakeStream) Close() error { return nil }

func toolCallResponse(calls ...*llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:    llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
		StopReason: llm.StopReasonToolCalls,
		Usage:      llm.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:    llm.Message{Role: llm.RoleAssistant, Content: content},
		StopReason: llm.StopReasonStop,
		Usage:      llm.Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
	}
}

func call(id, name, args string) *llm.ToolCall {
	return &llm.ToolCall{ID: id, Type: "function", Function: &llm.FunctionCall{Name: name, Arguments: args}}
}

package openai

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"

	"toolcal/internal/llm"

	openai "github.com/sashabaranov/go-openai"
)

// chunkStream is the subset of *openai.ChatCompletionStream the reader uses.
type chunkStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

type StreamReader struct {
	stream         chunkStream
	accumulatedMsg llm.Message
	toolCallsMap   map[int]*llm.ToolCall // Track tool calls by index
	finishReason   openai.FinishReason
	usage          llm.Usage
	done           bool
}

func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.StreamReader, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	return newStreamReader(stream), nil
}

func newStreamReader(stream chunkStream) *StreamReader {
	return &StreamReader{
		stream: stream,
		accumulatedMsg: llm.Message{
			Role: llm.RoleAssistant,
		},
		toolCallsMap: make(map[int]*llm.ToolCall),
	}
}

func (s *StreamReader) Recv() (*llm.Delta, error) {
	if s.done {
		return nil, io.EOF
	}

	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		s.done = true
		return &llm.Delta{
			Done:     true,
			Response: s.finalize(),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if resp.Usage != nil {
		s.usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	// The usage chunk arrives with no choices
	if len(resp.Choices) == 0 {
		return &llm.Delta{}, nil
	}

	choice := resp.Choices[0]
	delta := choice.Delta

	result := &llm.Delta{
		Role:    llm.Role(delta.Role),
		Reason:  delta.ReasoningContent,
		Content: delta.Content,
	}

	s.accumulatedMsg.Reason += delta.ReasoningContent
	s.accumulatedMsg.Content += delta.Content

	// Tool calls arrive in fragments keyed by index
	for _, tc := range delta.ToolCalls {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}

		toolCall, exists := s.toolCallsMap[index]
		if !exists {
			toolCall = &llm.ToolCall{
				Type:     string(openai.ToolTypeFunction),
				Function: &llm.FunctionCall{},
			}
			s.toolCallsMap[index] = toolCall
		}

		if tc.ID != "" {
			toolCall.ID = tc.ID
		}
		toolCall.Function.Name += tc.Function.Name
		toolCall.Function.Arguments += tc.Function.Arguments

		result.ToolCalls = append(result.ToolCalls, toolCall)
	}

	if choice.FinishReason != "" {
		s.finishReason = choice.FinishReason
	}

	return result, nil
}

func (s *StreamReader) finalize() *llm.ChatResponse {
	msg := s.accumulatedMsg
	msg.Timestamp = time.Now()

	if len(s.toolCallsMap) > 0 {
		indices := make([]int, 0, len(s.toolCallsMap))
		for i := range s.toolCallsMap {
			indices = append(indices, i)
		}
		sort.Ints(indices)

		msg.ToolCalls = make([]*llm.ToolCall, 0, len(indices))
		for _, i := range indices {
			msg.ToolCalls = append(msg.ToolCalls, s.toolCallsMap[i])
		}
	}

	stop := convertFinishReason(s.finishReason)
	if len(msg.ToolCalls) > 0 {
		stop = llm.StopReasonToolCalls
	}

	return &llm.ChatResponse{
		Message:    msg,
		StopReason: stop,
		Usage:      s.usage,
	}
}

func (s *StreamReader) Close() error {
	return s.stream.Close()
}

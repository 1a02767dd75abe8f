package openai

import (
	"errors"
	"io"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolcal/internal/llm"
)

type fakeChunks struct {
	chunks []openai.ChatCompletionStreamResponse
	err    error
	closed bool
}

func (f *fakeChunks) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(f.chunks) == 0 {
		if f.err != nil {
			return openai.ChatCompletionStreamResponse{}, f.err
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	c := f.chunks[0]
	f.chunks = f.chunks[1:]
	return c, nil
}

func (f *fakeChunks) Close() error {
	f.closed = true
	return nil
}

func intPtr(i int) *int { return &i }

func toolChunk(index int, id, name, args string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{{
					Index:    intPtr(index),
					ID:       id,
					Function: openai.FunctionCall{Name: name, Arguments: args},
				}},
			},
		}},
	}
}

func drain(t *testing.T, r *StreamReader) *llm.ChatResponse {
	t.Helper()
	for {
		d, err := r.Recv()
		require.NoError(t, err)
		if d.Done {
			return d.Response
		}
	}
}

func TestStreamAccumulatesToolCallFragments(t *testing.T) {
	fake := &fakeChunks{chunks: []openai.ChatCompletionStreamResponse{
		toolChunk(1, "call_b", "get_calendar_", ""),
		toolChunk(0, "call_a", "get_date", "{}"),
		toolChunk(1, "", "events", `{"start_date":"2024-05-06",`),
		toolChunk(1, "", "", `"end_date":"2024-05-12"}`),
		{Choices: []openai.ChatCompletionStreamChoice{{FinishReason: openai.FinishReasonToolCalls}}},
	}}

	r := newStreamReader(fake)
	resp := drain(t, r)

	assert.Equal(t, llm.StopReasonToolCalls, resp.StopReason)
	require.Len(t, resp.Message.ToolCalls, 2)
	assert.Equal(t, "call_a", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "get_date", resp.Message.ToolCalls[0].Function.Name)
	assert.Equal(t, "call_b", resp.Message.ToolCalls[1].ID)
	assert.Equal(t, "get_calendar_events", resp.Message.ToolCalls[1].Function.Name)
	assert.JSONEq(t, `{"start_date":"2024-05-06","end_date":"2024-05-12"}`, resp.Message.ToolCalls[1].Function.Arguments)

	require.NoError(t, r.Close())
	assert.True(t, fake.closed)
}

func TestStreamReasoningAndUsage(t *testing.T) {
	fake := &fakeChunks{chunks: []openai.ChatCompletionStreamResponse{
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{ReasoningContent: "User wants today. "}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: "It is May 1."}, FinishReason: openai.FinishReasonLength}}},
		{Usage: &openai.Usage{PromptTokens: 4, CompletionTokens: 5, TotalTokens: 9}},
	}}

	r := newStreamReader(fake)

	d, err := r.Recv()
	require.NoError(t, err)
	assert.Equal(t, "User wants today. ", d.Reason)

	resp := drain(t, r)
	assert.Equal(t, "User wants today. ", resp.Message.Reason)
	assert.Equal(t, "It is May 1.", resp.Message.Content)
	assert.Equal(t, llm.StopReasonLength, resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 4, CompletionTokens: 5, TotalTokens: 9}, resp.Usage)

	_, err = r.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamPropagatesErrors(t *testing.T) {
	r := newStreamReader(&fakeChunks{err: errors.New("connection reset")})

	_, err := r.Recv()
	assert.EqualError(t, err, "connection reset")
}

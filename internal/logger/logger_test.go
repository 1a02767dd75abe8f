package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(&buf, level)
	l.SetColorMode(false)
	l.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	return l, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"", LevelInfo},
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"tool", LevelTool},
		{"agent", LevelAgent},
		{"warning", LevelWarn},
		{" error ", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(LevelInfo)

	l.Debug("hidden %d", 1)
	l.Info("shown %d", 2)
	l.Warn("careful")
	l.Error("broken")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "09:30:00 [INFO] shown 2")
	assert.Contains(t, out, "[WARN] careful")
	assert.Contains(t, out, "[ERROR] broken")
}

func TestShowTimeDisabled(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)
	l.SetShowTime(false)

	l.Debug("plain")
	assert.Equal(t, "[DEBUG] plain\n", buf.String())
}

func TestDiscardDropsEverything(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	l.AgentResponse("nothing")
	assert.Greater(t, l.Level(), LevelError)
}

func TestToolCallFormatsLongJSON(t *testing.T) {
	l, buf := newTestLogger(LevelTool)

	l.ToolCall("get_calendar_events", `{"start_date":"2024-05-06","end_date":"2024-05-12","padding":"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}`)

	out := buf.String()
	assert.Contains(t, out, "Tool Call: get_calendar_events")
	assert.Contains(t, out, "\n  \"end_date\": \"2024-05-12\"")
}

func TestToolCallKeepsShortJSONCompact(t *testing.T) {
	l, buf := newTestLogger(LevelTool)

	l.ToolCall("get_date", `{}`)
	assert.Contains(t, buf.String(), "\n{}\n")
}

func TestToolResultClipsOutput(t *testing.T) {
	l, buf := newTestLogger(LevelTool)

	l.ToolResult("get_calendar_events", true, "one\ntwo\nthree\nfour", 1500*time.Microsecond)

	out := buf.String()
	assert.Contains(t, out, "Tool Result: get_calendar_events [✅ Success] (2ms)")
	assert.Contains(t, out, "one\ntwo\n...")
	assert.NotContains(t, out, "three")
}

func TestToolResultTruncatesWideOutput(t *testing.T) {
	l, buf := newTestLogger(LevelTool)

	l.ToolResult("get_date", false, strings.Repeat("x", 700), time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, "❌ Failed")
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, strings.Repeat("x", 501))
}

func TestAgentSectionsRespectLevel(t *testing.T) {
	l, buf := newTestLogger(LevelError)
	l.AgentResponse("hello")
	l.AgentReasoning("thinking")
	assert.Empty(t, buf.String())

	l, buf = newTestLogger(LevelAgent)
	l.AgentReasoning("   ")
	l.AgentReasoning("thinking")
	l.AgentResponse("hello")

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Reasoning"))
	assert.Contains(t, out, "thinking")
	assert.Contains(t, out, "hello")
}

func TestSessionBanners(t *testing.T) {
	l, buf := newTestLogger(LevelInfo)

	l.SessionStart("calendar")
	l.SessionEnd(2*time.Second, 3, 5)

	out := buf.String()
	assert.Contains(t, out, "Session Started")
	assert.Contains(t, out, "  calendar\n")
	assert.Contains(t, out, "Duration: 2s | Turns: 3 | Tool Calls: 5")
}

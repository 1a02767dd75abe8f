package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolcal/internal/calendar"
	"toolcal/internal/hook"
	"toolcal/internal/llm"
	"toolcal/internal/store"
	"toolcal/internal/tool"
	"toolcal/internal/tool/builtin"
)

const testPrompt = "You are a calendar assistant."

type staticSource []calendar.Event

func (s staticSource) Events(context.Context, calendar.Range) ([]calendar.Event, error) {
	return s, nil
}

func calendarRegistry(t *testing.T) *tool.Registry {
	t.Helper()

	// Wednesday
	now := func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	events := staticSource{
		{ID: "e1", Summary: "Sprint planning", Start: "2024-05-06T09:00:00Z", End: "2024-05-06T10:00:00Z"},
		{ID: "e2", Summary: "Dentist", Start: "2024-05-09T15:00:00Z", End: "2024-05-09T15:30:00Z"},
		{ID: "e3", Summary: "Today", Start: "2024-05-01T15:00:00Z", End: "2024-05-01T16:00:00Z"},
	}

	r := tool.NewRegistry()
	require.NoError(t, builtin.Register(r,
		builtin.NewDateTool(now, time.UTC),
		builtin.NewCalendarTool(events, time.UTC),
	))
	require.NoError(t, r.Register(tool.Spec{Name: "always_fails"}, func(context.Context, tool.Args) (any, error) {
		return nil, errors.New("backend down")
	}))
	return r
}

func newTestEngine(t *testing.T, client llm.Client, cfg Config, opts ...Option) (*Engine, *store.Ephemeral) {
	t.Helper()

	st := store.NewEphemeral()
	opts = append([]Option{WithStore(st)}, opts...)
	return NewEngine(client, tool.NewInvoker(calendarRegistry(t)), testPrompt, cfg, opts...), st
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) states() []State {
	var out []State
	for _, ev := range l.kinds(EventState) {
		out = append(out, ev.State)
	}
	return out
}

func TestNextWeekScenario(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		t.Run(map[bool]string{false: "chat", true: "stream"}[streaming], func(t *testing.T) {
			client := newScriptedClient(
				step{resp: toolCallResponse(call("call_date", "get_date", `{}`))},
				step{resp: toolCallResponse(call("call_cal", "get_calendar_events", `{"start_date":"2024-05-06","end_date":"2024-05-12"}`))},
				step{resp: textResponse("Next week you have Sprint planning on Monday and the Dentist on Thursday.")},
			)
			cfg := DefaultConfig()
			cfg.Streaming = streaming
			engine, st := newTestEngine(t, client, cfg)

			session := engine.NewSession()
			var events eventLog
			session.Subscribe(events.observe)

			reply, err := session.Send(context.Background(), "What's on my calendar next week?")
			require.NoError(t, err)

			assert.Equal(t, "Next week you have Sprint planning on Monday and the Dentist on Thursday.", reply.Content)
			assert.Equal(t, 3, reply.Rounds)
			assert.False(t, reply.Truncated)
			require.Len(t, reply.ToolCalls, 2)
			assert.Equal(t, "get_date", reply.ToolCalls[0].Call.Name)
			assert.Equal(t, "get_calendar_events", reply.ToolCalls[1].Call.Name)
			assert.Equal(t, llm.Usage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52}, reply.Usage)

			reqs := client.Requests()
			require.Len(t, reqs, 3)
			for _, req := range reqs {
				assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
				assert.Equal(t, testPrompt, req.Messages[0].Content)
				assert.Equal(t, llm.ToolChoiceAuto, req.ToolChoice)
				assert.Len(t, req.Tools, 3)
			}

			dateResult := reqs[1].Messages[len(reqs[1].Messages)-1]
			assert.Equal(t, llm.RoleTool, dateResult.Role)
			assert.Equal(t, "call_date", dateResult.ToolCallID)
			assert.Equal(t, "2024-05-01", dateResult.Content)

			eventsResult := reqs[2].Messages[len(reqs[2].Messages)-1]
			assert.Equal(t, "call_cal", eventsResult.ToolCallID)
			assert.JSONEq(t, `[
				{"id":"e1","summary":"Sprint planning","start":"2024-05-06T09:00:00Z","end":"2024-05-06T10:00:00Z"},
				{"id":"e2","summary":"Dentist","start":"2024-05-09T15:00:00Z","end":"2024-05-09T15:30:00Z"}
			]`, eventsResult.Content)
			assert.False(t, eventsResult.IsError)

			log := session.Messages()
			require.Len(t, log, 6)
			assert.Equal(t, []llm.Role{
				llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant,
			}, roles(log))
			assert.Empty(t, log[5].ToolCalls)

			stored, err := st.Messages(context.Background(), session.ID())
			require.NoError(t, err)
			assert.Equal(t, log, stored)

			assert.Equal(t, []State{
				StateModelGenerating, StateToolCallsPending, StateToolInvocation,
				StateModelGenerating, StateToolCallsPending, StateToolInvocation,
				StateModelGenerating, StateFinalReply, StateAwaitingUserInput,
			}, events.states())
			assert.Len(t, events.kinds(EventToolCall), 2)
			assert.Len(t, events.kinds(EventResult), 2)
			require.Len(t, events.kinds(EventReply), 1)
			assert.Equal(t, StateAwaitingUserInput, session.State())

			if streaming {
				var text strings.Builder
				for _, ev := range events.kinds(EventDelta) {
					text.WriteString(ev.Text)
				}
				assert.Equal(t, reply.Content, text.String())
			} else {
				assert.Empty(t, events.kinds(EventDelta))
			}

			_, turns, toolCalls := session.Stats()
			assert.Equal(t, 1, turns)
			assert.Equal(t, 2, toolCalls)
		})
	}
}

func TestToolFailuresAreFedBack(t *testing.T) {
	client := newScriptedClient(
		step{resp: toolCallResponse(
			call("c1", "always_fails", `{}`),
			call("c2", "no_such_tool", `{}`),
			call("c3", "get_calendar_events", `{"start_date":"2024-05-06"}`),
			call("c4", "get_date", ``),
		)},
		step{resp: textResponse("Sorry, the calendar is unavailable.")},
	)
	engine, _ := newTestEngine(t, client, Config{Streaming: false})
	session := engine.NewSession()

	reply, err := session.Send(context.Background(), "next week?")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, the calendar is unavailable.", reply.Content)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	results := reqs[1].Messages[len(reqs[1].Messages)-4:]

	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, []string{
		results[0].ToolCallID, results[1].ToolCallID, results[2].ToolCallID, results[3].ToolCallID,
	})
	assert.Equal(t, "ERROR (tool_execution_error): backend down", results[0].Content)
	assert.Equal(t, "ERROR (unknown_tool): tool no_such_tool not found", results[1].Content)
	assert.Equal(t, `ERROR (invalid_arguments): parameter "end_date": required parameter is missing`, results[2].Content)
	assert.True(t, results[0].IsError)
	assert.Equal(t, "2024-05-01", results[3].Content)
	assert.False(t, results[3].IsError)
}

func TestProtocolErrorAbortsTurn(t *testing.T) {
	tests := []struct {
		name  string
		calls []*llm.ToolCall
		want  string
	}{
		{"missing id", []*llm.ToolCall{call("", "get_date", `{}`)}, "has no id"},
		{"missing name", []*llm.ToolCall{call("c1", "", `{}`)}, "has no function name"},
		{"missing function", []*llm.ToolCall{{ID: "c1"}}, "has no function name"},
		{"nil call", []*llm.ToolCall{nil}, "is empty"},
		{"duplicate id", []*llm.ToolCall{call("c1", "get_date", `{}`), call("c1", "get_date", `{}`)}, "reuses an id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newScriptedClient(step{resp: toolCallResponse(tt.calls...)})
			engine, st := newTestEngine(t, client, Config{})
			session := engine.NewSession()

			_, err := session.Send(context.Background(), "hi")
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, perr.Error(), tt.want)

			assert.Empty(t, session.Messages())
			stored, _ := st.Messages(context.Background(), session.ID())
			assert.Empty(t, stored)
		})
	}
}

func TestRoundLimit(t *testing.T) {
	client := newScriptedClient(
		step{resp: toolCallResponse(call("c1", "get_date", `{}`))},
		step{resp: toolCallResponse(call("c2", "get_date", `{}`))},
	)
	engine, _ := newTestEngine(t, client, Config{MaxRounds: 2})
	session := engine.NewSession()

	_, err := session.Send(context.Background(), "loop forever")
	require.ErrorIs(t, err, ErrRoundLimit)
	assert.Empty(t, session.Messages())

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, llm.ToolChoiceAuto, reqs[0].ToolChoice)
	assert.Equal(t, llm.ToolChoiceNone, reqs[1].ToolChoice)

	nudge := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, llm.RoleSystem, nudge.Role)
	assert.Equal(t, roundLimitPrompt, nudge.Content)
}

func TestFinalRoundAnswerIsAccepted(t *testing.T) {
	client := newScriptedClient(
		step{resp: toolCallResponse(call("c1", "get_date", `{}`))},
		step{resp: textResponse("Today is May 1.")},
	)
	engine, _ := newTestEngine(t, client, Config{MaxRounds: 2})
	session := engine.NewSession()

	reply, err := session.Send(context.Background(), "date?")
	require.NoError(t, err)
	assert.Equal(t, "Today is May 1.", reply.Content)

	// the nudge is never committed
	for _, m := range session.Messages() {
		assert.NotEqual(t, llm.RoleSystem, m.Role)
	}
}

func TestLengthStopIsMarked(t *testing.T) {
	resp := textResponse("You have three meet")
	resp.StopReason = llm.StopReasonLength
	engine, _ := newTestEngine(t, newScriptedClient(step{resp: resp}), Config{})

	reply, err := engine.NewSession().Send(context.Background(), "list")
	require.NoError(t, err)
	assert.True(t, reply.Truncated)
	assert.Equal(t, "You have three meet"+TruncationMarker, reply.Content)
}

func TestCancellationDiscardsTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newScriptedClient(
		step{resp: toolCallResponse(call("c1", "get_date", `{}`))},
		step{before: cancel, resp: textResponse("never delivered")},
		step{resp: textResponse("Hello again.")},
	)
	engine, st := newTestEngine(t, client, Config{})
	session := engine.NewSession()

	_, err := session.Send(ctx, "what day is it?")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, session.Messages())
	stored, _ := st.Messages(context.Background(), session.ID())
	assert.Empty(t, stored)
	assert.Equal(t, StateAwaitingUserInput, session.State())

	reply, err := session.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello again.", reply.Content)

	// the cancelled question is never resubmitted
	last := client.Requests()[2]
	require.Len(t, last.Messages, 2)
	assert.Equal(t, "hello", last.Messages[1].Content)
	assert.Len(t, session.Messages(), 2)
}

func TestCancellationDuringToolExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.Spec{Name: "slow"}, func(ctx context.Context, _ tool.Args) (any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	client := newScriptedClient(step{resp: toolCallResponse(call("c1", "slow", `{}`))})
	engine := NewEngine(client, tool.NewInvoker(r), testPrompt, Config{})
	session := engine.NewSession()

	_, err := session.Send(ctx, "go")
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, client.Requests(), 1)
	assert.Empty(t, session.Messages())
}

func TestModelErrorIsReturned(t *testing.T) {
	engine, _ := newTestEngine(t, newScriptedClient(step{err: errors.New("rate limited")}), Config{})
	session := engine.NewSession()
	var events eventLog
	session.Subscribe(events.observe)

	_, err := session.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	require.Len(t, events.kinds(EventError), 1)
	assert.Empty(t, session.Messages())
}

func TestOneTurnAtATime(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	client := newScriptedClient(step{
		before: func() {
			close(started)
			<-release
		},
		resp: textResponse("done"),
	})
	engine, _ := newTestEngine(t, client, Config{})
	session := engine.NewSession()

	errc := make(chan error, 1)
	go func() {
		_, err := session.Send(context.Background(), "first")
		errc <- err
	}()

	<-started
	_, err := session.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	close(release)
	require.NoError(t, <-errc)
	assert.Len(t, session.Messages(), 2)
}

func TestSessionsAreIsolated(t *testing.T) {
	client := newScriptedClient(
		step{resp: textResponse("one")},
		step{resp: textResponse("two")},
	)
	engine, _ := newTestEngine(t, client, Config{})

	a, b := engine.NewSession(), engine.NewSession()
	assert.NotEqual(t, a.ID(), b.ID())

	_, err := a.Send(context.Background(), "a")
	require.NoError(t, err)
	_, err = b.Send(context.Background(), "b")
	require.NoError(t, err)

	assert.Len(t, a.Messages(), 2)
	assert.Len(t, b.Messages(), 2)
	assert.Len(t, client.Requests()[1].Messages, 2)
}

func TestResumeSession(t *testing.T) {
	client := newScriptedClient(
		step{resp: textResponse("It is May 1.")},
		step{resp: textResponse("Still May 1.")},
	)
	engine, _ := newTestEngine(t, client, Config{})

	first := engine.NewSession()
	_, err := first.Send(context.Background(), "date?")
	require.NoError(t, err)

	resumed, err := engine.ResumeSession(context.Background(), first.ID())
	require.NoError(t, err)
	assert.Equal(t, first.Messages(), resumed.Messages())
	assert.Equal(t, first.Usage(), resumed.Usage())

	_, err = resumed.Send(context.Background(), "and now?")
	require.NoError(t, err)
	assert.Len(t, client.Requests()[1].Messages, 4)

	_, err = engine.ResumeSession(context.Background(), "missing")
	assert.Error(t, err)
}

type turnHook struct {
	mu       sync.Mutex
	outcomes []string
}

func (h *turnHook) Name() string            { return "turns" }
func (h *turnHook) Points() []hook.HookPoint { return []hook.HookPoint{hook.OnTurnStart, hook.OnTurnEnd} }
func (h *turnHook) Priority() int           { return 0 }

func (h *turnHook) Handle(_ context.Context, d *hook.HookData) (*hook.Feedback, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d.Point == hook.OnTurnStart {
		h.outcomes = append(h.outcomes, "start")
	} else {
		h.outcomes = append(h.outcomes, d.GetString("outcome"))
	}
	return hook.AllowFeedback(), nil
}

func TestTurnHooks(t *testing.T) {
	h := &turnHook{}
	m := hook.NewManager()
	m.Register(h)

	client := newScriptedClient(
		step{resp: textResponse("ok")},
		step{err: errors.New("boom")},
	)
	engine, _ := newTestEngine(t, client, Config{}, WithHooks(m))
	session := engine.NewSession()

	_, err := session.Send(context.Background(), "one")
	require.NoError(t, err)
	_, err = session.Send(context.Background(), "two")
	require.Error(t, err)

	assert.Equal(t, []string{"start", "reply", "start", "error"}, h.outcomes)
}

func TestEngineDefaults(t *testing.T) {
	engine := NewEngine(newScriptedClient(), tool.NewInvoker(tool.NewRegistry()), "", Config{ExecutionMode: tool.ExecutionModeSequential})
	assert.Equal(t, DefaultMaxRounds, engine.Config().MaxRounds)
	assert.Equal(t, 0, engine.Registry().Len())
}

func roles(msgs []llm.Message) []llm.Role {
	out := make([]llm.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

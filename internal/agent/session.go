package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"toolcal/internal/hook"
	"toolcal/internal/llm"
	"toolcal/internal/tool"
	"toolcal/internal/tracer"
)

// Session is one conversation. Send may be called from any goroutine but only
// one turn runs at a time.
type Session struct {
	id        string
	engine    *Engine
	startTime time.Time

	turnMu sync.Mutex

	mu        sync.RWMutex
	state     State
	log       []llm.Message
	usage     llm.Usage
	turns     int
	toolCalls int
	observers []Observer
}

func newSession(e *Engine, id string, history []llm.Message, usage llm.Usage) *Session {
	return &Session{
		id:        id,
		engine:    e,
		startTime: time.Now(),
		state:     StateAwaitingUserInput,
		log:       history,
		usage:     usage,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Subscribe registers an observer for every later event of this session.
func (s *Session) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Messages returns a copy of the committed log, system prompt excluded.
func (s *Session) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]llm.Message{}, s.log...)
}

// Stats reports the session's age, committed turns and tool calls.
func (s *Session) Stats() (elapsed time.Duration, turns, toolCalls int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime), s.turns, s.toolCalls
}

func (s *Session) Usage() llm.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage
}

func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()

	for _, o := range observers {
		o(ev)
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.emit(Event{Kind: EventState, State: st})
}

// Send runs one user turn to completion: the model is called, requested tools
// are executed and their results fed back until the model answers without
// tools. Nothing the turn produces is committed unless it completes.
func (s *Session) Send(ctx context.Context, text string) (*Reply, error) {
	if !s.turnMu.TryLock() {
		return nil, ErrTurnInProgress
	}
	defer s.turnMu.Unlock()

	e := s.engine
	ctx, span := tracer.StartSpan(ctx, "agent.turn",
		trace.WithAttributes(tracer.StringAttr("session.id", s.id)),
	)
	defer span.End()

	e.notify(ctx, hook.OnTurnStart, s.id, "")

	reply, err := s.run(ctx, text)
	if err != nil {
		tracer.RecordError(span, err)
		outcome := "error"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		e.notify(ctx, hook.OnTurnEnd, s.id, outcome)
		s.emit(Event{Kind: EventError, Err: err})
		s.setState(StateAwaitingUserInput)
		return nil, err
	}

	span.SetAttributes(tracer.IntAttr("turn.rounds", reply.Rounds))
	tracer.SetOK(span)
	e.notify(ctx, hook.OnTurnEnd, s.id, "reply")
	s.setState(StateAwaitingUserInput)
	return reply, nil
}

func (s *Session) run(ctx context.Context, text string) (*Reply, error) {
	e := s.engine
	execCtx := NewExecutionContext(e.log, e.config.MaxRounds)
	execCtx.Append(llm.NewUserMessage(text))

	s.mu.RLock()
	committed := s.log
	s.mu.RUnlock()

	for {
		if err := ctx.Err(); err != nil {
			execCtx.Discard(err)
			return nil, fmt.Errorf("turn cancelled: %w", err)
		}

		last := execCtx.NextRound()
		s.setState(StateModelGenerating)

		resp, err := s.generate(ctx, e.request(s.transcript(committed, execCtx.Pending), last), execCtx.Round)
		if err != nil {
			execCtx.Discard(err)
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				return nil, fmt.Errorf("turn cancelled: %w", ctxErr)
			}
			return nil, err
		}
		execCtx.Usage.Add(resp.Usage)

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}

		if len(msg.ToolCalls) == 0 {
			execCtx.Append(msg)
			return s.commit(ctx, execCtx, msg, resp.StopReason)
		}

		calls, err := toolCalls(msg.ToolCalls)
		if err != nil {
			execCtx.Discard(err)
			return nil, err
		}
		if last {
			execCtx.Discard(ErrRoundLimit)
			return nil, fmt.Errorf("%w: model requested %d tool call(s) after %d rounds",
				ErrRoundLimit, len(calls), execCtx.Round)
		}
		execCtx.Append(msg)

		s.setState(StateToolCallsPending)
		for i := range calls {
			s.emit(Event{Kind: EventToolCall, Call: &calls[i]})
		}

		s.setState(StateToolInvocation)
		results := e.executor.Execute(ctx, calls)
		if err := ctx.Err(); err != nil {
			execCtx.Discard(err)
			return nil, fmt.Errorf("turn cancelled: %w", err)
		}

		execCtx.RecordResults(results)
		for _, r := range results {
			execCtx.Append(llm.NewToolMessage(r.Call.ID, r.Call.Name, r.Result.Content(), !r.Result.OK()))
			s.emit(Event{Kind: EventResult, Result: r})
		}
	}
}

// transcript is what the model sees: system prompt, committed log, then the
// turn so far.
func (s *Session) transcript(committed, pending []llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(committed)+len(pending)+1)
	if p := s.engine.systemPrompt; p != "" {
		msgs = append(msgs, llm.NewSystemMessage(p))
	}
	msgs = append(msgs, committed...)
	return append(msgs, pending...)
}

// commit persists the finished turn and only then appends it to the log.
func (s *Session) commit(ctx context.Context, execCtx *ExecutionContext, final llm.Message, stop llm.StopReason) (*Reply, error) {
	e := s.engine
	s.setState(StateFinalReply)

	if err := e.store.Extend(ctx, s.id, execCtx.Pending, execCtx.Usage); err != nil {
		execCtx.Discard(err)
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	s.mu.Lock()
	s.log = append(s.log, execCtx.Pending...)
	s.usage.Add(execCtx.Usage)
	s.turns++
	s.toolCalls += len(execCtx.ToolCalls)
	s.mu.Unlock()

	reply := &Reply{
		Content:   final.Content,
		Reasoning: final.Reason,
		Truncated: stop == llm.StopReasonLength,
		Rounds:    execCtx.Round,
		ToolCalls: execCtx.ToolCalls,
		Usage:     execCtx.Usage,
	}
	if reply.Truncated {
		reply.Content += TruncationMarker
	}

	e.log.Debug("turn committed after %d round(s), %d tool call(s), %s",
		reply.Rounds, len(reply.ToolCalls), execCtx.Elapsed().Round(time.Millisecond))
	s.emit(Event{Kind: EventReply, Reply: reply})
	return reply, nil
}

// toolCalls checks that every request can be correlated with a result.
func toolCalls(requested []*llm.ToolCall) ([]tool.Call, error) {
	calls := make([]tool.Call, len(requested))
	seen := make(map[string]bool, len(requested))

	for i, tc := range requested {
		switch {
		case tc == nil:
			return nil, &ProtocolError{Index: i, Reason: "is empty"}
		case tc.ID == "":
			return nil, &ProtocolError{Index: i, Reason: "has no id"}
		case tc.Function == nil || tc.Function.Name == "":
			return nil, &ProtocolError{Index: i, CallID: tc.ID, Reason: "has no function name"}
		case seen[tc.ID]:
			return nil, &ProtocolError{Index: i, CallID: tc.ID, Reason: "reuses an id"}
		}
		seen[tc.ID] = true

		calls[i] = tool.Call{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		}
	}
	return calls, nil
}

// generate performs one model round-trip, streaming when configured.
func (s *Session) generate(ctx context.Context, req *llm.ChatRequest, round int) (*llm.ChatResponse, error) {
	e := s.engine
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", e.client.Provider()),
			tracer.StringAttr("llm.model", e.client.Model()),
			tracer.IntAttr("turn.round", round),
		),
	)
	defer span.End()

	var resp *llm.ChatResponse
	var err error
	if e.config.Streaming {
		resp, err = s.stream(ctx, req)
	} else {
		resp, err = e.client.Chat(ctx, req)
	}
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	span.SetAttributes(tracer.IntAttr("llm.tokens", resp.Usage.TotalTokens))
	tracer.SetOK(span)
	return resp, nil
}

func (s *Session) stream(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	reader, err := s.engine.client.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	for {
		delta, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("stream ended without a final response")
		}
		if err != nil {
			return nil, err
		}

		if delta.Reason != "" {
			s.emit(Event{Kind: EventReasoning, Text: delta.Reason})
		}
		if delta.Content != "" {
			s.emit(Event{Kind: EventDelta, Text: delta.Content})
		}
		if delta.Done {
			if delta.Response == nil {
				return nil, errors.New("stream finished without a response")
			}
			return delta.Response, nil
		}
	}
}

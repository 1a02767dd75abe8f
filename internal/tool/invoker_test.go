package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolcal/internal/hook"
)

func newTestInvoker(t *testing.T) *Invoker {
	t.Helper()

	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "get_date"}, func(context.Context, Args) (any, error) {
		return "2024-05-01", nil
	}))
	require.NoError(t, r.Register(dateSpec(), func(_ context.Context, args Args) (any, error) {
		if args.String("end_date") < args.String("start_date") {
			return nil, fmt.Errorf("%w: end_date is before start_date", ErrInvalidArgument)
		}
		return []map[string]any{{"summary": "Standup", "start": args.String("start_date")}}, nil
	}))
	require.NoError(t, r.Register(Spec{Name: "broken"}, func(context.Context, Args) (any, error) {
		return nil, errors.New("calendar unavailable")
	}))
	require.NoError(t, r.Register(Spec{Name: "panicky"}, func(context.Context, Args) (any, error) {
		panic("kaboom")
	}))
	require.NoError(t, r.Register(Spec{Name: "empty"}, func(context.Context, Args) (any, error) {
		return nil, nil
	}))

	return NewInvoker(r)
}

func TestInvokeSuccess(t *testing.T) {
	inv := newTestInvoker(t)

	res := inv.Invoke(context.Background(), Call{ID: "c1", Name: "get_date", Arguments: json.RawMessage(`{}`)})
	require.True(t, res.OK())
	assert.Equal(t, "c1", res.CallID)
	assert.Equal(t, "get_date", res.ToolName)
	assert.Equal(t, "2024-05-01", res.Value)
	assert.Equal(t, "2024-05-01", res.Content())
}

func TestInvokeNormalizesRecords(t *testing.T) {
	inv := newTestInvoker(t)

	res := inv.Invoke(context.Background(), Call{
		ID:        "c2",
		Name:      "get_calendar_events",
		Arguments: json.RawMessage(`{"start_date":"2024-05-06","end_date":"2024-05-12"}`),
	})
	require.True(t, res.OK(), res.Content())
	assert.Equal(t, []any{map[string]any{"summary": "Standup", "start": "2024-05-06"}}, res.Value)
	assert.JSONEq(t, `[{"summary":"Standup","start":"2024-05-06"}]`, res.Content())
}

func TestInvokeEmptyResultIsEmptySequence(t *testing.T) {
	inv := newTestInvoker(t)

	res := inv.Invoke(context.Background(), Call{ID: "c", Name: "empty"})
	require.True(t, res.OK())
	assert.Equal(t, "[]", res.Content())
}

func TestInvokeFailures(t *testing.T) {
	tests := []struct {
		name string
		call Call
		kind FailureKind
		msg  string
	}{
		{
			name: "unknown tool",
			call: Call{ID: "c", Name: "delete_everything"},
			kind: FailureUnknownTool,
			msg:  "tool delete_everything not found",
		},
		{
			name: "missing required argument",
			call: Call{ID: "c", Name: "get_calendar_events", Arguments: json.RawMessage(`{"start_date":"2024-05-06"}`)},
			kind: FailureInvalidArguments,
			msg:  `parameter "end_date": required parameter is missing`,
		},
		{
			name: "implementation rejects argument",
			call: Call{ID: "c", Name: "get_calendar_events", Arguments: json.RawMessage(`{"start_date":"2024-05-06","end_date":"2024-05-01"}`)},
			kind: FailureInvalidArguments,
			msg:  "invalid argument: end_date is before start_date",
		},
		{
			name: "implementation error",
			call: Call{ID: "c", Name: "broken"},
			kind: FailureExecution,
			msg:  "calendar unavailable",
		},
		{
			name: "implementation panic",
			call: Call{ID: "c", Name: "panicky"},
			kind: FailureExecution,
			msg:  "tool panicked: kaboom",
		},
	}

	inv := newTestInvoker(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := inv.Invoke(context.Background(), tt.call)
			require.False(t, res.OK())
			assert.Equal(t, tt.kind, res.Failure.Kind)
			assert.Equal(t, tt.msg, res.Failure.Message)
			assert.Equal(t, fmt.Sprintf("ERROR (%s): %s", tt.kind, tt.msg), res.Content())
		})
	}
}

type recordingHook struct {
	mu     sync.Mutex
	allow  bool
	points []hook.HookPoint
	data   []*hook.HookData
}

func (h *recordingHook) Name() string { return "recording" }
func (h *recordingHook) Points() []hook.HookPoint {
	return []hook.HookPoint{hook.BeforeToolExecution, hook.AfterToolExecution}
}
func (h *recordingHook) Priority() int { return 1 }

func (h *recordingHook) Handle(_ context.Context, data *hook.HookData) (*hook.Feedback, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.points = append(h.points, data.Point)
	h.data = append(h.data, data)
	if data.Point == hook.BeforeToolExecution && !h.allow {
		return hook.DenyFeedback("not today"), nil
	}
	return hook.AllowFeedback(), nil
}

func TestInvokeRunsHooks(t *testing.T) {
	inv := newTestInvoker(t)
	rec := &recordingHook{allow: true}
	m := hook.NewManager()
	m.Register(rec)
	inv.SetHookManager(m)

	res := inv.Invoke(context.Background(), Call{ID: "c9", Name: "broken"})
	require.False(t, res.OK())

	assert.Equal(t, []hook.HookPoint{hook.BeforeToolExecution, hook.AfterToolExecution}, rec.points)
	after := rec.data[1]
	assert.Equal(t, "c9", after.GetString("call_id"))
	assert.False(t, after.GetBool("success"))
	assert.Equal(t, "calendar unavailable", after.GetString("error"))
}

func TestInvokeDeniedByHook(t *testing.T) {
	inv := newTestInvoker(t)
	rec := &recordingHook{allow: false}
	m := hook.NewManager()
	m.Register(rec)
	inv.SetHookManager(m)

	res := inv.Invoke(context.Background(), Call{ID: "c", Name: "get_date"})
	require.False(t, res.OK())
	assert.Equal(t, FailureExecution, res.Failure.Kind)
	assert.Equal(t, "tool execution was denied: not today", res.Failure.Message)
	assert.Equal(t, []hook.HookPoint{hook.BeforeToolExecution}, rec.points)
}

func TestInvokeSkipsHooksForBadCalls(t *testing.T) {
	inv := newTestInvoker(t)
	rec := &recordingHook{allow: true}
	m := hook.NewManager()
	m.Register(rec)
	inv.SetHookManager(m)

	inv.Invoke(context.Background(), Call{ID: "c", Name: "nope"})
	inv.Invoke(context.Background(), Call{ID: "c", Name: "get_date", Arguments: json.RawMessage(`{"x":1}`)})
	assert.Empty(t, rec.points)
}

func TestCallResultDuration(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cr := &CallResult{StartTime: start, EndTime: start.Add(250 * time.Millisecond)}
	assert.Equal(t, 250*time.Millisecond, cr.Duration())
}

package agent

import (
	"time"

	"toolcal/internal/llm"
	"toolcal/internal/logger"
	"toolcal/internal/tool"
)

// ExecutionContext tracks one turn in flight: the messages it has produced so
// far, the round counter and the tool calls made. Nothing in it reaches the
// session log until the turn commits.
type ExecutionContext struct {
	Logger    *logger.Logger
	StartTime time.Time
	Round     int
	MaxRounds int
	Pending   []llm.Message
	ToolCalls []*tool.CallResult
	Usage     llm.Usage
}

func NewExecutionContext(log *logger.Logger, maxRounds int) *ExecutionContext {
	return &ExecutionContext{
		Logger:    log,
		StartTime: time.Now(),
		MaxRounds: maxRounds,
	}
}

// NextRound advances the round counter and reports whether this is the last
// round the model may use.
func (ctx *ExecutionContext) NextRound() (last bool) {
	ctx.Round++
	ctx.Logger.Debug("round %d/%d: calling model", ctx.Round, ctx.MaxRounds)
	return ctx.Round >= ctx.MaxRounds
}

func (ctx *ExecutionContext) Append(msgs ...llm.Message) {
	ctx.Pending = append(ctx.Pending, msgs...)
}

func (ctx *ExecutionContext) RecordResults(results []*tool.CallResult) {
	ctx.ToolCalls = append(ctx.ToolCalls, results...)
	for _, r := range results {
		if !r.Result.OK() {
			ctx.Logger.Debug("tool %s failed (%s): %s", r.Call.Name, r.Result.Failure.Kind, r.Result.Failure.Message)
		}
	}
}

// Discard drops everything the turn produced.
func (ctx *ExecutionContext) Discard(reason error) {
	ctx.Logger.Debug("discarding %d pending message(s): %v", len(ctx.Pending), reason)
	ctx.Pending = nil
}

func (ctx *ExecutionContext) Elapsed() time.Duration {
	return time.Since(ctx.StartTime)
}

package tool

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
)

// ParseExecutionMode maps a config value onto a mode; empty means parallel.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(s) {
	case "", ExecutionModeParallel:
		return ExecutionModeParallel, nil
	case ExecutionModeSequential:
		return ExecutionModeSequential, nil
	}
	return "", fmt.Errorf("unknown tool execution mode %q (want parallel or sequential)", s)
}

// Executor dispatches every call of one model turn through an Invoker and
// returns the results in request order once all of them have completed.
type Executor struct {
	invoker *Invoker
	mode    ExecutionMode
}

func NewExecutor(invoker *Invoker) *Executor {
	return &Executor{
		invoker: invoker,
		mode:    ExecutionModeParallel,
	}
}

func (e *Executor) SetMode(mode ExecutionMode) {
	e.mode = mode
}

func (e *Executor) Execute(ctx context.Context, calls []Call) []*CallResult {
	switch e.mode {
	case ExecutionModeSequential:
		return e.ExecuteSequential(ctx, calls)
	default:
		return e.ExecuteParallel(ctx, calls)
	}
}

// ExecuteSequential executes calls one by one in order
func (e *Executor) ExecuteSequential(ctx context.Context, calls []Call) []*CallResult {
	results := make([]*CallResult, len(calls))
	for i, c := range calls {
		results[i] = e.executeOne(ctx, c)
	}
	return results
}

// ExecuteParallel executes all calls concurrently
func (e *Executor) ExecuteParallel(ctx context.Context, calls []Call) []*CallResult {
	results := make([]*CallResult, len(calls))

	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(idx int, call Call) {
			defer wg.Done()
			results[idx] = e.executeOne(ctx, call)
		}(i, c)
	}

	wg.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, call Call) *CallResult {
	startTime := time.Now()
	result := e.invoker.Invoke(ctx, call)

	return &CallResult{
		Call:      call,
		Result:    result,
		StartTime: startTime,
		EndTime:   time.Now(),
	}
}

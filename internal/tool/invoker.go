package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"toolcal/internal/hook"
	"toolcal/internal/tracer"
)

// Invoker resolves a call against the registry, validates its arguments and
// runs the implementation. Invoke always returns a Result; failures are values,
// never errors or panics.
type Invoker struct {
	registry    *Registry
	hookManager *hook.Manager
}

func NewInvoker(registry *Registry) *Invoker {
	return &Invoker{registry: registry}
}

// SetHookManager sets the hook manager for tool execution hooks
func (i *Invoker) SetHookManager(manager *hook.Manager) {
	i.hookManager = manager
}

func (i *Invoker) Registry() *Registry {
	return i.registry
}

func (i *Invoker) Invoke(ctx context.Context, call Call) (result *Result) {
	ctx, span := tracer.StartSpan(ctx, "tool.invoke",
		trace.WithAttributes(
			tracer.StringAttr("tool.name", call.Name),
			tracer.StringAttr("tool.call_id", call.ID),
		),
	)
	defer func() {
		if result.OK() {
			tracer.SetOK(span)
		} else {
			tracer.RecordError(span, errors.New(result.Content()))
		}
		span.End()
	}()

	entry, err := i.registry.Lookup(call.Name)
	if err != nil {
		return Fail(call.ID, call.Name, FailureUnknownTool, err.Error())
	}

	args, err := BindArgs(entry.Spec, call.Arguments)
	if err != nil {
		return Fail(call.ID, call.Name, FailureInvalidArguments, err.Error())
	}

	if i.hookManager != nil {
		hookData := hook.NewHookData(hook.BeforeToolExecution, call.Name).
			Set(hook.KeyCallID, call.ID).
			Set(hook.KeyParams, string(call.Arguments))

		feedback, err := i.hookManager.Trigger(ctx, hookData)
		if err != nil {
			return Fail(call.ID, call.Name, FailureExecution, fmt.Sprintf("hook error: %v", err))
		}
		if !feedback.Allow {
			return Fail(call.ID, call.Name, FailureExecution,
				fmt.Sprintf("tool execution was denied: %s", feedback.Message))
		}
	}

	startTime := time.Now()
	value, err := i.run(ctx, entry.Func, args)

	if err != nil {
		kind := FailureExecution
		if errors.Is(err, ErrInvalidArgument) {
			kind = FailureInvalidArguments
		}
		result = Fail(call.ID, call.Name, kind, err.Error())
	} else {
		result = Success(call.ID, call.Name, Normalize(value))
	}

	if i.hookManager != nil {
		hookData := hook.NewHookData(hook.AfterToolExecution, call.Name).
			Set(hook.KeyCallID, call.ID).
			Set(hook.KeyParams, string(call.Arguments)).
			Set(hook.KeySuccess, result.OK()).
			Set(hook.KeyDuration, time.Since(startTime))
		if !result.OK() {
			hookData.Set(hook.KeyError, result.Failure.Message)
		}

		// After hooks observe only
		_ = i.hookManager.Notify(ctx, hookData)
	}

	return result
}

// run calls fn, converting a panic into an error.
func (i *Invoker) run(ctx context.Context, fn Func, args Args) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	return fn(ctx, args)
}

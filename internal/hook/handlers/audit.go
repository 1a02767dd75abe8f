package handlers

import (
	"context"

	"toolcal/internal/hook"
	"toolcal/internal/logger"
)

// AuditHandler writes a debug line for every finished tool call and turn.
type AuditHandler struct {
	log *logger.Logger
}

func NewAuditHandler(log *logger.Logger) *AuditHandler {
	return &AuditHandler{log: log}
}

func (h *AuditHandler) Name() string {
	return "audit"
}

func (h *AuditHandler) Points() []hook.HookPoint {
	return []hook.HookPoint{hook.AfterToolExecution, hook.OnTurnStart, hook.OnTurnEnd}
}

func (h *AuditHandler) Priority() int {
	return 0
}

func (h *AuditHandler) Handle(_ context.Context, data *hook.HookData) (*hook.Feedback, error) {
	switch data.Point {
	case hook.AfterToolExecution:
		if data.GetBool(hook.KeySuccess) {
			h.log.Debug("tool %s (%s) finished in %s",
				data.ToolName, data.GetString(hook.KeyCallID), data.GetDuration(hook.KeyDuration))
		} else {
			h.log.Debug("tool %s (%s) failed after %s: %s",
				data.ToolName, data.GetString(hook.KeyCallID), data.GetDuration(hook.KeyDuration), data.GetString(hook.KeyError))
		}
	case hook.OnTurnStart:
		h.log.Debug("turn started in session %s", data.GetString(hook.KeySessionID))
	case hook.OnTurnEnd:
		h.log.Debug("turn ended in session %s: %s", data.GetString(hook.KeySessionID), data.GetString(hook.KeyOutcome))
	}
	return hook.AllowFeedback(), nil
}

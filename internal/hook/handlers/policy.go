package handlers

import (
	"context"

	"toolcal/internal/hook"
)

// DenyHandler refuses the listed tools without asking. Surfaces that cannot
// prompt (the TUI, the MCP server) install it in place of ToolConfirmHandler.
type DenyHandler struct {
	reason    string
	toolNames map[string]bool
}

func NewDenyHandler(reason string, tools ...string) *DenyHandler {
	toolNames := make(map[string]bool, len(tools))
	for _, t := range tools {
		toolNames[t] = true
	}
	return &DenyHandler{reason: reason, toolNames: toolNames}
}

func (h *DenyHandler) Name() string {
	return "tool_deny"
}

func (h *DenyHandler) Points() []hook.HookPoint {
	return []hook.HookPoint{hook.BeforeToolExecution}
}

func (h *DenyHandler) Priority() int {
	return 200
}

func (h *DenyHandler) Handle(_ context.Context, data *hook.HookData) (*hook.Feedback, error) {
	if h.toolNames[data.ToolName] {
		return hook.DenyFeedback(h.reason), nil
	}
	return hook.AllowFeedback(), nil
}

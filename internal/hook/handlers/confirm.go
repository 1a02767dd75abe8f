package handlers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"toolcal/internal/hook"
)

// ToolConfirmHandler asks the user before a tool runs. Parallel calls are
// prompted one at a time.
type ToolConfirmHandler struct {
	mu        sync.Mutex
	reader    *bufio.Reader
	writer    io.Writer
	toolNames map[string]bool // Only confirm these tools (empty = all)
}

// NewToolConfirmHandler creates a handler prompting on stdin/stdout.
func NewToolConfirmHandler(tools ...string) *ToolConfirmHandler {
	return NewToolConfirmHandlerWithIO(bufio.NewReader(os.Stdin), os.Stdout, tools...)
}

// NewToolConfirmHandlerWithIO creates a handler with custom IO. Pass the same
// reader the REPL reads from so buffered input is not lost between them.
func NewToolConfirmHandlerWithIO(reader io.Reader, writer io.Writer, tools ...string) *ToolConfirmHandler {
	br, ok := reader.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(reader)
	}

	toolNames := make(map[string]bool, len(tools))
	for _, t := range tools {
		toolNames[t] = true
	}
	return &ToolConfirmHandler{
		reader:    br,
		writer:    writer,
		toolNames: toolNames,
	}
}

func (h *ToolConfirmHandler) Name() string {
	return "tool_confirm"
}

func (h *ToolConfirmHandler) Points() []hook.HookPoint {
	return []hook.HookPoint{hook.BeforeToolExecution}
}

func (h *ToolConfirmHandler) Priority() int {
	return 100
}

func (h *ToolConfirmHandler) Handle(ctx context.Context, data *hook.HookData) (*hook.Feedback, error) {
	if len(h.toolNames) > 0 && !h.toolNames[data.ToolName] {
		return hook.AllowFeedback(), nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fmt.Fprintf(h.writer, "\n⚠️  Tool '%s' requires confirmation\n", data.ToolName)
	if params := data.GetString(hook.KeyParams); params != "" {
		fmt.Fprintf(h.writer, "    Arguments: %s\n", params)
	}
	fmt.Fprint(h.writer, "Allow? [y/N]: ")

	line, err := h.reader.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(h.writer)
		return hook.DenyFeedback("no confirmation received"), nil
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		fmt.Fprint(h.writer, "✓ Allowed\n\n")
		return hook.AllowFeedback(), nil
	default:
		fmt.Fprint(h.writer, "✗ Denied\n\n")
		return hook.DenyFeedback("user denied tool execution"), nil
	}
}

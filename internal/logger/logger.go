package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
)

// Level represents the log level
type Level int

const (
	LevelDebug Level = iota // Debug information (only shown with --verbose)
	LevelInfo               // Important steps
	LevelTool               // Tool call related
	LevelAgent              // Assistant replies and reasoning
	LevelWarn               // Recoverable problems
	LevelError              // Error messages
)

// ParseLevel maps a config value onto a Level. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "tool":
		return LevelTool, nil
	case "agent":
		return LevelAgent, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

const (
	// Tool output shown in a result section is capped at this many lines
	// and this many cells.
	maxResultLines = 2
	maxResultWidth = 500

	separatorWidth = 60
	bannerWidth    = 70
)

type styles struct {
	debug, info, warn, errl lipgloss.Style
	tool, result, failed    lipgloss.Style
	agent, reasoning        lipgloss.Style
	header                  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		debug:     r.NewStyle().Foreground(lipgloss.Color("8")),
		info:      r.NewStyle().Foreground(lipgloss.Color("4")),
		warn:      r.NewStyle().Foreground(lipgloss.Color("3")),
		errl:      r.NewStyle().Foreground(lipgloss.Color("1")),
		tool:      r.NewStyle().Foreground(lipgloss.Color("6")),
		result:    r.NewStyle().Foreground(lipgloss.Color("2")),
		failed:    r.NewStyle().Foreground(lipgloss.Color("1")),
		agent:     r.NewStyle().Foreground(lipgloss.Color("2")),
		reasoning: r.NewStyle().Foreground(lipgloss.Color("5")).Italic(true),
		header:    r.NewStyle().Bold(true),
	}
}

// Logger writes human-oriented, sectioned output for the assistant. It is
// safe for concurrent use; tool results from parallel calls never interleave.
type Logger struct {
	mu        sync.Mutex
	writer    io.Writer
	level     Level
	showTime  bool
	colorMode bool
	styles    styles
	now       func() time.Time
}

// NewLogger creates a new Logger instance
func NewLogger(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		writer:    w,
		level:     level,
		showTime:  true,
		colorMode: true,
		styles:    newStyles(lipgloss.NewRenderer(w)),
		now:       time.Now,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewLogger(io.Discard, LevelError+1)
}

// SetColorMode enables or disables colored output
func (l *Logger) SetColorMode(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.colorMode = enabled
}

// SetShowTime enables or disables timestamp display
func (l *Logger) SetShowTime(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.showTime = enabled
}

func (l *Logger) Level() Level {
	return l.level
}

func (l *Logger) Writer() io.Writer {
	return l.writer
}

// Debug logs debug information (only shown in verbose mode)
func (l *Logger) Debug(format string, args ...any) {
	if l.level <= LevelDebug {
		l.log(l.styles.debug, "DEBUG", format, args...)
	}
}

// Info logs general information
func (l *Logger) Info(format string, args ...any) {
	if l.level <= LevelInfo {
		l.log(l.styles.info, "INFO", format, args...)
	}
}

func (l *Logger) Warn(format string, args ...any) {
	if l.level <= LevelWarn {
		l.log(l.styles.warn, "WARN", format, args...)
	}
}

// Error logs error messages
func (l *Logger) Error(format string, args ...any) {
	if l.level <= LevelError {
		l.log(l.styles.errl, "ERROR", format, args...)
	}
}

// AgentReasoning logs reasoning text the model emitted alongside its reply.
func (l *Logger) AgentReasoning(content string) {
	if l.level <= LevelAgent && strings.TrimSpace(content) != "" {
		l.printSection(l.styles.reasoning, "💭 Reasoning", content)
	}
}

// AgentResponse logs the assistant's final reply
func (l *Logger) AgentResponse(content string) {
	if l.level <= LevelAgent {
		l.printSection(l.styles.agent, "💬 Assistant", content)
	}
}

// ToolCall logs a tool call with its arguments
func (l *Logger) ToolCall(toolName string, params string) {
	if l.level <= LevelTool {
		l.printSection(l.styles.tool, fmt.Sprintf("🔧 Tool Call: %s", toolName), formatJSON(params))
	}
}

// ToolResult logs a tool execution result
func (l *Logger) ToolResult(toolName string, success bool, output string, duration time.Duration) {
	if l.level > LevelTool {
		return
	}

	status := "✅ Success"
	style := l.styles.result
	if !success {
		status = "❌ Failed"
		style = l.styles.failed
	}

	header := fmt.Sprintf("📊 Tool Result: %s [%s] (%s)", toolName, status, duration.Round(time.Millisecond))
	l.printSection(style, header, clip(output))
}

// SessionStart logs the beginning of a conversation session
func (l *Logger) SessionStart(title string) {
	if l.level <= LevelInfo {
		l.printBanner(l.styles.tool, "🚀 Session Started", title)
	}
}

// SessionEnd logs the completion of a session with statistics
func (l *Logger) SessionEnd(duration time.Duration, turns, toolCalls int) {
	if l.level <= LevelInfo {
		summary := fmt.Sprintf("Duration: %s | Turns: %d | Tool Calls: %d",
			duration.Round(time.Millisecond), turns, toolCalls)
		l.printBanner(l.styles.result, "✨ Session Completed", summary)
	}
}

func (l *Logger) render(style lipgloss.Style, s string) string {
	if !l.colorMode {
		return s
	}
	return style.Render(s)
}

// log is the core logging method
func (l *Logger) log(style lipgloss.Style, level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := ""
	if l.showTime {
		timestamp = l.now().Format("15:04:05") + " "
	}

	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.writer, "%s %s\n", l.render(style, timestamp+"["+level+"]"), msg)
}

// printSection prints a formatted section with header and content
func (l *Logger) printSection(style lipgloss.Style, header, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	separator := strings.Repeat("─", separatorWidth)
	fmt.Fprintf(l.writer, "\n%s\n%s\n%s\n%s\n\n",
		l.render(style.Inherit(l.styles.header), header),
		l.render(style, separator),
		content,
		l.render(style, separator),
	)
}

// printBanner prints a prominent banner for session start/end
func (l *Logger) printBanner(style lipgloss.Style, title, subtitle string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	separator := l.render(style.Inherit(l.styles.header), strings.Repeat("═", bannerWidth))
	fmt.Fprintf(l.writer, "\n%s\n  %s\n", separator, l.render(style.Inherit(l.styles.header), title))
	if subtitle != "" {
		fmt.Fprintf(l.writer, "  %s\n", l.render(style, subtitle))
	}
	fmt.Fprintf(l.writer, "%s\n\n", separator)
}

// clip keeps at most maxResultLines lines and maxResultWidth cells of output.
func clip(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	clipped := strings.Join(lines[:min(len(lines), maxResultLines)], "\n")

	truncated := truncate.StringWithTail(clipped, maxResultWidth, "...")
	if truncated == clipped && len(lines) > maxResultLines {
		truncated += "\n..."
	}
	return truncated
}

// formatJSON keeps short JSON compact and pretty-prints anything longer.
func formatJSON(jsonStr string) string {
	compact := strings.TrimSpace(jsonStr)
	if len(compact) < 80 {
		return compact
	}

	var obj any
	if err := json.Unmarshal([]byte(compact), &obj); err != nil {
		return compact
	}

	pretty, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return compact
	}
	return string(pretty)
}

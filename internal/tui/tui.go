package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cast"

	"toolcal/internal/agent"
)

const (
	minInputHeight = 2
	maxInputHeight = 6
	headerHeight   = 1
	footerHeight   = 2

	panelWidth    = 26
	minPanelTotal = 70 // narrower windows hide the date panel

	maxToolLine = 300
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelUserStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelBotStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("34"))
	labelToolStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	labelReasonStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("244"))
	bodyToolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	bodyFailedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	bodyReasonStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	hintStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dividerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	panelStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	panelDateStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("34"))
)

type msgKind int

const (
	msgUser msgKind = iota
	msgAssistant
	msgTool
	msgToolFailed
	msgReasoning
)

type chatMessage struct {
	kind msgKind
	text string
}

// eventMsg carries one engine event into the update loop.
type eventMsg struct{ ev agent.Event }

// turnDoneMsg arrives after every event of the turn.
type turnDoneMsg struct {
	reply *agent.Reply
	err   error
}

// Conversation is the part of an agent.Session the panel drives.
type Conversation interface {
	Send(ctx context.Context, text string) (*agent.Reply, error)
	Subscribe(o agent.Observer)
}

type Options struct {
	Title string
	// Today seeds the date panel until get_date reports.
	Today string
	// MarkdownStyle is a glamour style name; empty picks one from the terminal.
	MarkdownStyle string
}

// Model is the bubbletea model of the chat panel.
type Model struct {
	conv  Conversation
	opts  Options
	inbox chan tea.Msg
	done  chan struct{}

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	messages         []chatMessage
	partialResponse  string
	partialReasoning string
	generating       bool
	state            agent.State
	errMsg           string
	cancel           context.CancelFunc

	today       string
	lastRange   string
	lastMatches int
	toolCalls   int

	md              *glamour.TermRenderer
	mdWidth         int
	renderedHistory string
	cachedMsgCount  int
	cachedWidth     int

	stickToBottom bool

	width  int
	height int
}

// New subscribes to conv. The subscription lives as long as conv; events
// that arrive after Run returns are dropped.
func New(conv Conversation, opts Options) Model {
	if opts.Title == "" {
		opts.Title = "toolcal • calendar"
	}

	ta := textarea.New()
	ta.Placeholder = "Ask about your calendar..."
	ta.Focus()
	ta.CharLimit = 0
	ta.SetHeight(minInputHeight)
	ta.SetWidth(0)
	ta.ShowLineNumbers = false
	ta.Prompt = ""

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))

	m := Model{
		conv:          conv,
		opts:          opts,
		inbox:         make(chan tea.Msg, 64),
		done:          make(chan struct{}),
		textarea:      ta,
		viewport:      viewport.New(0, 0),
		spinner:       s,
		messages:      []chatMessage{},
		state:         agent.StateAwaitingUserInput,
		today:         opts.Today,
		stickToBottom: true,
	}
	conv.Subscribe(m.forward)
	return m
}

// Run starts the panel on the alternate screen.
func Run(conv Conversation, opts Options) error {
	m := New(conv, opts)
	defer close(m.done)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (m Model) forward(ev agent.Event) {
	select {
	case m.inbox <- eventMsg{ev: ev}:
	case <-m.done:
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.syncSizes()
		m.updateViewport()
		return m, nil
	case tea.KeyMsg:
		return m.updateKey(msg)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case eventMsg:
		m.applyEvent(msg.ev)
		m.updateViewport()
		return m, m.waitForEvent()
	case turnDoneMsg:
		m.finishTurn(msg.err)
		m.updateViewport()
		return m, nil
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	m.syncInputHeight()
	m.updateViewport()
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.opts.Title))
	b.WriteString("\n\n")
	if m.showPanel() {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.viewport.View(), m.renderPanel()))
	} else {
		b.WriteString(m.viewport.View())
	}
	b.WriteString("\n")
	b.WriteString(renderDivider(m.width))
	b.WriteString("\n")
	b.WriteString(m.textarea.View())
	b.WriteString("\n")

	hint := "Enter to send • Alt+Enter for newline • Esc to cancel • :q to quit • Ctrl+C"
	if m.generating {
		hint = fmt.Sprintf("%s %s • Esc to cancel", m.spinner.View(), strings.ReplaceAll(string(m.state), "_", " "))
	}
	if m.errMsg != "" {
		hint = errorStyle.Render(fmt.Sprintf("Error: %s", m.errMsg))
	}
	b.WriteString(hintStyle.Render(hint))

	return b.String()
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.cancelTurn()
		return m, tea.Quit
	case tea.KeyEsc:
		m.cancelTurn()
		return m, nil
	case tea.KeyPgUp:
		m.viewport.PageUp()
		m.updateStickiness()
		return m, nil
	case tea.KeyPgDown:
		m.viewport.PageDown()
		m.updateStickiness()
		return m, nil
	case tea.KeyShiftUp:
		m.viewport.LineUp(1)
		m.updateStickiness()
		return m, nil
	case tea.KeyShiftDown:
		m.viewport.LineDown(1)
		m.updateStickiness()
		return m, nil
	case tea.KeyEnter:
		if msg.Alt {
			m.textarea.InsertString("\n")
			m.syncInputHeight()
			m.updateViewport()
			return m, nil
		}
		return m.submitInput()
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	m.syncInputHeight()
	m.updateViewport()
	return m, cmd
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	if m.generating {
		return m, nil
	}

	input := strings.TrimSpace(m.textarea.Value())
	if input == "" {
		return m, nil
	}

	switch input {
	case ":q", "quit", "exit":
		return m, tea.Quit
	}

	m.messages = append(m.messages, chatMessage{kind: msgUser, text: input})
	m.textarea.Reset()
	m.partialResponse = ""
	m.partialReasoning = ""
	m.generating = true
	m.errMsg = ""
	m.stickToBottom = true
	m.syncInputHeight()
	m.updateViewport()

	return m, tea.Batch(m.startTurn(input), m.spinner.Tick)
}

// startTurn runs the turn in the background; its events and the final
// turnDoneMsg are delivered in order through the inbox.
func (m *Model) startTurn(input string) tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go func() {
		reply, err := m.conv.Send(ctx, input)
		select {
		case m.inbox <- turnDoneMsg{reply: reply, err: err}:
		case <-m.done:
		}
	}()

	return m.waitForEvent()
}

func (m Model) waitForEvent() tea.Cmd {
	inbox, done := m.inbox, m.done
	return func() tea.Msg {
		select {
		case msg := <-inbox:
			return msg
		case <-done:
			return nil
		}
	}
}

func (m *Model) cancelTurn() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Model) applyEvent(ev agent.Event) {
	switch ev.Kind {
	case agent.EventState:
		m.state = ev.State
	case agent.EventReasoning:
		m.partialReasoning += ev.Text
	case agent.EventDelta:
		m.partialResponse += ev.Text
	case agent.EventToolCall:
		m.flushReasoning()
		m.partialResponse = ""
		line := fmt.Sprintf("%s(%s)", ev.Call.Name, strings.TrimSpace(string(ev.Call.Arguments)))
		m.messages = append(m.messages, chatMessage{kind: msgTool, text: truncate.StringWithTail(line, maxToolLine, "…")})
	case agent.EventResult:
		m.applyResult(ev)
	case agent.EventReply:
		m.flushReasoning()
		if ev.Reply.Reasoning != "" && !m.hasReasoning() {
			m.messages = append(m.messages, chatMessage{kind: msgReasoning, text: ev.Reply.Reasoning})
		}
		m.messages = append(m.messages, chatMessage{kind: msgAssistant, text: ev.Reply.Content})
		m.partialResponse = ""
	case agent.EventError:
		m.flushReasoning()
		m.partialResponse = ""
		if errors.Is(ev.Err, context.Canceled) {
			m.errMsg = "turn cancelled"
			return
		}
		m.errMsg = ev.Err.Error()
	}
}

// applyResult records a tool result and keeps the date panel current.
func (m *Model) applyResult(ev agent.Event) {
	r := ev.Result
	m.toolCalls++

	kind := msgTool
	if !r.Result.OK() {
		kind = msgToolFailed
	}
	m.messages = append(m.messages, chatMessage{
		kind: kind,
		text: truncate.StringWithTail("→ "+r.Result.Content(), maxToolLine, "…"),
	})

	if !r.Result.OK() {
		return
	}
	switch r.Call.Name {
	case "get_date":
		if today := cast.ToString(r.Result.Value); today != "" {
			m.today = today
		}
	case "get_calendar_events":
		m.lastMatches = len(cast.ToSlice(r.Result.Value))
		m.lastRange = rangeFromArgs(string(r.Call.Arguments))
	}
}

func (m *Model) hasReasoning() bool {
	for i := len(m.messages) - 1; i >= 0; i-- {
		switch m.messages[i].kind {
		case msgReasoning:
			return true
		case msgUser:
			return false
		}
	}
	return false
}

func (m *Model) flushReasoning() {
	if strings.TrimSpace(m.partialReasoning) != "" {
		m.messages = append(m.messages, chatMessage{kind: msgReasoning, text: m.partialReasoning})
	}
	m.partialReasoning = ""
}

func (m *Model) finishTurn(err error) {
	m.generating = false
	m.state = agent.StateAwaitingUserInput
	m.cancelTurn()
	if err != nil && m.errMsg == "" {
		m.errMsg = err.Error()
	}
}

func (m Model) showPanel() bool {
	return m.width >= minPanelTotal
}

func (m Model) renderPanel() string {
	today := m.today
	if today == "" {
		today = "unknown"
	}

	var b strings.Builder
	b.WriteString(labelReasonStyle.Render("📅 Today"))
	b.WriteString("\n")
	b.WriteString(panelDateStyle.Render(today))
	if m.lastRange != "" {
		b.WriteString("\n\n")
		b.WriteString(labelReasonStyle.Render("Last lookup"))
		b.WriteString("\n")
		b.WriteString(m.lastRange)
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%d event(s)", m.lastMatches))
	}
	b.WriteString("\n\n")
	b.WriteString(hintStyle.Render(fmt.Sprintf("%d tool call(s)", m.toolCalls)))

	return panelStyle.Width(panelWidth - 2).Height(max(m.viewport.Height-2, 1)).Render(b.String())
}

func (m *Model) syncSizes() {
	m.textarea.SetWidth(m.width)
	m.syncInputHeight()
}

func (m *Model) syncInputHeight() {
	height := clamp(m.textarea.LineCount(), minInputHeight, maxInputHeight)
	m.textarea.SetHeight(height)

	if m.width > 0 && m.height > 0 {
		chatHeight := m.height - headerHeight - footerHeight - height
		if chatHeight < 3 {
			chatHeight = 3
		}
		m.viewport.Height = chatHeight
		m.viewport.Width = m.chatWidth()
	}
}

func (m Model) chatWidth() int {
	if m.showPanel() {
		return m.width - panelWidth
	}
	return m.width
}

// updateViewport re-renders finished messages only when the message list or
// the width changed; the partial response is appended on every call.
func (m *Model) updateViewport() {
	if m.cachedMsgCount != len(m.messages) || m.cachedWidth != m.viewport.Width {
		var b strings.Builder
		for _, msg := range m.messages {
			b.WriteString(m.renderMessage(msg))
			b.WriteString("\n\n")
		}
		m.renderedHistory = b.String()
		m.cachedMsgCount = len(m.messages)
		m.cachedWidth = m.viewport.Width
	}

	content := m.renderedHistory
	if m.partialReasoning != "" {
		content += fmt.Sprintf("%s: %s\n\n", labelReasonStyle.Render("Reasoning"), bodyReasonStyle.Render(m.partialReasoning))
	}
	if m.partialResponse != "" {
		content += fmt.Sprintf("%s: %s", labelBotStyle.Render("Assistant"), m.partialResponse)
	}

	content = strings.TrimRight(content, "\n")
	if m.viewport.Width > 0 {
		content = wrapContent(content, m.viewport.Width)
	}
	m.viewport.SetContent(content)
	if m.stickToBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessage(msg chatMessage) string {
	switch msg.kind {
	case msgUser:
		return fmt.Sprintf("%s: %s", labelUserStyle.Render("You"), msg.text)
	case msgAssistant:
		return fmt.Sprintf("%s:\n%s", labelBotStyle.Render("Assistant"), m.renderMarkdown(msg.text))
	case msgTool:
		return fmt.Sprintf("%s: %s", labelToolStyle.Render("Tool"), bodyToolStyle.Render(msg.text))
	case msgToolFailed:
		return fmt.Sprintf("%s: %s", labelToolStyle.Render("Tool"), bodyFailedStyle.Render(msg.text))
	case msgReasoning:
		return fmt.Sprintf("%s: %s", labelReasonStyle.Render("Reasoning"), bodyReasonStyle.Render(msg.text))
	}
	return msg.text
}

func (m *Model) renderMarkdown(content string) string {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	if m.md == nil || m.mdWidth != width {
		opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
		if m.opts.MarkdownStyle != "" {
			opts = append(opts, glamour.WithStandardStyle(m.opts.MarkdownStyle))
		} else {
			opts = append(opts, glamour.WithAutoStyle())
		}
		r, err := glamour.NewTermRenderer(opts...)
		if err != nil {
			return content
		}
		m.md, m.mdWidth = r, width
	}
	rendered, err := m.md.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(rendered, "\n")
}

func (m *Model) updateStickiness() {
	m.stickToBottom = m.viewport.AtBottom()
}

// rangeFromArgs formats the dates of a get_calendar_events call.
func rangeFromArgs(raw string) string {
	var args struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args.StartDate == "" {
		return ""
	}
	if args.EndDate == "" || args.EndDate == args.StartDate {
		return args.StartDate
	}
	return args.StartDate + " → " + args.EndDate
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func renderDivider(width int) string {
	w := width
	if w < 10 {
		w = 10
	}
	return dividerStyle.Render(strings.Repeat("─", w))
}

func wrapContent(s string, width int) string {
	if width <= 0 {
		return s
	}
	return wordwrap.String(s, width)
}

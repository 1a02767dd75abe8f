package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// StreamingWriter writes streamed model output as it arrives
type StreamingWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	colorMode bool
	dim       lipgloss.Style
	accent    lipgloss.Style
}

func NewStreamingWriter(w io.Writer) *StreamingWriter {
	if w == nil {
		w = os.Stdout
	}
	r := lipgloss.NewRenderer(w)
	return &StreamingWriter{
		writer:    w,
		colorMode: true,
		dim:       r.NewStyle().Foreground(lipgloss.Color("5")).Italic(true),
		accent:    r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
	}
}

func (sw *StreamingWriter) SetColorMode(enabled bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.colorMode = enabled
}

// Write writes content to the output
func (sw *StreamingWriter) Write(content string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	fmt.Fprint(sw.writer, content)
}

// WriteLine writes a line to the output
func (sw *StreamingWriter) WriteLine(content string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	fmt.Fprintln(sw.writer, content)
}

// WriteDim writes reasoning text, styled when color is on
func (sw *StreamingWriter) WriteDim(content string) {
	sw.writeStyled(sw.dim, content)
}

// WriteAccent writes a highlighted label
func (sw *StreamingWriter) WriteAccent(content string) {
	sw.writeStyled(sw.accent, content)
}

func (sw *StreamingWriter) writeStyled(style lipgloss.Style, content string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.colorMode {
		// Style line by line so a trailing newline is not padded
		lines := strings.Split(content, "\n")
		for i, l := range lines {
			if l != "" {
				lines[i] = style.Render(l)
			}
		}
		content = strings.Join(lines, "\n")
	}
	fmt.Fprint(sw.writer, content)
}

// StreamRenderer renders one streamed reply: reasoning first, then content.
// It remembers whether a line is left open so that interleaved log output
// starts on a fresh line.
type StreamRenderer struct {
	writer    *StreamingWriter
	open      bool
	reasoning bool
	content   bool
}

func NewStreamRenderer(writer *StreamingWriter) *StreamRenderer {
	return &StreamRenderer{writer: writer}
}

// RenderReasoning renders a reasoning fragment
func (sr *StreamRenderer) RenderReasoning(text string) {
	if text == "" {
		return
	}
	if !sr.reasoning {
		sr.Break()
		sr.writer.WriteDim("💭 ")
		sr.reasoning = true
	}
	sr.writer.WriteDim(text)
	sr.open = true
}

// RenderContent renders a reply fragment
func (sr *StreamRenderer) RenderContent(text string) {
	if text == "" {
		return
	}
	if !sr.content {
		sr.Break()
		sr.writer.WriteAccent("🤖 ")
		sr.content = true
	}
	sr.writer.Write(text)
	sr.open = true
}

// Streamed reports whether any reply content was rendered since Reset
func (sr *StreamRenderer) Streamed() bool {
	return sr.content
}

// Break ends an open line
func (sr *StreamRenderer) Break() {
	if sr.open {
		sr.writer.WriteLine("")
		sr.open = false
	}
}

// Reset ends the current reply so the next fragment starts a new one
func (sr *StreamRenderer) Reset() {
	sr.Break()
	sr.reasoning = false
	sr.content = false
}

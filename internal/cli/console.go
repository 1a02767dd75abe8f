package cli

import (
	"context"
	"errors"
	"io"
	"strings"

	"toolcal/internal/agent"
	"toolcal/internal/logger"
)

// Console prints a session's events as a transcript: streamed text goes
// straight to the writer, everything else through the logger.
type Console struct {
	log      *logger.Logger
	renderer *StreamRenderer
	writer   *StreamingWriter
}

func NewConsole(log *logger.Logger, w io.Writer) *Console {
	sw := NewStreamingWriter(w)
	return &Console{
		log:      log,
		renderer: NewStreamRenderer(sw),
		writer:   sw,
	}
}

func (c *Console) SetColorMode(enabled bool) {
	c.writer.SetColorMode(enabled)
}

// Observe is an agent.Observer.
func (c *Console) Observe(ev agent.Event) {
	switch ev.Kind {
	case agent.EventState:
		if ev.State == agent.StateModelGenerating {
			c.renderer.Reset()
		}
		c.log.Debug("state: %s", ev.State)

	case agent.EventReasoning:
		c.renderer.RenderReasoning(ev.Text)

	case agent.EventDelta:
		c.renderer.RenderContent(ev.Text)

	case agent.EventToolCall:
		c.renderer.Break()
		c.log.ToolCall(ev.Call.Name, string(ev.Call.Arguments))

	case agent.EventResult:
		r := ev.Result
		c.log.ToolResult(r.Call.Name, r.Result.OK(), r.Result.Content(), r.Duration())

	case agent.EventReply:
		c.reply(ev.Reply)

	case agent.EventError:
		c.renderer.Reset()
		if errors.Is(ev.Err, context.Canceled) {
			c.log.Warn("turn cancelled")
			return
		}
		c.log.Error("%v", ev.Err)
	}
}

func (c *Console) reply(r *agent.Reply) {
	reasoned, streamed := c.renderer.reasoning, c.renderer.Streamed()
	c.renderer.Reset()

	if r.Reasoning != "" && !reasoned {
		c.log.AgentReasoning(r.Reasoning)
	}
	if !streamed {
		c.log.AgentResponse(r.Content)
	} else if r.Truncated {
		c.writer.WriteLine(strings.TrimSpace(agent.TruncationMarker))
	}
	c.log.Debug("reply after %d round(s), %d tokens", r.Rounds, r.Usage.TotalTokens)
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"toolcal/internal/agent"
	"toolcal/internal/logger"
)

// Conversation is the part of an agent.Session the REPL drives.
type Conversation interface {
	Send(ctx context.Context, text string) (*agent.Reply, error)
	Stats() (elapsed time.Duration, turns, toolCalls int)
}

// InterruptFunc derives the context one turn runs under. The default cancels
// it on Ctrl-C, leaving the REPL itself running.
type InterruptFunc func(ctx context.Context) (context.Context, context.CancelFunc)

func interruptOnSignal(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}

// REPL reads one question per line and sends it as a turn. Output comes from
// the session's observers, so the REPL only writes its prompt.
type REPL struct {
	conv      Conversation
	log       *logger.Logger
	in        *bufio.Reader
	out       io.Writer
	prompt    string
	interrupt InterruptFunc
}

// NewREPL reads from in. Share in with any hook that also prompts the user.
func NewREPL(conv Conversation, log *logger.Logger, in *bufio.Reader, out io.Writer) *REPL {
	return &REPL{
		conv:      conv,
		log:       log,
		in:        in,
		out:       out,
		prompt:    "> ",
		interrupt: interruptOnSignal,
	}
}

func (r *REPL) SetInterrupt(f InterruptFunc) {
	r.interrupt = f
}

// Run loops until exit, quit, end of input or ctx is done. Failed turns are
// reported and the loop continues.
func (r *REPL) Run(ctx context.Context) error {
	defer func() {
		elapsed, turns, toolCalls := r.conv.Stats()
		r.log.SessionEnd(elapsed, turns, toolCalls)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(r.out, r.prompt)
		line, err := r.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read input: %w", err)
		}
		eof := errors.Is(err, io.EOF)

		text := strings.TrimSpace(line)
		switch strings.ToLower(text) {
		case "exit", "quit":
			return nil
		case "":
			if eof {
				fmt.Fprintln(r.out)
				return nil
			}
			continue
		}

		r.turn(ctx, text)
		if eof {
			return nil
		}
	}
}

func (r *REPL) turn(ctx context.Context, text string) {
	turnCtx, cancel := r.interrupt(ctx)
	defer cancel()

	if _, err := r.conv.Send(turnCtx, text); err != nil {
		if errors.Is(err, agent.ErrTurnInProgress) {
			r.log.Warn("%v", err)
		}
		// Other failures were already reported through the error event
		r.log.Debug("turn failed: %v", err)
	}
}

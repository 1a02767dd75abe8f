package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"toolcal/internal/calendar"
	"toolcal/internal/cli"
	"toolcal/internal/llm"
	"toolcal/internal/logger"
	"toolcal/internal/mcp"
	"toolcal/internal/tui"
)

var (
	configPath  string
	apiBaseURL  string
	apiKey      string
	model       string
	temperature float32
	maxRounds   int
	sessionID   string
	verbose     bool
	noColor     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "toolcal",
		Short:         "Calendar assistant backed by a tool-calling model",
		Long:          "Answers questions about your calendar by letting a chat model call date and calendar tools.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default: first of ./toolcal.yaml, ./configs/toolcal.yaml, ~/.config/toolcal/toolcal.yaml)")
	flags.StringVar(&apiBaseURL, "api-base-url", os.Getenv("OPENAI_API_BASE_URL"), "OpenAI API base URL")
	flags.StringVar(&apiKey, "api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key")
	flags.StringVar(&model, "model", "", "Model to use")
	flags.Float32Var(&temperature, "temperature", 0, "Temperature")
	flags.IntVar(&maxRounds, "max-rounds", 0, "Maximum model rounds per question")
	flags.BoolVar(&verbose, "verbose", false, "Enable verbose output (debug mode)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")

	chatCmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask about your calendar, once or interactively",
		RunE:  runChat,
	}
	chatCmd.Flags().StringVar(&sessionID, "session", "", "Resume a stored session")

	uiCmd := &cobra.Command{
		Use:   "ui",
		Short: "Open the full-screen chat panel",
		Args:  cobra.NoArgs,
		RunE:  runUI,
	}
	uiCmd.Flags().StringVar(&sessionID, "session", "", "Resume a stored session")

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool definitions sent to the model",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the calendar tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE:  runMCP,
	}

	historyCmd := &cobra.Command{
		Use:   "history [session]",
		Short: "List stored sessions, or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}

	rootCmd.AddCommand(chatCmd, uiCmd, toolsCmd, mcpCmd, historyCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}

	// The REPL and the confirmation prompt read the same buffered stdin
	in := bufio.NewReader(os.Stdin)

	a, err := newApp(ctx, cfg, log, appOptions{confirmInput: in})
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.session(ctx, sessionID)
	if err != nil {
		return err
	}

	console := cli.NewConsole(log, os.Stdout)
	console.SetColorMode(!noColor)
	session.Subscribe(console.Observe)

	if len(args) > 0 {
		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()

		_, err := session.Send(turnCtx, strings.Join(args, " "))
		log.Debug("session %s", session.ID())
		return err
	}

	log.SessionStart("toolcal • " + cfg.Model.Name)
	log.Info("Session %s, %d tools. Type exit to leave.", session.ID(), a.registry.Len())

	return cli.NewREPL(session, log, in, os.Stdout).Run(ctx)
}

func runUI(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Anything below error level would be drawn over the panel
	log := logger.NewLogger(os.Stderr, logger.LevelError)
	log.SetColorMode(!noColor)

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.session(ctx, sessionID)
	if err != nil {
		return err
	}

	return tui.Run(session, tui.Options{
		Title: "toolcal • " + cfg.Model.Name,
		Today: time.Now().In(a.loc).Format(calendar.DateLayout),
	})
}

func runTools(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log, appOptions{withoutModel: true})
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := json.MarshalIndent(a.registry.GetToolDefinitions(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode tool definitions: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the protocol
	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log, appOptions{withoutModel: true})
	if err != nil {
		return err
	}
	defer a.Close()

	log.Debug("serving %d tools over MCP", a.registry.Len())
	return mcp.ServeStdio(ctx, mcp.NewToolServer(a.invoker, log))
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 0 {
		sessions, err := st.Sessions(ctx)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stdout, "No stored sessions.")
			return nil
		}
		for _, s := range sessions {
			fmt.Fprintf(os.Stdout, "%s  %3d messages  %s\n", s.ID, s.Messages, s.UpdatedAt.Local().Format(time.DateTime))
		}
		return nil
	}

	msgs, err := st.Messages(ctx, args[0])
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no such session: %s", args[0])
	}
	for _, m := range msgs {
		printMessage(m)
	}
	return nil
}

func printMessage(m llm.Message) {
	switch {
	case m.Role == llm.RoleTool:
		fmt.Fprintf(os.Stdout, "[%s] %s\n", m.Name, m.Content)
	case len(m.ToolCalls) > 0:
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(os.Stdout, "assistant → %s(%s)\n", tc.Function.Name, tc.Function.Arguments)
		}
	default:
		fmt.Fprintf(os.Stdout, "%s: %s\n", m.Role, m.Content)
	}
}

func init() {
	cobra.OnInitialize(func() {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	})
}

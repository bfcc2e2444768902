// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive line-mode chat.
//
// USABILITY: Line editing and persistent input history through liner
//
// Command: chat
// Short:   Chat in the terminal without the full-screen interface
//
// Examples:
//   cleanllm chat                        Continue the most recent conversation
//   cleanllm chat -c conv_1234           Continue a specific conversation
//   cleanllm chat -m llama3.2:3b         Use another Ollama model
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /new                Start a new conversation
//   /list, /ls          List conversations
//   /switch <n|id>      Switch to another conversation
//   /history            Show the current conversation
//   /rename <title>     Rename the current conversation
//   /delete             Delete the current conversation
//   /export <fmt> [f]   Export as md, json or yaml
//   /quit, /q           Exit chat
//   Ctrl+C              Stop the current reply, or exit when idle
//   Ctrl+D              Exit chat
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/cleanllm/internal/config"
	"github.com/jeranaias/cleanllm/internal/core"
	"github.com/jeranaias/cleanllm/internal/engine"
	"github.com/jeranaias/cleanllm/internal/model"
	"github.com/jeranaias/cleanllm/internal/storage"
	"github.com/jeranaias/cleanllm/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader reads one line of input. Prompt returns io.EOF on Ctrl+D and
// liner.ErrPromptAborted on Ctrl+C.
type LineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// ChatCLI provides input history and line editing for interactive chat.
// USABILITY: Supports arrow keys for history navigation and line editing.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads the saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line}
	if path, err := config.HistoryPath(); err == nil {
		c.historyFile = path
		c.loadHistory()
	}
	return c
}

func newLinerReader() (LineReader, error) {
	return NewChatCLI(), nil
}

func (c *ChatCLI) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// Prompt reads a line of input and records it in the history.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists the input history.
// SECURITY: owner read/write only, prompts can be sensitive
func (c *ChatCLI) saveHistory() error {
	if c.historyFile == "" {
		return nil
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = c.line.WriteHistory(f)
	return err
}

// Close saves the history and restores the terminal.
func (c *ChatCLI) Close() error {
	herr := c.saveHistory()
	return errors.Join(herr, c.line.Close())
}

// =============================================================================
// COMMAND
// =============================================================================

func (a *App) chatCmd() *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal without the full-screen interface",
		Long: `Chat with the local model line by line.

The model loads in the background; conversation commands such as /list work
while it loads. Type /help inside the chat for the available commands.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runChat(cmd.Context(), conversationID)
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation to continue (default: most recent)")
	return cmd
}

func (a *App) runChat(ctx context.Context, conversationID string) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch, err := a.startOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if serr := a.shutdown(orch); serr != nil {
			a.logger.Warn("shutdown failed", "error", serr)
			if err == nil {
				err = serr
			}
		}
	}()

	in, err := a.NewLineReader()
	if err != nil {
		return fmt.Errorf("open line editor: %w", err)
	}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			a.logger.Debug("close line editor", "error", cerr)
		}
	}()

	r := &repl{orch: orch, in: in, out: a.Out, errOut: a.Err, interactive: a.Interactive()}
	if err := r.selectInitial(conversationID); err != nil {
		return err
	}

	// Ctrl+C stops a running reply and exits when idle. While liner owns the
	// terminal it arrives as ErrPromptAborted instead.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()
	go func() {
		for range sigCh {
			if orch.Busy() {
				r.interrupted.Store(true)
				orch.StopGeneration()
				continue
			}
			cancel()
		}
	}()

	return r.run(ctx)
}

// =============================================================================
// REPL
// =============================================================================

// repl is one interactive chat session bound to an orchestrator.
type repl struct {
	orch        *core.Orchestrator
	in          LineReader
	out         io.Writer
	errOut      io.Writer
	interactive bool

	current     *model.Conversation
	interrupted atomic.Bool
}

// selectInitial picks the requested conversation or the most recent one.
func (r *repl) selectInitial(id string) error {
	if id == "" {
		list, err := r.orch.GetHistory()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return r.newConversation()
		}
		id = list[0].ID
	}
	return r.switchTo(id)
}

func (r *repl) run(ctx context.Context) error {
	r.printWelcome()
	r.waitReady(ctx)

	for {
		if ctx.Err() != nil {
			fmt.Fprintln(r.out)
			return nil
		}
		input, err := r.in.Prompt(PromptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed input all end the chat.
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			quit, err := r.command(input)
			if err != nil {
				r.printError(err)
			}
			if quit {
				return nil
			}
			continue
		}
		if err := r.send(ctx, input); err != nil {
			return err
		}
	}
}

func (r *repl) printWelcome() {
	fmt.Fprintln(r.out, TitleStyle.Render("cleanllm chat"))
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	r.printCurrent()
}

func (r *repl) printCurrent() {
	fmt.Fprintf(r.out, "%s %s %s\n",
		DimStyle.Render("Conversation:"),
		util.SingleLine(r.current.Title),
		DimStyle.Render("("+r.current.ID+")"))
}

// waitReady blocks until the engine has finished loading.
func (r *repl) waitReady(ctx context.Context) {
	select {
	case <-r.orch.Ready():
	default:
		fmt.Fprintln(r.out, DimStyle.Render("Loading model..."))
		select {
		case <-r.orch.Ready():
		case <-ctx.Done():
			return
		}
	}

	if r.orch.EngineState() != engine.StateReady {
		fmt.Fprintf(r.errOut, "%s the model could not be loaded; replies are unavailable. See the log for details.\n",
			WarningStyle.Render("[!]"))
		return
	}
	fmt.Fprintf(r.out, "%s %s %s\n", SuccessStyle.Render("[OK]"), r.orch.ModelName(),
		DimStyle.Render(fmt.Sprintf("(%s, context %d)", r.orch.LoadOutcome(), r.orch.Capacity())))
}

// =============================================================================
// GENERATION
// =============================================================================

// send streams one reply. It returns only when the terminal done event for
// this request has been seen, or ctx ends.
func (r *repl) send(ctx context.Context, prompt string) error {
	r.interrupted.Store(false)
	id := r.current.ID
	r.orch.StartGeneration(id, prompt)

	labelled := false
	newline := func() {
		if labelled {
			fmt.Fprintln(r.out)
			labelled = false
		}
	}
	for {
		select {
		case <-ctx.Done():
			r.orch.StopGeneration()
			newline()
			return nil

		case ev, ok := <-r.orch.Events():
			if !ok {
				newline()
				return errors.New("orchestrator closed")
			}
			switch ev.Kind {
			case core.EventToken:
				if ev.ConversationID != id {
					continue
				}
				if !labelled {
					fmt.Fprint(r.out, AssistantStyle.Render("assistant> "))
					labelled = true
				}
				fmt.Fprint(r.out, ev.Text)

			case core.EventError:
				newline()
				fmt.Fprintf(r.errOut, "%s %s\n", ErrorStyle.Render("[X]"), ev.Text)

			case core.EventDone:
				newline()
				if ev.ConversationID == "" {
					fmt.Fprintf(r.errOut, "%s %s\n", WarningStyle.Render("[!]"), r.rejectReason())
					return nil
				}
				if r.interrupted.Load() {
					fmt.Fprintln(r.out, WarningStyle.Render("[Stopped]"))
				}
				r.reload()
				return nil
			}
		}
	}
}

func (r *repl) rejectReason() string {
	switch {
	case r.orch.EngineState() == engine.StateFailed:
		return "The model failed to load; replies are unavailable."
	case r.orch.EngineState() != engine.StateReady:
		return "The model is still loading."
	case r.orch.Busy():
		return "A reply is already in progress."
	}
	return "Nothing to send."
}

// reload refreshes the current conversation after a generation.
func (r *repl) reload() {
	conv, err := r.orch.LoadConversation(r.current.ID)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			fmt.Fprintln(r.errOut, WarningStyle.Render("[!] This conversation was deleted."))
			if err := r.fallback(); err != nil {
				r.printError(err)
			}
			return
		}
		r.printError(err)
		return
	}
	r.current = conv
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// command runs one slash command and reports whether the chat should end.
func (r *repl) command(input string) (bool, error) {
	fields := strings.Fields(input)
	name := strings.ToLower(fields[0])
	args := fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help", "/h", "/?":
		r.printHelp()
	case "/new", "/n":
		if err := r.newConversation(); err != nil {
			return false, err
		}
		r.printCurrent()
	case "/list", "/ls":
		return false, r.list()
	case "/switch", "/open":
		if len(args) != 1 {
			return false, &UsageError{Field: "/switch", Reason: "expects one argument", Example: "/switch 2"}
		}
		if err := r.switchArg(args[0]); err != nil {
			return false, err
		}
		r.printCurrent()
	case "/history":
		r.printHistory()
	case "/rename":
		if rest == "" {
			return false, &UsageError{Field: "/rename", Reason: "expects a title", Example: "/rename Trip planning"}
		}
		if err := r.orch.RenameConversation(r.current.ID, rest); err != nil {
			return false, err
		}
		r.reload()
		fmt.Fprintf(r.out, "%s Renamed to %q\n", SuccessStyle.Render("[OK]"), util.SingleLine(r.current.Title))
	case "/delete":
		return false, r.deleteCurrent()
	case "/export":
		return false, r.export(args)
	default:
		return false, &UsageError{Field: "command", Value: fields[0], Reason: "unknown command", Example: "/help"}
	}
	return false, nil
}

func (r *repl) printHelp() {
	cmds := [][2]string{
		{"/new", "Start a new conversation"},
		{"/list", "List conversations"},
		{"/switch <n|id>", "Switch to another conversation"},
		{"/history", "Show the current conversation"},
		{"/rename <title>", "Rename the current conversation"},
		{"/delete", "Delete the current conversation"},
		{"/export <fmt> [file]", "Export as md, json or yaml"},
		{"/quit", "Exit chat"},
	}
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	fmt.Fprintln(r.out, RenderSeparator(40))
	for _, c := range cmds {
		fmt.Fprintf(r.out, "  %s %s\n", CommandStyle.Render(fmt.Sprintf("%-22s", c[0])), c[1])
	}
	fmt.Fprintln(r.out, DimStyle.Render("Ctrl+C stops a reply; Ctrl+D exits."))
}

func (r *repl) newConversation() error {
	conv, err := r.orch.CreateConversation()
	if err != nil {
		return err
	}
	r.current = conv
	return nil
}

func (r *repl) switchTo(id string) error {
	conv, err := r.orch.LoadConversation(id)
	if err != nil {
		return err
	}
	r.current = conv
	return nil
}

// switchArg accepts a 1-based index into the listing or a conversation id.
func (r *repl) switchArg(arg string) error {
	if n, err := strconv.Atoi(arg); err == nil {
		list, err := r.orch.GetHistory()
		if err != nil {
			return err
		}
		if n < 1 || n > len(list) {
			return &UsageError{Field: "/switch", Value: arg, Reason: fmt.Sprintf("pick 1-%d", len(list))}
		}
		return r.switchTo(list[n-1].ID)
	}
	return r.switchTo(arg)
}

func (r *repl) list() error {
	list, err := r.orch.GetHistory()
	if err != nil {
		return err
	}
	for i, s := range list {
		marker := "  "
		if s.ID == r.current.ID {
			marker = SuccessStyle.Render("* ")
		}
		fmt.Fprintf(r.out, "%s%2d. %s %s\n", marker, i+1,
			util.TruncateWidth(util.SingleLine(s.Title), 40),
			DimStyle.Render(fmt.Sprintf("(%d messages, %s)", s.MessageCount, s.ID)))
	}
	return nil
}

func (r *repl) printHistory() {
	if len(r.current.Messages) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
		return
	}
	for _, m := range r.current.Messages {
		label := AssistantStyle.Render("assistant> ")
		if m.IsUser() {
			label = PromptStyle.Render("you> ")
		}
		fmt.Fprintf(r.out, "%s%s", label, m.Content)
		if m.Partial {
			fmt.Fprint(r.out, " "+DimStyle.Render("(stopped)"))
		}
		fmt.Fprintln(r.out)
	}
}

func (r *repl) deleteCurrent() error {
	if r.interactive {
		answer, err := r.in.Prompt(fmt.Sprintf("Delete %q? [y/N] ", util.SingleLine(r.current.Title)))
		if err != nil {
			return nil
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
		default:
			fmt.Fprintln(r.out, WarningStyle.Render("Cancelled."))
			return nil
		}
	}
	id := r.current.ID
	list, err := r.orch.DeleteConversation(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s Deleted %s\n", SuccessStyle.Render("[OK]"), id)
	if len(list) > 0 {
		err = r.switchTo(list[0].ID)
	} else {
		err = r.newConversation()
	}
	if err != nil {
		return err
	}
	r.printCurrent()
	return nil
}

// fallback moves to the most recent conversation, or a new one.
func (r *repl) fallback() error {
	list, err := r.orch.GetHistory()
	if err != nil {
		return err
	}
	if len(list) > 0 {
		err = r.switchTo(list[0].ID)
	} else {
		err = r.newConversation()
	}
	if err == nil {
		r.printCurrent()
	}
	return err
}

func (r *repl) export(args []string) error {
	format := storage.FormatMarkdown
	if len(args) > 0 {
		format = args[0]
	}
	if _, err := storage.ParseFormat(format); err != nil {
		return &UsageError{Field: "/export", Value: format, Reason: err.Error(), Example: "/export json chat.json"}
	}
	data, err := r.orch.ExportConversation(r.current.ID, format)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		_, err := r.out.Write(data)
		return err
	}
	if err := util.AtomicWriteFile(args[1], data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", args[1], err)
	}
	fmt.Fprintf(r.out, "%s Exported to %s\n", SuccessStyle.Render("[OK]"), args[1])
	return nil
}

func (r *repl) printError(err error) {
	DisplayError(r.errOut, err)
}

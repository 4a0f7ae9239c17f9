package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/cohost/pkg/cohost/dialogue"
	"github.com/jholhewres/cohost/pkg/cohost/playback"
)

// newConsoleCmd creates the `cohost console` command: a local chat with the
// co-host that needs no chat platform.
func newConsoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with the co-host from the terminal",
		Long: `Start an interactive session against the language model using the
same dialogue context as the bot.

Commands inside the console:
  /context   show the current summary and topics
  /reset     clear the conversation
  /quit      leave

Examples:
  cohost console
  cohost console --user streamer --speak`,
		RunE: runConsole,
	}

	cmd.Flags().StringP("user", "u", "viewer", "chat name to speak as")
	cmd.Flags().Bool("speak", false, "play replies through the speech server")
	return cmd
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, cfg, false)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := newModel(cfg, logger)
	if !model.IsAvailable(ctx) {
		fmt.Fprintf(os.Stderr, "warning: model server at %s is not reachable\n", cfg.LLM.BaseURL)
	}
	dm := dialogue.New(model, dialogue.Config{
		Capacity:     cfg.Dialogue.Capacity,
		SummaryEvery: cfg.Dialogue.SummaryEvery,
		Persona:      cfg.Dialogue.Persona,
	}, logger)
	defer dm.Close()

	var voice *playback.Supervisor
	if speak, _ := cmd.Flags().GetBool("speak"); speak {
		sp, err := newSpeech(cfg, logger)
		if err != nil {
			return err
		}
		defer sp.Close()
		voice = sp.supervisor
		if !voice.Ensure(ctx) {
			fmt.Fprintln(os.Stderr, "warning: speech is not ready; replies will be text only")
		}
	}

	user, _ := cmd.Flags().GetString("user")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          user + "> ",
		HistoryFile:     filepath.Join(os.TempDir(), "cohost_console_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("starting console: %w", err)
	}
	defer rl.Close()
	out := rl.Stdout()

	fmt.Fprintf(out, "Chatting with %s. Type /quit to leave.\n", cfg.Name)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			dm.Reset()
			model.ClearCache()
			fmt.Fprintln(out, "Context cleared.")
			continue
		case "/context":
			printContext(out, dm)
			continue
		}

		dm.AddMessage(ctx, user, line, nil)
		reply := dm.GenerateResponse(ctx)
		fmt.Fprintf(out, "%s: %s\n", cfg.Name, reply)
		if voice != nil && !voice.Speak(ctx, reply) {
			fmt.Fprintln(os.Stderr, "(speech failed)")
		}
	}
}

func printContext(w io.Writer, dm *dialogue.Manager) {
	info := dm.ContextInfo()
	summary := info.Metadata.ContextSummary
	if summary == "" {
		summary = "(none yet)"
	}
	fmt.Fprintf(w, "Summary: %s\n", summary)
	fmt.Fprintf(w, "Topics:  %s\n", strings.Join(info.Metadata.CurrentTopics, ", "))
	fmt.Fprintf(w, "Turns:   %d (messages seen: %d)\n", len(info.Context), info.Metadata.TotalMessages)
}

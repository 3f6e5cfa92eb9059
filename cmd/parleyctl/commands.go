package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/ashureev/parley/internal/client"
	"github.com/ashureev/parley/internal/dialog"
	"github.com/ashureev/parley/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultGreeting = "Hello! Did you know the Earth is flat?"

type options struct {
	server    string
	sessionID string
	botName   string
	output    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "parleyctl",
		Short:         "Talk to a parley dialogue server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("PARLEY_SERVER", "http://localhost:8080"), "Base URL of the parley server")

	chatCmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message, or start an interactive conversation without arguments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, args)
		},
	}
	chatCmd.Flags().StringVarP(&opts.sessionID, "session", "s", "", "Session id (random when empty)")
	chatCmd.Flags().StringVar(&opts.botName, "bot", "Flat Earth Bot", "Sender name used for bot lines in the transcript")

	stateCmd := &cobra.Command{
		Use:   "state <session-id>",
		Short: "Show the stored state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd, opts, args[0])
		},
	}
	stateCmd.Flags().StringVarP(&opts.output, "output", "o", "yaml", "Output format: yaml or json")

	resetCmd := &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Forget a session so the next turn starts fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.New(opts.server).Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s reset\n", args[0])
			return nil
		},
	}

	root.AddCommand(chatCmd, stateCmd, resetCmd)
	return root
}

func runChat(cmd *cobra.Command, opts *options, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if opts.sessionID == "" {
		opts.sessionID = uuid.NewString()
	}
	out := cmd.OutOrStdout()
	c := client.New(opts.server)
	transcript := domain.Transcript{{Sender: opts.botName, Text: defaultGreeting}}

	if len(args) > 0 {
		_, err := turn(ctx, c, out, opts, &transcript, strings.Join(args, " "))
		return err
	}

	fmt.Fprintf(out, "session %s\n%s: %s\n", opts.sessionID, opts.botName, defaultGreeting)
	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		done, err := turn(ctx, c, out, opts, &transcript, line)
		if err != nil {
			var se *client.StatusError
			if errors.As(err, &se) {
				fmt.Fprintf(out, "[%s]\n", se.Message)
				transcript = transcript[:len(transcript)-1]
				continue
			}
			return err
		}
		if done {
			return nil
		}
	}
}

// turn sends one utterance, renders the reply and appends both lines to the
// transcript. It reports whether the dialog ended successfully.
func turn(ctx context.Context, c *client.Client, out io.Writer, opts *options, transcript *domain.Transcript, utterance string) (bool, error) {
	*transcript = append(*transcript, domain.Message{Sender: "User", Text: utterance})
	req := dialog.Request{
		Messages:  *transcript,
		SessionID: opts.sessionID,
		ChatbotID: "parleyctl",
	}

	var reply strings.Builder
	success := false
	fmt.Fprintf(out, "%s: ", opts.botName)
	for ev, err := range c.Chat(ctx, req) {
		if err != nil {
			fmt.Fprintln(out)
			return false, err
		}
		switch ev.Kind {
		case client.EventHeader:
			success = ev.Success
		case client.EventToken:
			reply.WriteString(ev.Text)
			fmt.Fprint(out, ev.Text)
		case client.EventAnnotation:
			if ev.Text != "" {
				fmt.Fprintf(out, "\n  * %s", stripTags(ev.Text))
			}
		}
	}
	fmt.Fprintln(out)
	if success {
		fmt.Fprintln(out, "** dialog succeeded **")
	}
	*transcript = append(*transcript, domain.Message{Sender: opts.botName, Text: strings.TrimSpace(reply.String())})
	return success, nil
}

func runState(cmd *cobra.Command, opts *options, sessionID string) error {
	state, phase, err := client.New(opts.server).State(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	view := stateView{
		ID:         state.ID,
		Phase:      string(phase),
		Turns:      state.Turns,
		Closed:     state.Closed,
		QuizAsked:  state.Quiz.AskedCount,
		HintStreak: state.Quiz.HintStreak,
	}
	for _, f := range domain.AllFlags {
		if state.Has(f) {
			view.Flags = append(view.Flags, string(f))
		}
	}

	out := cmd.OutOrStdout()
	switch opts.output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case "yaml", "":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(view)
	default:
		return fmt.Errorf("unknown output format %q", opts.output)
	}
}

type stateView struct {
	ID         string   `json:"id" yaml:"id"`
	Phase      string   `json:"phase" yaml:"phase"`
	Turns      int      `json:"turns" yaml:"turns"`
	Closed     bool     `json:"closed" yaml:"closed"`
	Flags      []string `json:"flags" yaml:"flags"`
	QuizAsked  int      `json:"quiz_asked" yaml:"quiz_asked"`
	HintStreak int      `json:"hint_streak" yaml:"hint_streak"`
}

// stripTags drops HTML markup from annotation text for terminal output.
func stripTags(s string) string {
	var b strings.Builder
	in := false
	for _, r := range s {
		switch {
		case r == '<':
			in = true
		case r == '>':
			in = false
		case !in:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

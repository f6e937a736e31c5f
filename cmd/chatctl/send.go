package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/marketplace-stream/internal/api"
	"github.com/capitalize-ai/marketplace-stream/internal/cache"
	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/internal/scratch"
	"github.com/capitalize-ai/marketplace-stream/internal/session"
	"github.com/capitalize-ai/marketplace-stream/internal/stream"
)

// generationFlags are the request parameters shared by send, quick and regenerate.
type generationFlags struct {
	mode    string
	model   string
	level   string
	style   string
	subject string
	goal    string
}

func (f *generationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", "", "economy, standard or premium")
	cmd.Flags().StringVar(&f.model, "model", "", "explicit model id (exclusive with --mode)")
	cmd.Flags().StringVar(&f.level, "level", "", "learner level")
	cmd.Flags().StringVar(&f.style, "style", "", "answer style")
	cmd.Flags().StringVar(&f.subject, "subject", "", "subject")
	cmd.Flags().StringVar(&f.goal, "goal", "", "goal")
}

func (f *generationFlags) base() model.StreamRequest {
	return model.StreamRequest{
		Mode:    model.Mode(f.mode),
		Model:   f.model,
		Level:   f.level,
		Style:   f.style,
		Subject: f.subject,
		Goal:    f.goal,
	}
}

// newView builds a conversation view whose sessions print to cmd.
func (a *app) newView(cmd *cobra.Command, flags *generationFlags, compareModel string) *session.View {
	p := newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), compareModel)
	messages := cache.New[[]model.Message]()

	controller := session.NewController(a.client, session.Options{
		Invalidator: messages,
		Observer:    p.observe,
		Notifier:    p.notify,
		Logger:      a.log,
	})

	view := session.NewView(a.conversationID, controller, messages, a.client, a.log)
	view.Base = flags.base()
	return view
}

// await waits for the view's sessions, stopping them on Ctrl-C.
func await(ctx context.Context, view *session.View) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-interrupts:
			view.Stop()
		case <-finished:
		}
	}()

	return view.Wait(ctx)
}

// outcomeError turns a failed primary session into a command error.
func outcomeError(view *session.View) error {
	if s := view.Controller().Current(session.RolePrimary); s != nil && s.Outcome() == stream.OutcomeError {
		return fmt.Errorf("generation failed")
	}
	return nil
}

func newSendCmd(a *app) *cobra.Command {
	var (
		flags        generationFlags
		attachPaths  []string
		compareModel string
		noContext    bool
		showHistory  bool
	)

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message and stream the reply",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireConversation(); err != nil {
				return err
			}
			ctx := commandContext(cmd)
			text := strings.Join(args, " ")

			attachments := make([]model.Attachment, 0, len(attachPaths))
			for _, path := range attachPaths {
				att, err := api.LoadAttachment(path)
				if err != nil {
					return err
				}
				attachments = append(attachments, att)
			}

			view := a.newView(cmd, &flags, compareModel)
			if !noContext {
				view.ContextFunc = func(ctx context.Context) string {
					return scratch.BuildContext(ctx, a.workspace)
				}
			}

			var refreshed atomic.Bool
			view.OnChange(func() { refreshed.Store(true) })

			if _, err := view.Send(ctx, text, attachments); err != nil {
				return err
			}
			if compareModel != "" {
				if _, err := view.StartCompare(ctx, text, compareModel); err != nil {
					return err
				}
			}

			if err := await(ctx, view); err != nil {
				return err
			}
			if showHistory && refreshed.Load() {
				fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("── conversation ──"))
				for _, m := range view.Messages(ctx) {
					printMessage(cmd, m)
				}
			}
			return outcomeError(view)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&showHistory, "history", false, "print the updated conversation afterwards")
	cmd.Flags().StringSliceVar(&attachPaths, "attach", nil, "image or PDF file to attach (repeatable)")
	cmd.Flags().StringVar(&compareModel, "compare-model", "", "also answer with this model side by side")
	cmd.Flags().BoolVar(&noContext, "no-context", false, "do not attach the workspace summary")
	return cmd
}

func newQuickCmd(a *app) *cobra.Command {
	var flags generationFlags

	cmd := &cobra.Command{
		Use:       "quick <message-id> <shorten|formal|example|continue>",
		Short:     "Rewrite an existing reply",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"shorten", "formal", "example", "continue"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireConversation(); err != nil {
				return err
			}
			ctx := commandContext(cmd)

			view := a.newView(cmd, &flags, "")
			if _, err := view.Quick(ctx, args[0], model.QuickAction(args[1])); err != nil {
				return err
			}
			if err := await(ctx, view); err != nil {
				return err
			}
			return outcomeError(view)
		},
	}

	flags.register(cmd)
	return cmd
}

func newRegenerateCmd(a *app) *cobra.Command {
	var (
		flags generationFlags
		style string
	)

	cmd := &cobra.Command{
		Use:   "regenerate <message-id>",
		Short: "Answer an existing message again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireConversation(); err != nil {
				return err
			}
			ctx := commandContext(cmd)

			view := a.newView(cmd, &flags, "")
			if _, err := view.Regenerate(ctx, args[0], model.RegenerateStyle(style)); err != nil {
				return err
			}
			if err := await(ctx, view); err != nil {
				return err
			}
			return outcomeError(view)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&style, "regenerate-style", "", "different, accurate or creative")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

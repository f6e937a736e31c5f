package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
)

func newHistoryCmd(a *app) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the messages of a conversation, or list conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()

			if list {
				conversations, err := a.client.ListConversations(ctx)
				if err != nil {
					return err
				}
				for _, c := range conversations {
					fmt.Fprintf(out, "%s  %s\n", dimStyle.Render(c.ID), c.Title)
				}
				return nil
			}

			if err := a.requireConversation(); err != nil {
				return err
			}
			messages, err := a.client.ListMessages(ctx, a.conversationID)
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				fmt.Fprintln(out, dimStyle.Render("no messages yet"))
				return nil
			}
			for _, m := range messages {
				printMessage(cmd, m)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "list conversations instead")
	return cmd
}

func printMessage(cmd *cobra.Command, m model.Message) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", dimStyle.Render(m.ID), renderMessage(m))
}

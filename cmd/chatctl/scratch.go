package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/marketplace-stream/internal/scratch"
)

func newScratchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scratch",
		Short: "Manage the local workspace stores",
	}

	storeArg := func(name string) (scratch.Collection, error) {
		c, ok := a.workspace.Collection(name)
		if !ok {
			return nil, fmt.Errorf("unknown store %q (want one of %s)", name, strings.Join(scratch.CollectionNames(), ", "))
		}
		return c, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:       "list <store>",
			Short:     "Print the records of a store as JSON",
			Args:      cobra.ExactArgs(1),
			ValidArgs: scratch.CollectionNames(),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := storeArg(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, c.Items(commandContext(cmd)))
			},
		},
		&cobra.Command{
			Use:   "add <store> <json>",
			Short: "Add a record to a store",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := storeArg(args[0])
				if err != nil {
					return err
				}
				rec, err := c.AddJSON(commandContext(cmd), []byte(args[1]))
				if err != nil {
					return err
				}
				return printJSON(cmd, rec)
			},
		},
		&cobra.Command{
			Use:   "rm <store> <id>",
			Short: "Remove a record from a store",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := storeArg(args[0])
				if err != nil {
					return err
				}
				return c.Remove(commandContext(cmd), args[1])
			},
		},
		&cobra.Command{
			Use:   "brandkit [json]",
			Short: "Show or replace the brand kit",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := commandContext(cmd)
				if len(args) == 0 {
					return printJSON(cmd, a.workspace.BrandKit.Get(ctx))
				}
				kit := a.workspace.BrandKit.Get(ctx)
				if err := json.Unmarshal([]byte(args[0]), &kit); err != nil {
					return fmt.Errorf("invalid brand kit: %w", err)
				}
				return a.workspace.BrandKit.Set(ctx, kit)
			},
		},
	)
	return cmd
}

func newContextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "context",
		Short: "Print the workspace summary sent with new messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary := scratch.BuildContext(commandContext(cmd), a.workspace)
			if summary == "" {
				fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("workspace is empty"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

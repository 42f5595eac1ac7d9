package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) tagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List every custom tag in use across the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := a.engine()
			if err != nil {
				return err
			}
			tags, err := eng.AllCustomTags(cmd.Context())
			if err != nil {
				return err
			}
			for _, tag := range tags {
				fmt.Fprintln(cmd.OutOrStdout(), tag)
			}
			return nil
		},
	}
	cmd.AddCommand(a.tagsAddCmd(), a.tagsRmCmd())
	return cmd
}

func (a *app) tagsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <ticket-id> <tags...>",
		Short: "Add custom tags to a ticket (comma or space separated)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := a.engine()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			t, err := eng.Load(ctx, args[0])
			if err != nil {
				return err
			}
			res := eng.AddCustomTags(ctx, t, strings.Join(args[1:], ","))
			if err := reportWrite(cmd.OutOrStdout(), "tagged", t, res); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(t.CustomTags(), " "))
			return nil
		},
	}
}

func (a *app) tagsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "rm <ticket-id> <tag>",
		Short:             "Remove a custom tag from a ticket",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: a.completeTags,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := a.engine()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			t, err := eng.Load(ctx, args[0])
			if err != nil {
				return err
			}
			res := eng.RemoveCustomTag(ctx, t, args[1])
			return reportWrite(cmd.OutOrStdout(), "untagged", t, res)
		},
	}
}

// completeTags offers the database's distinct custom tags for the tag
// argument of `tags rm`.
func (a *app) completeTags(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) != 1 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	eng, _, err := a.engine()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	tags, err := eng.AllCustomTags(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return tags, cobra.ShellCompDirectiveNoFileComp
}

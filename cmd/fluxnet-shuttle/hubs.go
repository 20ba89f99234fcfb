package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHubsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hubs",
		Aliases: []string{"listdatahubs"},
		Short:   "List available data hub plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHubs(cmd, flags)
		},
	}

	return cmd
}

func runHubs(cmd *cobra.Command, flags *rootFlags) error {
	app, err := newAppContext(flags)
	if err != nil {
		return err
	}
	defer app.Close()

	names := app.registry.List()
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("no data hub plugins registered"))
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("Available FLUXNET data hub plugins:"))
	for _, name := range names {
		display, err := app.registry.DisplayName(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s (%s)\n", display, name)
	}
	return nil
}

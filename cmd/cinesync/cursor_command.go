package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCursorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cursor",
		Short: "Show the stored sync cursors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				cursors, err := rt.manager.Cursors(c)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, cursors)
				}
				out := cmd.OutOrStdout()
				if len(cursors) == 0 {
					fmt.Fprintln(out, "No cursors recorded")
					return nil
				}
				rows := make([][]string, 0, len(cursors))
				for _, cur := range cursors {
					rows = append(rows, []string{cur.Mode, cur.Position, dash(cur.UpdatedAt)})
				}
				fmt.Fprintln(out, renderTable([]string{"Mode", "Position", "Updated"}, rows, nil))
				return nil
			})
		},
	}
}

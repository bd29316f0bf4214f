package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cinesync/internal/catalog"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show catalog table sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				counts, err := rt.catalog.Counts(c)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int{
						"movies":        counts.Movies,
						"genres":        counts.Genres,
						"movie_genres":  counts.MovieGenres,
						"people":        counts.People,
						"credits":       counts.Credits,
						"movie_changes": counts.Changes,
					})
				}
				rows := [][]string{
					{"Movies", strconv.Itoa(counts.Movies)},
					{"Genres", strconv.Itoa(counts.Genres)},
					{"Movie genres", strconv.Itoa(counts.MovieGenres)},
					{"People", strconv.Itoa(counts.People)},
					{"Credits", strconv.Itoa(counts.Credits)},
					{"Change history", strconv.Itoa(counts.Changes)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Table", "Rows"}, rows,
					[]columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newSeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <baseline.csv>",
		Short: "Merge a baseline dataset export into the catalog",
		Long: `Merge a baseline dataset export into the catalog.

The CSV needs a header row with a tmdb_id column; baseline_id, title,
release_date, rating, votes and tags are optional. Seeding never overwrites
fields that a sync has already enriched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(args[0])
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer file.Close()

			rows, skipped, err := catalog.ReadBaselineCSV(file)
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				written, err := rt.catalog.SeedBaseline(c, rows)
				if err != nil {
					return err
				}
				rt.logger.Info("baseline seeded",
					zap.String("path", path),
					zap.Int("written", written),
					zap.Int("skipped", skipped),
				)
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int{"written": written, "skipped": skipped})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d movie(s); skipped %d row(s) without a provider id\n", written, skipped)
				return nil
			})
		},
	}
}

func newChangesLogCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "changes-log",
		Short: "List catalog rows created or updated recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				since := time.Now().UTC().AddDate(0, 0, -days)
				changes, err := rt.catalog.RecentChanges(c, since)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if changes == nil {
						changes = []catalog.MovieChange{}
					}
					return writeJSON(cmd, changes)
				}
				out := cmd.OutOrStdout()
				if len(changes) == 0 {
					fmt.Fprintf(out, "No catalog changes in the last %d day(s)\n", days)
					return nil
				}
				rows := make([][]string, 0, len(changes))
				for _, change := range changes {
					rows = append(rows, []string{
						change.ChangedAt,
						strconv.FormatInt(change.MovieID, 10),
						truncate(dash(change.Title), 40),
						string(change.ChangeType),
						dash(change.Mode),
						dash(change.BatchID),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Changed at", "Movie", "Title", "Change", "Mode", "Batch"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Look back this many days")
	return cmd
}

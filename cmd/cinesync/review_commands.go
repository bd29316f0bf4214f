package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cinesync/internal/review"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and decide staged batches",
	}
	reviewCmd.AddCommand(newReviewListCommand(ctx))
	reviewCmd.AddCommand(newReviewShowCommand(ctx))
	reviewCmd.AddCommand(newReviewDecideCommand(ctx))
	reviewCmd.AddCommand(newReviewApproveAllCommand(ctx))
	reviewCmd.AddCommand(newReviewExportCommand(ctx))
	reviewCmd.AddCommand(newReviewImportCommand(ctx))
	return reviewCmd
}

func newReviewListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []review.Status
			for _, raw := range statusFlags {
				if raw = strings.TrimSpace(raw); raw != "" {
					statuses = append(statuses, review.Status(strings.ToUpper(raw)))
				}
			}
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				batches, err := rt.manager.Batches(c, statuses...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, batches)
				}
				out := cmd.OutOrStdout()
				if len(batches) == 0 {
					fmt.Fprintln(out, "No batches")
					return nil
				}
				rows := make([][]string, 0, len(batches))
				for _, b := range batches {
					rows = append(rows, []string{
						b.ID,
						string(b.Mode),
						string(b.Status),
						strconv.Itoa(b.RecordCount),
						dash(b.CursorStart),
						dash(b.CursorEnd),
						yesNo(b.Incomplete),
						b.CreatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Batch", "Mode", "Status", "Records", "From", "To", "Gaps", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statusFlags, "status", nil, "Only show batches in these statuses (FETCHED, UNDER_REVIEW, LOADED, ARCHIVED)")
	return cmd
}

func newReviewShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a batch and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := strings.TrimSpace(args[0])
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				batch, err := rt.manager.Batch(c, batchID)
				if err != nil {
					return err
				}
				records, err := rt.manager.Records(c, batchID)
				if err != nil {
					return err
				}
				counts, err := rt.manager.DecisionCounts(c, batchID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"batch": batch, "decisions": counts, "records": records})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Batch %s (%s, %s)\n", batch.ID, batch.Mode, batch.Status)
				if batch.CursorStart != "" || batch.CursorEnd != "" {
					fmt.Fprintf(out, "Window: %s .. %s\n", dash(batch.CursorStart), dash(batch.CursorEnd))
				}
				fmt.Fprintf(out, "Decisions: %d pending, %d approved, %d rejected, %d skipped\n",
					counts.Pending, counts.Approved, counts.Rejected, counts.Skipped)
				if len(batch.FetchFailures) > 0 {
					fmt.Fprintf(out, "Fetch failures: %d\n", len(batch.FetchFailures))
				}

				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						strconv.FormatInt(rec.MovieID, 10),
						truncate(rec.Movie.Title, 48),
						dash(rec.Movie.ReleaseDate),
						string(rec.Decision),
						dash(string(rec.CommitStatus)),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Movie", "Title", "Released", "Decision", "Commit"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
}

func newReviewDecideCommand(ctx *commandContext) *cobra.Command {
	var override bool

	cmd := &cobra.Command{
		Use:   "decide <batch-id> <movie-id> <approve|reject|skip|pending>",
		Short: "Record a decision for one record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := strings.TrimSpace(args[0])
			movieID, err := parseMovieID(args[1])
			if err != nil {
				return err
			}
			decision, err := review.ParseDecision(strings.ToLower(strings.TrimSpace(args[2])))
			if err != nil {
				return fmt.Errorf("%w: %q", err, args[2])
			}
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				if err := rt.manager.Decide(c, batchID, movieID, decision, override); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Movie %d in %s marked %s\n", movieID, batchID, decision)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&override, "override", false, "Replace an existing decision")
	return cmd
}

func newReviewApproveAllCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve-all <batch-id>",
		Short: "Approve every pending record of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := strings.TrimSpace(args[0])
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				n, err := rt.manager.ApproveAll(c, batchID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"batch_id": batchID, "approved": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Approved %d record(s) in %s\n", n, batchID)
				return nil
			})
		},
	}
}

func newReviewExportCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <batch-id>",
		Short: "Write a batch's review document as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := strings.TrimSpace(args[0])
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				if strings.TrimSpace(output) == "" || output == "-" {
					return rt.manager.Export(c, batchID, cmd.OutOrStdout())
				}
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				if err := rt.manager.Export(c, batchID, file); err != nil {
					_ = file.Close()
					return err
				}
				if err := file.Close(); err != nil {
					return fmt.Errorf("close %s: %w", output, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default stdout)")
	return cmd
}

func newReviewImportCommand(ctx *commandContext) *cobra.Command {
	var override bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Apply decisions from an edited review document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(args[0])
			return ctx.withRuntime(cmd, func(c context.Context, rt *runtime) error {
				file, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("open %s: %w", path, err)
				}
				defer file.Close()

				result, err := rt.manager.Import(c, file, override)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Batch %s: %d decided, %d unchanged\n", result.BatchID, result.Decided, result.Unchanged)
				if len(result.Conflicts) > 0 {
					ids := make([]string, 0, len(result.Conflicts))
					for _, id := range result.Conflicts {
						ids = append(ids, strconv.FormatInt(id, 10))
					}
					fmt.Fprintln(out, renderStatusLine("Conflicts", statusWarn,
						strings.Join(ids, ", ")+" already decided (use --override to replace)", shouldColorize(out)))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&override, "override", false, "Replace decisions already recorded")
	return cmd
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cinesync/internal/catalog"
	"cinesync/internal/review"
	"cinesync/internal/selector"
	"cinesync/internal/workflow"
)

var errReviewStopped = errors.New("review stopped; batch left under review")

// summaryRunner prints the summary returned by fn whether or not fn failed.
func (c *commandContext) summaryRunner(fn func(ctx context.Context, rt *runtime) (*workflow.Summary, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return c.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
			summary, err := fn(ctx, rt)
			if printErr := printSummary(cmd, summary, c.jsonOutput()); printErr != nil && err == nil {
				err = printErr
			}
			return err
		})
	}
}

func newInitCommand(ctx *commandContext) *cobra.Command {
	var startYear, endYear, fromYear, fromPage int
	var reviewFirst bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Backfill the catalog for a range of release years",
		Long: `Backfill every movie TMDB lists for a range of release years.

Candidates are approved automatically and committed in the same run unless
--review is set. An interrupted run prints a resume position that can be
passed back with --from-year and --from-page.`,
		Args: cobra.NoArgs,
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if fromPage > 0 && fromYear <= 0 {
			return errors.New("--from-page requires --from-year")
		}
		return ctx.summaryRunner(func(c context.Context, rt *runtime) (*workflow.Summary, error) {
			return rt.manager.Init(c, workflow.InitOptions{
				StartYear: startYear,
				EndYear:   endYear,
				From:      selector.Checkpoint{Year: fromYear, Page: fromPage},
				Review:    reviewFirst,
			})
		})(cmd, args)
	}

	cmd.Flags().IntVar(&startYear, "start-year", 0, "First release year (default sync.init_start_year)")
	cmd.Flags().IntVar(&endYear, "end-year", 0, "Last release year (default sync.init_end_year or the current year)")
	cmd.Flags().IntVar(&fromYear, "from-year", 0, "Resume at this year")
	cmd.Flags().IntVar(&fromPage, "from-page", 0, "Resume at this slice of --from-year")
	cmd.Flags().BoolVar(&reviewFirst, "review", false, "Leave the batch under review instead of loading it")
	return cmd
}

func newMissingCommand(ctx *commandContext) *cobra.Command {
	var afterDate string

	cmd := &cobra.Command{
		Use:   "missing",
		Short: "Fetch movies released after the catalog's newest entry",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		after, err := parseDate("after-date", afterDate)
		if err != nil {
			return err
		}
		return ctx.summaryRunner(func(c context.Context, rt *runtime) (*workflow.Summary, error) {
			return rt.manager.Missing(c, after)
		})(cmd, args)
	}
	cmd.Flags().StringVar(&afterDate, "after-date", "", "Select movies released after this date (YYYY-MM-DD)")
	return cmd
}

func newChangesCommand(ctx *commandContext) *cobra.Command {
	var days int
	var start, end string

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Fetch known movies that TMDB reports as changed",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts, err := changesOptions(days, start, end)
		if err != nil {
			return err
		}
		return ctx.summaryRunner(func(c context.Context, rt *runtime) (*workflow.Summary, error) {
			return rt.manager.Fetch(c, opts)
		})(cmd, args)
	}
	addChangesFlags(cmd, &days, &start, &end)
	return cmd
}

func addChangesFlags(cmd *cobra.Command, days *int, start, end *string) {
	cmd.Flags().IntVar(days, "days", 0, "Look back this many days from today")
	cmd.Flags().StringVar(start, "start", "", "Window start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(end, "end", "", "Window end date (YYYY-MM-DD, default today)")
}

func changesOptions(days int, start, end string) (workflow.FetchOptions, error) {
	opts := workflow.FetchOptions{Mode: review.ModeChanges, Days: days}
	var err error
	if opts.Start, err = parseDate("start", start); err != nil {
		return opts, err
	}
	if opts.End, err = parseDate("end", end); err != nil {
		return opts, err
	}
	if days < 0 {
		return opts, errors.New("--days must be positive")
	}
	if days > 0 && !opts.Start.IsZero() {
		return opts, errors.New("--days and --start are mutually exclusive")
	}
	return opts, nil
}

func newUpdateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "update <movie-id>",
		Short: "Refetch one movie and commit it immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMovieID(args[0])
			if err != nil {
				return err
			}
			return ctx.summaryRunner(func(c context.Context, rt *runtime) (*workflow.Summary, error) {
				return rt.manager.Update(c, id)
			})(cmd, args)
		},
	}
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var pages int
	var best bool
	var id int64

	cmd := &cobra.Command{
		Use:   "search [title]",
		Short: "Search TMDB by title or id and stage the hits for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if strings.TrimSpace(query) == "" && id <= 0 {
				return errors.New("search needs a title or --id")
			}
			return ctx.summaryRunner(func(c context.Context, rt *runtime) (*workflow.Summary, error) {
				return rt.manager.Search(c, workflow.SearchOptions{Query: query, ID: id, Pages: pages, BestMatch: best})
			})(cmd, args)
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of result pages to read")
	cmd.Flags().BoolVar(&best, "best", false, "Keep only the closest title match")
	cmd.Flags().Int64Var(&id, "id", 0, "Look up a single provider id instead of a title")
	return cmd
}

// fetchFlags holds the flags shared by fetch and fetch-review-load.
type fetchFlags struct {
	mode      string
	afterDate string
	days      int
	start     string
	end       string
}

func (f *fetchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", string(review.ModeMissing), "Fetch mode (missing or changes)")
	cmd.Flags().StringVar(&f.afterDate, "after-date", "", "missing: select movies released after this date")
	addChangesFlags(cmd, &f.days, &f.start, &f.end)
}

func (f *fetchFlags) options() (workflow.FetchOptions, error) {
	switch review.Mode(strings.ToLower(strings.TrimSpace(f.mode))) {
	case review.ModeMissing:
		after, err := parseDate("after-date", f.afterDate)
		if err != nil {
			return workflow.FetchOptions{}, err
		}
		return workflow.FetchOptions{Mode: review.ModeMissing, After: after}, nil
	case review.ModeChanges:
		return changesOptions(f.days, f.start, f.end)
	default:
		return workflow.FetchOptions{}, fmt.Errorf("--mode must be missing or changes, got %q", f.mode)
	}
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	flags := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch candidates into a batch awaiting review",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts, err := flags.options()
		if err != nil {
			return err
		}
		return ctx.summaryRunner(func(c context.Context, rt *runtime) (*workflow.Summary, error) {
			return rt.manager.Fetch(c, opts)
		})(cmd, args)
	}
	flags.register(cmd)
	return cmd
}

func newLoadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "load <batch-id>",
		Short: "Commit the approved records of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := strings.TrimSpace(args[0])
			return ctx.summaryRunner(func(c context.Context, rt *runtime) (*workflow.Summary, error) {
				return rt.manager.Load(c, batchID)
			})(cmd, args)
		},
	}
}

func newFetchReviewLoadCommand(ctx *commandContext) *cobra.Command {
	flags := &fetchFlags{}
	var approveAll bool

	cmd := &cobra.Command{
		Use:   "fetch-review-load",
		Short: "Fetch, review interactively, and load in one run",
		Long: `Fetch candidates, prompt for a decision on each one, then load the batch.

At each prompt answer a (approve), r (reject), s (skip) or q (quit). Quitting
leaves the batch under review so it can be finished with the review commands.`,
		Args: cobra.NoArgs,
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts, err := flags.options()
		if err != nil {
			return err
		}
		reviewer := workflow.Reviewer(workflow.ApproveEverything)
		if !approveAll {
			reviewer = promptReviewer(cmd.InOrStdin(), cmd.ErrOrStderr())
		}
		return ctx.summaryRunner(func(c context.Context, rt *runtime) (*workflow.Summary, error) {
			return rt.manager.FetchReviewLoad(c, opts, reviewer)
		})(cmd, args)
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&approveAll, "approve-all", false, "Approve every candidate without prompting")
	return cmd
}

// promptReviewer asks for one decision per record on in. End of input counts
// as quit.
func promptReviewer(in io.Reader, out io.Writer) workflow.Reviewer {
	scanner := bufio.NewScanner(in)
	return func(ctx context.Context, record *review.Record) (review.Decision, error) {
		for {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			fmt.Fprintf(out, "%d  %s (%s)  [a]pprove [r]eject [s]kip [q]uit: ",
				record.MovieID, record.Movie.Title, dash(record.Movie.ReleaseDate))
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return "", errReviewStopped
			}
			switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
			case "a", "approve":
				return review.DecisionApproved, nil
			case "r", "reject":
				return review.DecisionRejected, nil
			case "s", "skip":
				return review.DecisionSkipped, nil
			case "q", "quit":
				return "", errReviewStopped
			default:
				fmt.Fprintln(out, "Please answer a, r, s or q.")
			}
		}
	}
}

func parseDate(flag, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(catalog.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD, got %q", flag, value)
	}
	return t, nil
}

func parseMovieID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("movie id must be a positive integer, got %q", value)
	}
	return id, nil
}

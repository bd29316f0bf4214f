package workflow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"cinesync/internal/catalog"
	"cinesync/internal/gateway"
	"cinesync/internal/logging"
	"cinesync/internal/review"
	"cinesync/internal/selector"
	"cinesync/internal/services"
	"cinesync/internal/tmdb"
)

// InitOptions parameterizes a full backfill.
type InitOptions struct {
	// StartYear and EndYear default to sync.init_start_year and
	// sync.init_end_year (0 meaning the current year).
	StartYear int
	EndYear   int
	// From resumes a previous run at a year and slice.
	From selector.Checkpoint
	// Review leaves the batch UNDER_REVIEW instead of approving and loading it.
	Review bool
}

// Init backfills every listed movie for a year range. Candidates are approved
// automatically and loaded in the same run unless Review is set.
func (m *Manager) Init(ctx context.Context, opts InitOptions) (*Summary, error) {
	r := m.begin(ctx, string(review.ModeInit))
	unlock, err := m.lock(string(review.ModeInit))
	if err != nil {
		return m.finish(r, err)
	}
	defer unlock()

	start := opts.StartYear
	if start <= 0 {
		start = m.cfg.Sync.InitStartYear
	}
	end := opts.EndYear
	if end <= 0 {
		end = m.cfg.Sync.InitEndYear
	}
	if end <= 0 {
		end = m.now().Year()
	}
	if end < start {
		return m.finish(r, services.Wrap(services.ErrValidation, "init", "options",
			fmt.Sprintf("end year %d precedes start year %d", end, start), nil))
	}
	if err := m.readCursor(r); err != nil {
		return m.finish(r, err)
	}

	stats := &selector.Stats{}
	got, err := m.collect(r, m.selector.Select(r.ctx, selector.Request{
		Mode:      selector.ModeInit,
		StartYear: start,
		EndYear:   end,
		From:      opts.From,
		Stats:     stats,
	}), stats)
	if err != nil {
		return m.finish(r, err)
	}

	batch, err := m.createBatch(r, review.NewBatch{
		Mode:        review.ModeInit,
		CursorStart: fmt.Sprintf("%04d-01-01", start),
		CursorEnd:   fmt.Sprintf("%04d-12-31", end),
		Movies:      got.movies,
		Failures:    got.failures,
		Incomplete:  got.incomplete,
	})
	if err != nil {
		return m.finish(r, err)
	}
	if opts.Review {
		return m.finish(r, nil)
	}
	if _, err := m.reviews.ApproveAll(r.ctx, batch.ID); err != nil {
		return m.finish(r, services.Wrap(services.ErrStorage, "init", "approve", "", err))
	}
	return m.finish(r, m.load(r, batch))
}

// FetchOptions parameterizes a missing or changes fetch.
type FetchOptions struct {
	Mode review.Mode

	// missing: select ids released strictly after After. Zero falls back to
	// the stored cursor, then the latest release date in the catalog.
	After time.Time

	// changes: explicit window, or a look-back of Days ending today. Zero
	// values fall back to the stored cursor, then sync.changes_days.
	Start time.Time
	End   time.Time
	Days  int
}

// Fetch selects and fetches candidates for a missing or changes run and
// leaves them in a batch awaiting review.
func (m *Manager) Fetch(ctx context.Context, opts FetchOptions) (*Summary, error) {
	switch opts.Mode {
	case review.ModeMissing, review.ModeChanges:
	default:
		r := m.begin(ctx, string(opts.Mode))
		return m.finish(r, services.Wrap(services.ErrValidation, string(opts.Mode), "fetch",
			"mode must be missing or changes", review.ErrInvalidMode))
	}
	mode := string(opts.Mode)
	r := m.begin(ctx, mode)
	unlock, err := m.lock(mode)
	if err != nil {
		return m.finish(r, err)
	}
	defer unlock()
	if err := m.readCursor(r); err != nil {
		return m.finish(r, err)
	}

	var nb review.NewBatch
	if opts.Mode == review.ModeMissing {
		nb, err = m.fetchMissing(r, opts)
	} else {
		nb, err = m.fetchChanges(r, opts)
	}
	if err != nil {
		return m.finish(r, err)
	}
	if _, err := m.createBatch(r, nb); err != nil {
		return m.finish(r, err)
	}
	return m.finish(r, nil)
}

// Missing fetches movies the catalog does not have yet.
func (m *Manager) Missing(ctx context.Context, after time.Time) (*Summary, error) {
	return m.Fetch(ctx, FetchOptions{Mode: review.ModeMissing, After: after})
}

// Changes fetches movies the provider reports as changed in the last days
// days. days <= 0 resumes from the stored cursor.
func (m *Manager) Changes(ctx context.Context, days int) (*Summary, error) {
	return m.Fetch(ctx, FetchOptions{Mode: review.ModeChanges, Days: days})
}

func (m *Manager) fetchMissing(r *run, opts FetchOptions) (review.NewBatch, error) {
	after := opts.After
	source := "flag"
	if after.IsZero() && r.cursorSet {
		after, source = r.cursorBefore, "cursor"
	}
	if after.IsZero() {
		latest, ok, err := m.catalog.LatestReleaseDate(r.ctx)
		if err != nil {
			return review.NewBatch{}, services.Wrap(services.ErrStorage, "missing", "latest release date", "", err)
		}
		if ok {
			after, source = latest, "catalog"
		}
	}
	startYear := 0
	if after.IsZero() {
		startYear, source = m.cfg.Sync.InitStartYear, "default"
	}
	r.logger.Info("missing selection window",
		zap.String("after", formatDate(after)),
		zap.String("source", source),
		zap.Int("start_year", startYear),
	)

	stats := &selector.Stats{}
	got, err := m.collect(r, m.selector.Select(r.ctx, selector.Request{
		Mode:      selector.ModeMissing,
		After:     after,
		StartYear: startYear,
		EndYear:   m.today().Year(),
		Stats:     stats,
	}), stats)
	if err != nil {
		return review.NewBatch{}, err
	}

	// The cursor follows the newest release date actually fetched, capped
	// at today so upcoming titles do not push it into the future.
	today := formatDate(m.today())
	end := formatDate(after)
	for _, movie := range got.movies {
		if movie.ReleaseDate > end && movie.ReleaseDate <= today {
			end = movie.ReleaseDate
		}
	}
	return review.NewBatch{
		Mode:        review.ModeMissing,
		CursorStart: formatDate(after),
		CursorEnd:   end,
		Movies:      got.movies,
		Failures:    got.failures,
		Incomplete:  got.incomplete,
	}, nil
}

func (m *Manager) fetchChanges(r *run, opts FetchOptions) (review.NewBatch, error) {
	end := opts.End
	if end.IsZero() {
		end = m.today()
	}
	start := opts.Start
	source := "flag"
	switch {
	case !start.IsZero():
	case opts.Days > 0:
		start = end.AddDate(0, 0, -opts.Days)
	case r.cursorSet:
		start, source = r.cursorBefore, "cursor"
	default:
		start, source = end.AddDate(0, 0, -max(1, m.cfg.Sync.ChangesDays)), "default"
	}
	r.logger.Info("changes selection window",
		zap.String("start", formatDate(start)),
		zap.String("end", formatDate(end)),
		zap.String("source", source),
	)

	stats := &selector.Stats{}
	got, err := m.collect(r, m.selector.Select(r.ctx, selector.Request{
		Mode:  selector.ModeChanges,
		Start: start,
		End:   end,
		Stats: stats,
	}), stats)
	if err != nil {
		return review.NewBatch{}, err
	}
	return review.NewBatch{
		Mode:        review.ModeChanges,
		CursorStart: formatDate(start),
		CursorEnd:   formatDate(end),
		Movies:      got.movies,
		Failures:    got.failures,
		Incomplete:  got.incomplete,
	}, nil
}

// SearchOptions parameterizes a title search.
type SearchOptions struct {
	Query string
	// ID looks a single movie up by provider id instead of by title.
	ID int64
	// Pages bounds how many result pages are read. Defaults to 1.
	Pages int
	// BestMatch keeps only the closest title instead of every result.
	BestMatch bool
}

// Search looks movies up by title and stores the hits in a search batch for
// review. Search batches carry no cursor.
func (m *Manager) Search(ctx context.Context, opts SearchOptions) (*Summary, error) {
	r := m.begin(ctx, string(review.ModeSearch))
	query := strings.TrimSpace(opts.Query)
	if query == "" && opts.ID <= 0 {
		return m.finish(r, services.Wrap(services.ErrValidation, "search", "options", "query or id is required", nil))
	}
	stats := &selector.Stats{}
	got, err := m.collect(r, m.searchRefs(r.ctx, query, opts, stats), stats)
	if err != nil {
		return m.finish(r, err)
	}
	if _, err := m.createBatch(r, review.NewBatch{
		Mode:     review.ModeSearch,
		Movies:   got.movies,
		Failures: got.failures,
		// Search batches never move a cursor, so gaps do not matter.
		Incomplete: got.incomplete,
	}); err != nil {
		return m.finish(r, err)
	}
	return m.finish(r, nil)
}

func (m *Manager) searchRefs(ctx context.Context, query string, opts SearchOptions, stats *selector.Stats) iter.Seq2[selector.Ref, error] {
	return func(yield func(selector.Ref, error) bool) {
		var candidates []tmdb.Summary
		if opts.ID > 0 {
			hits, err := m.provider.SearchByID(ctx, opts.ID)
			if err != nil {
				yield(selector.Ref{}, fmt.Errorf("search id %d: %w", opts.ID, err))
				return
			}
			for _, hit := range hits {
				stats.Listed++
				if hit.Adult {
					stats.Adult++
					continue
				}
				if !yield(selector.Ref{ID: hit.ID, Title: hit.Title, ReleaseDate: hit.ReleaseDate}, nil) {
					return
				}
			}
			return
		}

		pages := max(1, opts.Pages)
		seen := make(map[int64]struct{})
		for page := 1; page <= pages; page++ {
			listing, err := m.provider.SearchMovies(ctx, query, page)
			if err != nil {
				yield(selector.Ref{}, fmt.Errorf("search %q page %d: %w", query, page, err))
				return
			}
			for _, hit := range listing.Results {
				stats.Listed++
				if hit.Adult {
					stats.Adult++
					continue
				}
				if _, dup := seen[hit.ID]; dup {
					stats.Duplicate++
					continue
				}
				seen[hit.ID] = struct{}{}
				candidates = append(candidates, hit)
			}
			if page >= listing.TotalPages {
				break
			}
		}
		if opts.BestMatch {
			best, ok := m.provider.BestMatch(query, candidates)
			if !ok {
				return
			}
			stats.Outside += len(candidates) - 1
			candidates = []tmdb.Summary{best}
		}
		for _, hit := range candidates {
			if !yield(selector.Ref{ID: hit.ID, Title: hit.Title, ReleaseDate: hit.ReleaseDate}, nil) {
				return
			}
		}
	}
}

// Update fetches one movie by id and applies it directly, bypassing review.
func (m *Manager) Update(ctx context.Context, id int64) (*Summary, error) {
	r := m.begin(services.WithMovieID(ctx, id), string(selector.ModeUpdate))
	if id <= 0 {
		return m.finish(r, services.Wrap(services.ErrValidation, "update", "options",
			fmt.Sprintf("movie id must be positive, got %d", id), nil))
	}
	r.summary.Selected = 1

	movie, err := m.fetchOne(r.ctx, r, id)
	if err != nil {
		r.summary.addFailure(Failure{MovieID: id, Stage: StageFetch, Kind: gateway.Classify(err), Error: err.Error()})
		if gateway.IsNotFound(err) {
			err = services.Wrap(services.ErrNotFound, "update", "fetch", fmt.Sprintf("movie %d", id), err)
		}
		return m.finish(r, err)
	}
	if movie.Adult {
		r.summary.Filtered = 1
		r.logger.Info("adult title skipped", zap.Int64(logging.FieldMovieID, id))
		return m.finish(r, nil)
	}
	r.summary.Fetched = 1
	r.summary.Approved = 1
	result, err := m.apply(r, *movie)
	r.summary.tally(movie.ID, result, err)
	return m.finish(r, err)
}

// FetchReviewLoad runs a fetch, asks reviewer about each pending record, then
// loads the batch. A reviewer error stops before load and leaves the batch
// under review.
func (m *Manager) FetchReviewLoad(ctx context.Context, opts FetchOptions, reviewer Reviewer) (*Summary, error) {
	if reviewer == nil {
		return nil, errors.New("workflow: reviewer is required")
	}
	fetchSummary, err := m.Fetch(ctx, opts)
	if err != nil {
		return fetchSummary, err
	}

	pending, err := m.reviews.Pending(ctx, fetchSummary.BatchID)
	if err != nil {
		return fetchSummary, services.Wrap(services.ErrStorage, fetchSummary.Mode, "review", "", err)
	}
	for _, record := range pending {
		decision, err := reviewer(ctx, record)
		if err != nil {
			return fetchSummary, fmt.Errorf("review %s/%d: %w", record.BatchID, record.MovieID, err)
		}
		if decision == review.DecisionPending {
			continue
		}
		if err := m.reviews.Decide(ctx, record.BatchID, record.MovieID, decision, false); err != nil {
			return fetchSummary, err
		}
	}

	loadSummary, err := m.Load(ctx, fetchSummary.BatchID)
	if loadSummary == nil {
		return fetchSummary, err
	}
	combined := *loadSummary
	combined.Selected = fetchSummary.Selected
	combined.Fetched = fetchSummary.Fetched
	combined.Filtered = fetchSummary.Filtered
	combined.Failed += fetchSummary.Failed
	combined.Failures = append(append([]Failure(nil), fetchSummary.Failures...), loadSummary.Failures...)
	combined.CircuitOpened = combined.CircuitOpened || fetchSummary.CircuitOpened
	combined.Truncated = fetchSummary.Truncated
	combined.Duration += fetchSummary.Duration
	if combined.CursorBefore == "" {
		combined.CursorBefore = fetchSummary.CursorBefore
	}
	return &combined, err
}

// readCursor loads the mode cursor into the run once.
func (m *Manager) readCursor(r *run) error {
	if r.cursorRead {
		return nil
	}
	pos, ok, err := m.cursor(r.ctx, r.summary.Mode)
	if err != nil {
		return err
	}
	r.cursorRead = true
	r.cursorSet = ok
	r.cursorBefore = pos
	if ok {
		r.summary.CursorBefore = pos.Format(catalog.DateLayout)
		r.summary.CursorAfter = r.summary.CursorBefore
	}
	return nil
}

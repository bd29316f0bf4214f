// Package selector streams candidate movie ids for each ingestion mode.
//
// Selection reads provider listings one page at a time and yields ids through
// an iterator; any provider error ends the iteration with that error so a
// partial selection is never mistaken for a complete one. Adult titles are
// dropped in every mode.
package selector

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"go.uber.org/zap"

	"cinesync/internal/logging"
	"cinesync/internal/tmdb"
)

// Mode names a selection strategy.
type Mode string

const (
	ModeInit    Mode = "init"
	ModeMissing Mode = "missing"
	ModeChanges Mode = "changes"
	ModeUpdate  Mode = "update"
)

const dateLayout = "2006-01-02"

// Checkpoint is a restart position for init: a year and a 1-based slice of
// that year's sorted id list.
type Checkpoint struct {
	Year int
	Page int
}

// Ref is one selected candidate.
type Ref struct {
	ID          int64
	Title       string
	ReleaseDate string
	Checkpoint  Checkpoint
}

// Stats counts candidates seen and dropped during one selection.
type Stats struct {
	Listed    int
	Adult     int
	Known     int
	Outside   int
	Duplicate int

	// Truncated counts listings that had more pages than the page cap
	// allowed. Ids on the unread pages were never seen, so a selection
	// with Truncated > 0 is partial.
	Truncated int
}

// Filtered returns how many listed candidates were dropped.
func (s *Stats) Filtered() int {
	if s == nil {
		return 0
	}
	return s.Adult + s.Known + s.Outside + s.Duplicate
}

// Request parameterizes one selection.
type Request struct {
	Mode Mode

	// init: inclusive year range and optional resume point.
	StartYear int
	EndYear   int
	From      Checkpoint

	// missing: only ids released strictly after After. Years run from
	// After's year (or StartYear) through EndYear.
	After time.Time

	// changes: inclusive changelog window.
	Start time.Time
	End   time.Time

	// update: the single explicit id.
	ID int64

	// Stats, when set, is filled while iterating.
	Stats *Stats
}

// Provider is the subset of the provider client selection needs.
type Provider interface {
	Discover(ctx context.Context, q tmdb.DiscoverQuery) (*tmdb.ListPage, error)
	Changes(ctx context.Context, start, end time.Time, page int) (*tmdb.ChangesPage, error)
}

// CatalogView exposes the ids already stored.
type CatalogView interface {
	KnownIDs(ctx context.Context) (map[int64]struct{}, error)
}

// Options tunes a Selector.
type Options struct {
	MaxPages  int
	SliceSize int
	Logger    *zap.Logger
	Now       func() time.Time
}

// Selector produces candidate refs per mode.
type Selector struct {
	provider  Provider
	catalog   CatalogView
	maxPages  int
	sliceSize int
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a Selector.
func New(provider Provider, catalog CatalogView, opts Options) *Selector {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 500
	}
	if opts.SliceSize <= 0 {
		opts.SliceSize = 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Selector{
		provider:  provider,
		catalog:   catalog,
		maxPages:  opts.MaxPages,
		sliceSize: opts.SliceSize,
		logger:    logging.NewComponentLogger(opts.Logger, "selector"),
		now:       opts.Now,
	}
}

// Select streams candidate refs for req. The sequence ends early with a
// non-nil error when selection cannot complete.
func (s *Selector) Select(ctx context.Context, req Request) iter.Seq2[Ref, error] {
	if req.Stats == nil {
		req.Stats = &Stats{}
	}
	switch req.Mode {
	case ModeInit:
		return s.selectInit(ctx, req)
	case ModeMissing:
		return s.selectMissing(ctx, req)
	case ModeChanges:
		return s.selectChanges(ctx, req)
	case ModeUpdate:
		return func(yield func(Ref, error) bool) {
			if req.ID <= 0 {
				yield(Ref{}, fmt.Errorf("update requires a positive movie id, got %d", req.ID))
				return
			}
			req.Stats.Listed++
			yield(Ref{ID: req.ID}, nil)
		}
	default:
		return func(yield func(Ref, error) bool) {
			yield(Ref{}, fmt.Errorf("unknown selection mode %q", req.Mode))
		}
	}
}

func (s *Selector) selectInit(ctx context.Context, req Request) iter.Seq2[Ref, error] {
	return func(yield func(Ref, error) bool) {
		end := req.EndYear
		if end == 0 {
			end = s.now().Year()
		}
		if req.StartYear <= 0 || end < req.StartYear {
			yield(Ref{}, fmt.Errorf("invalid init year range %d-%d", req.StartYear, end))
			return
		}
		first := max(req.StartYear, req.From.Year)
		for year := first; year <= end; year++ {
			ids, err := s.yearIDs(ctx, year, req.Stats)
			if err != nil {
				yield(Ref{}, err)
				return
			}
			startSlice := 1
			if year == req.From.Year && req.From.Page > 1 {
				startSlice = req.From.Page
			}
			for idx := (startSlice - 1) * s.sliceSize; idx < len(ids); idx++ {
				if err := ctx.Err(); err != nil {
					yield(Ref{}, err)
					return
				}
				ref := Ref{ID: ids[idx], Checkpoint: Checkpoint{Year: year, Page: idx/s.sliceSize + 1}}
				if !yield(ref, nil) {
					return
				}
			}
		}
	}
}

// yearIDs collects the distinct non-adult ids listed for year, ascending.
func (s *Selector) yearIDs(ctx context.Context, year int, stats *Stats) ([]int64, error) {
	seen := make(map[int64]struct{})
	var ids []int64
	err := s.walkYear(ctx, year, time.Time{}, stats, func(summary tmdb.Summary) bool {
		stats.Listed++
		if summary.Adult {
			stats.Adult++
			return true
		}
		if _, dup := seen[summary.ID]; dup {
			stats.Duplicate++
			return true
		}
		seen[summary.ID] = struct{}{}
		ids = append(ids, summary.ID)
		return true
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Selector) selectMissing(ctx context.Context, req Request) iter.Seq2[Ref, error] {
	return func(yield func(Ref, error) bool) {
		known, err := s.catalog.KnownIDs(ctx)
		if err != nil {
			yield(Ref{}, fmt.Errorf("load known ids: %w", err))
			return
		}
		end := req.EndYear
		if end == 0 {
			end = s.now().Year()
		}
		start := req.StartYear
		afterDate := ""
		if !req.After.IsZero() {
			start = req.After.Year()
			afterDate = req.After.Format(dateLayout)
		}
		if start <= 0 {
			yield(Ref{}, errors.New("missing selection needs an after date or a start year"))
			return
		}

		seen := make(map[int64]struct{})
		for year := start; year <= end; year++ {
			stopped := false
			err := s.walkYear(ctx, year, req.After, req.Stats, func(summary tmdb.Summary) bool {
				req.Stats.Listed++
				switch {
				case summary.Adult:
					req.Stats.Adult++
					return true
				case afterDate != "" && (summary.ReleaseDate == "" || summary.ReleaseDate <= afterDate):
					req.Stats.Outside++
					return true
				}
				if _, ok := known[summary.ID]; ok {
					req.Stats.Known++
					return true
				}
				if _, dup := seen[summary.ID]; dup {
					req.Stats.Duplicate++
					return true
				}
				seen[summary.ID] = struct{}{}
				if !yield(Ref{ID: summary.ID, Title: summary.Title, ReleaseDate: summary.ReleaseDate}, nil) {
					stopped = true
					return false
				}
				return true
			})
			if stopped {
				return
			}
			if err != nil {
				yield(Ref{}, err)
				return
			}
		}
	}
}

// walkYear pages through the discover listing for year, stopping at the
// configured page cap or when visit returns false. Hitting the cap is
// recorded in stats.
func (s *Selector) walkYear(ctx context.Context, year int, after time.Time, stats *Stats, visit func(tmdb.Summary) bool) error {
	for page := 1; page <= s.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		listing, err := s.provider.Discover(ctx, tmdb.DiscoverQuery{Year: year, Page: page, ReleasedAfter: after})
		if err != nil {
			return fmt.Errorf("discover year %d page %d: %w", year, page, err)
		}
		for _, summary := range listing.Results {
			if !visit(summary) {
				return nil
			}
		}
		if page >= listing.TotalPages {
			return nil
		}
		if page == s.maxPages && listing.TotalPages > s.maxPages {
			s.truncated(stats, listing.TotalPages, "narrow the year range or raise sync.max_pages", zap.Int("year", year))
		}
	}
	return nil
}

func (s *Selector) selectChanges(ctx context.Context, req Request) iter.Seq2[Ref, error] {
	return func(yield func(Ref, error) bool) {
		end := req.End
		if end.IsZero() {
			end = s.now()
		}
		start := req.Start
		if start.IsZero() {
			start = end.AddDate(0, 0, -1)
		}
		start, end = truncateDay(start), truncateDay(end)
		if end.Before(start) {
			yield(Ref{}, fmt.Errorf("changes window end %s precedes start %s", end.Format(dateLayout), start.Format(dateLayout)))
			return
		}

		seen := make(map[int64]struct{})
		for _, window := range ChangeWindows(start, end) {
			for page := 1; ; page++ {
				if err := ctx.Err(); err != nil {
					yield(Ref{}, err)
					return
				}
				listing, err := s.provider.Changes(ctx, window[0], window[1], page)
				if err != nil {
					yield(Ref{}, fmt.Errorf("changes %s..%s page %d: %w",
						window[0].Format(dateLayout), window[1].Format(dateLayout), page, err))
					return
				}
				for _, entry := range listing.Results {
					req.Stats.Listed++
					if entry.Adult != nil && *entry.Adult {
						req.Stats.Adult++
						continue
					}
					if _, dup := seen[entry.ID]; dup {
						req.Stats.Duplicate++
						continue
					}
					seen[entry.ID] = struct{}{}
					if !yield(Ref{ID: entry.ID}, nil) {
						return
					}
				}
				if page >= listing.TotalPages {
					break
				}
				if page >= s.maxPages {
					s.truncated(req.Stats, listing.TotalPages, "narrow the window with --start/--end or raise sync.max_pages",
						zap.String("window_start", window[0].Format(dateLayout)),
						zap.String("window_end", window[1].Format(dateLayout)),
					)
					break
				}
			}
		}
	}
}

func (s *Selector) truncated(stats *Stats, totalPages int, hint string, fields ...zap.Field) {
	if stats != nil {
		stats.Truncated++
	}
	fields = append(fields,
		zap.Int("total_pages", totalPages),
		zap.Int("max_pages", s.maxPages),
		zap.String(logging.FieldErrorHint, hint),
		zap.String(logging.FieldImpact, "ids beyond the cap are not selected; the run is marked incomplete"),
	)
	logging.WarnWithContext(s.logger, "listing truncated at page cap", "selection_page_cap", fields...)
}

// ChangeWindows splits [start, end] into inclusive windows the changelog
// endpoint accepts.
func ChangeWindows(start, end time.Time) [][2]time.Time {
	span := int(tmdb.ChangesWindow/(24*time.Hour)) - 1
	var windows [][2]time.Time
	for cur := start; !cur.After(end); {
		last := cur.AddDate(0, 0, span)
		if last.After(end) {
			last = end
		}
		windows = append(windows, [2]time.Time{cur, last})
		cur = last.AddDate(0, 0, 1)
	}
	return windows
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

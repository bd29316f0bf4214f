package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cinesync/internal/catalog"
	"cinesync/internal/events"
	"cinesync/internal/logging"
	"cinesync/internal/services"
	"cinesync/internal/tmdb"
)

// Outcome is the effect one Apply had on the catalog.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// CommitResult describes a successful Apply.
type CommitResult struct {
	MovieID     int64
	Outcome     Outcome
	ContentHash string
	Cast        int
	Crew        int
}

// RecordCommitFailed reports that one record's writes were rolled back.
type RecordCommitFailed struct {
	MovieID int64
	Err     error
}

func (e *RecordCommitFailed) Error() string {
	return fmt.Sprintf("commit movie %d: %v", e.MovieID, e.Err)
}

func (e *RecordCommitFailed) Unwrap() error { return e.Err }

// Options tunes the engine.
type Options struct {
	CastLimit int
	CrewJobs  []string
	Publisher events.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Engine reconciles provider records into the catalog.
type Engine struct {
	store     *catalog.Store
	castLimit int
	crewJobs  []string
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
	locks     *keyedMutex
}

// New constructs an Engine writing to store.
func New(store *catalog.Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("merge: catalog store is required")
	}
	if opts.CastLimit <= 0 {
		opts.CastLimit = 8
	}
	if len(opts.CrewJobs) == 0 {
		opts.CrewJobs = []string{"Director"}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:     store,
		castLimit: opts.CastLimit,
		crewJobs:  append([]string(nil), opts.CrewJobs...),
		publisher: opts.Publisher,
		logger:    logging.NewComponentLogger(opts.Logger, "merge"),
		now:       opts.Now,
		locks:     newKeyedMutex(),
	}, nil
}

// Apply writes one record atomically: movie row, genre links, people and
// credits. Re-applying identical content performs no writes.
func (e *Engine) Apply(ctx context.Context, movie tmdb.Movie) (CommitResult, error) {
	if movie.ID <= 0 {
		return CommitResult{}, &RecordCommitFailed{MovieID: movie.ID, Err: errors.New("movie id must be positive")}
	}
	unlock := e.locks.Lock(movie.ID)
	defer unlock()

	plan := BuildPlan(movie, e.castLimit, e.crewJobs)
	hash := plan.Hash()
	result := CommitResult{MovieID: movie.ID, ContentHash: hash}
	for _, c := range plan.Credits {
		if c.Role == catalog.RoleCast {
			result.Cast++
		} else {
			result.Crew++
		}
	}

	var row catalog.Movie
	err := e.store.WithTx(ctx, func(tx *catalog.Tx) error {
		existing, err := tx.Movie(ctx, movie.ID)
		if err != nil {
			return err
		}
		if existing != nil && existing.ContentHash == hash {
			result.Outcome = OutcomeUnchanged
			return nil
		}
		result.Outcome = OutcomeCreated
		if existing != nil {
			result.Outcome = OutcomeUpdated
		}

		row = mergeRow(existing, plan.Movie, hash, e.now().UTC())
		if err := tx.UpsertMovie(ctx, row); err != nil {
			return err
		}
		if err := tx.UpsertGenres(ctx, plan.Genres); err != nil {
			return err
		}
		if err := tx.ReplaceMovieGenres(ctx, movie.ID, plan.GenreIDs()); err != nil {
			return err
		}
		if err := tx.InsertPeopleIfAbsent(ctx, plan.People); err != nil {
			return err
		}
		if err := tx.ReplaceCredits(ctx, movie.ID, plan.Credits); err != nil {
			return err
		}
		return tx.RecordChange(ctx, changeEntry(ctx, row, result))
	})
	if err != nil {
		return CommitResult{}, &RecordCommitFailed{MovieID: movie.ID, Err: err}
	}

	log := logging.WithContext(ctx, e.logger)
	if result.Outcome == OutcomeUnchanged {
		log.Debug("movie unchanged", zap.Int64(logging.FieldMovieID, movie.ID))
		return result, nil
	}
	log.Debug("movie committed",
		zap.Int64(logging.FieldMovieID, movie.ID),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("cast", result.Cast),
		zap.Int("crew", result.Crew),
	)
	e.publish(ctx, row, result)
	return result, nil
}

// changeEntry describes a committed write for the change history.
func changeEntry(ctx context.Context, row catalog.Movie, result CommitResult) catalog.MovieChange {
	change := catalog.MovieChange{
		MovieID:     row.ID,
		ChangeType:  catalog.ChangeUpdated,
		ChangedAt:   row.SyncedAt,
		ContentHash: result.ContentHash,
	}
	if result.Outcome == OutcomeCreated {
		change.ChangeType = catalog.ChangeCreated
	}
	if mode, ok := services.ModeFromContext(ctx); ok {
		change.Mode = mode
	}
	if batch, ok := services.BatchIDFromContext(ctx); ok {
		change.BatchID = batch
	}
	if run, ok := services.RunIDFromContext(ctx); ok {
		change.RunID = run
	}
	return change
}

func (e *Engine) publish(ctx context.Context, row catalog.Movie, result CommitResult) {
	event := events.Event{
		Type:        events.TypeMovieUpserted,
		MovieID:     row.ID,
		Title:       row.Title,
		ReleaseDate: row.ReleaseDate.String,
		ContentHash: result.ContentHash,
		Created:     result.Outcome == OutcomeCreated,
		OccurredAt:  e.now().UTC(),
	}
	change := changeEntry(ctx, row, result)
	event.Mode, event.BatchID, event.RunID = change.Mode, change.BatchID, change.RunID
	if err := e.publisher.Publish(ctx, event); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "catalog event not published", "event_publish_failed",
			zap.Int64(logging.FieldMovieID, row.ID),
			zap.Error(err),
			zap.String(logging.FieldErrorHint, "check events.brokers reachability"),
			zap.String(logging.FieldImpact, "catalog write kept; downstream consumers miss this change"),
		)
	}
}

// mergeRow overlays the payload on the existing row. Enrichment columns
// always take the payload value, empty or not. Title and release date are
// the only columns a baseline seed provides, so until the first enrichment an
// empty payload value keeps the seeded one. Baseline columns are not part of
// the upsert and stay untouched.
func mergeRow(existing *catalog.Movie, m tmdb.Movie, hash string, now time.Time) catalog.Movie {
	stamp := now.Format(time.RFC3339)
	row := catalog.Movie{ID: m.ID}
	if existing != nil {
		row = *existing
	}
	seededOnly := existing != nil && !existing.Enriched()

	if m.Title != "" || !seededOnly {
		row.Title = m.Title
	}
	switch {
	case m.ReleaseDate != "":
		row.ReleaseDate = sql.NullString{String: m.ReleaseDate, Valid: true}
	case !seededOnly:
		row.ReleaseDate = sql.NullString{}
	}
	row.OriginalTitle = m.OriginalTitle
	row.OriginalLanguage = m.OriginalLanguage
	row.Overview = m.Overview
	row.Tagline = m.Tagline
	row.Status = m.Status
	row.IMDbID = m.IMDbID
	row.PosterPath = m.PosterPath
	row.BackdropPath = m.BackdropPath
	row.Runtime = m.Runtime
	row.Budget = m.Budget
	row.Revenue = m.Revenue
	row.Popularity = m.Popularity
	row.VoteAverage = m.VoteAverage
	row.VoteCount = m.VoteCount
	row.Adult = m.Adult

	row.ContentHash = hash
	if !row.EnrichedAt.Valid {
		row.EnrichedAt = sql.NullString{String: stamp, Valid: true}
	}
	row.SyncedAt = stamp
	return row
}

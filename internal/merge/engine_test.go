package merge_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinesync/internal/catalog"
	"cinesync/internal/events"
	"cinesync/internal/merge"
	"cinesync/internal/services"
	"cinesync/internal/tmdb"
)

func newEngine(t *testing.T, pub events.Publisher) (*merge.Engine, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(context.Background(), catalog.DriverSQLite, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	engine, err := merge.New(store, merge.Options{
		CastLimit: 8,
		CrewJobs:  []string{"Director"},
		Publisher: pub,
		Now:       func() time.Time { return clock },
	})
	require.NoError(t, err)
	return engine, store
}

func matrix() tmdb.Movie {
	return tmdb.Movie{
		ID:          603,
		Title:       "The Matrix",
		Overview:    "A hacker learns the truth.",
		Status:      "Released",
		ReleaseDate: "1999-03-31",
		Runtime:     136,
		Budget:      63000000,
		VoteAverage: 8.2,
		Genres:      []tmdb.Genre{{ID: 878, Name: "Science Fiction"}, {ID: 28, Name: "Action"}},
		Credits: tmdb.Credits{
			Cast: []tmdb.CastMember{
				{ID: 6384, Name: "Keanu Reeves", Character: "Neo", Order: 0},
				{ID: 2975, Name: "Laurence Fishburne", Character: "Morpheus", Order: 1},
			},
			Crew: []tmdb.CrewMember{
				{ID: 9339, Name: "Lana Wachowski", Department: "Directing", Job: "Director"},
				{ID: 9340, Name: "Lilly Wachowski", Department: "Directing", Job: "Director"},
				{ID: 1, Name: "Writer Person", Department: "Writing", Job: "Screenplay"},
			},
		},
	}
}

func TestApplyCreatesMovieGraph(t *testing.T) {
	ctx := context.Background()
	rec := &events.Recorder{}
	engine, store := newEngine(t, rec)

	result, err := engine.Apply(ctx, matrix())
	require.NoError(t, err)
	assert.Equal(t, merge.OutcomeCreated, result.Outcome)
	assert.Equal(t, 2, result.Cast)
	assert.Equal(t, 2, result.Crew)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalog.Counts{Movies: 1, Genres: 2, MovieGenres: 2, People: 4, Credits: 4, Changes: 1}, counts)

	writer, err := store.Person(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, writer, "non-whitelisted crew must not create people")

	evs := rec.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeMovieUpserted, evs[0].Type)
	assert.True(t, evs[0].Created)
}

func TestApplyTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rec := &events.Recorder{}
	engine, store := newEngine(t, rec)

	_, err := engine.Apply(ctx, matrix())
	require.NoError(t, err)
	before, err := store.Movie(ctx, 603)
	require.NoError(t, err)
	countsBefore, err := store.Counts(ctx)
	require.NoError(t, err)
	creditsBefore, err := store.Credits(ctx, 603)
	require.NoError(t, err)

	result, err := engine.Apply(ctx, matrix())
	require.NoError(t, err)
	assert.Equal(t, merge.OutcomeUnchanged, result.Outcome)

	after, err := store.Movie(ctx, 603)
	require.NoError(t, err)
	countsAfter, err := store.Counts(ctx)
	require.NoError(t, err)
	creditsAfter, err := store.Credits(ctx, 603)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, countsBefore, countsAfter)
	assert.Equal(t, creditsBefore, creditsAfter)
	assert.Len(t, rec.Events(), 1, "unchanged records publish nothing")
}

func TestApplyRecordsChangeHistory(t *testing.T) {
	ctx := services.WithMode(context.Background(), "changes")
	ctx = services.WithBatchID(ctx, "batch-1")
	ctx = services.WithRunID(ctx, "run-1")
	engine, store := newEngine(t, nil)

	_, err := engine.Apply(ctx, matrix())
	require.NoError(t, err)
	edited := matrix()
	edited.Tagline = "Free your mind."
	_, err = engine.Apply(ctx, edited)
	require.NoError(t, err)
	result, err := engine.Apply(ctx, edited)
	require.NoError(t, err)
	require.Equal(t, merge.OutcomeUnchanged, result.Outcome)

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	changes, err := store.RecentChanges(ctx, clock.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, changes, 2, "unchanged records leave no history")
	assert.Equal(t, catalog.ChangeCreated, changes[0].ChangeType)
	assert.Equal(t, catalog.ChangeUpdated, changes[1].ChangeType)
	for _, change := range changes {
		assert.Equal(t, int64(603), change.MovieID)
		assert.Equal(t, "The Matrix", change.Title)
		assert.Equal(t, "2024-06-01T12:00:00Z", change.ChangedAt)
		assert.Equal(t, "changes", change.Mode)
		assert.Equal(t, "batch-1", change.BatchID)
		assert.Equal(t, "run-1", change.RunID)
		assert.NotEmpty(t, change.ContentHash)
	}
	assert.NotEqual(t, changes[0].ContentHash, changes[1].ContentHash)

	later, err := store.RecentChanges(ctx, clock.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestApplyTruncatesCastByOrder(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, nil)

	movie := matrix()
	movie.Credits.Cast = nil
	for i := 19; i >= 0; i-- {
		movie.Credits.Cast = append(movie.Credits.Cast, tmdb.CastMember{
			ID:        int64(1000 + i),
			Name:      fmt.Sprintf("Actor %d", i),
			Character: fmt.Sprintf("Role %d", i),
			Order:     i,
		})
	}
	_, err := engine.Apply(ctx, movie)
	require.NoError(t, err)

	credits, err := store.Credits(ctx, 603)
	require.NoError(t, err)
	var orders []int
	for _, c := range credits {
		if c.Role == catalog.RoleCast {
			orders = append(orders, c.CreditOrder)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, orders)
}

func TestApplyReplacesCreditsAndGenres(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, nil)

	_, err := engine.Apply(ctx, matrix())
	require.NoError(t, err)

	updated := matrix()
	updated.Genres = []tmdb.Genre{{ID: 28, Name: "Action"}}
	updated.Credits.Cast = updated.Credits.Cast[:1]
	result, err := engine.Apply(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, merge.OutcomeUpdated, result.Outcome)

	genres, err := store.MovieGenres(ctx, 603)
	require.NoError(t, err)
	assert.Equal(t, []int64{28}, genres)

	credits, err := store.Credits(ctx, 603)
	require.NoError(t, err)
	assert.Len(t, credits, 3)

	fishburne, err := store.Person(ctx, 2975)
	require.NoError(t, err)
	assert.NotNil(t, fishburne, "people outlive the credits that introduced them")
}

func TestApplyOverwritesEnrichmentAndKeepsBaseline(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, nil)

	_, err := store.SeedBaseline(ctx, []catalog.BaselineRow{
		{MovieID: 603, BaselineID: 2571, Title: "Matrix, The", ReleaseDate: "1999-01-01", Rating: 4.2, Votes: 900, Tags: "cyberpunk"},
	})
	require.NoError(t, err)

	first := matrix()
	first.Tagline = "Welcome to the Real World"
	first.PosterPath = "/old.jpg"
	_, err = engine.Apply(ctx, first)
	require.NoError(t, err)

	sparse := matrix()
	sparse.Overview = ""
	sparse.Runtime = 0
	sparse.VoteAverage = 8.4
	_, err = engine.Apply(ctx, sparse)
	require.NoError(t, err)

	movie, err := store.Movie(ctx, 603)
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", movie.Title)
	assert.Equal(t, "1999-03-31", movie.ReleaseDate.String)
	assert.Empty(t, movie.Overview)
	assert.Empty(t, movie.Tagline)
	assert.Empty(t, movie.PosterPath)
	assert.Zero(t, movie.Runtime)
	assert.InDelta(t, 8.4, movie.VoteAverage, 0.0001)
	assert.Equal(t, int64(2571), movie.BaselineID.Int64)
	assert.Equal(t, "cyberpunk", movie.BaselineTags.String)
	assert.True(t, movie.Enriched())

	// Baseline reseeding after enrichment must not clobber enriched fields.
	_, err = store.SeedBaseline(ctx, []catalog.BaselineRow{{MovieID: 603, BaselineID: 2571, Title: "Matrix, The", ReleaseDate: "1999-01-01"}})
	require.NoError(t, err)
	movie, err = store.Movie(ctx, 603)
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", movie.Title)
}

func TestApplyFirstEnrichmentKeepsSeededTitleAndDate(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, nil)

	_, err := store.SeedBaseline(ctx, []catalog.BaselineRow{
		{MovieID: 603, BaselineID: 2571, Title: "Matrix, The", ReleaseDate: "1999-01-01"},
	})
	require.NoError(t, err)

	untitled := matrix()
	untitled.Title = ""
	untitled.ReleaseDate = ""
	_, err = engine.Apply(ctx, untitled)
	require.NoError(t, err)

	movie, err := store.Movie(ctx, 603)
	require.NoError(t, err)
	assert.Equal(t, "Matrix, The", movie.Title)
	assert.Equal(t, "1999-01-01", movie.ReleaseDate.String)
	assert.Equal(t, "A hacker learns the truth.", movie.Overview)
	assert.True(t, movie.Enriched())
}

func TestApplyRollsBackOnSubWriteFailure(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, nil)

	_, err := store.DB().ExecContext(ctx, `CREATE TRIGGER reject_ghost BEFORE INSERT ON credits
		WHEN NEW.person_id = 666 BEGIN SELECT RAISE(ABORT, 'injected credit failure'); END`)
	require.NoError(t, err)

	movie := matrix()
	movie.Credits.Cast = append(movie.Credits.Cast, tmdb.CastMember{ID: 666, Name: "Ghost", Character: "Ghost", Order: 2})

	_, err = engine.Apply(ctx, movie)
	var failed *merge.RecordCommitFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, int64(603), failed.MovieID)

	stored, err := store.Movie(ctx, 603)
	require.NoError(t, err)
	assert.Nil(t, stored)
	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalog.Counts{}, counts)

	// A sibling record is unaffected.
	other := matrix()
	other.ID = 604
	other.Title = "The Matrix Reloaded"
	_, err = engine.Apply(ctx, other)
	require.NoError(t, err)
}

func TestApplyRejectsInvalidID(t *testing.T) {
	engine, _ := newEngine(t, nil)
	_, err := engine.Apply(context.Background(), tmdb.Movie{Title: "No id"})
	var failed *merge.RecordCommitFailed
	require.ErrorAs(t, err, &failed)
}

func TestPublishFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()
	rec := &events.Recorder{Err: errors.New("broker down")}
	engine, store := newEngine(t, rec)

	result, err := engine.Apply(ctx, matrix())
	require.NoError(t, err)
	assert.Equal(t, merge.OutcomeCreated, result.Outcome)

	movie, err := store.Movie(ctx, 603)
	require.NoError(t, err)
	assert.NotNil(t, movie)
}

func TestConcurrentApplySameAndDistinctIDs(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			movie := matrix()
			if i%2 == 0 {
				movie.ID = int64(700 + i)
			}
			_, err := engine.Apply(ctx, movie)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, counts.Movies)
	assert.Equal(t, 11*4, counts.Credits)
}

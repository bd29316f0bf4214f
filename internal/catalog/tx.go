package catalog

import (
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

// Tx is a catalog transaction. Every write of one enrichment record goes
// through a single Tx so the record lands completely or not at all.
type Tx struct {
	tx     *sqlx.Tx
	flavor sqlbuilder.Flavor
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise. SQLite busy errors retry the whole transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	return s.retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin catalog tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(&Tx{tx: tx, flavor: s.flavor}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit catalog tx: %w", err)
		}
		return nil
	})
}

// Movie loads a movie inside the transaction.
func (t *Tx) Movie(ctx context.Context, id int64) (*Movie, error) {
	return getMovie(ctx, t.tx, t.flavor, id)
}

var enrichColumns = []string{
	"title", "original_title", "original_language", "overview", "tagline", "status", "imdb_id",
	"release_date", "runtime", "budget", "revenue", "popularity", "vote_average", "vote_count",
	"poster_path", "backdrop_path", "adult", "content_hash", "enriched_at", "synced_at",
}

// UpsertMovie writes the enrichment columns of m. Baseline columns are left
// untouched on existing rows.
func (t *Tx) UpsertMovie(ctx context.Context, m Movie) error {
	ib := t.flavor.NewInsertBuilder()
	ib.InsertInto("movies").
		Cols(append([]string{"id"}, enrichColumns...)...).
		Values(m.ID, m.Title, m.OriginalTitle, m.OriginalLanguage, m.Overview, m.Tagline, m.Status, m.IMDbID,
			m.ReleaseDate, m.Runtime, m.Budget, m.Revenue, m.Popularity, m.VoteAverage, m.VoteCount,
			m.PosterPath, m.BackdropPath, m.Adult, m.ContentHash, m.EnrichedAt, m.SyncedAt)
	query, args := ib.Build()
	query += " ON CONFLICT (id) DO UPDATE SET " + excludedAssignments(enrichColumns)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert movie %d: %w", m.ID, err)
	}
	return nil
}

// UpsertGenres inserts or renames genre reference rows.
func (t *Tx) UpsertGenres(ctx context.Context, genres []Genre) error {
	if len(genres) == 0 {
		return nil
	}
	ib := t.flavor.NewInsertBuilder()
	ib.InsertInto("genres").Cols("id", "name")
	for _, g := range genres {
		ib.Values(g.ID, g.Name)
	}
	query, args := ib.Build()
	query += " ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name"
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert genres: %w", err)
	}
	return nil
}

// ReplaceMovieGenres makes the movie's genre links exactly genreIDs.
func (t *Tx) ReplaceMovieGenres(ctx context.Context, movieID int64, genreIDs []int64) error {
	db := t.flavor.NewDeleteBuilder()
	db.DeleteFrom("movie_genres").Where(db.Equal("movie_id", movieID))
	query, args := db.Build()
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear genres for %d: %w", movieID, err)
	}
	if len(genreIDs) == 0 {
		return nil
	}
	ib := t.flavor.NewInsertBuilder()
	ib.InsertInto("movie_genres").Cols("movie_id", "genre_id")
	for _, id := range genreIDs {
		ib.Values(movieID, id)
	}
	query, args = ib.Build()
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("link genres for %d: %w", movieID, err)
	}
	return nil
}

// InsertPeopleIfAbsent adds people that are not yet known. Existing rows
// are kept as they are.
func (t *Tx) InsertPeopleIfAbsent(ctx context.Context, people []Person) error {
	if len(people) == 0 {
		return nil
	}
	ib := t.flavor.NewInsertBuilder()
	ib.InsertInto("people").Cols("id", "name", "profile_path", "gender", "known_for_department")
	for _, p := range people {
		ib.Values(p.ID, p.Name, p.ProfilePath, p.Gender, p.KnownForDepartment)
	}
	query, args := ib.Build()
	query += " ON CONFLICT (id) DO NOTHING"
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert people: %w", err)
	}
	return nil
}

// ReplaceCredits makes the movie's credit rows exactly credits.
func (t *Tx) ReplaceCredits(ctx context.Context, movieID int64, credits []Credit) error {
	db := t.flavor.NewDeleteBuilder()
	db.DeleteFrom("credits").Where(db.Equal("movie_id", movieID))
	query, args := db.Build()
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear credits for %d: %w", movieID, err)
	}
	if len(credits) == 0 {
		return nil
	}
	ib := t.flavor.NewInsertBuilder()
	ib.InsertInto("credits").
		Cols("movie_id", "person_id", "role", "slot", "character_name", "credit_order", "department", "job")
	for _, c := range credits {
		ib.Values(movieID, c.PersonID, c.Role, c.Slot, c.CharacterName, c.CreditOrder, c.Department, c.Job)
	}
	query, args = ib.Build()
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert credits for %d: %w", movieID, err)
	}
	return nil
}

func excludedAssignments(columns []string) string {
	out := ""
	for i, col := range columns {
		if i > 0 {
			out += ", "
		}
		out += col + " = EXCLUDED." + col
	}
	return out
}

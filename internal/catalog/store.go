package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"cinesync/internal/config"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DateLayout is the storage layout for release dates and cursor positions.
const DateLayout = "2006-01-02"

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is the relational catalog of movies, genres, people and credits,
// plus the per-mode sync cursors.
type Store struct {
	db      *sqlx.DB
	driver  string
	flavor  sqlbuilder.Flavor
	now     func() time.Time
	retries int
}

// Open connects to the catalog and ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	var flavor sqlbuilder.Flavor
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		flavor = sqlbuilder.SQLite
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
		flavor = sqlbuilder.PostgreSQL
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time; concurrent transactions queue on the pool.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, driver: driver, flavor: flavor, now: time.Now, retries: 5}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenFromConfig opens the catalog described by cfg.
func OpenFromConfig(ctx context.Context, cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("catalog: config is required")
	}
	return Open(ctx, cfg.Catalog.Driver, cfg.Catalog.DSN)
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// DB exposes the underlying handle for diagnostics and tests.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Movie loads a movie by id. It returns nil, nil when the row is absent.
func (s *Store) Movie(ctx context.Context, id int64) (*Movie, error) {
	return getMovie(ctx, s.db, s.flavor, id)
}

// KnownIDs returns the set of movie ids already in the catalog.
func (s *Store) KnownIDs(ctx context.Context) (map[int64]struct{}, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, "SELECT id FROM movies"); err != nil {
		return nil, fmt.Errorf("list movie ids: %w", err)
	}
	known := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return known, nil
}

// LatestReleaseDate returns the most recent stored release date, if any.
func (s *Store) LatestReleaseDate(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullString
	err := s.db.GetContext(ctx, &latest,
		"SELECT MAX(release_date) FROM movies WHERE release_date IS NOT NULL AND release_date <> ''")
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest release date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	parsed, err := time.Parse(DateLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse latest release date %q: %w", latest.String, err)
	}
	return parsed, true, nil
}

// Counts returns row counts for the catalog tables.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	err := s.db.GetContext(ctx, &counts, `SELECT
		(SELECT COUNT(1) FROM movies) AS movies,
		(SELECT COUNT(1) FROM genres) AS genres,
		(SELECT COUNT(1) FROM movie_genres) AS movie_genres,
		(SELECT COUNT(1) FROM people) AS people,
		(SELECT COUNT(1) FROM credits) AS credits,
		(SELECT COUNT(1) FROM movie_changes) AS movie_changes`)
	if err != nil {
		return Counts{}, fmt.Errorf("count catalog rows: %w", err)
	}
	return counts, nil
}

// Credits returns the credits of a movie ordered by role then billing order.
func (s *Store) Credits(ctx context.Context, movieID int64) ([]Credit, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("movie_id", "person_id", "role", "slot", "character_name", "credit_order", "department", "job").
		From("credits").
		Where(sb.Equal("movie_id", movieID)).
		OrderBy("role", "credit_order", "person_id", "slot")
	query, args := sb.Build()
	var credits []Credit
	if err := s.db.SelectContext(ctx, &credits, query, args...); err != nil {
		return nil, fmt.Errorf("list credits for %d: %w", movieID, err)
	}
	return credits, nil
}

// MovieGenres returns the genre ids linked to a movie in ascending order.
func (s *Store) MovieGenres(ctx context.Context, movieID int64) ([]int64, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("genre_id").From("movie_genres").Where(sb.Equal("movie_id", movieID)).OrderBy("genre_id")
	query, args := sb.Build()
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list genres for %d: %w", movieID, err)
	}
	return ids, nil
}

// Person loads a person by id. It returns nil, nil when absent.
func (s *Store) Person(ctx context.Context, id int64) (*Person, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("id", "name", "profile_path", "gender", "known_for_department").
		From("people").Where(sb.Equal("id", id))
	query, args := sb.Build()
	var person Person
	if err := s.db.GetContext(ctx, &person, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get person %d: %w", id, err)
	}
	return &person, nil
}

var movieColumns = []string{
	"id", "title", "original_title", "original_language", "overview", "tagline", "status", "imdb_id",
	"release_date", "runtime", "budget", "revenue", "popularity", "vote_average", "vote_count",
	"poster_path", "backdrop_path", "adult", "baseline_id", "baseline_rating", "baseline_votes",
	"baseline_tags", "content_hash", "enriched_at", "synced_at",
}

func getMovie(ctx context.Context, q sqlx.QueryerContext, flavor sqlbuilder.Flavor, id int64) (*Movie, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(movieColumns...).From("movies").Where(sb.Equal("id", id))
	query, args := sb.Build()
	var movie Movie
	if err := sqlx.GetContext(ctx, q, &movie, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get movie %d: %w", id, err)
	}
	return &movie, nil
}

func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	return nil
}

// sqliteDSN appends connection pragmas so every pooled connection gets them.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(ON)")
	params.Add("_pragma", "busy_timeout(5000)")
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + params.Encode()
}

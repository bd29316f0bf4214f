package catalog

import (
	"database/sql"
	"time"
)

// Credit roles.
const (
	RoleCast = "cast"
	RoleCrew = "crew"
)

// Movie is one catalog row keyed by the provider id. Baseline columns come
// only from the bulk dataset and are never written by enrichment.
type Movie struct {
	ID               int64           `db:"id"`
	Title            string          `db:"title"`
	OriginalTitle    string          `db:"original_title"`
	OriginalLanguage string          `db:"original_language"`
	Overview         string          `db:"overview"`
	Tagline          string          `db:"tagline"`
	Status           string          `db:"status"`
	IMDbID           string          `db:"imdb_id"`
	ReleaseDate      sql.NullString  `db:"release_date"`
	Runtime          int             `db:"runtime"`
	Budget           int64           `db:"budget"`
	Revenue          int64           `db:"revenue"`
	Popularity       float64         `db:"popularity"`
	VoteAverage      float64         `db:"vote_average"`
	VoteCount        int64           `db:"vote_count"`
	PosterPath       string          `db:"poster_path"`
	BackdropPath     string          `db:"backdrop_path"`
	Adult            bool            `db:"adult"`
	BaselineID       sql.NullInt64   `db:"baseline_id"`
	BaselineRating   sql.NullFloat64 `db:"baseline_rating"`
	BaselineVotes    sql.NullInt64   `db:"baseline_votes"`
	BaselineTags     sql.NullString  `db:"baseline_tags"`
	ContentHash      string          `db:"content_hash"`
	EnrichedAt       sql.NullString  `db:"enriched_at"`
	SyncedAt         string          `db:"synced_at"`
}

// Enriched reports whether provider enrichment has been applied at least once.
func (m *Movie) Enriched() bool {
	return m != nil && m.EnrichedAt.Valid
}

// Genre is provider reference data.
type Genre struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// Person is shared across movies and never deleted with them.
type Person struct {
	ID                 int64  `db:"id"`
	Name               string `db:"name"`
	ProfilePath        string `db:"profile_path"`
	Gender             int    `db:"gender"`
	KnownForDepartment string `db:"known_for_department"`
}

// Credit links a person to a movie. Slot is the character for cast and the
// job for crew; (movie, person, role, slot) is unique.
type Credit struct {
	MovieID       int64  `db:"movie_id"`
	PersonID      int64  `db:"person_id"`
	Role          string `db:"role"`
	Slot          string `db:"slot"`
	CharacterName string `db:"character_name"`
	CreditOrder   int    `db:"credit_order"`
	Department    string `db:"department"`
	Job           string `db:"job"`
}

// Cursor is the persisted high-water mark for one ingestion mode.
type Cursor struct {
	Mode      string `db:"mode"`
	Position  string `db:"position"`
	UpdatedAt string `db:"updated_at"`
}

// Time parses the cursor position.
func (c Cursor) Time() (time.Time, error) {
	return time.Parse(DateLayout, c.Position)
}

// BaselineRow is one record from the bulk dataset.
type BaselineRow struct {
	MovieID     int64
	BaselineID  int64
	Title       string
	ReleaseDate string
	Rating      float64
	Votes       int64
	Tags        string
}

// Counts summarizes table sizes.
type Counts struct {
	Movies      int `db:"movies"`
	Genres      int `db:"genres"`
	MovieGenres int `db:"movie_genres"`
	People      int `db:"people"`
	Credits     int `db:"credits"`
	Changes     int `db:"movie_changes"`
}

// ChangeType names how a commit touched a movie row.
type ChangeType string

// Change types.
const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
)

// MovieChange is one entry of the catalog change history. Title is read from
// the movie row and is not stored with the change.
type MovieChange struct {
	ID          int64      `db:"id" json:"id"`
	MovieID     int64      `db:"movie_id" json:"movie_id"`
	Title       string     `db:"title" json:"title"`
	ChangeType  ChangeType `db:"change_type" json:"change_type"`
	ChangedAt   string     `db:"changed_at" json:"changed_at"`
	ContentHash string     `db:"content_hash" json:"content_hash"`
	Mode        string     `db:"mode" json:"mode,omitempty"`
	BatchID     string     `db:"batch_id" json:"batch_id,omitempty"`
	RunID       string     `db:"run_id" json:"run_id,omitempty"`
}

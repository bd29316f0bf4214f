package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SeedBaseline merges bulk dataset rows into the catalog. Only baseline
// columns are written, except that title and release date fill rows that
// have not been enriched yet. It returns the number of rows written.
func (s *Store) SeedBaseline(ctx context.Context, rows []BaselineRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := s.now().UTC().Format(time.RFC3339)
	query := s.db.Rebind(`INSERT INTO movies (id, title, release_date, baseline_id, baseline_rating, baseline_votes, baseline_tags, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			baseline_id = EXCLUDED.baseline_id,
			baseline_rating = EXCLUDED.baseline_rating,
			baseline_votes = EXCLUDED.baseline_votes,
			baseline_tags = EXCLUDED.baseline_tags,
			title = CASE WHEN movies.enriched_at IS NULL THEN EXCLUDED.title ELSE movies.title END,
			release_date = CASE WHEN movies.enriched_at IS NULL THEN EXCLUDED.release_date ELSE movies.release_date END`)

	written := 0
	err := s.WithTx(ctx, func(tx *Tx) error {
		written = 0
		for _, row := range rows {
			if row.MovieID <= 0 {
				return fmt.Errorf("baseline row has invalid movie id %d", row.MovieID)
			}
			release := sql.NullString{}
			if date := strings.TrimSpace(row.ReleaseDate); date != "" {
				if _, err := time.Parse(DateLayout, date); err != nil {
					return fmt.Errorf("baseline row %d: release date %q: %w", row.MovieID, date, err)
				}
				release = sql.NullString{String: date, Valid: true}
			}
			if _, err := tx.tx.ExecContext(ctx, query,
				row.MovieID, row.Title, release, row.BaselineID, row.Rating, row.Votes, row.Tags, now); err != nil {
				return fmt.Errorf("seed baseline %d: %w", row.MovieID, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
)

// RecordChange appends one entry to the change history. ID and Title are
// ignored.
func (t *Tx) RecordChange(ctx context.Context, c MovieChange) error {
	switch c.ChangeType {
	case ChangeCreated, ChangeUpdated:
	default:
		return fmt.Errorf("record change for %d: unknown change type %q", c.MovieID, c.ChangeType)
	}
	ib := t.flavor.NewInsertBuilder()
	ib.InsertInto("movie_changes").
		Cols("movie_id", "change_type", "changed_at", "content_hash", "mode", "batch_id", "run_id").
		Values(c.MovieID, string(c.ChangeType), c.ChangedAt, c.ContentHash, c.Mode, c.BatchID, c.RunID)
	query, args := ib.Build()
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record change for %d: %w", c.MovieID, err)
	}
	return nil
}

// RecentChanges lists the history entries recorded at or after since, oldest
// first.
func (s *Store) RecentChanges(ctx context.Context, since time.Time) ([]MovieChange, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(
		sb.As("c.id", "id"),
		sb.As("c.movie_id", "movie_id"),
		sb.As("COALESCE(m.title, '')", "title"),
		sb.As("c.change_type", "change_type"),
		sb.As("c.changed_at", "changed_at"),
		sb.As("c.content_hash", "content_hash"),
		sb.As("c.mode", "mode"),
		sb.As("c.batch_id", "batch_id"),
		sb.As("c.run_id", "run_id"),
	).
		From(sb.As("movie_changes", "c")).
		JoinWithOption(sqlbuilder.LeftJoin, sb.As("movies", "m"), "m.id = c.movie_id").
		Where(sb.GreaterEqualThan("c.changed_at", since.UTC().Format(time.RFC3339))).
		OrderBy("c.changed_at", "c.id")
	query, args := sb.Build()

	var changes []MovieChange
	if err := s.db.SelectContext(ctx, &changes, query, args...); err != nil {
		return nil, fmt.Errorf("list recent changes: %w", err)
	}
	return changes, nil
}

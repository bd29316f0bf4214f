package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Cursor returns the stored cursor for mode. ok is false when none exists.
func (s *Store) Cursor(ctx context.Context, mode string) (Cursor, bool, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("mode", "position", "updated_at").From("sync_cursors").Where(sb.Equal("mode", mode))
	query, args := sb.Build()
	var cursor Cursor
	if err := s.db.GetContext(ctx, &cursor, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cursor{}, false, nil
		}
		return Cursor{}, false, fmt.Errorf("read cursor %s: %w", mode, err)
	}
	return cursor, true, nil
}

// Cursors lists every stored cursor ordered by mode.
func (s *Store) Cursors(ctx context.Context) ([]Cursor, error) {
	var cursors []Cursor
	if err := s.db.SelectContext(ctx, &cursors, "SELECT mode, position, updated_at FROM sync_cursors ORDER BY mode"); err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	return cursors, nil
}

// AdvanceCursor moves the cursor for mode forward to position. A position at
// or behind the stored one is ignored and reported as not advanced.
func (s *Store) AdvanceCursor(ctx context.Context, mode string, position time.Time) (bool, error) {
	pos := position.UTC().Format(DateLayout)
	now := s.now().UTC().Format(time.RFC3339)

	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("sync_cursors").Cols("mode", "position", "updated_at").Values(mode, pos, now)
	query, args := ib.Build()
	query += " ON CONFLICT (mode) DO UPDATE SET position = EXCLUDED.position, updated_at = EXCLUDED.updated_at" +
		" WHERE sync_cursors.position < EXCLUDED.position"

	var advanced bool
	err := s.retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		advanced = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("advance cursor %s: %w", mode, err)
	}
	return advanced, nil
}

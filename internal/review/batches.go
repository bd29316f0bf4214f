package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cinesync/internal/logging"
)

// NewBatchID builds `<mode>-<cursor>-<created yyyymmddThhmmss>-<short uuid>`.
func NewBatchID(mode Mode, cursor string, created string) string {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		cursor = "none"
	}
	cursor = strings.NewReplacer(" ", "_", "/", "_").Replace(cursor)
	return fmt.Sprintf("%s-%s-%s-%s", mode, cursor, created, uuid.NewString()[:8])
}

// Create persists a batch and every candidate snapshot in one transaction,
// then moves it to UNDER_REVIEW and writes its review document.
func (s *Store) Create(ctx context.Context, nb NewBatch) (*Batch, error) {
	if _, ok := modeSet[nb.Mode]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, nb.Mode)
	}
	now := s.now().UTC()
	cursor := nb.CursorEnd
	if cursor == "" {
		cursor = nb.CursorStart
	}
	id := NewBatchID(nb.Mode, cursor, now.Format("20060102T150405"))

	var failuresJSON any
	if len(nb.Failures) > 0 {
		encoded, err := json.Marshal(nb.Failures)
		if err != nil {
			return nil, fmt.Errorf("encode fetch failures: %w", err)
		}
		failuresJSON = string(encoded)
	}

	seen := make(map[int64]struct{}, len(nb.Movies))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		clear(seen)
		stamp := formatTime(now)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO review_batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
			id, string(nb.Mode), nullableString(nb.CursorStart), nullableString(nb.CursorEnd), StatusFetched,
			boolToInt(nb.Incomplete), 0, failuresJSON, stamp, stamp,
		); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		position := 0
		for _, movie := range nb.Movies {
			if _, dup := seen[movie.ID]; dup {
				continue
			}
			seen[movie.ID] = struct{}{}
			snapshot, err := json.Marshal(movie)
			if err != nil {
				return fmt.Errorf("encode snapshot %d: %w", movie.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO review_records (batch_id, position, movie_id, title, release_date, movie_json, decision)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, position, movie.ID, movie.Title, nullableString(movie.ReleaseDate), string(snapshot), DecisionPending,
			); err != nil {
				return fmt.Errorf("insert record %d: %w", movie.ID, err)
			}
			position++
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE review_batches SET status = ?, record_count = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusUnderReview, position, stamp, id, StatusFetched,
		); err != nil {
			return fmt.Errorf("open batch for review: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	batch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.writeDocument(ctx, batch); err != nil {
		logging.WarnWithContext(s.logger, "review document not written", "review_document_write",
			zap.String(logging.FieldBatchID, id),
			zap.Error(err),
			zap.String(logging.FieldErrorHint, "run review export to regenerate the document"),
			zap.String(logging.FieldImpact, "batch is stored; only the file copy is missing"),
		)
	}
	return batch, nil
}

// Get returns the batch with id.
func (s *Store) Get(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM review_batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return batch, nil
}

// List returns batches newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM review_batches`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// MarkLoaded moves an UNDER_REVIEW batch to LOADED. It reports false without
// error when the batch is already LOADED.
func (s *Store) MarkLoaded(ctx context.Context, id string) (bool, error) {
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE review_batches SET status = ?, loaded_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusLoaded, now, now, id, StatusUnderReview,
	)
	if err != nil {
		return false, fmt.Errorf("mark batch loaded: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	batch, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if batch.Status == StatusLoaded {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s is %s", ErrBatchClosed, id, batch.Status)
}

// Archive moves a LOADED batch to ARCHIVED and its document to processed/.
// Archiving an ARCHIVED batch is a no-op.
func (s *Store) Archive(ctx context.Context, id string) (bool, error) {
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE review_batches SET status = ?, archived_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusArchived, now, now, id, StatusLoaded,
	)
	if err != nil {
		return false, fmt.Errorf("archive batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		batch, err := s.Get(ctx, id)
		if err != nil {
			return false, err
		}
		if batch.Status == StatusArchived {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s is %s, want %s", ErrBatchClosed, id, batch.Status, StatusLoaded)
	}
	if err := s.moveDocumentToProcessed(ctx, id); err != nil {
		logging.WarnWithContext(s.logger, "review document not archived", "review_document_archive",
			zap.String(logging.FieldBatchID, id),
			zap.Error(err),
			zap.String(logging.FieldImpact, "document stays in raw/"),
		)
	}
	return true, nil
}

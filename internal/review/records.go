package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Decide records a decision for one record. Repeating the current decision
// is a no-op; changing a non-pending decision requires override.
func (s *Store) Decide(ctx context.Context, batchID string, movieID int64, decision Decision, override bool) error {
	_, err := s.decide(ctx, batchID, movieID, decision, override)
	return err
}

func (s *Store) decide(ctx context.Context, batchID string, movieID int64, decision Decision, override bool) (bool, error) {
	switch decision {
	case DecisionApproved, DecisionRejected, DecisionSkipped:
	case DecisionPending:
		if !override {
			return false, fmt.Errorf("%w: resetting to pending requires override", ErrInvalidDecision)
		}
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	changed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		changed = false
		if err := requireDecidable(ctx, tx, batchID); err != nil {
			return err
		}

		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT decision FROM review_records WHERE batch_id = ? AND movie_id = ?`, batchID, movieID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%d", ErrRecordNotFound, batchID, movieID)
		}
		if err != nil {
			return fmt.Errorf("read decision: %w", err)
		}
		if Decision(current) == decision {
			return nil
		}
		if Decision(current) != DecisionPending && !override {
			return fmt.Errorf("%w: %s/%d is %s", ErrAlreadyDecided, batchID, movieID, current)
		}

		var reviewed any
		if decision != DecisionPending {
			reviewed = formatTime(s.now())
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE review_records SET decision = ?, reviewed_at = ? WHERE batch_id = ? AND movie_id = ?`,
			decision, reviewed, batchID, movieID,
		); err != nil {
			return fmt.Errorf("update decision: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE review_batches SET updated_at = ? WHERE id = ?`, formatTime(s.now()), batchID,
		); err != nil {
			return fmt.Errorf("touch batch: %w", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

// ApproveAll approves every pending record and returns how many changed.
func (s *Store) ApproveAll(ctx context.Context, batchID string) (int64, error) {
	var approved int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireDecidable(ctx, tx, batchID); err != nil {
			return err
		}
		now := formatTime(s.now())
		res, err := tx.ExecContext(ctx,
			`UPDATE review_records SET decision = ?, reviewed_at = ? WHERE batch_id = ? AND decision = ?`,
			DecisionApproved, now, batchID, DecisionPending,
		)
		if err != nil {
			return fmt.Errorf("approve records: %w", err)
		}
		approved, _ = res.RowsAffected()
		_, err = tx.ExecContext(ctx, `UPDATE review_batches SET updated_at = ? WHERE id = ?`, now, batchID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return approved, nil
}

// Records returns every record of the batch in candidate order.
func (s *Store) Records(ctx context.Context, batchID string) ([]*Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM review_records WHERE batch_id = ? ORDER BY position`, batchID)
}

// Approved returns approved records in candidate order, including ones
// already committed by an earlier load.
func (s *Store) Approved(ctx context.Context, batchID string) ([]*Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM review_records WHERE batch_id = ? AND decision = ? ORDER BY position`,
		batchID, DecisionApproved)
}

// Pending returns records still awaiting a decision.
func (s *Store) Pending(ctx context.Context, batchID string) ([]*Record, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM review_records WHERE batch_id = ? AND decision = ? ORDER BY position`,
		batchID, DecisionPending)
}

// Record returns one record of a batch.
func (s *Store) Record(ctx context.Context, batchID string, movieID int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM review_records WHERE batch_id = ? AND movie_id = ?`, batchID, movieID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%d", ErrRecordNotFound, batchID, movieID)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// MarkRecordOutcome stores the load outcome of one record.
func (s *Store) MarkRecordOutcome(ctx context.Context, batchID string, movieID int64, status CommitStatus, cause error) error {
	var message any
	if cause != nil {
		message = cause.Error()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE review_records SET commit_status = ?, commit_error = ? WHERE batch_id = ? AND movie_id = ?`,
		status, message, batchID, movieID,
	)
	if err != nil {
		return fmt.Errorf("mark record outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%d", ErrRecordNotFound, batchID, movieID)
	}
	return nil
}

// Counts tallies the batch's records per decision.
func (s *Store) Counts(ctx context.Context, batchID string) (DecisionCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision, COUNT(*) FROM review_records WHERE batch_id = ? GROUP BY decision`, batchID)
	if err != nil {
		return DecisionCounts{}, fmt.Errorf("count decisions: %w", err)
	}
	defer rows.Close()

	var counts DecisionCounts
	for rows.Next() {
		var (
			decision string
			n        int
		)
		if err := rows.Scan(&decision, &n); err != nil {
			return DecisionCounts{}, err
		}
		switch Decision(decision) {
		case DecisionPending:
			counts.Pending = n
		case DecisionApproved:
			counts.Approved = n
		case DecisionRejected:
			counts.Rejected = n
		case DecisionSkipped:
			counts.Skipped = n
		}
	}
	return counts, rows.Err()
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func requireDecidable(ctx context.Context, tx *sql.Tx, batchID string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM review_batches WHERE id = ?`, batchID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if err != nil {
		return fmt.Errorf("read batch status: %w", err)
	}
	if Status(status) != StatusUnderReview {
		return fmt.Errorf("%w: %s is %s", ErrBatchClosed, batchID, status)
	}
	return nil
}

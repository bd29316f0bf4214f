package workflow

import (
	"context"
	"io"

	"go.uber.org/zap"

	"cinesync/internal/logging"
	"cinesync/internal/review"
)

// Batches lists review batches, newest first, optionally filtered by status.
func (m *Manager) Batches(ctx context.Context, statuses ...review.Status) ([]*review.Batch, error) {
	return m.reviews.List(ctx, statuses...)
}

// Batch returns one review batch.
func (m *Manager) Batch(ctx context.Context, batchID string) (*review.Batch, error) {
	return m.reviews.Get(ctx, batchID)
}

// Records returns the records of a batch in candidate order.
func (m *Manager) Records(ctx context.Context, batchID string) ([]*review.Record, error) {
	return m.reviews.Records(ctx, batchID)
}

// Decide records a reviewer decision for one record.
func (m *Manager) Decide(ctx context.Context, batchID string, movieID int64, decision review.Decision, override bool) error {
	if err := m.reviews.Decide(ctx, batchID, movieID, decision, override); err != nil {
		return err
	}
	m.logger.Debug("record decided",
		zap.String(logging.FieldBatchID, batchID),
		zap.Int64(logging.FieldMovieID, movieID),
		zap.String("decision", string(decision)),
	)
	return nil
}

// ApproveAll approves every pending record of a batch.
func (m *Manager) ApproveAll(ctx context.Context, batchID string) (int64, error) {
	n, err := m.reviews.ApproveAll(ctx, batchID)
	if err != nil {
		return 0, err
	}
	m.logger.Info("pending records approved", zap.String(logging.FieldBatchID, batchID), zap.Int64("count", n))
	return n, nil
}

// Export writes the review document of a batch to w.
func (m *Manager) Export(ctx context.Context, batchID string, w io.Writer) error {
	return m.reviews.Export(ctx, batchID, w)
}

// Import applies decisions from a review document.
func (m *Manager) Import(ctx context.Context, r io.Reader, override bool) (*review.ImportResult, error) {
	result, err := m.reviews.Import(ctx, r, override)
	if err != nil {
		return nil, err
	}
	if len(result.Conflicts) > 0 {
		logging.WarnWithContext(m.logger, "review import skipped conflicting decisions", "review_import_conflict",
			zap.String(logging.FieldBatchID, result.BatchID),
			zap.Int64s("movie_ids", result.Conflicts),
			zap.String(logging.FieldErrorHint, "re-import with override to replace earlier decisions"),
			zap.String(logging.FieldImpact, "earlier decisions were kept"),
		)
	}
	return result, nil
}

// DecisionCounts tallies a batch's records per decision.
func (m *Manager) DecisionCounts(ctx context.Context, batchID string) (review.DecisionCounts, error) {
	return m.reviews.Counts(ctx, batchID)
}

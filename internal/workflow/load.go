package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cinesync/internal/catalog"
	"cinesync/internal/logging"
	"cinesync/internal/merge"
	"cinesync/internal/review"
	"cinesync/internal/services"
	"cinesync/internal/tmdb"
)

// Load applies the approved records of a batch. Records committed by an
// earlier load are skipped, so re-loading a LOADED batch retries only what
// failed. When the batch is complete and every approved record has
// committed, the mode cursor advances to the batch's cursor end and the batch
// is archived. Loading an archived batch is a no-op.
func (m *Manager) Load(ctx context.Context, batchID string) (*Summary, error) {
	batch, err := m.reviews.Get(ctx, batchID)
	if err != nil {
		r := m.begin(ctx, "load")
		r.summary.BatchID = batchID
		if errors.Is(err, review.ErrBatchNotFound) {
			err = services.Wrap(services.ErrNotFound, "load", "batch", batchID, err)
		} else {
			err = services.Wrap(services.ErrStorage, "load", "batch", batchID, err)
		}
		return m.finish(r, err)
	}

	mode := string(batch.Mode)
	r := m.begin(ctx, mode)
	unlock, err := m.lock(mode)
	if err != nil {
		m.bindBatch(r, batch)
		return m.finish(r, err)
	}
	defer unlock()
	return m.finish(r, m.load(r, batch))
}

func (m *Manager) load(r *run, batch *review.Batch) error {
	m.bindBatch(r, batch)
	s := r.summary
	s.Incomplete = s.Incomplete || batch.Incomplete

	switch batch.Status {
	case review.StatusArchived:
		r.logger.Info("batch already archived; nothing to load")
		return nil
	case review.StatusUnderReview, review.StatusLoaded:
	default:
		return services.Wrap(services.ErrValidation, s.Mode, "load",
			fmt.Sprintf("batch %s is %s", batch.ID, batch.Status), review.ErrBatchClosed)
	}
	if hasCursor(batch.Mode) {
		if err := m.readCursor(r); err != nil {
			return err
		}
	}

	approved, err := m.reviews.Approved(r.ctx, batch.ID)
	if err != nil {
		return services.Wrap(services.ErrStorage, s.Mode, "load", "read approved records", err)
	}
	s.Approved = len(approved)
	if batch.Status == review.StatusUnderReview {
		counts, err := m.reviews.Counts(r.ctx, batch.ID)
		if err != nil {
			return services.Wrap(services.ErrStorage, s.Mode, "load", "count decisions", err)
		}
		if counts.Pending > 0 {
			logging.WarnWithContext(r.logger, "loading batch with undecided records", "load_pending",
				zap.Int("pending", counts.Pending),
				zap.String(logging.FieldErrorHint, "decide every record before load to include it"),
				zap.String(logging.FieldImpact, "undecided records are closed without being committed"),
			)
		}
	}

	failed, err := m.applyRecords(r, approved)
	if err != nil {
		return err
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}

	if batch.Status == review.StatusUnderReview {
		if _, err := m.reviews.MarkLoaded(r.ctx, batch.ID); err != nil {
			return services.Wrap(services.ErrStorage, s.Mode, "load", "mark loaded", err)
		}
	}
	s.BatchStatus = review.StatusLoaded

	if batch.Incomplete || failed > 0 {
		logging.WarnWithContext(r.logger, "batch loaded with gaps; cursor held", "load_partial",
			zap.Bool("incomplete", batch.Incomplete),
			zap.Int("commit_failures", failed),
			zap.String(logging.FieldErrorHint, "re-run load to retry failed records, or re-run the mode to refetch gaps"),
			zap.String(logging.FieldImpact, "cursor stays at "+s.CursorBefore),
		)
		return nil
	}

	if err := m.advance(r, batch); err != nil {
		return err
	}
	if _, err := m.reviews.Archive(r.ctx, batch.ID); err != nil {
		return services.Wrap(services.ErrStorage, s.Mode, "load", "archive batch", err)
	}
	s.BatchStatus = review.StatusArchived
	return nil
}

// applyRecords commits every approved record not already done on a bounded
// pool. It returns how many records failed; only a review store failure is
// returned as an error.
func (m *Manager) applyRecords(r *run, approved []*review.Record) (int, error) {
	var (
		mu     sync.Mutex
		failed int
	)
	g := new(errgroup.Group)
	g.SetLimit(max(1, m.cfg.Sync.Workers))
	for _, record := range approved {
		if record.CommitStatus.Done() {
			continue
		}
		if r.ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, applyErr := m.apply(r, record.Movie)
			status := review.CommitCommitted
			switch {
			case applyErr != nil:
				status = review.CommitFailed
			case result.Outcome == merge.OutcomeUnchanged:
				status = review.CommitUnchanged
			}
			// The outcome is recorded even when the run is being canceled.
			markCtx := context.WithoutCancel(r.ctx)
			if err := m.reviews.MarkRecordOutcome(markCtx, record.BatchID, record.MovieID, status, applyErr); err != nil {
				return services.Wrap(services.ErrStorage, r.summary.Mode, "load",
					fmt.Sprintf("record outcome for movie %d", record.MovieID), err)
			}
			mu.Lock()
			defer mu.Unlock()
			r.summary.tally(record.MovieID, result, applyErr)
			if applyErr != nil {
				failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failed, err
	}
	return failed, nil
}

func (m *Manager) apply(r *run, movie tmdb.Movie) (merge.CommitResult, error) {
	ctx := services.WithMovieID(r.ctx, movie.ID)
	result, err := m.engine.Apply(ctx, movie)
	if err != nil {
		m.metrics.Record(r.summary.Mode, "failed")
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "record not committed", "commit_failed",
			zap.Error(err),
			zap.String(logging.FieldErrorHint, "fix the cause and re-run load for this batch"),
			zap.String(logging.FieldImpact, "record rolled back; other records unaffected"),
		)
		return result, err
	}
	m.metrics.Record(r.summary.Mode, string(result.Outcome))
	return result, nil
}

// advance moves the mode cursor to the batch's cursor end.
func (m *Manager) advance(r *run, batch *review.Batch) error {
	if !hasCursor(batch.Mode) || batch.CursorEnd == "" {
		return nil
	}
	s := r.summary
	position, err := time.Parse(catalog.DateLayout, batch.CursorEnd)
	if err != nil {
		return services.Wrap(services.ErrStorage, s.Mode, "advance cursor", "corrupt cursor end "+batch.CursorEnd, err)
	}
	advanced, err := m.catalog.AdvanceCursor(r.ctx, s.Mode, position)
	if err != nil {
		return services.Wrap(services.ErrStorage, s.Mode, "advance cursor", "", err)
	}
	s.CursorAdvanced = advanced
	if advanced {
		s.CursorAfter = batch.CursorEnd
		m.metrics.SetCursor(s.Mode, position)
		r.logger.Info("cursor advanced",
			zap.String("from", s.CursorBefore),
			zap.String("to", s.CursorAfter),
		)
	}
	return nil
}

func hasCursor(mode review.Mode) bool {
	switch mode {
	case review.ModeInit, review.ModeMissing, review.ModeChanges:
		return true
	default:
		return false
	}
}

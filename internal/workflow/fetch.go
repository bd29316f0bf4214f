package workflow

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cinesync/internal/gateway"
	"cinesync/internal/logging"
	"cinesync/internal/review"
	"cinesync/internal/selector"
	"cinesync/internal/services"
	"cinesync/internal/tmdb"
)

// fetched is the outcome of the fetch stage, in selection order.
type fetched struct {
	movies     []tmdb.Movie
	failures   []review.FetchFailure
	incomplete bool
}

type fetchSlot struct {
	index   int
	movie   *tmdb.Movie
	failure *review.FetchFailure
}

// collect drains seq into a bounded pool of detail fetches. A selection error
// aborts the stage; per-record fetch failures are kept in the result. When the
// breaker opens no further candidates are consumed and the result is marked
// incomplete. A selection cut short by the page cap is incomplete too.
func (m *Manager) collect(r *run, seq iter.Seq2[selector.Ref, error], stats *selector.Stats) (*fetched, error) {
	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()

	var (
		mu         sync.Mutex
		slots      []fetchSlot
		incomplete bool
		resume     *selector.Checkpoint
		circuit    atomic.Bool
	)
	holdResume := func(cp selector.Checkpoint) {
		if cp.Year == 0 {
			return
		}
		if resume == nil || cp.Year < resume.Year || (cp.Year == resume.Year && cp.Page < resume.Page) {
			c := cp
			resume = &c
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(max(1, m.cfg.Sync.Workers))

	var selectErr error
	index := 0
	for ref, err := range seq {
		if err != nil {
			selectErr = err
			break
		}
		if circuit.Load() {
			mu.Lock()
			incomplete = true
			holdResume(ref.Checkpoint)
			mu.Unlock()
			break
		}
		r.summary.Selected++
		slot := index
		index++
		g.Go(func() error {
			movie, err := m.fetchOne(ctx, r, ref.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				kind := gateway.Classify(err)
				if errors.Is(err, context.Canceled) {
					kind = "canceled"
				}
				if kind != "permanent" {
					incomplete = true
					holdResume(ref.Checkpoint)
				}
				if kind == "circuit_open" {
					circuit.Store(true)
				}
				slots = append(slots, fetchSlot{index: slot, failure: &review.FetchFailure{
					MovieID: ref.ID, Kind: kind, Error: err.Error(),
				}})
			case movie.Adult:
				r.summary.Filtered++
				m.metrics.Record(r.summary.Mode, "filtered")
			default:
				slots = append(slots, fetchSlot{index: slot, movie: movie})
			}
			return nil
		})
	}
	_ = g.Wait()
	r.summary.Filtered += stats.Filtered()
	if stats != nil && stats.Truncated > 0 {
		incomplete = true
		r.summary.Truncated += stats.Truncated
	}

	if selectErr != nil {
		return nil, services.Wrap(services.ErrSelection, r.summary.Mode, "select", "", selectErr)
	}
	if err := r.ctx.Err(); err != nil {
		return nil, services.Wrap(services.ErrSelection, r.summary.Mode, "fetch", "canceled", err)
	}

	slices.SortFunc(slots, func(a, b fetchSlot) int { return a.index - b.index })
	out := &fetched{incomplete: incomplete}
	for _, slot := range slots {
		if slot.failure != nil {
			out.failures = append(out.failures, *slot.failure)
			r.summary.addFailure(Failure{
				MovieID: slot.failure.MovieID,
				Stage:   StageFetch,
				Kind:    slot.failure.Kind,
				Error:   slot.failure.Error,
			})
			continue
		}
		out.movies = append(out.movies, *slot.movie)
	}
	r.summary.Fetched = len(out.movies)
	r.summary.Incomplete = r.summary.Incomplete || incomplete
	r.summary.CircuitOpened = r.summary.CircuitOpened || circuit.Load()
	r.summary.ResumeFrom = resume

	if circuit.Load() {
		logging.WarnWithContext(r.logger, "provider circuit opened during fetch", "fetch_circuit_open",
			zap.Int("fetched", r.summary.Fetched),
			zap.String(logging.FieldErrorHint, "wait for the provider to recover and re-run the mode"),
			zap.String(logging.FieldImpact, "remaining candidates were not fetched; cursor will not advance"),
		)
	}
	return out, nil
}

func (m *Manager) fetchOne(ctx context.Context, r *run, id int64) (*tmdb.Movie, error) {
	movie, err := m.provider.Movie(services.WithMovieID(ctx, id), id)
	if err != nil {
		m.metrics.Record(r.summary.Mode, "fetch_failed")
		r.logger.Debug("fetch failed",
			zap.Int64(logging.FieldMovieID, id),
			zap.String("kind", gateway.Classify(err)),
			zap.Error(err),
		)
		return nil, err
	}
	m.metrics.Record(r.summary.Mode, "fetched")
	return movie, nil
}

// createBatch stores the fetch result as a review batch.
func (m *Manager) createBatch(r *run, nb review.NewBatch) (*review.Batch, error) {
	batch, err := m.reviews.Create(r.ctx, nb)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, r.summary.Mode, "create batch", "", err)
	}
	m.bindBatch(r, batch)
	r.logger.Info("review batch created",
		zap.Int("records", batch.RecordCount),
		zap.Int("fetch_failures", len(batch.FetchFailures)),
		zap.Bool("incomplete", batch.Incomplete),
		zap.String("document", m.reviews.DocumentPath(batch)),
	)
	return batch, nil
}

func (m *Manager) bindBatch(r *run, batch *review.Batch) {
	r.ctx = services.WithBatchID(r.ctx, batch.ID)
	r.logger = r.logger.With(zap.String(logging.FieldBatchID, batch.ID))
	r.summary.BatchID = batch.ID
	r.summary.BatchStatus = batch.Status
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cinesync/internal/catalog"
	"cinesync/internal/config"
	"cinesync/internal/logging"
	"cinesync/internal/merge"
	"cinesync/internal/metrics"
	"cinesync/internal/review"
	"cinesync/internal/selector"
	"cinesync/internal/services"
	"cinesync/internal/tmdb"
)

// Provider is the provider surface the workflows use.
type Provider interface {
	selector.Provider
	Movie(ctx context.Context, id int64) (*tmdb.Movie, error)
	SearchMovies(ctx context.Context, query string, page int) (*tmdb.ListPage, error)
	SearchByID(ctx context.Context, id int64) ([]tmdb.Summary, error)
	BestMatch(query string, results []tmdb.Summary) (tmdb.Summary, bool)
}

// Deps carries the collaborators a Manager coordinates. Engine is built from
// Catalog when nil.
type Deps struct {
	Catalog  *catalog.Store
	Reviews  *review.Store
	Provider Provider
	Engine   *merge.Engine
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock used for windows and durations.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager runs the ingestion workflows.
type Manager struct {
	cfg      *config.Config
	catalog  *catalog.Store
	reviews  *review.Store
	provider Provider
	selector *selector.Selector
	engine   *merge.Engine
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager wires a Manager from cfg and deps.
func NewManager(cfg *config.Config, deps Deps, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("workflow: config is required")
	}
	if deps.Catalog == nil || deps.Reviews == nil || deps.Provider == nil {
		return nil, errors.New("workflow: catalog, review store and provider are required")
	}
	m := &Manager{
		cfg:      cfg,
		catalog:  deps.Catalog,
		reviews:  deps.Reviews,
		provider: deps.Provider,
		engine:   deps.Engine,
		metrics:  deps.Metrics,
		logger:   logging.NewComponentLogger(deps.Logger, "workflow"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.engine == nil {
		engine, err := merge.New(deps.Catalog, merge.Options{
			CastLimit: cfg.Sync.CastLimit,
			CrewJobs:  cfg.Sync.CrewJobs,
			Logger:    deps.Logger,
			Now:       m.now,
		})
		if err != nil {
			return nil, err
		}
		m.engine = engine
	}
	m.selector = selector.New(deps.Provider, deps.Catalog, selector.Options{
		MaxPages:  cfg.Sync.MaxPages,
		SliceSize: cfg.Sync.PageSize,
		Logger:    deps.Logger,
		Now:       m.now,
	})
	return m, nil
}

// run carries the per-invocation state shared by every operation.
type run struct {
	ctx     context.Context
	logger  *zap.Logger
	summary *Summary
	started time.Time

	cursorRead   bool
	cursorSet    bool
	cursorBefore time.Time
}

func (m *Manager) begin(ctx context.Context, mode string) *run {
	id := uuid.NewString()
	ctx = services.WithMode(services.WithRunID(ctx, id), mode)
	r := &run{
		ctx:     ctx,
		logger:  logging.WithContext(ctx, m.logger),
		summary: &Summary{RunID: id, Mode: mode},
		started: m.now(),
	}
	r.logger.Info("workflow started")
	return r
}

func (m *Manager) finish(r *run, err error) (*Summary, error) {
	s := r.summary
	s.Duration = m.now().Sub(r.started)
	status := s.Status()
	if err != nil {
		status = "error"
	}
	m.metrics.WorkflowDone(s.Mode, status, s.Duration)

	fields := []zap.Field{
		zap.String("status", status),
		zap.String(logging.FieldBatchID, s.BatchID),
		zap.Int("selected", s.Selected),
		zap.Int("fetched", s.Fetched),
		zap.Int("filtered", s.Filtered),
		zap.Int("approved", s.Approved),
		zap.Int("committed", s.Committed),
		zap.Int("unchanged", s.Unchanged),
		zap.Int("failed", s.Failed),
		zap.Bool("cursor_advanced", s.CursorAdvanced),
		zap.Duration("duration", s.Duration),
	}
	switch {
	case err != nil:
		logging.ErrorWithContext(r.logger, "workflow failed", "workflow_failed", append(fields, zap.Error(err))...)
	case status != "ok":
		logging.WarnWithContext(r.logger, "workflow finished with gaps", "workflow_partial",
			append(fields,
				zap.String(logging.FieldErrorHint, "inspect the summary failures and re-run load or the mode"),
				zap.String(logging.FieldImpact, "cursor held until every approved record commits"),
			)...)
	default:
		r.logger.Info("workflow finished", fields...)
	}
	return s, err
}

// lock takes the single-writer lock for mode's cursor.
func (m *Manager) lock(mode string) (func(), error) {
	if err := os.MkdirAll(m.cfg.LockDir(), 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, mode, "lock", "create lock dir", err)
	}
	path := m.cfg.LockPath(mode)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, mode, "lock", path, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrBusy, mode, "lock", fmt.Sprintf("%s is held by another run", path), nil)
	}
	return func() { _ = fl.Unlock() }, nil
}

// cursor reads the stored cursor for mode once per run.
func (m *Manager) cursor(ctx context.Context, mode string) (time.Time, bool, error) {
	cur, ok, err := m.catalog.Cursor(ctx, mode)
	if err != nil {
		return time.Time{}, false, services.Wrap(services.ErrStorage, mode, "read cursor", "", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	pos, err := cur.Time()
	if err != nil {
		return time.Time{}, false, services.Wrap(services.ErrStorage, mode, "read cursor", "corrupt position "+cur.Position, err)
	}
	return pos, true, nil
}

// Cursors lists every stored cursor.
func (m *Manager) Cursors(ctx context.Context) ([]catalog.Cursor, error) {
	return m.catalog.Cursors(ctx)
}

func (m *Manager) today() time.Time {
	now := m.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(catalog.DateLayout)
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"cinesync/internal/catalog"
	"cinesync/internal/review"
	"cinesync/internal/services"
	"cinesync/internal/workflow"
)

// Service is the workflow surface the API exposes.
type Service interface {
	Batches(ctx context.Context, statuses ...review.Status) ([]*review.Batch, error)
	Batch(ctx context.Context, batchID string) (*review.Batch, error)
	Records(ctx context.Context, batchID string) ([]*review.Record, error)
	DecisionCounts(ctx context.Context, batchID string) (review.DecisionCounts, error)
	Decide(ctx context.Context, batchID string, movieID int64, decision review.Decision, override bool) error
	Export(ctx context.Context, batchID string, w io.Writer) error
	Load(ctx context.Context, batchID string) (*workflow.Summary, error)
	Cursors(ctx context.Context) ([]catalog.Cursor, error)
}

type handlers struct {
	svc    Service
	logger *zap.Logger
}

type batchView struct {
	ID            string                `json:"id"`
	Mode          review.Mode           `json:"mode"`
	Status        review.Status         `json:"status"`
	CursorStart   string                `json:"cursor_start,omitempty"`
	CursorEnd     string                `json:"cursor_end,omitempty"`
	Incomplete    bool                  `json:"incomplete"`
	RecordCount   int                   `json:"record_count"`
	FetchFailures []review.FetchFailure `json:"fetch_failures,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	LoadedAt      *time.Time            `json:"loaded_at,omitempty"`
	ArchivedAt    *time.Time            `json:"archived_at,omitempty"`
	Decisions     *decisionView         `json:"decisions,omitempty"`
	Records       []recordView          `json:"records,omitempty"`
}

type decisionView struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Skipped  int `json:"skipped"`
}

type recordView struct {
	MovieID      int64               `json:"movie_id"`
	Title        string              `json:"title"`
	ReleaseDate  string              `json:"release_date,omitempty"`
	Decision     review.Decision     `json:"decision"`
	ReviewedAt   *time.Time          `json:"reviewed_at,omitempty"`
	CommitStatus review.CommitStatus `json:"commit_status,omitempty"`
	CommitError  string              `json:"commit_error,omitempty"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Override bool   `json:"override"`
}

func newBatchView(b *review.Batch) batchView {
	return batchView{
		ID:            b.ID,
		Mode:          b.Mode,
		Status:        b.Status,
		CursorStart:   b.CursorStart,
		CursorEnd:     b.CursorEnd,
		Incomplete:    b.Incomplete,
		RecordCount:   b.RecordCount,
		FetchFailures: b.FetchFailures,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
		LoadedAt:      b.LoadedAt,
		ArchivedAt:    b.ArchivedAt,
	}
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) cursors(w http.ResponseWriter, r *http.Request) {
	cursors, err := h.svc.Cursors(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make(map[string]string, len(cursors))
	for _, c := range cursors {
		out[c.Mode] = c.Position
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) listBatches(w http.ResponseWriter, r *http.Request) {
	var statuses []review.Status
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, review.Status(strings.ToUpper(part)))
			}
		}
	}
	batches, err := h.svc.Batches(r.Context(), statuses...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, newBatchView(b))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) getBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "batchID")
	batch, err := h.svc.Batch(ctx, batchID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	counts, err := h.svc.DecisionCounts(ctx, batchID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	records, err := h.svc.Records(ctx, batchID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view := newBatchView(batch)
	view.Decisions = &decisionView{
		Pending:  counts.Pending,
		Approved: counts.Approved,
		Rejected: counts.Rejected,
		Skipped:  counts.Skipped,
	}
	view.Records = make([]recordView, 0, len(records))
	for _, rec := range records {
		view.Records = append(view.Records, recordView{
			MovieID:      rec.MovieID,
			Title:        rec.Movie.Title,
			ReleaseDate:  rec.Movie.ReleaseDate,
			Decision:     rec.Decision,
			ReviewedAt:   rec.ReviewedAt,
			CommitStatus: rec.CommitStatus,
			CommitError:  rec.CommitError,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) document(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.svc.Export(r.Context(), chi.URLParam(r, "batchID"), &buf); err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *handlers) decide(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	movieID, err := strconv.ParseInt(chi.URLParam(r, "movieID"), 10, 64)
	if err != nil || movieID <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "movieID must be a positive integer")
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	decision, err := review.ParseDecision(strings.ToLower(strings.TrimSpace(req.Decision)))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.Decide(r.Context(), batchID, movieID, decision, req.Override); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": batchID,
		"movie_id": movieID,
		"decision": decision,
	})
}

func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Load(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		if summary != nil && !errors.Is(err, services.ErrNotFound) && !errors.Is(err, services.ErrBusy) {
			// The summary still reports what committed before the failure.
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "summary": summary})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.Error(err))
	}
	writeErrorMessage(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, review.ErrBatchNotFound), errors.Is(err, review.ErrRecordNotFound),
		errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, review.ErrAlreadyDecided), errors.Is(err, review.ErrBatchClosed),
		errors.Is(err, services.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, review.ErrInvalidDecision), errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

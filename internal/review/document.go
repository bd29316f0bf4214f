package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"cinesync/internal/tmdb"
)

const (
	rawDir       = "raw"
	processedDir = "processed"
)

// Document is the YAML review file exchanged with reviewers.
type Document struct {
	Metadata DocumentMetadata `yaml:"metadata"`
	Records  []DocumentRecord `yaml:"records"`
}

// DocumentMetadata identifies the batch a document belongs to.
type DocumentMetadata struct {
	Mode          Mode           `yaml:"mode"`
	BatchID       string         `yaml:"batch_id"`
	CreatedAt     time.Time      `yaml:"created_at"`
	RecordCount   int            `yaml:"record_count"`
	Status        Status         `yaml:"status"`
	CursorStart   string         `yaml:"cursor_start,omitempty"`
	CursorEnd     string         `yaml:"cursor_end,omitempty"`
	Incomplete    bool           `yaml:"incomplete,omitempty"`
	FetchFailures []FetchFailure `yaml:"fetch_failures,omitempty"`
}

// DocumentRecord is a movie snapshot with its approval fields. A nil
// approval status means the record is still pending.
type DocumentRecord struct {
	tmdb.Movie     `yaml:",inline"`
	ApprovalStatus *Decision  `yaml:"approval_status"`
	ReviewDate     *time.Time `yaml:"review_date"`
	CommitStatus   string     `yaml:"commit_status,omitempty"`
}

// ImportResult summarizes an Import call.
type ImportResult struct {
	BatchID   string
	Decided   int
	Unchanged int
	Conflicts []int64
}

// Document builds the review document for a batch.
func (s *Store) Document(ctx context.Context, batchID string) (*Document, error) {
	batch, err := s.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return s.document(ctx, batch)
}

func (s *Store) document(ctx context.Context, batch *Batch) (*Document, error) {
	records, err := s.Records(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		Metadata: DocumentMetadata{
			Mode:          batch.Mode,
			BatchID:       batch.ID,
			CreatedAt:     batch.CreatedAt,
			RecordCount:   len(records),
			Status:        batch.Status,
			CursorStart:   batch.CursorStart,
			CursorEnd:     batch.CursorEnd,
			Incomplete:    batch.Incomplete,
			FetchFailures: batch.FetchFailures,
		},
		Records: make([]DocumentRecord, 0, len(records)),
	}
	for _, record := range records {
		entry := DocumentRecord{
			Movie:        record.Movie,
			ReviewDate:   record.ReviewedAt,
			CommitStatus: string(record.CommitStatus),
		}
		if record.Decision != DecisionPending {
			decision := record.Decision
			entry.ApprovalStatus = &decision
		}
		doc.Records = append(doc.Records, entry)
	}
	return doc, nil
}

// Export writes the batch's review document to w.
func (s *Store) Export(ctx context.Context, batchID string, w io.Writer) error {
	doc, err := s.Document(ctx, batchID)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode review document: %w", err)
	}
	return enc.Close()
}

// Import reads a review document and applies its decisions. Records whose
// decision conflicts with a stored one are reported unless override is set.
func (s *Store) Import(ctx context.Context, r io.Reader, override bool) (*ImportResult, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode review document: %w", err)
	}
	if doc.Metadata.BatchID == "" {
		return nil, errors.New("review document has no batch_id")
	}
	batch, err := s.Get(ctx, doc.Metadata.BatchID)
	if err != nil {
		return nil, err
	}
	if !batch.Decidable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrBatchClosed, batch.ID, batch.Status)
	}

	result := &ImportResult{BatchID: batch.ID}
	for _, entry := range doc.Records {
		if entry.ApprovalStatus == nil {
			continue
		}
		decision, err := ParseDecision(string(*entry.ApprovalStatus))
		if err != nil {
			return result, fmt.Errorf("record %d: %w", entry.ID, err)
		}
		changed, err := s.decide(ctx, batch.ID, entry.ID, decision, override)
		switch {
		case errors.Is(err, ErrAlreadyDecided):
			result.Conflicts = append(result.Conflicts, entry.ID)
		case err != nil:
			return result, fmt.Errorf("record %d: %w", entry.ID, err)
		case changed:
			result.Decided++
		default:
			result.Unchanged++
		}
	}
	if err := s.RefreshDocument(ctx, batch.ID); err != nil {
		return result, err
	}
	return result, nil
}

// DocumentPath returns where the batch's document lives on disk.
func (s *Store) DocumentPath(batch *Batch) string {
	dir := rawDir
	if batch.Status == StatusArchived {
		dir = processedDir
	}
	return filepath.Join(s.docDir, dir, batch.ID+".yaml")
}

// RefreshDocument rewrites the on-disk document from the database.
func (s *Store) RefreshDocument(ctx context.Context, batchID string) error {
	batch, err := s.Get(ctx, batchID)
	if err != nil {
		return err
	}
	return s.writeDocument(ctx, batch)
}

func (s *Store) writeDocument(ctx context.Context, batch *Batch) error {
	doc, err := s.document(ctx, batch)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode review document: %w", err)
	}
	path := s.DocumentPath(batch)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write review document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace review document: %w", err)
	}
	return nil
}

func (s *Store) moveDocumentToProcessed(ctx context.Context, batchID string) error {
	batch, err := s.Get(ctx, batchID)
	if err != nil {
		return err
	}
	rawPath := filepath.Join(s.docDir, rawDir, batchID+".yaml")
	if err := os.Remove(rawPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove raw document: %w", err)
	}
	return s.writeDocument(ctx, batch)
}

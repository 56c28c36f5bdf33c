package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemTime struct{}

func (t *systemTime) Now() time.Time {
	return time.Now().UTC()
}

// Store is the server-side Repository. It keeps records and the extraction
// cache in a DB and archives uploaded documents in Storage.
type Store struct {
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

var _ Repository = (*Store)(nil)

// NewStore creates a Store with uuid IDs and the system clock
func NewStore(db DB, storage Storage) *Store {
	return NewStoreWithDeps(db, storage, &uuidGenerator{}, &systemTime{})
}

// NewStoreWithDeps creates a Store with custom dependencies for testing
func NewStoreWithDeps(db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Store {
	return &Store{
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Append stores a canonical invoice, deduplicating on its fingerprint
func (s *Store) Append(ctx context.Context, req SaveRequest) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record := &Record{
		ID:           s.idGenerator.Generate(),
		FileName:     SanitizeFilename(req.FileName),
		Status:       StatusProcessed,
		UploadDate:   s.timeSource.Now(),
		DocumentHash: req.DocumentHash,
		Fingerprint:  req.Data.Fingerprint(),
		Data:         req.Data,
	}

	stored, created, err := s.db.InsertRecord(record)
	if err != nil {
		return nil, fmt.Errorf("saving invoice: %w", err)
	}
	if !created {
		slog.Info("Invoice already saved", "id", stored.ID, "fingerprint", stored.Fingerprint)
	}
	return stored, nil
}

// List returns all records, newest first
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := s.db.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UploadDate.After(records[j].UploadDate)
	})
	return records, nil
}

// Get retrieves one record
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return record, nil
}

// Document returns the archived upload a record was extracted from
func (s *Store) Document(ctx context.Context, id string) ([]byte, *Extraction, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if record.DocumentHash == "" {
		return nil, nil, fmt.Errorf("%w: invoice %s has no archived document", ErrNotFound, id)
	}

	extraction, err := s.db.GetExtraction(record.DocumentHash)
	if err != nil {
		return nil, nil, fmt.Errorf("getting document: %w", err)
	}
	data, err := s.storage.Get(extraction.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("getting document file: %w", err)
	}
	return data, extraction, nil
}

// CachedExtraction returns the stored extraction for a document hash
func (s *Store) CachedExtraction(ctx context.Context, hash string) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.db.GetExtraction(hash)
}

// RecordExtraction archives an uploaded document and caches its extraction
func (s *Store) RecordExtraction(ctx context.Context, hash, filename, contentType string, data []byte, payload invoice.Payload) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	path, err := s.storage.Save(hash+filepath.Ext(SanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("archiving document: %w", err)
	}

	extraction := &Extraction{
		Hash:        hash,
		FileName:    SanitizeFilename(filename),
		ContentType: contentType,
		Path:        path,
		Payload:     raw,
		CreatedAt:   s.timeSource.Now(),
	}
	if err := s.db.PutExtraction(extraction); err != nil {
		if delErr := s.storage.Delete(path); delErr != nil {
			slog.Warn("Failed to delete archived document", "path", path, "error", delErr)
		}
		return nil, fmt.Errorf("caching extraction: %w", err)
	}
	return extraction, nil
}

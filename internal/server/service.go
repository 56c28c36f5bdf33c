package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zombor/invoice-tracker/internal/extraction"
	"github.com/zombor/invoice-tracker/internal/history"
	"github.com/zombor/invoice-tracker/internal/invoice"
)

// Service handles extraction and history operations behind the HTTP API
type Service struct {
	backend extraction.Extractor
	store   *history.Store
	intake  extraction.Intake
}

// NewService creates a Service with the default intake limits
func NewService(backend extraction.Extractor, store *history.Store) *Service {
	return NewServiceWithIntake(backend, store, extraction.DefaultIntake())
}

// NewServiceWithIntake creates a Service with custom intake limits
func NewServiceWithIntake(backend extraction.Extractor, store *history.Store, intake extraction.Intake) *Service {
	return &Service{
		backend: backend,
		store:   store,
		intake:  intake,
	}
}

// ExtractResult is the outcome of one extraction request
type ExtractResult struct {
	Payload invoice.Payload
	Hash    string
	Cached  bool
}

// Extract checks the document, serves a cached extraction for identical
// bytes, and otherwise calls the backend and archives the document
func (s *Service) Extract(ctx context.Context, doc extraction.Document) (*ExtractResult, error) {
	if err := s.intake.Check(doc); err != nil {
		return nil, err
	}
	hash := doc.Hash()

	cached, err := s.store.CachedExtraction(ctx, hash)
	switch {
	case err == nil:
		payload, err := invoice.DecodePayload(cached.Payload)
		if err == nil {
			slog.Info("Serving cached extraction", "hash", hash, "filename", doc.Name)
			return &ExtractResult{Payload: payload, Hash: hash, Cached: true}, nil
		}
		slog.Warn("Ignoring unreadable cached extraction", "hash", hash, "error", err)
	case !errors.Is(err, history.ErrNotFound):
		slog.Warn("Extraction cache lookup failed", "hash", hash, "error", err)
	}

	payload, err := s.backend.Extract(ctx, doc)
	if err != nil {
		slog.Error("Failed to extract invoice",
			"filename", doc.Name,
			"content_type", doc.ContentType,
			"file_size", len(doc.Data),
			"error", err,
		)
		return nil, fmt.Errorf("extracting invoice: %w", err)
	}

	if _, err := s.store.RecordExtraction(ctx, hash, doc.Name, doc.ContentType, doc.Data, payload); err != nil {
		slog.Warn("Failed to archive document", "hash", hash, "filename", doc.Name, "error", err)
	}
	return &ExtractResult{Payload: payload, Hash: hash}, nil
}

type saveBody struct {
	FileName     string          `json:"file_name"`
	DocumentHash string          `json:"document_hash"`
	Data         json.RawMessage `json:"data"`
}

// Save validates a raw save request, normalizes its data and stores it
func (s *Service) Save(ctx context.Context, raw []byte) (*history.Record, error) {
	if err := history.ValidateSaveRequest(raw); err != nil {
		return nil, err
	}

	var body saveBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", history.ErrInvalidRequest, err)
	}
	payload, err := invoice.DecodePayload(body.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", history.ErrInvalidRequest, err)
	}

	return s.store.Append(ctx, history.SaveRequest{
		FileName:     body.FileName,
		DocumentHash: body.DocumentHash,
		Data:         invoice.Normalize(payload),
	})
}

// List returns all saved invoices, newest first
func (s *Service) List(ctx context.Context) ([]*history.Record, error) {
	return s.store.List(ctx)
}

// Get returns one saved invoice
func (s *Service) Get(ctx context.Context, id string) (*history.Record, error) {
	return s.store.Get(ctx, id)
}

// Document returns the archived upload for a saved invoice
func (s *Service) Document(ctx context.Context, id string) ([]byte, *history.Extraction, error) {
	return s.store.Document(ctx, id)
}

// Export writes every saved invoice as an XLSX workbook
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	records, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	return history.ExportXLSX(w, records)
}

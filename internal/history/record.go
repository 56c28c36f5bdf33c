package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// StatusProcessed marks a record whose data came out of the normalizer
const StatusProcessed = "processed"

// ErrNotFound is returned when a record or archived document does not exist
var ErrNotFound = errors.New("invoice not found")

// Record is a saved invoice
type Record struct {
	ID           string          `json:"id"`
	FileName     string          `json:"file_name"`
	Status       string          `json:"status"`
	UploadDate   time.Time       `json:"upload_date"`
	DocumentHash string          `json:"document_hash,omitempty"`
	Fingerprint  string          `json:"fingerprint"`
	Data         invoice.Invoice `json:"data"`
}

// SaveRequest asks a repository to persist a canonical invoice
type SaveRequest struct {
	FileName     string          `json:"file_name"`
	DocumentHash string          `json:"document_hash,omitempty"`
	Data         invoice.Invoice `json:"data"`
}

// Extraction is a cached backend result for one uploaded document
type Extraction struct {
	Hash        string          `json:"hash"`
	FileName    string          `json:"file_name"`
	ContentType string          `json:"content_type"`
	Path        string          `json:"path"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Repository is the persistence boundary for saved invoices
type Repository interface {
	// Append stores the invoice and returns the stored record.
	// Saving the same canonical invoice twice returns the existing record.
	Append(ctx context.Context, req SaveRequest) (*Record, error)
	// List returns all records, newest first
	List(ctx context.Context) ([]*Record, error)
}

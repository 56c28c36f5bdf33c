package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// Document is a single invoice file submitted for extraction
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Hash returns the SHA-256 hex digest of the document bytes
func (d Document) Hash() string {
	sum := sha256.Sum256(d.Data)
	return hex.EncodeToString(sum[:])
}

// Extractor turns an invoice document into a raw extraction payload.
// Any failure, whether transport, remote status or response shape, is returned as an error.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (invoice.Payload, error)
}

// Backend is an Extractor that holds resources which must be released
type Backend interface {
	Extractor
	// Close releases the backend's resources
	Close() error
}

// RemoteError is returned when the extraction service cannot be reached
// or answers with a non-2xx status. StatusCode is 0 for transport failures.
type RemoteError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("calling extraction service: %v", e.Err)
	}
	if e.Message == "" {
		return fmt.Sprintf("extraction service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("extraction service returned status %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

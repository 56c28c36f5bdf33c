package extraction

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrUnsupportedType is returned for files whose type is not accepted
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge is returned for files above the size limit
	ErrTooLarge = errors.New("file is too large")
	// ErrEmpty is returned for zero-length files
	ErrEmpty = errors.New("file is empty")
)

// DefaultMaxBytes is the default upload size limit (10MB)
const DefaultMaxBytes = int64(10 << 20)

// Intake gates documents before they reach an extractor
type Intake struct {
	MaxBytes     int64
	AllowedTypes []string
}

// DefaultIntake accepts PDF, JPEG, PNG and phone HEIC/HEIF photos up to 10MB
func DefaultIntake() Intake {
	return Intake{
		MaxBytes: DefaultMaxBytes,
		AllowedTypes: []string{
			"application/pdf",
			"image/jpeg",
			"image/png",
			"image/heic",
			"image/heif",
		},
	}
}

// Check validates the type and size of a document
func (in Intake) Check(doc Document) error {
	if len(doc.Data) == 0 {
		return ErrEmpty
	}
	if in.MaxBytes > 0 && int64(len(doc.Data)) > in.MaxBytes {
		return fmt.Errorf("%w: %d bytes, limit is %d MB", ErrTooLarge, len(doc.Data), in.MaxBytes>>20)
	}
	if !slices.Contains(in.AllowedTypes, normalizeContentType(doc.ContentType)) {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, doc.ContentType)
	}
	return nil
}

// Open reads a local file into a checked Document
func (in Intake) Open(path string) (Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, fmt.Errorf("opening file: %w", err)
	}
	if info.IsDir() {
		return Document{}, fmt.Errorf("opening file: %s is a directory", path)
	}
	if in.MaxBytes > 0 && info.Size() > in.MaxBytes {
		return Document{}, fmt.Errorf("%w: %d bytes, limit is %d MB", ErrTooLarge, info.Size(), in.MaxBytes>>20)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading file: %w", err)
	}

	contentType := ContentTypeFor(filepath.Base(path), "")
	if contentType == "application/octet-stream" {
		contentType = normalizeContentType(http.DetectContentType(data))
	}

	doc := Document{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Data:        data,
	}
	if err := in.Check(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// ContentTypeFor returns the declared content type, falling back to the file extension
func ContentTypeFor(filename, declared string) string {
	if ct := normalizeContentType(declared); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// normalizeContentType lower-cases a MIME type and drops its parameters
func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

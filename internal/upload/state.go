package upload

import (
	"errors"
	"time"

	"github.com/zombor/invoice-tracker/internal/extraction"
	"github.com/zombor/invoice-tracker/internal/invoice"
)

// Phase is the lifecycle position of a submission
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseUploading Phase = "uploading"
	PhaseExtracted Phase = "extracted"
	PhaseFailed    Phase = "failed"
)

// State is a snapshot of the orchestrator's submission state.
// LastError is set only in PhaseFailed and Result only in PhaseExtracted.
type State struct {
	Phase     Phase
	Progress  int
	LastError string
	Result    *invoice.Invoice
}

var (
	// ErrInFlight is returned by Submit while another submission is uploading
	ErrInFlight = errors.New("an upload is already in progress")
	// ErrDetached is returned by a Submit whose submission was reset before it finished
	ErrDetached = errors.New("upload was reset before it completed")
	// ErrNothingToSave is returned by Save outside PhaseExtracted
	ErrNothingToSave = errors.New("no extracted invoice to save")
)

const (
	// DefaultErrorMessage is shown when a failure carries no message from the service
	DefaultErrorMessage = "Invoice upload failed"
	// UnexpectedResponseMessage is shown when the service answers with something other than an object
	UnexpectedResponseMessage = "Extraction service returned an unexpected response"
)

// Config controls the synthetic progress shown while the extraction call is outstanding
type Config struct {
	// Seed is the progress shown as soon as the upload starts
	Seed int
	// Step is added on every tick while progress is below Threshold
	Step      int
	Threshold int
	Interval  time.Duration
}

// DefaultConfig ticks every 200ms from 5 up to 95
func DefaultConfig() Config {
	return Config{
		Seed:      5,
		Step:      10,
		Threshold: 90,
		Interval:  200 * time.Millisecond,
	}
}

// errorMessage turns an extraction failure into the text shown to the user
func errorMessage(err error) string {
	var remote *extraction.RemoteError
	switch {
	case errors.As(err, &remote) && remote.StatusCode != 0 && remote.Message != "":
		return remote.Message
	case errors.Is(err, invoice.ErrNotObject):
		return UnexpectedResponseMessage
	default:
		return DefaultErrorMessage
	}
}

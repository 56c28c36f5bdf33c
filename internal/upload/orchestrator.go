package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/invoice-tracker/internal/extraction"
	"github.com/zombor/invoice-tracker/internal/history"
	"github.com/zombor/invoice-tracker/internal/invoice"
)

// Orchestrator drives one invoice file at a time through upload, extraction
// and normalization. It is safe for concurrent use.
type Orchestrator struct {
	extractor  extraction.Extractor
	repository history.Repository
	cfg        Config
	logger     *slog.Logger
	observer   func(State)

	mu         sync.Mutex
	state      State
	seq        uint64
	generation uint64
	cancel     context.CancelFunc
	document   extraction.Document

	notifyMu sync.Mutex
	notified uint64
}

// change is a state snapshot tagged with its position in the change sequence
type change struct {
	state State
	seq   uint64
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRepository enables Save
func WithRepository(repo history.Repository) Option {
	return func(o *Orchestrator) {
		o.repository = repo
	}
}

// WithConfig replaces the progress configuration
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithObserver registers a callback that receives a snapshot after every
// state change, in order. It is called without the orchestrator's lock held,
// must not block and must not call Submit or Reset.
func WithObserver(fn func(State)) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// New creates an Orchestrator in PhaseIdle
func New(extractor extraction.Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor: extractor,
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		state:     State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.Interval <= 0 {
		o.cfg.Interval = DefaultConfig().Interval
	}
	return o
}

// State returns a snapshot of the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Submit uploads the document and waits for the extraction result.
// It returns ErrInFlight without touching state if another submission is
// uploading, and ErrDetached if Reset was called before the result arrived.
// No goroutine started by Submit outlives it.
func (o *Orchestrator) Submit(ctx context.Context, doc extraction.Document) (*invoice.Invoice, error) {
	o.mu.Lock()
	if o.state.Phase == PhaseUploading {
		o.mu.Unlock()
		return nil, ErrInFlight
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.generation++
	gen := o.generation
	o.cancel = cancel
	o.document = extraction.Document{}
	snapshot := o.setLocked(State{Phase: PhaseUploading, Progress: o.cfg.Seed})
	o.mu.Unlock()
	o.notify(snapshot)

	start := time.Now()
	o.logger.Info("Submitting invoice", "filename", doc.Name, "content_type", doc.ContentType, "file_size", len(doc.Data))

	progressCtx, stopProgress := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.advance(progressCtx, gen)
	}()

	payload, err := o.extractor.Extract(ctx, doc)
	stopProgress()
	<-done

	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		o.logger.Info("Discarding detached upload result", "filename", doc.Name, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, ErrDetached
	}
	o.cancel = nil

	if err != nil {
		snapshot = o.setLocked(State{Phase: PhaseFailed, LastError: errorMessage(err)})
		o.mu.Unlock()
		o.notify(snapshot)
		o.logger.Error("Invoice upload failed", "filename", doc.Name, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("extracting invoice: %w", err)
	}

	result := invoice.Normalize(payload)
	o.document = doc
	snapshot = o.setLocked(State{Phase: PhaseExtracted, Progress: 100, Result: &result})
	o.mu.Unlock()
	o.notify(snapshot)

	o.logger.Info("Invoice extracted",
		"filename", doc.Name,
		"invoice_number", result.InvoiceNumber,
		"line_items", len(result.LineItems),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &result, nil
}

// Reset returns to PhaseIdle from any phase. An in-flight extraction call is
// cancelled and its eventual result never reaches the visible state.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.generation++
	o.document = extraction.Document{}
	snapshot := o.setLocked(State{Phase: PhaseIdle})
	o.mu.Unlock()
	o.notify(snapshot)
}

// Save persists the extracted invoice. Failures are returned to the caller
// and leave the submission state unchanged. An empty fileName falls back to
// the name of the submitted document.
func (o *Orchestrator) Save(ctx context.Context, fileName string) (*history.Record, error) {
	if o.repository == nil {
		return nil, fmt.Errorf("saving invoice: no repository configured")
	}

	o.mu.Lock()
	if o.state.Phase != PhaseExtracted || o.state.Result == nil {
		o.mu.Unlock()
		return nil, ErrNothingToSave
	}
	req := history.SaveRequest{
		FileName:     fileName,
		DocumentHash: o.document.Hash(),
		Data:         *o.state.Result,
	}
	if req.FileName == "" {
		req.FileName = o.document.Name
	}
	o.mu.Unlock()

	record, err := o.repository.Append(ctx, req)
	if err != nil {
		o.logger.Error("Failed to save invoice", "filename", req.FileName, "error", err)
		return nil, err
	}
	o.logger.Info("Invoice saved", "id", record.ID, "filename", record.FileName)
	return record, nil
}

// advance drives the synthetic progress until ctx is done or the submission
// is no longer current
func (o *Orchestrator) advance(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			if o.generation != gen || o.state.Phase != PhaseUploading {
				o.mu.Unlock()
				return
			}
			if o.state.Progress >= o.cfg.Threshold {
				o.mu.Unlock()
				continue
			}
			next := o.state
			next.Progress = min(next.Progress+o.cfg.Step, 99)
			snapshot := o.setLocked(next)
			o.mu.Unlock()
			o.notify(snapshot)
		}
	}
}

func (o *Orchestrator) setLocked(s State) change {
	o.state = s
	o.seq++
	return change{state: s, seq: o.seq}
}

// notify hands a snapshot to the observer. Snapshots older than one already
// delivered are dropped, so a tick that raced a Reset never follows Idle.
func (o *Orchestrator) notify(c change) {
	if o.observer == nil {
		return
	}
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	if c.seq <= o.notified {
		return
	}
	o.notified = c.seq
	o.observer(c.state)
}

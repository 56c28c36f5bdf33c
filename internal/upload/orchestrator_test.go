package upload

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gstruct"

	"github.com/zombor/invoice-tracker/internal/extraction"
	"github.com/zombor/invoice-tracker/internal/invoice"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		extractor *fakeExtractor
		repo      *fakeRepository
		rec       *recorder
		orch      *Orchestrator
		doc       extraction.Document
	)

	fast := Config{Seed: 5, Step: 10, Threshold: 90, Interval: 5 * time.Millisecond}

	BeforeEach(func() {
		ctx = context.Background()
		extractor = &fakeExtractor{
			payload: invoice.Payload{
				"invoice_number": "INV-1",
				"total_amount":   "₹3,540.00",
				"line_items": []any{
					map[string]any{"description": "Paper", "quantity": "5", "unit_price": "500"},
				},
			},
		}
		repo = &fakeRepository{}
		rec = &recorder{}
		doc = extraction.Document{Name: "invoice.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}
	})

	JustBeforeEach(func() {
		orch = New(extractor,
			WithRepository(repo),
			WithConfig(fast),
			WithLogger(discardLogger),
			WithObserver(rec.observe),
		)
	})

	// submitAsync starts a submission and returns a channel with its error.
	// finished is closed once Submit has returned.
	submitAsync := func() (<-chan error, <-chan struct{}) {
		errs := make(chan error, 1)
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			_, err := orch.Submit(ctx, doc)
			errs <- err
		}()
		Eventually(func() Phase { return orch.State().Phase }).Should(Equal(PhaseUploading))
		return errs, finished
	}

	It("starts idle", func() {
		Expect(orch.State()).To(Equal(State{Phase: PhaseIdle}))
	})

	When("the extraction succeeds", func() {
		var (
			result *invoice.Invoice
			err    error
		)

		JustBeforeEach(func() {
			result, err = orch.Submit(ctx, doc)
		})

		It("moves to extracted with full progress", func() {
			Expect(err).NotTo(HaveOccurred())
			state := orch.State()
			Expect(state.Phase).To(Equal(PhaseExtracted))
			Expect(state.Progress).To(Equal(100))
			Expect(state.LastError).To(BeEmpty())
			Expect(state.Result).To(Equal(result))
		})

		It("normalizes the payload", func() {
			Expect(result.Total).To(PointTo(Equal(3540.0)))
			Expect(result.LineItems).To(HaveLen(1))
			Expect(result.LineItems[0].LineTotal).To(PointTo(Equal(2500.0)))
		})

		It("calls the extractor once", func() {
			Expect(extractor.Calls()).To(Equal(1))
		})

		It("reports the seed progress first", func() {
			states := rec.All()
			Expect(states[0]).To(Equal(State{Phase: PhaseUploading, Progress: 5}))
			Expect(states[len(states)-1].Phase).To(Equal(PhaseExtracted))
		})
	})

	When("the service answers with an error status", func() {
		var err error

		BeforeEach(func() {
			extractor.err = &extraction.RemoteError{StatusCode: http.StatusBadGateway, Message: "OCR backend unavailable"}
		})

		JustBeforeEach(func() {
			_, err = orch.Submit(ctx, doc)
		})

		It("fails with the remote message", func() {
			var remote *extraction.RemoteError
			Expect(errors.As(err, &remote)).To(BeTrue())

			state := orch.State()
			Expect(state.Phase).To(Equal(PhaseFailed))
			Expect(state.LastError).To(Equal("OCR backend unavailable"))
			Expect(state.Progress).To(BeZero())
			Expect(state.Result).To(BeNil())
		})
	})

	When("the service cannot be reached", func() {
		BeforeEach(func() {
			extractor.err = &extraction.RemoteError{Message: "connection refused", Err: errors.New("connection refused")}
		})

		It("fails with the default message", func() {
			_, err := orch.Submit(ctx, doc)
			Expect(err).To(HaveOccurred())
			Expect(orch.State().LastError).To(Equal(DefaultErrorMessage))
		})
	})

	When("the service returns a non-object", func() {
		BeforeEach(func() {
			extractor.err = invoice.ErrNotObject
		})

		It("fails with the unexpected response message", func() {
			_, err := orch.Submit(ctx, doc)
			Expect(err).To(MatchError(invoice.ErrNotObject))
			Expect(orch.State().LastError).To(Equal(UnexpectedResponseMessage))
		})
	})

	When("a submission is in flight", func() {
		var (
			release  chan struct{}
			errs     <-chan error
			finished <-chan struct{}
		)

		BeforeEach(func() {
			release = make(chan struct{})
			extractor.release = release
		})

		JustBeforeEach(func() {
			errs, finished = submitAsync()
		})

		AfterEach(func() {
			select {
			case <-release:
			default:
				close(release)
			}
			Eventually(finished).Should(BeClosed())
		})

		It("rejects a second submission without touching state", func() {
			before := orch.State()
			_, err := orch.Submit(ctx, doc)
			Expect(err).To(MatchError(ErrInFlight))
			Expect(orch.State().Phase).To(Equal(PhaseUploading))
			Expect(orch.State().Progress).To(BeNumerically(">=", before.Progress))
			Expect(extractor.Calls()).To(Equal(1))
		})

		It("advances progress without reaching 100", func() {
			Eventually(func() int { return orch.State().Progress }).Should(Equal(95))
			Consistently(func() int { return orch.State().Progress }, 50*time.Millisecond).Should(Equal(95))
		})

		It("never holds a result or an error while uploading", func() {
			state := orch.State()
			Expect(state.Result).To(BeNil())
			Expect(state.LastError).To(BeEmpty())
		})

		It("completes at 100 once the response arrives", func() {
			close(release)
			Eventually(errs).Should(Receive(BeNil()))
			Expect(orch.State().Progress).To(Equal(100))
		})

		Describe("Reset", func() {
			It("returns to idle and detaches the submission", func() {
				orch.Reset()
				Expect(orch.State()).To(Equal(State{Phase: PhaseIdle}))

				Eventually(errs).Should(Receive(MatchError(ErrDetached)))
				Expect(extractor.Cancelled()).To(BeTrue())
				Consistently(func() State { return orch.State() }, 30*time.Millisecond).Should(Equal(State{Phase: PhaseIdle}))
			})

			It("leaves idle as the last state the observer sees", func() {
				Eventually(func() int { return orch.State().Progress }).Should(BeNumerically(">", fast.Seed))
				orch.Reset()
				Eventually(errs).Should(Receive(MatchError(ErrDetached)))

				last := func() State {
					all := rec.All()
					return all[len(all)-1]
				}
				Consistently(last, 30*time.Millisecond).Should(Equal(State{Phase: PhaseIdle}))
			})

			It("allows a new submission", func() {
				orch.Reset()
				Eventually(errs).Should(Receive(MatchError(ErrDetached)))

				extractor.mu.Lock()
				extractor.release = nil
				extractor.mu.Unlock()

				_, err := orch.Submit(ctx, doc)
				Expect(err).NotTo(HaveOccurred())
				Expect(orch.State().Phase).To(Equal(PhaseExtracted))
			})
		})
	})

	When("the extractor ignores cancellation", func() {
		BeforeEach(func() {
			extractor.release = make(chan struct{})
			extractor.ignoreCancel = true
		})

		It("never lets a stale response reach the state", func() {
			errs, _ := submitAsync()
			orch.Reset()
			close(extractor.release)

			Eventually(errs).Should(Receive(MatchError(ErrDetached)))
			Expect(orch.State()).To(Equal(State{Phase: PhaseIdle}))
		})
	})

	It("stops progress updates when Submit returns", func() {
		_, err := orch.Submit(ctx, doc)
		Expect(err).NotTo(HaveOccurred())

		count := rec.Len()
		Consistently(rec.Len, 50*time.Millisecond).Should(Equal(count))
		Expect(orch.State().Progress).To(Equal(100))
	})

	Describe("observer", func() {
		It("drops a snapshot older than one already delivered", func() {
			stale := orch.setLocked(State{Phase: PhaseUploading, Progress: 15})
			current := orch.setLocked(State{Phase: PhaseIdle})

			orch.notify(current)
			orch.notify(stale)

			Expect(rec.All()).To(Equal([]State{{Phase: PhaseIdle}}))
		})
	})

	Describe("Reset", func() {
		It("clears an extracted result", func() {
			_, err := orch.Submit(ctx, doc)
			Expect(err).NotTo(HaveOccurred())

			orch.Reset()
			Expect(orch.State()).To(Equal(State{Phase: PhaseIdle}))
		})

		It("clears a failure", func() {
			extractor.err = errors.New("boom")
			_, err := orch.Submit(ctx, doc)
			Expect(err).To(HaveOccurred())

			orch.Reset()
			Expect(orch.State()).To(Equal(State{Phase: PhaseIdle}))
		})

		It("is a no-op from idle", func() {
			orch.Reset()
			orch.Reset()
			Expect(orch.State()).To(Equal(State{Phase: PhaseIdle}))
		})
	})

	Describe("Save", func() {
		It("returns ErrNothingToSave before an extraction", func() {
			_, err := orch.Save(ctx, "")
			Expect(err).To(MatchError(ErrNothingToSave))
			Expect(repo.requests).To(BeEmpty())
		})

		It("returns ErrNothingToSave after a failure", func() {
			extractor.err = errors.New("boom")
			_, _ = orch.Submit(ctx, doc)

			_, err := orch.Save(ctx, "")
			Expect(err).To(MatchError(ErrNothingToSave))
		})

		When("an invoice was extracted", func() {
			var result *invoice.Invoice

			JustBeforeEach(func() {
				var err error
				result, err = orch.Submit(ctx, doc)
				Expect(err).NotTo(HaveOccurred())
			})

			It("forwards the result with the document hash", func() {
				record, err := orch.Save(ctx, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(record.ID).To(Equal("rec-1"))
				Expect(repo.requests).To(HaveLen(1))
				Expect(repo.requests[0].FileName).To(Equal("invoice.pdf"))
				Expect(repo.requests[0].DocumentHash).To(Equal(doc.Hash()))
				Expect(repo.requests[0].Data).To(Equal(*result))
			})

			It("uses the given file name", func() {
				_, err := orch.Save(ctx, "march.pdf")
				Expect(err).NotTo(HaveOccurred())
				Expect(repo.requests[0].FileName).To(Equal("march.pdf"))
			})

			When("the repository fails", func() {
				BeforeEach(func() {
					repo.err = errors.New("disk full")
				})

				It("returns the error and keeps the state", func() {
					before := orch.State()
					_, err := orch.Save(ctx, "")
					Expect(err).To(MatchError("disk full"))
					Expect(orch.State()).To(Equal(before))
				})
			})
		})

		It("fails without a repository", func() {
			orch = New(extractor, WithLogger(discardLogger))
			_, err := orch.Submit(ctx, doc)
			Expect(err).NotTo(HaveOccurred())

			_, err = orch.Save(ctx, "")
			Expect(err).To(MatchError(ContainSubstring("no repository configured")))
		})
	})
})

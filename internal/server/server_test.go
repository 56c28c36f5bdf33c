package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gstruct"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-tracker/internal/extraction"
	"github.com/zombor/invoice-tracker/internal/history"
	"github.com/zombor/invoice-tracker/internal/invoice"
)

type uploadPart struct {
	filename    string
	contentType string
	data        []byte
}

func multipartUpload(parts ...uploadPart) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+p.filename+`"`)
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}
		part, err := writer.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(p.data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		backend     *mockBackend
		db          *history.BoltDB
		store       *history.Store
		intake      extraction.Intake
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
		pdf         uploadPart
	)

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		var err error
		db, err = history.NewBoltDB(filepath.Join(dir, "history.db"))
		Expect(err).NotTo(HaveOccurred())
		storage, err := history.NewLocalStorage(filepath.Join(dir, "documents"))
		Expect(err).NotTo(HaveOccurred())

		backend = newMockBackend()
		store = history.NewStore(db, storage)
		intake = extraction.DefaultIntake()
		auth = BasicAuth{}
		pdf = uploadPart{filename: "invoice.pdf", contentType: "application/pdf", data: []byte("%PDF-1.4 fake invoice")}
	})

	JustBeforeEach(func() {
		server = NewServer(NewServiceWithIntake(backend, store, intake), auth)
		ghttpServer = ghttp.NewServer()
		everything := regexp.MustCompile(".*")
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, everything, server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
		db.Close()
	})

	extract := func(parts ...uploadPart) *http.Response {
		body, contentType := multipartUpload(parts...)
		req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/extract-invoice", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", contentType)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	save := func(body string) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+"/invoices", "application/json", bytes.NewBufferString(body))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	get := func(path string) *http.Response {
		resp, err := http.Get(ghttpServer.URL() + path)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	readBody := func(resp *http.Response) []byte {
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return body
	}

	errorOf := func(resp *http.Response) string {
		var body map[string]string
		Expect(json.Unmarshal(readBody(resp), &body)).To(Succeed())
		return body["error"]
	}

	Describe("POST /extract-invoice", func() {
		When("a supported file is uploaded", func() {
			It("returns the raw payload with the document hash", func() {
				resp := extract(pdf)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				Expect(resp.Header.Get(extraction.DocumentHashHeader)).To(Equal(extraction.Document{Data: pdf.data}.Hash()))
				Expect(resp.Header.Get(cacheHeader)).To(Equal("miss"))

				payload, err := invoice.DecodePayload(readBody(resp))
				Expect(err).NotTo(HaveOccurred())
				Expect(payload).To(HaveKeyWithValue("total_amount", "₹3,540.00"))
			})

			It("passes the document to the backend", func() {
				extract(pdf)
				docs := backend.Docs()
				Expect(docs).To(HaveLen(1))
				Expect(docs[0].Name).To(Equal("invoice.pdf"))
				Expect(docs[0].ContentType).To(Equal("application/pdf"))
				Expect(docs[0].Data).To(Equal(pdf.data))
			})

			It("serves identical bytes from the cache", func() {
				Expect(extract(pdf).StatusCode).To(Equal(http.StatusOK))
				resp := extract(pdf)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get(cacheHeader)).To(Equal("hit"))
				Expect(backend.Calls()).To(Equal(1))
			})
		})

		When("the part has no content type", func() {
			It("falls back to the file extension", func() {
				resp := extract(uploadPart{filename: "photo.JPG", data: []byte("jpeg bytes")})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(backend.Docs()[0].ContentType).To(Equal("image/jpeg"))
			})
		})

		When("the file type is not supported", func() {
			It("returns bad request without calling the backend", func() {
				resp := extract(uploadPart{filename: "notes.txt", contentType: "text/plain", data: []byte("hello")})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(resp)).To(ContainSubstring("Unsupported file type"))
				Expect(backend.Calls()).To(BeZero())
			})
		})

		When("the file is too large", func() {
			BeforeEach(func() {
				intake.MaxBytes = 8
			})

			It("returns request entity too large", func() {
				resp := extract(pdf)
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				Expect(errorOf(resp)).To(ContainSubstring("too large"))
				Expect(backend.Calls()).To(BeZero())
			})
		})

		When("no file is provided", func() {
			It("returns bad request", func() {
				resp := extract()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(resp)).To(ContainSubstring("No file"))
			})
		})

		When("more than one file is provided", func() {
			It("returns bad request", func() {
				resp := extract(pdf, uploadPart{filename: "second.pdf", contentType: "application/pdf", data: []byte("%PDF-1.4 other")})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(resp)).To(ContainSubstring("one file"))
				Expect(backend.Calls()).To(BeZero())
			})
		})

		When("the backend fails", func() {
			BeforeEach(func() {
				backend.err = errors.New("model overloaded")
			})

			It("returns bad gateway with an error message", func() {
				resp := extract(pdf)
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(errorOf(resp)).To(ContainSubstring("extraction failed"))
			})

			It("does not cache the failure", func() {
				extract(pdf)
				backend.SetErr(nil)
				resp := extract(pdf)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get(cacheHeader)).To(Equal("miss"))
			})
		})
	})

	Describe("POST /invoices", func() {
		It("normalizes and stores the invoice", func() {
			resp := save(`{"file_name": "invoice.pdf", "data": {"vendor": {"name": "Acme"}, "items": [{"name": "Pens", "qty": 5, "price": 30}], "total": "₹150"}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var record history.Record
			Expect(json.Unmarshal(readBody(resp), &record)).To(Succeed())
			Expect(record.ID).NotTo(BeEmpty())
			Expect(record.Status).To(Equal(history.StatusProcessed))
			Expect(record.Data.VendorName).To(Equal("Acme"))
			Expect(record.Data.Total).To(PointTo(Equal(150.0)))
			Expect(record.Data.LineItems[0].LineTotal).To(PointTo(Equal(150.0)))
		})

		It("returns the existing record for a duplicate", func() {
			body := `{"file_name": "invoice.pdf", "data": {"invoice_number": "INV-1", "total_amount": "10"}}`
			var first, second history.Record
			Expect(json.Unmarshal(readBody(save(body)), &first)).To(Succeed())
			Expect(json.Unmarshal(readBody(save(body)), &second)).To(Succeed())
			Expect(second.ID).To(Equal(first.ID))
		})

		DescribeTable("rejects invalid requests",
			func(body string) {
				resp := save(body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(resp)).To(ContainSubstring("invalid save request"))
			},
			Entry("malformed JSON", `{"file_name":`),
			Entry("missing data", `{"file_name": "a.pdf"}`),
			Entry("data is not an object", `{"file_name": "a.pdf", "data": [1]}`),
		)
	})

	Describe("GET /invoices", func() {
		It("returns an empty array", func() {
			resp := get("/invoices")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(MatchJSON(`[]`))
		})

		It("returns saved invoices newest first", func() {
			save(`{"file_name": "a.pdf", "data": {"invoice_number": "A"}}`)
			time.Sleep(2 * time.Millisecond)
			save(`{"file_name": "b.pdf", "data": {"invoice_number": "B"}}`)

			var records []history.Record
			Expect(json.Unmarshal(readBody(get("/invoices")), &records)).To(Succeed())
			Expect(records).To(HaveLen(2))
			Expect(records[0].Data.InvoiceNumber).To(Equal("B"))
		})
	})

	Describe("GET /invoices/{id}", func() {
		It("returns a saved invoice", func() {
			var saved history.Record
			Expect(json.Unmarshal(readBody(save(`{"file_name": "a.pdf", "data": {"invoice_number": "A"}}`)), &saved)).To(Succeed())

			resp := get("/invoices/" + saved.ID)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var record history.Record
			Expect(json.Unmarshal(readBody(resp), &record)).To(Succeed())
			Expect(record.Data.InvoiceNumber).To(Equal("A"))
		})

		It("returns not found for unknown ids", func() {
			Expect(get("/invoices/missing").StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /invoices/{id}/file", func() {
		It("returns the archived document", func() {
			resp := extract(pdf)
			hash := resp.Header.Get(extraction.DocumentHashHeader)

			var saved history.Record
			Expect(json.Unmarshal(readBody(save(`{"file_name": "invoice.pdf", "document_hash": "`+hash+`", "data": {"invoice_number": "A"}}`)), &saved)).To(Succeed())

			file := get("/invoices/" + saved.ID + "/file")
			Expect(file.StatusCode).To(Equal(http.StatusOK))
			Expect(file.Header.Get("Content-Type")).To(Equal("application/pdf"))
			Expect(file.Header.Get("Content-Disposition")).To(ContainSubstring("invoice.pdf"))
			Expect(readBody(file)).To(Equal(pdf.data))
		})

		It("returns not found when nothing was archived", func() {
			var saved history.Record
			Expect(json.Unmarshal(readBody(save(`{"file_name": "a.pdf", "data": {}}`)), &saved)).To(Succeed())
			Expect(get("/invoices/" + saved.ID + "/file").StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /invoices/export.xlsx", func() {
		It("returns a workbook", func() {
			save(`{"file_name": "a.pdf", "data": {"invoice_number": "A"}}`)

			resp := get("/invoices/export.xlsx")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal(xlsxType))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("invoices.xlsx"))
			// XLSX files are zip archives
			Expect(readBody(resp)).To(HavePrefix("PK"))
		})
	})

	Describe("GET /health", func() {
		It("reports healthy", func() {
			resp := get("/health")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(MatchJSON(`{"status": "healthy"}`))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/extract-invoice", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Expose-Headers")).To(ContainSubstring(extraction.DocumentHashHeader))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp := get("/invoices")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/invoices", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/invoices", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/zombor/invoice-tracker/internal/extraction"
	"github.com/zombor/invoice-tracker/internal/history"
)

const (
	cacheHeader    = "X-Extraction-Cache"
	xlsxType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxSaveBody    = int64(1 << 20)
	multipartSlack = int64(1 << 20)
)

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// handleExtractInvoice accepts a single multipart file and returns the raw extraction payload
func (s *Server) handleExtractInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes+multipartSlack)
	if err := r.ParseMultipartForm(s.maxBytes + multipartSlack); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, tooLargeMessage(s.maxBytes))
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	switch {
	case len(files) == 0:
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	case len(files) > 1:
		writeError(w, http.StatusBadRequest, "Only one file can be uploaded at a time.")
		return
	}
	header := files[0]

	if header.Size > s.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, tooLargeMessage(s.maxBytes))
		return
	}

	f, err := header.Open()
	if err != nil {
		slog.Error("Error opening uploaded file", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	doc := extraction.Document{
		Name:        header.Filename,
		ContentType: extraction.ContentTypeFor(header.Filename, header.Header.Get("Content-Type")),
		Data:        data,
	}

	result, err := s.service.Extract(r.Context(), doc)
	switch {
	case errors.Is(err, extraction.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, tooLargeMessage(s.maxBytes))
		return
	case errors.Is(err, extraction.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "Unsupported file type. Please upload a PDF, JPEG, PNG or HEIC file.")
		return
	case errors.Is(err, extraction.ErrEmpty):
		writeError(w, http.StatusBadRequest, "The uploaded file is empty.")
		return
	case err != nil:
		slog.Error("Error extracting invoice", "filename", header.Filename, "error", err)
		writeError(w, http.StatusBadGateway, "Invoice extraction failed. Please try again.")
		return
	}

	w.Header().Set(extraction.DocumentHashHeader, result.Hash)
	if result.Cached {
		w.Header().Set(cacheHeader, "hit")
	} else {
		w.Header().Set(cacheHeader, "miss")
	}
	writeJSON(w, http.StatusOK, result.Payload)
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("File is too large. Maximum size is %dMB. Please compress or resize your image.", limit>>20)
}

// handleSaveInvoice stores a reviewed invoice in the history
func (s *Server) handleSaveInvoice(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSaveBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body is too large")
		return
	}

	record, err := s.service.Save(r.Context(), raw)
	if err != nil {
		if errors.Is(err, history.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Error saving invoice", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// handleListInvoices returns every saved invoice, newest first
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.List(r.Context())
	if err != nil {
		slog.Error("Error listing invoices", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Ensure we always return an array, not nil
	if records == nil {
		records = []*history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetInvoice returns a single saved invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		slog.Error("Error getting invoice", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleGetInvoiceFile returns the archived document of a saved invoice
func (s *Server) handleGetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	data, archived, err := s.service.Document(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		slog.Error("Error getting invoice file", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", archived.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": archived.FileName}))
	if _, err := w.Write(data); err != nil {
		slog.Error("Error writing file", "error", err)
	}
}

// handleExportInvoices streams the history as an XLSX workbook
func (s *Server) handleExportInvoices(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.Export(r.Context(), &buf); err != nil {
		slog.Error("Error exporting invoices", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("Error writing export", "error", err)
	}
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// ExtractPath is the route of the extraction endpoint relative to the service base URL
const ExtractPath = "/extract-invoice"

// DocumentHashHeader carries the SHA-256 of the uploaded document on extraction responses
const DocumentHashHeader = "X-Document-Hash"

// Client calls a remote extraction service with a multipart upload.
// It makes exactly one attempt per call.
type Client struct {
	baseURL  string
	http     *http.Client
	username string
	password string
	logger   *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBasicAuth sends basic auth credentials with every request
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithLogger sets the logger used for request logging
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for the service at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 120 * time.Second, // vision models are slow on large scans
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract uploads the document and decodes the service's response
func (c *Client) Extract(ctx context.Context, doc Document) (invoice.Payload, error) {
	reqID := uuid.NewString()
	start := time.Now()

	body, contentType, err := multipartBody(doc)
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	url := c.baseURL + ExtractPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", reqID)
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	c.logger.Info("Uploading invoice",
		"req_id", reqID,
		"url", url,
		"filename", doc.Name,
		"content_type", doc.ContentType,
		"file_size", len(doc.Data),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Extraction request failed", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, &RemoteError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Info("Extraction response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"document_hash", resp.Header.Get(DocumentHashHeader),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}

	payload, err := invoice.DecodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding extraction response: %w", err)
	}
	return payload, nil
}

func multipartBody(doc Document) (io.Reader, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(doc.Name)))
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &b, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// maxPlainErrorLen bounds a plain-text error body used as a message
const maxPlainErrorLen = 200

// errorMessage pulls a human-readable message out of an error response body.
// Bodies without a JSON message that are markup, multi-line or long fall back
// to the status text.
func errorMessage(statusCode int, raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}

	text := strings.TrimSpace(string(raw))
	if text == "" || len(text) > maxPlainErrorLen || strings.HasPrefix(text, "<") || strings.ContainsAny(text, "\r\n") {
		return http.StatusText(statusCode)
	}
	return text
}

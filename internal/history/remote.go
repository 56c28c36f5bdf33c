package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// InvoicesPath is the route of the history API relative to the service base URL
const InvoicesPath = "/invoices"

// StatusError is returned when the history API answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("history service returned status %d: %s", e.StatusCode, e.Message)
}

// Remote is a Repository backed by the HTTP history API
type Remote struct {
	baseURL  string
	client   *http.Client
	username string
	password string
}

var _ Repository = (*Remote)(nil)

// NewRemote creates a Remote for the service at baseURL
func NewRemote(baseURL string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// WithBasicAuth returns a copy of the Remote that sends credentials
func (r *Remote) WithBasicAuth(username, password string) *Remote {
	c := *r
	c.username = username
	c.password = password
	return &c
}

// wireRecord keeps record data raw so List can re-normalize it
type wireRecord struct {
	Record
	Data json.RawMessage `json:"data"`
}

func (w wireRecord) record() *Record {
	rec := w.Record
	payload, err := invoice.DecodePayload(w.Data)
	if err != nil {
		payload = nil
	}
	rec.Data = invoice.Normalize(payload)
	return &rec
}

// Append posts the save request
func (r *Remote) Append(ctx context.Context, req SaveRequest) (*Record, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling save request: %w", err)
	}

	var wire wireRecord
	if err := r.do(ctx, http.MethodPost, InvoicesPath, bytes.NewReader(body), &wire); err != nil {
		return nil, fmt.Errorf("saving invoice: %w", err)
	}
	return wire.record(), nil
}

// List fetches all records. Record data is normalized again on the way in,
// so records saved by older clients come back in canonical form.
func (r *Remote) List(ctx context.Context) ([]*Record, error) {
	var wire []wireRecord
	if err := r.do(ctx, http.MethodGet, InvoicesPath, nil, &wire); err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}

	records := make([]*Record, 0, len(wire))
	for _, w := range wire {
		records = append(records, w.record())
	}
	return records, nil
}

// Export downloads the XLSX export into w
func (r *Remote) Export(ctx context.Context, w io.Writer) error {
	req, err := r.newRequest(ctx, http.MethodGet, InvoicesPath+"/export.xlsx", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling history service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("downloading export: %w", err)
	}
	return nil
}

func (r *Remote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.username != "" || r.password != "" {
		req.SetBasicAuth(r.username, r.password)
	}
	return req, nil
}

func (r *Remote) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := r.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling history service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}

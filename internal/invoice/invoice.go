package invoice

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
)

// DefaultCurrency is used when the extraction omits a currency code
const DefaultCurrency = "INR"

// UnknownVendor is the vendor name used when none was extracted
const UnknownVendor = "Unknown"

// Invoice is the canonical, arithmetic-safe view of an extracted invoice.
// Numeric fields are nil when absent and are never NaN or infinite.
type Invoice struct {
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceDate   string     `json:"invoice_date"`
	DueDate       string     `json:"due_date,omitempty"`
	VendorName    string     `json:"vendor_name"`
	CustomerName  string     `json:"customer_name,omitempty"`
	PaymentTerms  string     `json:"payment_terms,omitempty"`
	Subtotal      *float64   `json:"subtotal,omitempty"`
	TaxAmount     *float64   `json:"tax_amount,omitempty"`
	Total         *float64   `json:"total,omitempty"`
	CurrencyCode  string     `json:"currency_code"`
	LineItems     []LineItem `json:"line_items"`
}

// LineItem is a single row of an invoice
type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	LineTotal   *float64 `json:"line_total,omitempty"`
}

// Consistent reports whether an explicit line total agrees with quantity x unit price.
// Items missing any of the three values are considered consistent.
func (li LineItem) Consistent() bool {
	if li.Quantity == nil || li.UnitPrice == nil || li.LineTotal == nil {
		return true
	}
	return math.Abs(*li.Quantity**li.UnitPrice-*li.LineTotal) < 0.005
}

// Payload returns the invoice in its raw payload form so it can be normalized again
func (inv Invoice) Payload() Payload {
	data, err := json.Marshal(inv)
	if err != nil {
		return Payload{}
	}
	p, err := DecodePayload(data)
	if err != nil {
		return Payload{}
	}
	return p
}

// Fingerprint returns a stable SHA-256 hex digest of the canonical JSON encoding
func (inv Invoice) Fingerprint() string {
	data, err := json.Marshal(inv)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package invoice

import (
	"math"
	"strings"
)

// Shape identifies which response schema an extraction payload follows
type Shape string

const (
	// ShapeFlat uses total_amount, gst_amount, vendor_name and line_items
	ShapeFlat Shape = "flat"
	// ShapeNested uses vendor.name, items, subtotal, tax_amount and total
	ShapeNested Shape = "nested"
)

// decoder holds the key precedence for one payload shape. Every decoder also
// accepts the canonical keys so a normalized invoice normalizes to itself.
type decoder struct {
	subtotal []string
	tax      []string
	total    []string
	items    []string
	vendor   func(Payload) string
	customer func(Payload) string
}

var decoders = map[Shape]decoder{
	ShapeFlat: {
		subtotal: []string{"subtotal", "sub_total"},
		tax:      []string{"gst_amount", "tax_amount", "tax"},
		total:    []string{"total_amount", "total", "grand_total"},
		items:    []string{"line_items", "items"},
		vendor: func(p Payload) string {
			return firstText(text(p.first("vendor_name")), text(p.object("vendor").first("name")), text(p.first("vendor")))
		},
		customer: func(p Payload) string {
			return firstText(text(p.first("customer_name")), text(p.object("customer").first("name")), text(p.first("customer")))
		},
	},
	ShapeNested: {
		subtotal: []string{"subtotal", "sub_total"},
		tax:      []string{"tax_amount", "gst_amount", "tax"},
		total:    []string{"total", "total_amount", "grand_total"},
		items:    []string{"items", "line_items"},
		vendor: func(p Payload) string {
			return firstText(text(p.object("vendor").first("name")), text(p.first("vendor_name")), text(p.first("vendor")))
		},
		customer: func(p Payload) string {
			return firstText(text(p.object("customer").first("name")), text(p.first("customer_name")), text(p.first("customer")))
		},
	},
}

// Probe classifies a payload by the schema it appears to follow
func Probe(p Payload) Shape {
	if p.object("vendor") != nil || p.object("customer") != nil {
		return ShapeNested
	}
	if p.has("items") && !p.has("line_items") {
		return ShapeNested
	}
	if p.has("total_amount", "gst_amount", "vendor_name", "line_items") {
		return ShapeFlat
	}
	if p.has("subtotal", "tax_amount", "total") {
		return ShapeNested
	}
	return ShapeFlat
}

// Normalize reduces an extraction payload to a canonical invoice.
// It never fails: fields that cannot be read become absent or take their sentinel.
// Top-level amounts are parsed independently and never reconciled with each other.
func Normalize(p Payload) Invoice {
	d := decoders[Probe(p)]

	inv := Invoice{
		InvoiceNumber: text(p.first("invoice_number", "invoice_no", "number")),
		InvoiceDate:   text(p.first("invoice_date", "date")),
		DueDate:       text(p.first("due_date")),
		VendorName:    d.vendor(p),
		CustomerName:  d.customer(p),
		PaymentTerms:  text(p.first("payment_terms")),
		Subtotal:      ParseNumber(p.first(d.subtotal...)),
		TaxAmount:     ParseNumber(p.first(d.tax...)),
		Total:         ParseNumber(p.first(d.total...)),
		CurrencyCode:  strings.ToUpper(text(p.first("currency_code", "currency"))),
		LineItems:     normalizeItems(p.list(d.items...)),
	}

	if inv.VendorName == "" {
		inv.VendorName = UnknownVendor
	}
	if inv.CurrencyCode == "" {
		inv.CurrencyCode = DefaultCurrency
	}

	return inv
}

func normalizeItems(raw []any) []LineItem {
	items := make([]LineItem, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case map[string]any:
			items = append(items, normalizeItem(Payload(v)))
		case string:
			if s := strings.TrimSpace(v); s != "" {
				items = append(items, LineItem{Description: s})
			}
		}
	}
	return items
}

// normalizeItem resolves the line total in a fixed order: the explicit total,
// then quantity x unit price, then absent. An explicit total always wins, even
// when it disagrees with the product.
func normalizeItem(p Payload) LineItem {
	item := LineItem{
		Description: text(p.first("description", "name", "item")),
		Quantity:    ParseNumber(p.first("quantity", "qty")),
		UnitPrice:   ParseNumber(p.first("unit_price", "price", "rate")),
		LineTotal:   ParseNumber(p.first("line_total", "total", "amount")),
	}

	if item.LineTotal == nil && item.Quantity != nil && item.UnitPrice != nil {
		product := *item.Quantity * *item.UnitPrice
		if !math.IsNaN(product) && !math.IsInf(product, 0) {
			item.LineTotal = &product
		}
	}

	return item
}

func firstText(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package history

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

const (
	invoiceSheet  = "Invoices"
	lineItemSheet = "Line Items"
)

// ExportXLSX writes the records as a workbook with one sheet of invoices
// and one sheet of line items. Absent amounts are left blank.
func ExportXLSX(w io.Writer, records []*Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", invoiceSheet); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	if _, err := f.NewSheet(lineItemSheet); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}

	invoiceRows := [][]any{{
		"ID", "Upload Date", "File", "Invoice Number", "Invoice Date", "Due Date",
		"Vendor", "Customer", "Currency", "Subtotal", "Tax", "Total",
	}}
	itemRows := [][]any{{
		"Invoice ID", "Invoice Number", "Description", "Quantity", "Unit Price", "Line Total",
	}}

	for _, r := range records {
		d := r.Data
		invoiceRows = append(invoiceRows, []any{
			r.ID,
			r.UploadDate.Format("2006-01-02 15:04"),
			r.FileName,
			d.InvoiceNumber,
			d.InvoiceDate,
			d.DueDate,
			d.VendorName,
			d.CustomerName,
			d.CurrencyCode,
			cellNumber(d.Subtotal),
			cellNumber(d.TaxAmount),
			cellNumber(d.Total),
		})
		for _, item := range d.LineItems {
			itemRows = append(itemRows, lineItemRow(r, item))
		}
	}

	if err := writeRows(f, invoiceSheet, invoiceRows); err != nil {
		return err
	}
	if err := writeRows(f, lineItemSheet, itemRows); err != nil {
		return err
	}

	_ = f.SetColWidth(invoiceSheet, "A", "A", 38)
	_ = f.SetColWidth(invoiceSheet, "B", "C", 20)
	_ = f.SetColWidth(invoiceSheet, "D", "F", 16)
	_ = f.SetColWidth(invoiceSheet, "G", "H", 30)
	_ = f.SetColWidth(lineItemSheet, "A", "B", 20)
	_ = f.SetColWidth(lineItemSheet, "C", "C", 48)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func lineItemRow(r *Record, item invoice.LineItem) []any {
	return []any{
		r.ID,
		r.Data.InvoiceNumber,
		item.Description,
		cellNumber(item.Quantity),
		cellNumber(item.UnitPrice),
		cellNumber(item.LineTotal),
	}
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// cellNumber renders an absent amount as an empty cell
func cellNumber(n *float64) any {
	if n == nil {
		return nil
	}
	return *n
}

package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/schollz/progressbar/v3"

	"github.com/zombor/invoice-tracker/internal/extraction"
	"github.com/zombor/invoice-tracker/internal/history"
	"github.com/zombor/invoice-tracker/internal/invoice"
	"github.com/zombor/invoice-tracker/internal/upload"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	endpoint string
	authUser string
	authPass string
	timeout  time.Duration
	save     bool
	name     string
	out      string
	list     bool
	export   string
	files    []string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	_ = godotenv.Load() // .env is optional

	fs := ff.NewFlagSet("invoice-cli")
	var (
		endpoint    = fs.StringLong("endpoint", "http://localhost:8000", "Base URL of the invoice server")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		timeout     = fs.DurationLong("timeout", 2*time.Minute, "Timeout for a single extraction")
		save        = fs.BoolLong("save", "Save the extracted invoice to the history")
		name        = fs.StringLong("name", "", "File name to save the invoice under (defaults to the uploaded file name)")
		out         = fs.StringLong("out", "", "Write the normalized invoice as JSON to this path")
		list        = fs.BoolLong("list", "List saved invoices")
		export      = fs.StringLong("export", "", "Download the saved invoices as an XLSX workbook to this path")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_CLI"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := config{
		endpoint: *endpoint,
		authUser: *authUser,
		authPass: *authPass,
		timeout:  *timeout,
		save:     *save,
		name:     *name,
		out:      *out,
		list:     *list,
		export:   *export,
		files:    fs.GetArgs(),
	}
	if len(cfg.files) == 0 && !cfg.list && cfg.export == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs, "invoice-cli [FLAGS] <invoice-file>"))
		fmt.Fprintln(os.Stderr, "error: an invoice file, --list or --export is required")
		os.Exit(1)
	}
	if len(cfg.files) > 1 {
		fmt.Fprintln(os.Stderr, "error: only one file can be uploaded at a time")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	remote := history.NewRemote(cfg.endpoint, nil).WithBasicAuth(cfg.authUser, cfg.authPass)

	if len(cfg.files) == 1 {
		if err := extract(ctx, cfg, remote); err != nil {
			return err
		}
	}
	if cfg.list {
		if err := listInvoices(ctx, remote); err != nil {
			return err
		}
	}
	if cfg.export != "" {
		if err := exportInvoices(ctx, remote, cfg.export); err != nil {
			return err
		}
	}
	return nil
}

func extract(ctx context.Context, cfg config, remote *history.Remote) error {
	doc, err := extraction.DefaultIntake().Open(cfg.files[0])
	if err != nil {
		return err
	}

	client := extraction.NewClient(cfg.endpoint, extraction.WithBasicAuth(cfg.authUser, cfg.authPass))
	bar := newProgressBar(fmt.Sprintf("Extracting %s", doc.Name))
	orch := upload.New(client,
		upload.WithRepository(remote),
		upload.WithObserver(func(s upload.State) {
			_ = bar.Set(s.Progress)
		}),
	)

	submitCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	result, err := orch.Submit(submitCtx, doc)
	if err != nil {
		_ = bar.Exit()
		fmt.Fprintln(os.Stderr)
		if state := orch.State(); state.LastError != "" {
			return fmt.Errorf("%s: %w", state.LastError, err)
		}
		return err
	}
	_ = bar.Finish()

	for i, item := range result.LineItems {
		if !item.Consistent() {
			slog.Warn("Line total does not match quantity x unit price",
				"line", i+1,
				"description", item.Description,
				"line_total", *item.LineTotal,
				"quantity", *item.Quantity,
				"unit_price", *item.UnitPrice,
			)
		}
	}

	printInvoice(*result)

	if cfg.out != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding invoice: %w", err)
		}
		if err := os.WriteFile(cfg.out, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", cfg.out, err)
		}
		slog.Info("Invoice written", "path", cfg.out)
	}

	if cfg.save {
		record, err := orch.Save(ctx, cfg.name)
		if err != nil {
			return err
		}
		slog.Info("Invoice saved", "id", record.ID, "file_name", record.FileName)
	}
	return nil
}

func newProgressBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printInvoice(inv invoice.Invoice) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Invoice number:\t%s\n", orDash(inv.InvoiceNumber))
	fmt.Fprintf(w, "Invoice date:\t%s\n", orDash(inv.InvoiceDate))
	if inv.DueDate != "" {
		fmt.Fprintf(w, "Due date:\t%s\n", inv.DueDate)
	}
	fmt.Fprintf(w, "Vendor:\t%s\n", inv.VendorName)
	if inv.CustomerName != "" {
		fmt.Fprintf(w, "Customer:\t%s\n", inv.CustomerName)
	}
	if inv.PaymentTerms != "" {
		fmt.Fprintf(w, "Payment terms:\t%s\n", inv.PaymentTerms)
	}
	fmt.Fprintf(w, "Subtotal:\t%s\n", amount(inv.Subtotal, inv.CurrencyCode))
	fmt.Fprintf(w, "Tax:\t%s\n", amount(inv.TaxAmount, inv.CurrencyCode))
	fmt.Fprintf(w, "Total:\t%s\n", amount(inv.Total, inv.CurrencyCode))
	_ = w.Flush()

	if len(inv.LineItems) == 0 {
		return
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DESCRIPTION\tQTY\tUNIT PRICE\tLINE TOTAL\t")
	for _, item := range inv.LineItems {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
			orDash(item.Description),
			number(item.Quantity),
			number(item.UnitPrice),
			number(item.LineTotal),
		)
	}
	_ = w.Flush()
}

func listInvoices(ctx context.Context, remote *history.Remote) error {
	records, err := remote.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No saved invoices")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPLOADED\tFILE\tVENDOR\tNUMBER\tTOTAL")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.UploadDate.Local().Format("2006-01-02 15:04"),
			r.FileName,
			r.Data.VendorName,
			orDash(r.Data.InvoiceNumber),
			amount(r.Data.Total, r.Data.CurrencyCode),
		)
	}
	return w.Flush()
}

func exportInvoices(ctx context.Context, remote *history.Remote, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	if err := remote.Export(ctx, f); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("server does not support export: %w", err)
		}
		return err
	}
	slog.Info("Invoices exported", "path", path)
	return nil
}

func amount(n *float64, currency string) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f %s", *n, currency)
}

func number(n *float64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-tracker/internal/extraction"
	"github.com/zombor/invoice-tracker/internal/history"
	"github.com/zombor/invoice-tracker/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	_ = godotenv.Load() // .env is optional

	fs := ff.NewFlagSet("invoice-server")
	var (
		port        = fs.IntLong("port", 8000, "HTTP server port")
		dbPath      = fs.StringLong("db", "invoices.db", "Database file path")
		storagePath = fs.StringLong("storage", "./documents", "Archive directory for uploaded documents")
		maxUploadMB = fs.IntLong("max-upload-mb", 10, "Maximum upload size in MB")
		backendType = fs.StringLong("backend", "gemini", "Extraction backend: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", extraction.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", extraction.DefaultOllamaURL, "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", extraction.DefaultOllamaModel, "Ollama vision model name (e.g., llava, qwen2-vl)")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_SERVER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config{
		port:        *port,
		dbPath:      *dbPath,
		storagePath: *storagePath,
		maxUploadMB: *maxUploadMB,
		backendType: *backendType,
		geminiKey:   *geminiKey,
		geminiModel: *geminiModel,
		ollamaURL:   *ollamaURL,
		ollamaModel: *ollamaModel,
		auth:        server.BasicAuth{Username: *authUser, Password: *authPass},
	}); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

type config struct {
	port        int
	dbPath      string
	storagePath string
	maxUploadMB int
	backendType string
	geminiKey   string
	geminiModel string
	ollamaURL   string
	ollamaModel string
	auth        server.BasicAuth
}

func run(ctx context.Context, cfg config) error {
	slog.Info("Initializing database...", "path", cfg.dbPath)
	db, err := history.NewBoltDB(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	slog.Info("Initializing storage...", "path", cfg.storagePath)
	storage, err := history.NewLocalStorage(cfg.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	intake := extraction.DefaultIntake()
	intake.MaxBytes = int64(cfg.maxUploadMB) << 20

	service := server.NewServiceWithIntake(backend, history.NewStore(db, storage), intake)
	srv := server.NewServer(service, cfg.auth)

	if cfg.auth.Username != "" || cfg.auth.Password != "" {
		slog.Info("Basic auth enabled", "user", cfg.auth.Username)
	}
	return srv.Start(ctx, fmt.Sprintf(":%d", cfg.port))
}

func newBackend(ctx context.Context, cfg config) (extraction.Backend, error) {
	switch cfg.backendType {
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini backend...", "model", cfg.geminiModel)
		backend, err := extraction.NewGemini(ctx, apiKey, cfg.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return backend, nil
	case "ollama":
		slog.Info("Initializing Ollama backend...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return extraction.NewOllama(cfg.ollamaURL, cfg.ollamaModel), nil
	default:
		return nil, fmt.Errorf("invalid backend type %q: expected gemini or ollama", cfg.backendType)
	}
}

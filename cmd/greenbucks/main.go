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

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/greenbucks/internal/extraction"
	"github.com/zombor/greenbucks/internal/llm"
	"github.com/zombor/greenbucks/internal/ocr"
	"github.com/zombor/greenbucks/internal/ocr/tesseract"
	"github.com/zombor/greenbucks/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("greenbucks")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "greenbucks.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./receipts", "Storage directory path")
		cloudOCR      = fs.BoolLong("cloud-ocr", "Use Google Cloud Vision before local OCR")
		visionKey     = fs.StringLong("vision-key", "", "Google Cloud Vision API key (or set GOOGLE_VISION_API_KEY)")
		llmParser     = fs.BoolLong("llm-parser", "Parse items with an LLM before the line heuristics")
		llmProvider   = fs.StringLong("llm-provider", "chat", "LLM provider: 'chat' (OpenAI-compatible) or 'gemini'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY)")
		geminiModel   = fs.StringLong("gemini-model", llm.DefaultGeminiModel, "Google Gemini model name")
		chatURL       = fs.StringLong("chat-url", llm.DefaultChatURL, "OpenAI-compatible API base URL")
		chatKey       = fs.StringLong("chat-key", "", "Chat API key (or set CEREBRAS_API_KEY)")
		chatModel     = fs.StringLong("chat-model", llm.DefaultChatModel, "Chat model name")
		ocrLanguage   = fs.StringLong("ocr-lang", "eng", "Tesseract language")
		minConfidence = fs.Float64Long("min-confidence", 0, "Drop OCR words below this confidence (0-100)")
		layoutMin     = fs.IntLong("layout-min-items", 5, "Run layout augmentation below this many items")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("GREENBUCKS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx := context.Background()

	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	cfg := extraction.Config{
		CloudOCR:       *cloudOCR,
		LLMParser:      *llmParser,
		LayoutMinItems: *layoutMin,
	}

	// Collaborators stay nil interfaces when unavailable so the extractor
	// skips their stages.
	var (
		cloud  extraction.CloudOCR
		local  extraction.LocalOCR
		parser extraction.ItemParser
	)

	if cfg.CloudOCR {
		vision, err := ocr.NewVision(ctx, firstNonEmpty(*visionKey, os.Getenv("GOOGLE_VISION_API_KEY")))
		if err != nil {
			slog.Warn("Cloud OCR disabled", "error", err)
		} else {
			cloud = vision
			slog.Info("Cloud OCR enabled")
		}
	}

	if err := tesseract.Probe(*ocrLanguage); err != nil {
		slog.Warn("Local OCR disabled", "error", err)
	} else {
		local = tesseract.New(*ocrLanguage, *minConfidence)
		slog.Info("Local OCR enabled", "language", *ocrLanguage)
	}

	if cfg.LLMParser {
		switch *llmProvider {
		case "gemini":
			slog.Info("Initializing Gemini parser...", "model", *geminiModel)
			gemini, err := llm.NewGemini(ctx, firstNonEmpty(*geminiKey, os.Getenv("GEMINI_API_KEY")), *geminiModel)
			if err != nil {
				slog.Warn("LLM parser disabled", "provider", "gemini", "error", err)
				break
			}
			defer gemini.Close()
			parser = gemini
		case "chat":
			slog.Info("Initializing chat parser...", "url", *chatURL, "model", *chatModel)
			chat, err := llm.NewChat(llm.ChatConfig{
				BaseURL: *chatURL,
				APIKey:  firstNonEmpty(*chatKey, os.Getenv("CEREBRAS_API_KEY")),
				Model:   *chatModel,
			})
			if err != nil {
				slog.Warn("LLM parser disabled", "provider", "chat", "error", err)
				break
			}
			parser = chat
		default:
			slog.Error("Invalid LLM provider", "provider", *llmProvider, "valid", "chat or gemini")
			os.Exit(1)
		}
	}

	extractor := extraction.NewExtractor(cfg, cloud, local, ocr.PDFText{}, parser)
	receiptService := receipt.NewService(db, extractor, store)

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

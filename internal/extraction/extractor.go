package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Text sources recorded in Diagnostics.TextSource.
const (
	SourceCloud           = "cloud"
	SourceLocalOCR        = "local_ocr"
	SourceLocalPositional = "local_positional"
	SourcePDFText         = "pdf_text"
)

// Parsers recorded in Diagnostics.ParserUsed.
const (
	ParserLLM           = "llm"
	ParserHeuristic     = "heuristic"
	ParserCloudText     = "cloud_ocr_text+heuristic"
	ParserLayout        = "layout"
	FallbackPlaceholder = "mock"
)

// Stage names used as keys in Diagnostics.Errors.
const (
	StageCloudOCR   = "cloud_ocr"
	StageLocalText  = "local_ocr"
	StageLocalData  = "local_positional"
	StagePDFText    = "pdf_text"
	StageLLM        = "llm"
	StageLayout     = "layout"
	defaultMinItems = 5
)

// Sentinel errors shared by the extraction collaborators.
var (
	ErrDisabled      = errors.New("disabled")
	ErrNoCredentials = errors.New("no credentials configured")
	ErrEmptyText     = errors.New("empty text")
	ErrUnavailable   = errors.New("engine unavailable")
)

// CloudOCR transcribes an image or PDF with a remote OCR service.
type CloudOCR interface {
	Text(ctx context.Context, data []byte) (string, error)
}

// LocalOCR transcribes an image on this host, either as a flat string or as
// positioned word tokens.
type LocalOCR interface {
	Text(ctx context.Context, image []byte) (string, error)
	Tokens(ctx context.Context, image []byte) ([]Token, error)
}

// PDFTextExtractor reads the embedded text layer of a PDF.
type PDFTextExtractor interface {
	PDFText(ctx context.Context, data []byte) (string, error)
}

// ItemParser turns receipt text into items, typically through an LLM.
type ItemParser interface {
	ParseItems(ctx context.Context, text string) ([]ParsedItem, error)
}

// Config toggles the optional extraction paths. It is read once at startup.
type Config struct {
	CloudOCR  bool
	LLMParser bool
	// LayoutMinItems is the item count below which layout augmentation runs.
	// Zero means 5.
	LayoutMinItems int
}

// StageError wraps a failure inside one extraction stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Diagnostics describes which path produced the items.
type Diagnostics struct {
	ParserUsed string            `json:"parser_used"`
	TextSource string            `json:"text_source"`
	Augmenters []string          `json:"augmenters,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	Fallback   string            `json:"fallback,omitempty"`
}

// MarshalJSON renders unset parser and source as null.
func (d Diagnostics) MarshalJSON() ([]byte, error) {
	type plain Diagnostics
	return json.Marshal(struct {
		ParserUsed *string `json:"parser_used"`
		TextSource *string `json:"text_source"`
		plain
	}{
		ParserUsed: nullable(d.ParserUsed),
		TextSource: nullable(d.TextSource),
		plain:      plain(d),
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Result is the outcome of one extraction.
type Result struct {
	Items       []ParsedItem `json:"items"`
	Diagnostics Diagnostics  `json:"diagnostics"`
	Text        string       `json:"-"`
}

// Extractor runs the extraction pipeline. It holds no per-request state and
// is safe for concurrent use as long as its collaborators are.
type Extractor struct {
	cfg    Config
	cloud  CloudOCR
	local  LocalOCR
	pdf    PDFTextExtractor
	parser ItemParser
}

// NewExtractor creates an Extractor. Any collaborator may be nil, which
// disables the stage it backs.
func NewExtractor(cfg Config, cloud CloudOCR, local LocalOCR, pdf PDFTextExtractor, parser ItemParser) *Extractor {
	if cfg.LayoutMinItems <= 0 {
		cfg.LayoutMinItems = defaultMinItems
	}
	return &Extractor{
		cfg:    cfg,
		cloud:  cloud,
		local:  local,
		pdf:    pdf,
		parser: parser,
	}
}

// IsPDF reports whether data starts with the PDF magic prefix.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// run tracks one extraction as it moves through its stages.
type run struct {
	diag  Diagnostics
	text  string
	items []ParsedItem

	// tokens are kept from text acquisition so layout augmentation does not
	// run positional OCR twice.
	tokens    []Token
	tokensErr error
	scanned   bool
}

func (r *run) positional(ctx context.Context, local LocalOCR, data []byte) ([]Token, error) {
	if !r.scanned {
		r.tokens, r.tokensErr = local.Tokens(ctx, data)
		r.scanned = true
	}
	return r.tokens, r.tokensErr
}

func (r *run) fail(err *StageError) {
	if r.diag.Errors == nil {
		r.diag.Errors = make(map[string]string)
	}
	r.diag.Errors[err.Stage] = err.Err.Error()
	slog.Warn("Extraction stage failed", "stage", err.Stage, "error", err.Err)
}

// Extract acquires text from image or PDF bytes and parses items from it.
// It never fails: every stage error lands in the diagnostics and an empty
// result becomes a single placeholder item.
func (e *Extractor) Extract(ctx context.Context, data []byte) Result {
	r := &run{}
	pdf := IsPDF(data)

	e.acquireText(ctx, r, data, pdf)
	e.parseItems(ctx, r)
	if !pdf {
		e.augment(ctx, r, data)
	}
	return e.finalize(r)
}

// ExtractText parses items from already transcribed text.
func (e *Extractor) ExtractText(ctx context.Context, text string) Result {
	r := &run{text: text}
	e.parseItems(ctx, r)
	return e.finalize(r)
}

func (e *Extractor) acquireText(ctx context.Context, r *run, data []byte, pdf bool) {
	if e.cfg.CloudOCR && e.cloud != nil {
		text, err := e.cloud.Text(ctx, data)
		switch {
		case err != nil:
			r.fail(&StageError{Stage: StageCloudOCR, Err: err})
		case strings.TrimSpace(text) != "":
			r.text, r.diag.TextSource = text, SourceCloud
			slog.Debug("Acquired text", "source", SourceCloud, "length", len(text))
			return
		}
	}

	if pdf {
		if e.pdf == nil {
			return
		}
		text, err := e.pdf.PDFText(ctx, data)
		if err != nil {
			r.fail(&StageError{Stage: StagePDFText, Err: err})
			return
		}
		if strings.TrimSpace(text) != "" {
			r.text, r.diag.TextSource = text, SourcePDFText
		}
		return
	}

	if e.local == nil {
		return
	}
	str, err := e.local.Text(ctx, data)
	if err != nil {
		r.fail(&StageError{Stage: StageLocalText, Err: err})
	}
	var positional string
	tokens, err := r.positional(ctx, e.local, data)
	if err != nil {
		r.fail(&StageError{Stage: StageLocalData, Err: err})
	} else {
		positional = PositionalText(tokens)
	}

	// Positional text wins only with strictly more decimal prices.
	switch {
	case PriceSignal(positional) > PriceSignal(str):
		r.text, r.diag.TextSource = positional, SourceLocalPositional
	case strings.TrimSpace(str) != "":
		r.text, r.diag.TextSource = str, SourceLocalOCR
	case strings.TrimSpace(positional) != "":
		r.text, r.diag.TextSource = positional, SourceLocalPositional
	}
	if r.diag.TextSource != "" {
		slog.Debug("Acquired text", "source", r.diag.TextSource, "length", len(r.text))
	}
}

func (e *Extractor) parseItems(ctx context.Context, r *run) {
	if strings.TrimSpace(r.text) == "" {
		return
	}

	if e.cfg.LLMParser && e.parser != nil {
		items, err := e.parser.ParseItems(ctx, r.text)
		if err != nil {
			r.fail(&StageError{Stage: StageLLM, Err: err})
		} else if items = sanitize(items); len(items) > 0 {
			r.items, r.diag.ParserUsed = items, ParserLLM
			return
		}
	}

	items := ParseLines(r.text)
	if len(items) == 0 {
		return
	}
	r.items = items
	if r.diag.TextSource == SourceCloud {
		r.diag.ParserUsed = ParserCloudText
	} else {
		r.diag.ParserUsed = ParserHeuristic
	}
}

func (e *Extractor) augment(ctx context.Context, r *run, data []byte) {
	if e.local == nil || len(r.items) >= e.cfg.LayoutMinItems {
		return
	}
	failed := r.scanned && r.tokensErr != nil
	tokens, err := r.positional(ctx, e.local, data)
	if err != nil {
		if !failed {
			r.fail(&StageError{Stage: StageLayout, Err: err})
		}
		return
	}
	extra := AssociateByLayout(tokens)
	r.diag.Augmenters = append(r.diag.Augmenters, ParserLayout)

	var added int
	r.items, added = Merge(r.items, extra)
	if added > 0 && r.diag.ParserUsed == "" {
		r.diag.ParserUsed = ParserLayout
	}
	slog.Debug("Layout augmentation", "found", len(extra), "added", added)
}

func (e *Extractor) finalize(r *run) Result {
	items := sanitize(r.items)
	if len(items) == 0 {
		items = []ParsedItem{{Name: PlaceholderName}}
		r.diag.Fallback = FallbackPlaceholder
	}
	return Result{Items: items, Diagnostics: r.diag, Text: r.text}
}

// sanitize drops items that violate the name and price bounds.
func sanitize(items []ParsedItem) []ParsedItem {
	out := items[:0:0]
	for _, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		if !hasLetter(it.Name) {
			continue
		}
		if it.Price != nil && !validPrice(*it.Price) {
			continue
		}
		if it.Qty != nil && *it.Qty <= 0 {
			it.Qty = nil
		}
		out = append(out, it)
	}
	return out
}

package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/greenbucks/internal/extraction"
	"github.com/zombor/greenbucks/internal/footprint"
	"github.com/zombor/greenbucks/internal/ocr"
)

// ErrEmptyFile is returned when an upload has no content.
var ErrEmptyFile = errors.New("empty file")

// Extractor turns receipt bytes or text into items.
type Extractor interface {
	Extract(ctx context.Context, data []byte) extraction.Result
	ExtractText(ctx context.Context, text string) extraction.Result
}

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ProcessOptions carries the optional inputs of an upload.
type ProcessOptions struct {
	Merchant   string
	Categories []string
	// DebugRawText keeps the acquired OCR text on the result.
	DebugRawText bool
}

// Service handles receipt operations
type Service struct {
	db          DB
	extractor   Extractor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with UUID IDs and the wall clock.
func NewService(db DB, extractor Extractor, storage Storage) *Service {
	return NewServiceWithDeps(db, extractor, storage, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

const maxFilenameBase = 50

// sanitizeFilename strips phone-camera noise from upload names, keeping the
// extension.
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	if len(ext) > 10 {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))
	if len(base) > maxFilenameBase {
		base = base[:maxFilenameBase]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// ProcessReceipt stores an upload, extracts its items and persists the
// scored record. Extraction itself never fails; a receipt with nothing
// readable is saved with a placeholder item and NeedsReview set.
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string, opts ProcessOptions) (*Receipt, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	img, err := ocr.Normalize(data, contentType)
	if err != nil {
		slog.Warn("Failed to normalize upload, extracting original bytes", "filename", filename, "error", err)
		img = data
	}
	result := s.extractor.Extract(ctx, img)

	receipt := &Receipt{
		ID:            id,
		Filename:      savedPath,
		ContentType:   contentType,
		Merchant:      strings.TrimSpace(opts.Merchant),
		MixedMerchant: footprint.IsMixedMerchant(opts.Merchant),
		Analysis:      analyze(result, opts),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.db.SaveReceipt(receipt); err != nil {
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to clean up file", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Processed receipt",
		"id", id,
		"items", len(receipt.Items),
		"parser", receipt.Diagnostics.ParserUsed,
		"source", receipt.Diagnostics.TextSource,
		"needs_review", receipt.NeedsReview,
	)
	return receipt, nil
}

// ParseText scores items parsed from already transcribed text. Nothing is
// stored.
func (s *Service) ParseText(ctx context.Context, text string, opts ProcessOptions) (*Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, extraction.ErrEmptyText
	}
	analysis := analyze(s.extractor.ExtractText(ctx, text), opts)
	return &analysis, nil
}

// analyze annotates each item with its footprint and folds the item scores
// into one price-weighted score. Unpriced items weigh as one dollar.
func analyze(result extraction.Result, opts ProcessOptions) Analysis {
	a := Analysis{
		Items:       make([]Item, 0, len(result.Items)),
		Total:       decimal.Zero,
		KgCO2e:      decimal.Zero,
		EcoScore:    footprint.NeutralScore,
		NeedsReview: result.Diagnostics.Fallback != "",
		Diagnostics: result.Diagnostics,
	}
	if opts.DebugRawText {
		a.RawText = result.Text
	}

	if a.NeedsReview {
		for _, it := range result.Items {
			a.Items = append(a.Items, Item{Name: it.Name, Price: it.Price, Qty: it.Qty, KgCO2e: decimal.Zero, EcoScore: footprint.NeutralScore})
		}
		return a
	}

	one := decimal.NewFromInt(1)
	weighted, weights := decimal.Zero, decimal.Zero
	for _, it := range result.Items {
		kg := footprint.Estimate(it.Name, it.Price, it.Qty, opts.Categories)

		weight := one
		perUSD := decimal.NullDecimal{}
		if it.Price != nil && *it.Price > 0 {
			weight = decimal.NewFromFloat(*it.Price)
			perUSD = decimal.NewNullDecimal(kg.Div(weight))
			a.Total = a.Total.Add(weight)
		}
		score := footprint.Score(perUSD)

		weighted = weighted.Add(weight.Mul(decimal.NewFromInt(int64(score))))
		weights = weights.Add(weight)
		a.KgCO2e = a.KgCO2e.Add(kg)
		a.Items = append(a.Items, Item{
			Name:     it.Name,
			Price:    it.Price,
			Qty:      it.Qty,
			KgCO2e:   kg.Round(3),
			EcoScore: score,
		})
	}
	if weights.IsPositive() {
		a.EcoScore = int(weighted.Div(weights).Round(0).IntPart())
	}
	a.Total = a.Total.Round(2)
	a.KgCO2e = a.KgCO2e.Round(3)
	return a
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.storage.Delete(receipt.Filename); err != nil {
		slog.Warn("Failed to delete file", "filename", receipt.Filename, "error", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile returns the stored upload and its content type.
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, receipt.ContentType, nil
}

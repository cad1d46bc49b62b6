// Package tesseract runs the local Tesseract engine through gosseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/greenbucks/internal/extraction"
	"github.com/zombor/greenbucks/internal/ocr"
)

// Engine is a stateless Tesseract front end. Every call opens its own
// gosseract client, so one Engine may serve concurrent extractions.
type Engine struct {
	language      string
	minConfidence float64
}

// New creates an Engine. Word boxes below minConfidence are dropped.
func New(language string, minConfidence float64) *Engine {
	if language == "" {
		language = "eng"
	}
	return &Engine{language: language, minConfidence: minConfidence}
}

// pageSegMode returns the segmentation mode forced for a call. String mode
// keeps Tesseract's automatic layout analysis (PSM 3); word boxes read the
// receipt as a single uniform block (PSM 6).
func pageSegMode(words bool) (gosseract.PageSegMode, bool) {
	if words {
		return gosseract.PSM_SINGLE_BLOCK, true
	}
	return 0, false
}

func (e *Engine) client(image []byte, words bool) (*gosseract.Client, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(e.language); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting OCR language: %w", err)
	}
	if mode, ok := pageSegMode(words); ok {
		if err := client.SetPageSegMode(mode); err != nil {
			client.Close()
			return nil, fmt.Errorf("setting page segmentation mode: %w", err)
		}
	}
	if err := client.SetImageFromBytes(ocr.Prepare(image)); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting OCR image: %w", err)
	}
	return client, nil
}

// Text transcribes the image as a flat string.
func (e *Engine) Text(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	client, err := e.client(image, false)
	if err != nil {
		return "", err
	}
	defer client.Close()

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("running OCR: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Tokens returns the recognized words with their positions.
func (e *Engine) Tokens(ctx context.Context, image []byte) ([]extraction.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := e.client(image, true)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("reading word boxes: %w", err)
	}

	tokens := make([]extraction.Token, 0, len(boxes))
	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" || box.Confidence < e.minConfidence {
			continue
		}
		tokens = append(tokens, extraction.Token{
			Text:       word,
			Left:       box.Box.Min.X,
			Top:        box.Box.Min.Y,
			Confidence: box.Confidence,
		})
	}
	return tokens, nil
}

// Probe checks that Tesseract and its language data can run. A failing probe
// disables local OCR for the life of the process.
func Probe(language string) error {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(color.White.Y >> 8)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encoding probe image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(language); err != nil {
		return fmt.Errorf("%w: %v", extraction.ErrUnavailable, err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", extraction.ErrUnavailable, err)
	}
	if _, err := client.Text(); err != nil {
		return fmt.Errorf("%w: %v", extraction.ErrUnavailable, err)
	}
	return nil
}

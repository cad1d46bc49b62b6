package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// pdfMaxPages bounds how many pages of a PDF are read.
const pdfMaxPages = 5

// PDFText reads the embedded text layer of PDF receipts.
type PDFText struct{}

// PDFText returns the text of the first pages joined by newlines. Scanned
// PDFs without a text layer yield an empty string.
func (PDFText) PDFText(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	var pages []string
	for n := 0; n < min(doc.NumPage(), pdfMaxPages); n++ {
		text, err := doc.Text(n)
		if err != nil {
			return "", fmt.Errorf("reading PDF page %d: %w", n+1, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n"), nil
}

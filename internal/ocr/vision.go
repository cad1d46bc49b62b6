package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/vision/v1"

	"github.com/zombor/greenbucks/internal/extraction"
)

const (
	featureDocumentText = "DOCUMENT_TEXT_DETECTION"
	featureText         = "TEXT_DETECTION"

	visionImageTimeout = 20 * time.Second
	visionPDFTimeout   = 30 * time.Second
)

// visionPDFPages are the PDF pages sent for annotation.
var visionPDFPages = []int64{1, 2, 3, 4, 5}

// Vision reads receipts with the Google Cloud Vision API.
type Vision struct {
	svc *vision.Service
}

// NewVision creates a Vision client authenticated with an API key. Extra
// options, such as a custom endpoint, are applied after the key.
func NewVision(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Vision, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("vision: %w", extraction.ErrNoCredentials)
	}
	svc, err := vision.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating vision service: %w", err)
	}
	return &Vision{svc: svc}, nil
}

// Text transcribes an image or PDF. PDFs are annotated page by page and fall
// through to image annotation when no page yields text.
func (v *Vision) Text(ctx context.Context, data []byte) (string, error) {
	if extraction.IsPDF(data) {
		text, err := v.pdfText(ctx, data)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
		slog.Debug("Vision returned no PDF text, retrying as image")
	}

	img, err := Normalize(data, "")
	if err != nil {
		return "", err
	}

	text, err := v.imageText(ctx, img, featureDocumentText)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	return v.imageText(ctx, img, featureText)
}

func (v *Vision) imageText(ctx context.Context, data []byte, feature string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, visionImageTimeout)
	defer cancel()

	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(data)},
			Features: []*vision.Feature{{Type: feature}},
		}},
	}
	resp, err := v.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("annotating image: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", nil
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return "", fmt.Errorf("annotating image: %s", r.Error.Message)
	}

	if feature == featureDocumentText {
		if r.FullTextAnnotation != nil {
			return r.FullTextAnnotation.Text, nil
		}
		return "", nil
	}
	if len(r.TextAnnotations) > 0 {
		return r.TextAnnotations[0].Description, nil
	}
	return "", nil
}

func (v *Vision) pdfText(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, visionPDFTimeout)
	defer cancel()

	req := &vision.BatchAnnotateFilesRequest{
		Requests: []*vision.AnnotateFileRequest{{
			InputConfig: &vision.InputConfig{
				Content:  base64.StdEncoding.EncodeToString(data),
				MimeType: "application/pdf",
			},
			Features: []*vision.Feature{{Type: featureDocumentText}},
			Pages:    visionPDFPages,
		}},
	}
	resp, err := v.svc.Files.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("annotating pdf: %w", err)
	}

	var pages []string
	for _, file := range resp.Responses {
		if file.Error != nil && file.Error.Message != "" {
			return "", fmt.Errorf("annotating pdf: %s", file.Error.Message)
		}
		for _, page := range file.Responses {
			if page.FullTextAnnotation != nil && page.FullTextAnnotation.Text != "" {
				pages = append(pages, page.FullTextAnnotation.Text)
			}
		}
	}
	return strings.Join(pages, "\n"), nil
}

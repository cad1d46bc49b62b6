package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/heic"
)

// minShortSide is the shorter image side below which receipts are upscaled.
const minShortSide = 900

// Prepare returns the image that should be handed to a local OCR engine.
// It prefers the OpenCV pipeline when compiled in, then BasicPreprocess, and
// finally the input unchanged.
func Prepare(data []byte) []byte {
	if out := Preprocess(data); out != nil {
		return out
	}
	out, err := BasicPreprocess(data)
	if err != nil {
		slog.Debug("Basic preprocessing failed, using original image", "error", err)
		return data
	}
	return out
}

// BasicPreprocess converts an image to an upscaled, contrast-stretched,
// sharpened grayscale PNG.
func BasicPreprocess(data []byte) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	if s := upscaleFactor(b.Dx(), b.Dy()); s > 1 {
		w := int(math.Round(float64(b.Dx()) * s))
		h := int(math.Round(float64(b.Dy()) * s))
		gray = imaging.Resize(gray, w, h, imaging.Lanczos)
	}
	gray = autocontrast(gray)
	gray = imaging.Sharpen(gray, 0.7)

	return encodePNG(gray)
}

// Normalize re-encodes HEIC/HEIF images as PNG so every engine can read them.
// Other inputs are returned as is.
func Normalize(data []byte, contentType string) ([]byte, error) {
	if !isHEICFormat(data) && !isHEICMimeType(contentType) {
		return data, nil
	}
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	return encodePNG(img)
}

// upscaleFactor returns 1 for images whose shorter side is already large
// enough, otherwise max(1.5, 900/short).
func upscaleFactor(w, h int) float64 {
	short := min(w, h)
	if short <= 0 || short >= minShortSide {
		return 1
	}
	return math.Max(1.5, float64(minShortSide)/float64(short))
}

func decode(data []byte) (image.Image, error) {
	if isHEICFormat(data) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// autocontrast stretches the luminance histogram of a grayscale image to the
// full 0-255 range.
func autocontrast(img *image.NRGBA) *image.NRGBA {
	lo, hi := uint8(255), uint8(0)
	for i := 0; i < len(img.Pix); i += 4 {
		v := img.Pix[i]
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi <= lo {
		return img
	}
	scale := 255 / float64(hi-lo)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		stretch := func(v uint8) uint8 {
			return uint8(math.Round(float64(v-lo) * scale))
		}
		return color.NRGBA{R: stretch(c.R), G: stretch(c.G), B: stretch(c.B), A: c.A}
	})
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

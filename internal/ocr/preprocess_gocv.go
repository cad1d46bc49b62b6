//go:build gocv

package ocr

import (
	"bytes"
	"image"

	"gocv.io/x/gocv"
)

// Preprocess binarizes a receipt photo for OCR: grayscale, cubic upscale of
// small images, bilateral denoise, adaptive mean threshold and a 2x2 close.
// It returns PNG bytes, or nil when the image cannot be decoded.
func Preprocess(data []byte) []byte {
	src, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil || src.Empty() {
		return nil
	}
	defer src.Close()

	scaled := gocv.NewMat()
	defer scaled.Close()
	if s := upscaleFactor(src.Cols(), src.Rows()); s > 1 {
		gocv.Resize(src, &scaled, image.Point{}, s, s, gocv.InterpolationCubic)
	} else {
		src.CopyTo(&scaled)
	}

	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.BilateralFilter(scaled, &denoised, 9, 75, 75)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.AdaptiveThreshold(denoised, &binary, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary, 35, 10)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2, 2))
	defer kernel.Close()
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(binary, &closed, gocv.MorphClose, kernel)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, closed)
	if err != nil {
		return nil
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes())
}

//go:build !gocv

package ocr

// Preprocess is unavailable without OpenCV; callers fall back to
// BasicPreprocess.
func Preprocess(data []byte) []byte {
	return nil
}

//go:build tesseract

package tesseract

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

func pngBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	return buf.Bytes(), nil
}

package engine

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// fitSides scales img so its longer edge is at most maxSide and its shorter
// edge at least minSide. When both cannot hold, maxSide wins. Images that
// already fit are returned unchanged.
func fitSides(img image.Image, minSide, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img
	}

	long, short := w, h
	if h > w {
		long, short = h, w
	}

	scale := 1.0
	if minSide > 0 && short < minSide {
		scale = float64(minSide) / float64(short)
	}
	if maxSide > 0 && float64(long)*scale > float64(maxSide) {
		scale = float64(maxSide) / float64(long)
	}
	if scale == 1.0 {
		return img
	}

	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// encodePNG encodes img as PNG bytes.
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// pngDataURL encodes img as a base64 PNG data URL for chat-style vision APIs.
func pngDataURL(img image.Image) (string, error) {
	data, err := encodePNG(img)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

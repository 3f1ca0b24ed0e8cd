//go:build tesseract

package main

// Registers the "tesseract" OCR backend in builds with -tags tesseract.
import _ "github.com/jackzampolin/pdfscribe/internal/engine/tesseract"

package markdown

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

// Grounded OCR output tags each region with a label and one or more boxes:
//
//	<|ref|>image<|/ref|><|det|>[[x1, y1, x2, y2]]<|/det|>
//
// Box coordinates are normalized to [0, GroundingScale].
const GroundingScale = 999

var (
	groundingTag = regexp.MustCompile(`(?s)<\|ref\|>(.*?)<\|/ref\|>\s*<\|det\|>(.*?)<\|/det\|>`)
	boxPattern   = regexp.MustCompile(`\[\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*\]`)
	// Leftover model control tokens, in both ASCII and full-width bar forms.
	controlToken = regexp.MustCompile(`<[|｜][^<>]{0,40}?[|｜]>`)
)

// imageLabels are region labels whose boxes are cropped into assets.
var imageLabels = map[string]bool{
	"image":  true,
	"figure": true,
	"chart":  true,
	"photo":  true,
}

// GroundingRewriter turns grounded OCR output into clean markdown. Image
// regions are cropped out of the page and written as PNG assets; every other
// grounding tag is stripped.
type GroundingRewriter struct {
	// MinCropSide drops boxes smaller than this many pixels on either side.
	MinCropSide int
}

// NewGroundingRewriter returns a rewriter with default settings.
func NewGroundingRewriter() *GroundingRewriter {
	return &GroundingRewriter{MinCropSide: 8}
}

// Rewrite converts raw OCR text for one page. Assets are written to outDir
// and referenced relative to outDir's parent, where the page markdown lives.
func (r *GroundingRewriter) Rewrite(raw string, page image.Image, outDir, baseName string) (string, error) {
	var (
		crops    int
		writeErr error
	)
	rel := filepath.Base(outDir)

	out := groundingTag.ReplaceAllStringFunc(raw, func(tag string) string {
		if writeErr != nil {
			return ""
		}
		m := groundingTag.FindStringSubmatch(tag)
		label := strings.ToLower(strings.TrimSpace(m[1]))
		if !imageLabels[label] || page == nil {
			return ""
		}

		var refs []string
		for _, box := range parseBoxes(m[2]) {
			rect := scaleBox(box, page.Bounds())
			if rect.Dx() < r.MinCropSide || rect.Dy() < r.MinCropSide {
				continue
			}
			if crops == 0 {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					writeErr = fmt.Errorf("failed to create asset dir: %w", err)
					return ""
				}
			}
			name := fmt.Sprintf("%s_img_%02d.png", baseName, crops+1)
			if err := writeCrop(page, rect, filepath.Join(outDir, name)); err != nil {
				writeErr = err
				return ""
			}
			crops++
			refs = append(refs, fmt.Sprintf("![%s](%s/%s)", label, rel, name))
		}
		if len(refs) == 0 {
			return ""
		}
		return "\n" + strings.Join(refs, "\n") + "\n"
	})
	if writeErr != nil {
		return "", writeErr
	}

	return cleanup(out), nil
}

func parseBoxes(s string) [][4]float64 {
	var boxes [][4]float64
	for _, m := range boxPattern.FindAllStringSubmatch(s, -1) {
		var b [4]float64
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(m[i+1], 64)
			if err != nil {
				return boxes
			}
			b[i] = v
		}
		boxes = append(boxes, b)
	}
	return boxes
}

// scaleBox maps a normalized box onto the page, clamped to its bounds.
func scaleBox(b [4]float64, bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	rect := image.Rect(
		bounds.Min.X+int(b[0]/GroundingScale*w),
		bounds.Min.Y+int(b[1]/GroundingScale*h),
		bounds.Min.X+int(b[2]/GroundingScale*w),
		bounds.Min.Y+int(b[3]/GroundingScale*h),
	)
	return rect.Canon().Intersect(bounds)
}

func writeCrop(page image.Image, rect image.Rectangle, path string) error {
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), page, rect.Min, draw.Src)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	if err := png.Encode(f, dst); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode asset: %w", err)
	}
	return f.Close()
}

func cleanup(s string) string {
	s = controlToken.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s) + "\n"
}

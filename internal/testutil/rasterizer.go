package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Rasterizer is a stand-in for the poppler rasterizer. It writes Pages
// blank 200x100 page images, or fails with Err.
type Rasterizer struct {
	Pages int
	Err   error
}

// Rasterize implements the pipeline rasterizer contract.
func (r *Rasterizer) Rasterize(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, r.Pages)
	for i := 1; i <= r.Pages; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("page_%04d.png", i))
		if err := writePNGFile(p, PageImage(200, 100)); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

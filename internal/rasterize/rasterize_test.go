package rasterize

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/pdfscribe/internal/testutil"
)

func TestPageCount(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WritePDF(t, dir, 3)

	n, err := PageCount(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPageCount_NotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pdf")
	require.NoError(t, os.WriteFile(path, []byte("hello, not a pdf"), 0o644))

	_, err := PageCount(path)
	assert.ErrorIs(t, err, ErrInvalidPDF)
}

func TestNormalize(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"raw-10.png", "raw-02.png", "raw-01.png", "raw-x.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	paths, err := normalize(dir, "raw-")
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, "page_0001.png", filepath.Base(paths[0]))
	assert.Equal(t, "page_0002.png", filepath.Base(paths[1]))
	assert.Equal(t, "page_0010.png", filepath.Base(paths[2]))
}

func TestRasterize_RejectsDPI(t *testing.T) {
	_, err := New(Config{}).Rasterize(context.Background(), "x.pdf", t.TempDir(), 10)
	assert.Error(t, err)
}

func TestRasterize(t *testing.T) {
	r := New(Config{Logger: testutil.Logger()})
	if testing.Short() || !r.Available() {
		t.Skip("pdftoppm not available")
	}

	dir := t.TempDir()
	pdf := testutil.WritePDF(t, dir, 2)

	paths, err := r.Rasterize(context.Background(), pdf, filepath.Join(dir, "images"), 72)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "page_0001.png", filepath.Base(paths[0]))

	img, err := Open(paths[0])
	require.NoError(t, err)
	// Letter size at 72 DPI.
	assert.Equal(t, 612, img.Bounds().Dx())
	assert.Equal(t, 792, img.Bounds().Dy())
}

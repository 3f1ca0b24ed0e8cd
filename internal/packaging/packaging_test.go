package packaging

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchive(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "markdown", "page_0001_assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "markdown", "page_0001.md"), []byte("# One\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "markdown", "page_0001_assets", "page_0001_img_01.png"), []byte("png"), 0o644))

	dest := filepath.Join(t.TempDir(), "out", "doc_markdown.zip")
	got, err := Archive(src, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, got)

	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	contents := map[string]string{}
	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, _ := io.ReadAll(rc)
		rc.Close()
		contents[f.Name] = string(data)
	}
	sort.Strings(names)

	assert.Equal(t, []string{
		"markdown/",
		"markdown/page_0001.md",
		"markdown/page_0001_assets/",
		"markdown/page_0001_assets/page_0001_img_01.png",
	}, names)
	assert.Equal(t, "# One\n", contents["markdown/page_0001.md"])
}

func TestArchive_MissingDir(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "x.zip")
	_, err := Archive(filepath.Join(t.TempDir(), "nope"), dest)
	assert.Error(t, err)
	assert.NoFileExists(t, dest)
}

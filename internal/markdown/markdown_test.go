package markdown

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRewriteMode(t *testing.T) {
	for in, want := range map[string]RewriteMode{"": ModeAppend, "append": ModeAppend, "REPLACE": ModeReplace} {
		got, err := ParseRewriteMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseRewriteMode("overwrite")
	assert.Error(t, err)
}

func TestFindImageRefs(t *testing.T) {
	text := "intro ![a](x.png) and ![](y.png)\n![a](x.png)"
	refs := FindImageRefs(text)
	require.Len(t, refs, 3)
	assert.Equal(t, ImageRef{Tag: "![a](x.png)", Alt: "a", Path: "x.png"}, refs[0])
	assert.Equal(t, "", refs[1].Alt)
	assert.Equal(t, "y.png", refs[1].Path)
	assert.Equal(t, refs[0], refs[2])
}

func TestRewriteImageRefs(t *testing.T) {
	captions := map[string]string{"img.png": "a cat"}

	t.Run("append keeps the original tag", func(t *testing.T) {
		out := RewriteImageRefs("![alt](img.png)", captions, ModeAppend)
		assert.Equal(t, "![alt](img.png)\n\n*alt - a cat*\n", out)
		assert.Contains(t, out, "![alt](img.png)")
	})

	t.Run("replace removes image syntax", func(t *testing.T) {
		out := RewriteImageRefs("![alt](img.png)", captions, ModeReplace)
		assert.Equal(t, "alt (Interpreted and captioned): a cat", out)
		assert.Empty(t, FindImageRefs(out))
	})

	t.Run("empty alt falls back to Image", func(t *testing.T) {
		assert.Equal(t, "![](img.png)\n\n*Image - a cat*\n", RewriteImageRefs("![](img.png)", captions, ModeAppend))
		assert.Equal(t, "Image (Interpreted and captioned): a cat", RewriteImageRefs("![](img.png)", captions, ModeReplace))
	})

	t.Run("uncaptioned tags are untouched", func(t *testing.T) {
		in := "![x](missing.png) ![alt](img.png)"
		out := RewriteImageRefs(in, captions, ModeReplace)
		assert.Equal(t, "![x](missing.png) alt (Interpreted and captioned): a cat", out)
	})

	t.Run("text without images is identical", func(t *testing.T) {
		in := "# Title\n\nNo pictures here.\n"
		assert.Equal(t, in, RewriteImageRefs(in, captions, ModeAppend))
	})
}

func TestPlainText(t *testing.T) {
	src := []byte("# Results\n\nRevenue grew **12%** in Q3.\n\n![chart](page_0001_assets/a.png)\n\n- one\n- two\n\n```\ncode line\n```\n")
	got := PlainText(src)

	assert.Contains(t, got, "Results")
	assert.Contains(t, got, "Revenue grew 12% in Q3.")
	assert.Contains(t, got, "one")
	assert.Contains(t, got, "code line")
	assert.NotContains(t, got, "page_0001_assets")
	assert.NotContains(t, got, "**")
	assert.NotContains(t, got, "\n\n\n")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "anything", Truncate("anything", 0))

	got := Truncate("the quick brown fox jumps", 12)
	assert.Equal(t, "the quick …", got)

	// The word boundary is measured in runes, not bytes.
	got = Truncate("ééé ffffffffff", 10)
	assert.Equal(t, "ééé ffffff …", got)
}

func testPage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestGroundingRewriter(t *testing.T) {
	raw := "<|ref|>title<|/ref|><|det|>[[10, 10, 900, 60]]<|/det|>\n# Annual Report\n\n" +
		"<|ref|>text<|/ref|><|det|>[[10, 80, 900, 200]]<|/det|>\nBody text.\n\n" +
		"<|ref|>image<|/ref|><|det|>[[0, 0, 499, 499], [500, 500, 999, 999]]<|/det|>\n" +
		"<|ref|>image<|/ref|><|det|>[[0, 0, 1, 1]]<|/det|>\n"

	t.Run("crops image regions and strips tags", func(t *testing.T) {
		dir := t.TempDir()
		assets := filepath.Join(dir, "page_0001_assets")

		out, err := NewGroundingRewriter().Rewrite(raw, testPage(200, 100), assets, "page_0001")
		require.NoError(t, err)

		assert.NotContains(t, out, "<|")
		assert.Contains(t, out, "# Annual Report")
		assert.Contains(t, out, "Body text.")

		refs := FindImageRefs(out)
		require.Len(t, refs, 2, out)
		assert.Equal(t, "page_0001_assets/page_0001_img_01.png", refs[0].Path)
		assert.Equal(t, "page_0001_assets/page_0001_img_02.png", refs[1].Path)

		f, err := os.Open(filepath.Join(dir, refs[0].Path))
		require.NoError(t, err)
		defer f.Close()
		img, err := png.Decode(f)
		require.NoError(t, err)
		assert.Equal(t, 99, img.Bounds().Dx())
		assert.Equal(t, 49, img.Bounds().Dy())
	})

	t.Run("no image regions writes no assets", func(t *testing.T) {
		dir := t.TempDir()
		assets := filepath.Join(dir, "page_0002_assets")
		out, err := NewGroundingRewriter().Rewrite("<|ref|>text<|/ref|><|det|>[[1,2,3,4]]<|/det|>\nplain", testPage(50, 50), assets, "page_0002")
		require.NoError(t, err)
		assert.Equal(t, "plain\n", out)
		_, err = os.Stat(assets)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("output without grounding passes through", func(t *testing.T) {
		out, err := NewGroundingRewriter().Rewrite("just text\n\n\n\nmore", nil, t.TempDir(), "p")
		require.NoError(t, err)
		assert.Equal(t, "just text\n\nmore\n", out)
		assert.False(t, strings.Contains(out, "!["))
	})
}

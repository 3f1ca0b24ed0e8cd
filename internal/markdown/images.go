// Package markdown rewrites OCR output and image references in page markdown.
package markdown

import (
	"fmt"
	"regexp"
	"strings"
)

// imageTag matches ![alt](path). Both groups are non-greedy so adjacent tags
// on one line stay separate.
var imageTag = regexp.MustCompile(`!\[(.*?)\]\((.*?)\)`)

// RewriteMode controls how a caption is merged into the page.
type RewriteMode string

const (
	// ModeAppend keeps the image tag and adds an italic caption line after it.
	ModeAppend RewriteMode = "append"
	// ModeReplace swaps the image tag for inline captioned text.
	ModeReplace RewriteMode = "replace"
)

// ParseRewriteMode parses a mode name. An empty string means ModeAppend.
func ParseRewriteMode(s string) (RewriteMode, error) {
	switch RewriteMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAppend:
		return ModeAppend, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return "", fmt.Errorf("invalid rewrite mode %q (want append or replace)", s)
	}
}

// ImageRef is one markdown image tag.
type ImageRef struct {
	Tag  string
	Alt  string
	Path string
}

// FindImageRefs returns every image tag in text, in order of appearance.
// Repeated references are returned once per occurrence.
func FindImageRefs(text string) []ImageRef {
	matches := imageTag.FindAllStringSubmatch(text, -1)
	refs := make([]ImageRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, ImageRef{Tag: m[0], Alt: m[1], Path: m[2]})
	}
	return refs
}

// RewriteImageRefs rewrites each image tag whose path has a non-empty
// caption. Tags without a caption are left as they are.
func RewriteImageRefs(text string, captions map[string]string, mode RewriteMode) string {
	return imageTag.ReplaceAllStringFunc(text, func(tag string) string {
		m := imageTag.FindStringSubmatch(tag)
		alt, path := m[1], m[2]
		caption := captions[path]
		if caption == "" {
			return tag
		}
		if mode == ModeReplace {
			return fmt.Sprintf("%s (Interpreted and captioned): %s", altOrDefault(alt), caption)
		}
		return tag + captionBlock(alt, caption)
	})
}

func captionBlock(alt, caption string) string {
	return fmt.Sprintf("\n\n*%s - %s*\n", altOrDefault(alt), caption)
}

func altOrDefault(alt string) string {
	if alt == "" {
		alt = "Image"
	}
	return strings.TrimSpace(alt)
}

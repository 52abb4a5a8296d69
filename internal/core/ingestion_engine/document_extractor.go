package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/coursebot/internal/core"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// mimeTypes lists the course file formats that get ingested.
var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// contentType returns the MIME type for a supported file name, or "" otherwise.
func contentType(filename string) string {
	return mimeTypes[strings.ToLower(filepath.Ext(filename))]
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

func (e *DocconvExtractor) Supports(filename string) bool {
	return contentType(filename) != ""
}

// ExtractText converts the document with docconv and normalises it to trimmed, non-empty lines.
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte, filename string) (string, error) {
	ct := contentType(filename)
	if ct == "" {
		return "", fmt.Errorf("docconv: unsupported file type %q", filepath.Ext(filename))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	res, err := docconv.Convert(bytes.NewReader(data), ct, e.useReadability)
	if err != nil {
		return "", fmt.Errorf("docconv: extraction failed for %s: %w", ct, err)
	}

	return normaliseLines(res.Body), nil
}

func normaliseLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

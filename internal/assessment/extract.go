package assessment

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// TextExtractor turns a stored document into plain text. PDF parsing is
// deliberately behind this interface; the engine ships only the plain-text
// implementation and deployments plug in their own.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// PlainTextExtractor reads the file as-is and normalizes whitespace. It
// serves .txt uploads and pre-extracted text files.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(_ context.Context, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := normalizeText(string(raw))
	if text == "" {
		return "", fmt.Errorf("document %s contains no extractable text", path)
	}
	return text, nil
}

// normalizeText collapses runs of whitespace and strips control characters,
// keeping newlines so section boundaries survive.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case r == '\r':
			// dropped; \r\n becomes \n
		case r == '\n':
			b.WriteRune('\n')
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsControl(r):
			// drop
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

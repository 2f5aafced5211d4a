package assessment

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPlainTextExtractor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	content := "Methods.\t\tWe   randomized\r\n120 patients.\x00"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	text, err := PlainTextExtractor{}.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "Methods. We randomized\n120 patients."
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestPlainTextExtractorErrors(t *testing.T) {
	if _, err := (PlainTextExtractor{}).Extract(context.Background(), filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("missing file accepted")
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	os.WriteFile(empty, []byte("   \n\t  "), 0o644)
	if _, err := (PlainTextExtractor{}).Extract(context.Background(), empty); err == nil {
		t.Error("whitespace-only file accepted")
	}
}

package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

// Mode functions report failures to main, which flushes the index before exiting.
func TestModes_ReturnErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		err := ingestFile(ctx, nil, filepath.Join(t.TempDir(), "missing.pdf"))
		if err == nil || !strings.Contains(err.Error(), "reading document") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("non-positive top-k", func(t *testing.T) {
		err := ask(ctx, nil, "what?", 0)
		if err == nil || !strings.Contains(err.Error(), "-top-k") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("empty directory is not an error", func(t *testing.T) {
		if err := ingestDir(ctx, nil, t.TempDir()); err != nil {
			t.Fatalf("err = %v", err)
		}
	})
}

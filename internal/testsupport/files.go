package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"camlapse/internal/frames"
)

// WriteFile creates path (and its parent directories) holding size filler
// bytes. A size <= 0 writes a single byte so the file counts as non-empty.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, int(size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteFrames stores count fake JPEG frames through store, as if they had
// been captured in order, and returns their paths.
func WriteFrames(t testing.TB, store *frames.Store, count int) []string {
	t.Helper()

	paths := make([]string, 0, count)
	for range count {
		index, err := store.NextIndex()
		if err != nil {
			t.Fatalf("next frame index: %v", err)
		}
		path := store.PathFor(index)
		WriteFile(t, path, 512)
		paths = append(paths, path)
	}
	return paths
}

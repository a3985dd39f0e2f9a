// Package fileutil holds the write-to-temp-then-rename helpers that keep
// on-disk artifacts from ever looking complete before they are.
package fileutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PartialMarker is inserted before the extension of in-progress artifacts.
const PartialMarker = ".partial"

// PartialPath returns the in-progress sibling of path. The extension is kept
// last so tools that infer the container from it still work.
func PartialPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + PartialMarker + ext
}

// IsPartial reports whether name is an in-progress artifact.
func IsPartial(name string) bool {
	base := filepath.Base(name)
	return strings.Contains(base, PartialMarker+".") || strings.HasSuffix(base, PartialMarker)
}

// NonEmptyFile reports whether path is a regular file with at least one byte.
// A missing file is not an error.
func NonEmptyFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}

// Exists reports whether path exists.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Promote renames a finished partial file onto its final path. The partial
// file must be non-empty; an empty result is removed and reported.
func Promote(partial, final string) error {
	ok, err := NonEmptyFile(partial)
	if err != nil {
		return fmt.Errorf("stat %s: %w", partial, err)
	}
	if !ok {
		_ = os.Remove(partial)
		return fmt.Errorf("refusing to promote empty output %s", partial)
	}
	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("rename %s -> %s: %w", partial, final, err)
	}
	return nil
}

// WriteFileAtomic writes data to path through a partial sibling and a rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteReaderAtomic(path, bytes.NewReader(data), perm)
}

// WriteReaderAtomic streams r into path through a partial sibling and a
// rename. On any failure the partial file is removed and path is untouched.
func WriteReaderAtomic(path string, r io.Reader, perm os.FileMode) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := PartialPath(path)
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(out, r); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RemovePartials deletes leftover in-progress artifacts in dir and returns how
// many were removed. A missing directory has nothing to clean.
func RemovePartials(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsPartial(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

package encoding

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"camlapse/internal/fileutil"
)

const ffconcatHeader = "ffconcat version 1.0\n"

// frameManifest lists frame images for the concat demuxer, each shown for one
// output frame at the given rate.
func frameManifest(paths []string, frameRate int) (string, error) {
	duration := strconv.FormatFloat(1/float64(frameRate), 'f', 6, 64)
	var b strings.Builder
	b.WriteString(ffconcatHeader)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		b.WriteString("file ")
		b.WriteString(quoteConcatPath(abs))
		b.WriteByte('\n')
		b.WriteString("duration ")
		b.WriteString(duration)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// segmentManifest lists video segments for stream-copy concatenation.
func segmentManifest(paths []string) (string, error) {
	var b strings.Builder
	b.WriteString(ffconcatHeader)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		b.WriteString("file ")
		b.WriteString(quoteConcatPath(abs))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// ManifestEntries returns the file entries of a concat manifest in order.
func ManifestEntries(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []string
	for _, line := range strings.Split(string(data), "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "file ")
		if !ok {
			continue
		}
		entries = append(entries, unquoteConcatPath(rest))
	}
	return entries, nil
}

func writeManifest(path, content string) error {
	return fileutil.WriteFileAtomic(path, []byte(content), 0o644)
}

// manifestMatches reports whether the manifest at path already holds content.
// A missing manifest matches: the segment alone is the record of completion.
func manifestMatches(path, content string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	return string(data) == content, nil
}

func quoteConcatPath(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

func unquoteConcatPath(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 2 && strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") {
		value = value[1 : len(value)-1]
	}
	return strings.ReplaceAll(value, `'\''`, "'")
}

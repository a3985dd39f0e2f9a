package frames

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"camlapse/internal/fileutil"
)

const (
	// IndexWidth is the zero-padded width of frame indices. Six digits keep
	// lexicographic and numeric order identical up to 999,999 frames.
	IndexWidth = 6
	extension  = ".jpg"
)

// Frame is one captured image.
type Frame struct {
	Index int
	Path  string
}

// Store manages the directory of captured frame files.
type Store struct {
	dir    string
	prefix string
}

// NewStore builds a Store for frames named "<prefix>_<index>.jpg" in dir.
func NewStore(dir, prefix string) *Store {
	return &Store{dir: dir, prefix: prefix}
}

// PathFor returns the path of the frame with the given index.
func (s *Store) PathFor(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%0*d%s", s.prefix, IndexWidth, index, extension))
}

// List returns stored frames sorted by filename, which is capture order.
// In-progress downloads and foreign files are ignored.
func (s *Store) List() ([]Frame, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read frames directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || fileutil.IsPartial(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	frames := make([]Frame, 0, len(names))
	for _, name := range names {
		index, ok := s.parseIndex(name)
		if !ok {
			continue
		}
		frames = append(frames, Frame{Index: index, Path: filepath.Join(s.dir, name)})
	}
	return frames, nil
}

// Count returns the number of stored frames.
func (s *Store) Count() (int, error) {
	frames, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(frames), nil
}

// NextIndex returns the sequence number for the next capture. Under the
// gap-free invariant this equals the frame count; if a frame was removed by
// hand it still never reuses an index that is on disk.
func (s *Store) NextIndex() (int, error) {
	frames, err := s.List()
	if err != nil {
		return 0, err
	}
	next := len(frames)
	if len(frames) > 0 {
		if last := frames[len(frames)-1].Index + 1; last > next {
			next = last
		}
	}
	return next, nil
}

// DeleteAll removes every stored frame and any in-progress download.
func (s *Store) DeleteAll() error {
	frames, err := s.List()
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := os.Remove(frame.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove frame %d: %w", frame.Index, err)
		}
	}
	if _, err := fileutil.RemovePartials(s.dir); err != nil {
		return fmt.Errorf("remove partial frames: %w", err)
	}
	return nil
}

func (s *Store) parseIndex(name string) (int, bool) {
	prefix := s.prefix + "_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, extension) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix), extension)
	if len(digits) != IndexWidth {
		return 0, false
	}
	index, err := strconv.Atoi(digits)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

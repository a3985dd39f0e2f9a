package encoding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"camlapse/internal/fileutil"
	"camlapse/internal/frames"
	"camlapse/internal/logging"
	"camlapse/internal/services"
)

const (
	segmentExt  = ".mp4"
	manifestExt = ".txt"
)

// Params controls how frames are transcoded into chunk segments.
type Params struct {
	ChunkSize int
	FrameRate int
	Width     int
	Height    int
	Preset    string
	CRF       int
}

func (p Params) validate() error {
	switch {
	case p.ChunkSize <= 0:
		return fmt.Errorf("chunk size must be positive, got %d", p.ChunkSize)
	case p.FrameRate <= 0:
		return fmt.Errorf("frame rate must be positive, got %d", p.FrameRate)
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("invalid resolution %dx%d", p.Width, p.Height)
	}
	return nil
}

// Chunk is a contiguous run of frames encoded into one segment.
type Chunk struct {
	Index        int
	Frames       []frames.Frame
	ManifestPath string
	SegmentPath  string
}

// Partition splits frames into consecutive chunks of at most size frames.
// The last chunk holds the remainder. Paths are left empty.
func Partition(list []frames.Frame, size int) []Chunk {
	if size <= 0 || len(list) == 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (len(list)+size-1)/size)
	for start := 0; start < len(list); start += size {
		end := min(start+size, len(list))
		chunks = append(chunks, Chunk{Index: len(chunks), Frames: list[start:end]})
	}
	return chunks
}

// SegmentPath returns the on-disk path of chunk index within dir.
func SegmentPath(dir string, index int) string {
	return filepath.Join(dir, chunkName(index)+segmentExt)
}

// ManifestPath returns the frame manifest path of chunk index within dir.
func ManifestPath(dir string, index int) string {
	return filepath.Join(dir, chunkName(index)+manifestExt)
}

func chunkName(index int) string {
	return fmt.Sprintf("chunk_%04d", index)
}

// ChunkEncoder encodes frames into chunk segments under a single directory.
type ChunkEncoder struct {
	dir    string
	runner Runner
	logger *slog.Logger
}

// NewChunkEncoder builds an encoder writing into dir.
func NewChunkEncoder(dir string, runner Runner, logger *slog.Logger) *ChunkEncoder {
	return &ChunkEncoder{
		dir:    dir,
		runner: runner,
		logger: logging.NewComponentLogger(logger, "encoding"),
	}
}

// Plan lays frames out into chunks without touching disk.
func (e *ChunkEncoder) Plan(list []frames.Frame, chunkSize int) []Chunk {
	chunks := Partition(list, chunkSize)
	for i := range chunks {
		chunks[i].ManifestPath = ManifestPath(e.dir, chunks[i].Index)
		chunks[i].SegmentPath = SegmentPath(e.dir, chunks[i].Index)
	}
	return chunks
}

// EncodeAll encodes every chunk that does not already have a finished segment
// and returns all segment paths in chunk order.
func (e *ChunkEncoder) EncodeAll(ctx context.Context, list []frames.Frame, params Params) ([]string, error) {
	if len(list) == 0 {
		return nil, services.Wrap(services.ErrValidation, "encode", "plan chunks", "no frames to encode", nil)
	}
	if err := params.validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "encode", "plan chunks", "invalid encoding parameters", err)
	}
	if e.runner == nil {
		return nil, services.Wrap(services.ErrConfiguration, "encode", "plan chunks", "encoder runner unavailable", nil)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrResource, "encode", "prepare chunk dir", e.dir, err)
	}
	if removed, err := fileutil.RemovePartials(e.dir); err != nil {
		return nil, services.Wrap(services.ErrResource, "encode", "remove partial segments", e.dir, err)
	} else if removed > 0 {
		e.logger.Info("removed interrupted segments", logging.Int("count", removed))
	}

	chunks := e.Plan(list, params.ChunkSize)
	segments := make([]string, 0, len(chunks))
	encoded, skipped := 0, 0
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done, err := e.encodeChunk(ctx, chunk, params)
		if err != nil {
			return nil, err
		}
		if done {
			encoded++
		} else {
			skipped++
		}
		segments = append(segments, chunk.SegmentPath)
	}
	e.logger.Info("chunk encoding complete",
		logging.Int("chunks", len(chunks)),
		logging.Int("encoded", encoded),
		logging.Int("skipped", skipped),
		logging.Int("frames", len(list)),
	)
	return segments, nil
}

// encodeChunk returns false when the chunk already had a finished segment.
func (e *ChunkEncoder) encodeChunk(ctx context.Context, chunk Chunk, params Params) (bool, error) {
	op := fmt.Sprintf("chunk %d", chunk.Index)
	manifest, err := frameManifest(framePaths(chunk.Frames), params.FrameRate)
	if err != nil {
		return false, services.Wrap(services.ErrResource, "encode", op, "build manifest", err)
	}

	finished, err := fileutil.NonEmptyFile(chunk.SegmentPath)
	if err != nil {
		return false, services.Wrap(services.ErrResource, "encode", op, "stat segment", err)
	}
	if finished {
		same, err := manifestMatches(chunk.ManifestPath, manifest)
		if err != nil {
			return false, services.Wrap(services.ErrResource, "encode", op, "read manifest", err)
		}
		if same {
			e.logger.Debug("segment already encoded", logging.Int("chunk", chunk.Index))
			return false, nil
		}
		e.logger.Info("segment membership changed; re-encoding",
			logging.Int("chunk", chunk.Index),
			logging.String("segment", chunk.SegmentPath),
		)
	}

	if err := writeManifest(chunk.ManifestPath, manifest); err != nil {
		return false, services.Wrap(services.ErrResource, "encode", op, "write manifest", err)
	}

	partial := fileutil.PartialPath(chunk.SegmentPath)
	e.logger.Info("encoding chunk",
		logging.Int("chunk", chunk.Index),
		logging.Int("frames", len(chunk.Frames)),
		logging.String("first_frame", filepath.Base(chunk.Frames[0].Path)),
	)
	if err := e.runner.Run(ctx, chunkArgs(chunk.ManifestPath, partial, params)); err != nil {
		_ = os.Remove(partial)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, services.Wrap(services.ErrExternalTool, "encode", op, "ffmpeg failed", err)
	}
	if err := fileutil.Promote(partial, chunk.SegmentPath); err != nil {
		return false, services.Wrap(services.ErrExternalTool, "encode", op, "finalize segment", err)
	}
	return true, nil
}

// Started reports whether any finished segment exists, meaning capture for
// this working directory has already been closed off.
func (e *ChunkEncoder) Started() (bool, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || fileutil.IsPartial(name) || !strings.HasPrefix(name, "chunk_") || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		if ok, err := fileutil.NonEmptyFile(filepath.Join(e.dir, name)); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}

// Clean removes segments, manifests, and partial files from the chunk
// directory. Unrelated files are left alone.
func (e *ChunkEncoder) Clean() (int, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !ownedArtifact(name) {
			continue
		}
		if err := os.Remove(filepath.Join(e.dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func ownedArtifact(name string) bool {
	if name == mergeManifestName || name == fileutil.PartialPath(mergeManifestName) {
		return true
	}
	if !strings.HasPrefix(name, "chunk_") {
		return false
	}
	return strings.HasSuffix(name, segmentExt) || strings.HasSuffix(name, manifestExt)
}

func framePaths(list []frames.Frame) []string {
	paths := make([]string, len(list))
	for i, frame := range list {
		paths[i] = frame.Path
	}
	return paths
}

func chunkArgs(manifest, output string, params Params) []string {
	w, h := strconv.Itoa(params.Width), strconv.Itoa(params.Height)
	filter := "scale=" + w + ":" + h + ":force_original_aspect_ratio=decrease," +
		"pad=" + w + ":" + h + ":(ow-iw)/2:(oh-ih)/2,setsar=1,format=yuv420p"
	preset := strings.TrimSpace(params.Preset)
	if preset == "" {
		preset = "medium"
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-f", "concat", "-safe", "0", "-i", manifest,
		"-vf", filter,
		"-r", strconv.Itoa(params.FrameRate),
		"-c:v", "libx264",
		"-preset", preset,
		"-crf", strconv.Itoa(params.CRF),
		"-movflags", "+faststart",
		"-f", "mp4", output,
	}
}

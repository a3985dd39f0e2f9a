package encoding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"camlapse/internal/fileutil"
	"camlapse/internal/logging"
	"camlapse/internal/services"
)

const mergeManifestName = "merge.txt"

// Merger stream-copies ordered segments into the final video.
type Merger struct {
	chunksDir string
	output    string
	runner    Runner
	logger    *slog.Logger
}

// NewMerger builds a Merger whose manifest lives in chunksDir and whose
// result is written to output.
func NewMerger(chunksDir, output string, runner Runner, logger *slog.Logger) *Merger {
	return &Merger{
		chunksDir: chunksDir,
		output:    output,
		runner:    runner,
		logger:    logging.NewComponentLogger(logger, "merge"),
	}
}

// ManifestPath returns the merge manifest path.
func (m *Merger) ManifestPath() string {
	return filepath.Join(m.chunksDir, mergeManifestName)
}

// Merge concatenates segments in order without re-encoding. The final video
// appears only after ffmpeg succeeds.
func (m *Merger) Merge(ctx context.Context, segments []string) (string, error) {
	if len(segments) == 0 {
		return "", services.Wrap(services.ErrValidation, "merge", "concat segments", "no segments to merge", nil)
	}
	if m.runner == nil {
		return "", services.Wrap(services.ErrConfiguration, "merge", "concat segments", "merge runner unavailable", nil)
	}
	for i, segment := range segments {
		ok, err := fileutil.NonEmptyFile(segment)
		if err != nil {
			return "", services.Wrap(services.ErrResource, "merge", "stat segment", segment, err)
		}
		if !ok {
			return "", services.Wrap(services.ErrValidation, "merge", "stat segment",
				fmt.Sprintf("segment %d missing or empty: %s", i, segment), nil)
		}
	}
	if err := os.MkdirAll(filepath.Dir(m.output), 0o755); err != nil {
		return "", services.Wrap(services.ErrResource, "merge", "prepare output dir", filepath.Dir(m.output), err)
	}

	partial := fileutil.PartialPath(m.output)
	if err := os.Remove(partial); err == nil {
		m.logger.Info("removed interrupted merge output", logging.String("path", partial))
	}

	manifest, err := segmentManifest(segments)
	if err != nil {
		return "", services.Wrap(services.ErrResource, "merge", "build manifest", "", err)
	}
	manifestPath := m.ManifestPath()
	if err := writeManifest(manifestPath, manifest); err != nil {
		return "", services.Wrap(services.ErrResource, "merge", "write manifest", manifestPath, err)
	}

	m.logger.Info("merging segments",
		logging.Int("segments", len(segments)),
		logging.String("output", m.output),
	)
	if err := m.runner.Run(ctx, mergeArgs(manifestPath, partial)); err != nil {
		_ = os.Remove(partial)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", services.Wrap(services.ErrExternalTool, "merge", "concat segments", "ffmpeg failed", err)
	}
	if err := fileutil.Promote(partial, m.output); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "merge", "finalize video", "", err)
	}
	m.logger.Info("final video ready", logging.String("path", m.output))
	return m.output, nil
}

func mergeArgs(manifest, output string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-f", "concat", "-safe", "0", "-i", manifest,
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4", output,
	}
}

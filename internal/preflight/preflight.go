package preflight

import (
	"context"

	"camlapse/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// minFreeBytes is the free space below which the work directory check fails.
// A day of 1080p JPEG frames plus its segments fits comfortably.
const minFreeBytes = 2 << 30

// RunAll executes every preflight check that applies to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckFreeSpace("Free space", cfg.Paths.WorkDir, minFreeBytes))

	results = append(results, CheckFFmpeg(ctx, cfg.FFmpegBinary()))

	results = append(results, CheckCamera(ctx, cfg.Camera.SnapshotURL, cfg.Camera.Headers, cfg.SnapshotTimeout()))

	if cfg.Upload.Enabled {
		results = append(results, CheckFile("Client secrets", cfg.Paths.ClientSecretsFile))
		results = append(results, CheckToken("Credential", cfg.Paths.TokenFile))
	}
	return results
}

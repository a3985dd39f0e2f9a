package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"camlapse/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every path lives under one temp root so tests never touch the user's home.
// Directories are not created; call EnsureDirectories when a test needs them.
// Upload is disabled unless WithUploadBaseURL is applied.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	work := filepath.Join(base, "work")
	state := filepath.Join(base, "state")
	cfgVal.Paths = config.Paths{
		WorkDir:           work,
		FramesDir:         filepath.Join(work, "frames"),
		ChunksDir:         filepath.Join(work, "chunks"),
		FinalVideo:        filepath.Join(work, "timelapse.mp4"),
		StateDir:          state,
		LockFile:          filepath.Join(state, "camlapse.lock"),
		TokenFile:         filepath.Join(base, "secrets", "token.json"),
		ClientSecretsFile: filepath.Join(base, "secrets", "client_secrets.json"),
	}
	cfgVal.Camera.SnapshotURL = "http://127.0.0.1:0/snapshot.jpg"
	cfgVal.Camera.RetryBackoffSeconds = 0
	cfgVal.Capture.IntervalSeconds = 0
	cfgVal.Capture.TotalFrames = 4
	cfgVal.Encoding.ChunkSize = 2
	cfgVal.Upload.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithSnapshotURL points the camera at the given endpoint.
func WithSnapshotURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Camera.SnapshotURL = url
	}
}

// WithUploadBaseURL points uploads at a fake server and enables them.
func WithUploadBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.Enabled = true
		b.cfg.Upload.BaseURL = url
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}

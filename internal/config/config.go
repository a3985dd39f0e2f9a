package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the on-disk layout of a pipeline working directory.
type Paths struct {
	WorkDir           string `toml:"work_dir"`
	FramesDir         string `toml:"frames_dir"`
	ChunksDir         string `toml:"chunks_dir"`
	FinalVideo        string `toml:"final_video"`
	StateDir          string `toml:"state_dir"`
	LockFile          string `toml:"lock_file"`
	TokenFile         string `toml:"token_file"`
	ClientSecretsFile string `toml:"client_secrets_file"`
}

// Camera contains configuration for the snapshot endpoint.
type Camera struct {
	SnapshotURL         string            `toml:"snapshot_url"`
	Headers             map[string]string `toml:"headers"`
	TimeoutSeconds      int               `toml:"timeout_seconds"`
	Retries             int               `toml:"retries"`
	RetryBackoffSeconds int               `toml:"retry_backoff_seconds"`
	SnapshotPrefix      string            `toml:"snapshot_prefix"`
}

// Capture contains configuration for the capture loop.
type Capture struct {
	// Mode is "loop" (capture every frame in one invocation) or "tick" (one
	// frame per invocation, for cron-style triggers).
	Mode            string `toml:"mode"`
	TotalFrames     int    `toml:"total_frames"`
	IntervalSeconds int    `toml:"interval_seconds"`
}

// Encoding contains configuration for the chunked ffmpeg encode and merge.
type Encoding struct {
	FFmpegBinary string `toml:"ffmpeg_binary"`
	ChunkSize    int    `toml:"chunk_size"`
	FrameRate    int    `toml:"frame_rate"`
	Resolution   string `toml:"resolution"`
	Preset       string `toml:"preset"`
	CRF          int    `toml:"crf"`
}

// Upload contains configuration for the video hosting upload.
type Upload struct {
	Enabled        bool     `toml:"enabled"`
	TitleBase      string   `toml:"title_base"`
	TitleCase      bool     `toml:"title_case"`
	Description    string   `toml:"description"`
	Tags           []string `toml:"tags"`
	CategoryID     string   `toml:"category_id"`
	PrivacyStatus  string   `toml:"privacy_status"`
	ChunkSizeMiB   int      `toml:"chunk_size_mib"`
	MaxRetries     int      `toml:"max_retries"`
	RetryBackoff   int      `toml:"retry_backoff_seconds"`
	RequestTimeout int      `toml:"request_timeout_seconds"`
	BaseURL        string   `toml:"base_url"`
	// Cleanup is "after_upload" (intermediates removed once the upload is
	// confirmed) or "before_upload" (removed as soon as the final video exists).
	Cleanup string `toml:"cleanup"`
}

// Notifications contains configuration for run outcome alerts.
type Notifications struct {
	// NtfyTopic is the full ntfy topic URL; empty disables notifications.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for camlapse.
//
// Configuration sections by subsystem:
//   - Paths: working directory layout, lock, token and state files
//   - Camera: snapshot endpoint, timeouts and retries
//   - Capture: capture mode, frame count and interval
//   - Encoding: ffmpeg chunked encode parameters
//   - Upload: YouTube metadata, chunked upload and cleanup ordering
//   - Notifications: ntfy alerts for uploads, suspensions and failures
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Camera        Camera        `toml:"camera"`
	Capture       Capture       `toml:"capture"`
	Encoding      Encoding      `toml:"encoding"`
	Upload        Upload        `toml:"upload"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("camlapse.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the working directories used by a pipeline run.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.WorkDir,
		c.Paths.FramesDir,
		c.Paths.ChunksDir,
		c.Paths.StateDir,
		filepath.Dir(c.Paths.FinalVideo),
		filepath.Dir(c.Paths.LockFile),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for encoding and merging.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Encoding.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// LogPath returns the file that receives a copy of every log line.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.StateDir, "camlapse.log")
}

// HistoryPath returns the SQLite database that records run outcomes.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// SnapshotTimeout returns the per-attempt camera request timeout.
func (c *Config) SnapshotTimeout() time.Duration {
	return time.Duration(c.Camera.TimeoutSeconds) * time.Second
}

// SnapshotBackoff returns the fixed sleep between snapshot attempts.
func (c *Config) SnapshotBackoff() time.Duration {
	return time.Duration(c.Camera.RetryBackoffSeconds) * time.Second
}

// CaptureInterval returns the sleep between consecutive captures in loop mode.
func (c *Config) CaptureInterval() time.Duration {
	return time.Duration(c.Capture.IntervalSeconds) * time.Second
}

// UploadChunkBytes returns the resumable upload chunk size in bytes.
func (c *Config) UploadChunkBytes() int64 {
	return int64(c.Upload.ChunkSizeMiB) * 1024 * 1024
}

// NotifyTimeout returns the per-request ntfy timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// CleanupBeforeUpload reports whether intermediates are deleted before the
// upload has been confirmed.
func (c *Config) CleanupBeforeUpload() bool {
	return c.Upload.Cleanup == CleanupBeforeUpload
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// ErrConfigExists is returned by CreateSample when the target file is already
// present and overwrite was not requested.
var ErrConfigExists = errors.New("config file already exists")

// CreateSample writes the embedded sample configuration to path, creating
// parent directories.
func CreateSample(path string, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	if _, err := f.WriteString(sampleConfig); err != nil {
		f.Close()
		return fmt.Errorf("write sample config: %w", err)
	}
	return f.Close()
}

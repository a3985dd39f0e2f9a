package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCamera()
	c.normalizeCapture()
	c.normalizeEncoding()
	c.normalizeUpload()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}

	derived := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.frames_dir", &c.Paths.FramesDir, filepath.Join(c.Paths.WorkDir, defaultFramesSubdir)},
		{"paths.chunks_dir", &c.Paths.ChunksDir, filepath.Join(c.Paths.WorkDir, defaultChunksSubdir)},
		{"paths.final_video", &c.Paths.FinalVideo, filepath.Join(c.Paths.WorkDir, defaultFinalVideoName)},
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
		{"paths.token_file", &c.Paths.TokenFile, defaultTokenFile},
		{"paths.client_secrets_file", &c.Paths.ClientSecretsFile, defaultClientSecretsFile},
	}
	for _, entry := range derived {
		if strings.TrimSpace(*entry.value) == "" {
			*entry.value = entry.fallback
		}
		if *entry.value, err = expandPath(*entry.value); err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
	}

	if strings.TrimSpace(c.Paths.LockFile) == "" {
		c.Paths.LockFile = filepath.Join(c.Paths.StateDir, defaultLockName)
	}
	if c.Paths.LockFile, err = expandPath(c.Paths.LockFile); err != nil {
		return fmt.Errorf("paths.lock_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeCamera() {
	if value, ok := os.LookupEnv("CAMLAPSE_SNAPSHOT_URL"); ok && strings.TrimSpace(value) != "" {
		c.Camera.SnapshotURL = value
	}
	c.Camera.SnapshotURL = strings.TrimSpace(c.Camera.SnapshotURL)
	c.Camera.SnapshotPrefix = strings.TrimSpace(c.Camera.SnapshotPrefix)
	if c.Camera.SnapshotPrefix == "" {
		c.Camera.SnapshotPrefix = defaultSnapshotPrefix
	}
	if c.Camera.TimeoutSeconds <= 0 {
		c.Camera.TimeoutSeconds = defaultSnapshotTimeout
	}
	if c.Camera.Retries <= 0 {
		c.Camera.Retries = defaultSnapshotRetries
	}
	if c.Camera.RetryBackoffSeconds < 0 {
		c.Camera.RetryBackoffSeconds = 0
	}
}

func (c *Config) normalizeCapture() {
	c.Capture.Mode = strings.ToLower(strings.TrimSpace(c.Capture.Mode))
	if c.Capture.Mode == "" {
		c.Capture.Mode = defaultCaptureMode
	}
	if c.Capture.IntervalSeconds < 0 {
		c.Capture.IntervalSeconds = 0
	}
}

func (c *Config) normalizeEncoding() {
	c.Encoding.FFmpegBinary = strings.TrimSpace(c.Encoding.FFmpegBinary)
	c.Encoding.Resolution = strings.ToLower(strings.TrimSpace(c.Encoding.Resolution))
	if c.Encoding.Resolution == "" {
		c.Encoding.Resolution = defaultResolution
	}
	c.Encoding.Preset = strings.TrimSpace(c.Encoding.Preset)
	if c.Encoding.Preset == "" {
		c.Encoding.Preset = defaultPreset
	}
}

func (c *Config) normalizeUpload() {
	c.Upload.TitleBase = strings.TrimSpace(c.Upload.TitleBase)
	if c.Upload.TitleBase == "" {
		c.Upload.TitleBase = defaultTitleBase
	}
	c.Upload.PrivacyStatus = strings.ToLower(strings.TrimSpace(c.Upload.PrivacyStatus))
	if c.Upload.PrivacyStatus == "" {
		c.Upload.PrivacyStatus = defaultPrivacyStatus
	}
	c.Upload.CategoryID = strings.TrimSpace(c.Upload.CategoryID)
	if c.Upload.CategoryID == "" {
		c.Upload.CategoryID = defaultCategoryID
	}
	tags := make([]string, 0, len(c.Upload.Tags))
	for _, tag := range c.Upload.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	c.Upload.Tags = tags
	if c.Upload.ChunkSizeMiB <= 0 {
		c.Upload.ChunkSizeMiB = defaultUploadChunkSizeMiB
	}
	if c.Upload.MaxRetries < 0 {
		c.Upload.MaxRetries = 0
	}
	if c.Upload.RetryBackoff < 0 {
		c.Upload.RetryBackoff = 0
	}
	if c.Upload.RequestTimeout <= 0 {
		c.Upload.RequestTimeout = defaultUploadRequestTimeout
	}
	c.Upload.BaseURL = strings.TrimRight(strings.TrimSpace(c.Upload.BaseURL), "/")
	if c.Upload.BaseURL == "" {
		c.Upload.BaseURL = defaultUploadBaseURL
	}
	c.Upload.Cleanup = strings.ToLower(strings.TrimSpace(c.Upload.Cleanup))
	if c.Upload.Cleanup == "" {
		c.Upload.Cleanup = defaultUploadCleanup
	}
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv("CAMLAPSE_NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

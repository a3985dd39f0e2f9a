package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCamera() error {
	if c.Camera.SnapshotURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("camera.snapshot_url is required. Set CAMLAPSE_SNAPSHOT_URL env var or edit %s (create with 'camlapse config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Camera.SnapshotURL)
	if err != nil {
		return fmt.Errorf("camera.snapshot_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("camera.snapshot_url must use http or https, got %q", parsed.Scheme)
	}
	if strings.ContainsAny(c.Camera.SnapshotPrefix, `/\*?[`) {
		return fmt.Errorf("camera.snapshot_prefix %q must not contain path separators or glob characters", c.Camera.SnapshotPrefix)
	}
	return nil
}

func (c *Config) validateCapture() error {
	switch c.Capture.Mode {
	case CaptureModeLoop, CaptureModeTick:
	default:
		return fmt.Errorf("capture.mode must be %q or %q, got %q", CaptureModeLoop, CaptureModeTick, c.Capture.Mode)
	}
	if c.Capture.TotalFrames <= 0 {
		return errors.New("capture.total_frames must be positive")
	}
	if c.Capture.TotalFrames > maxFrameIndexWidthFrameCount {
		return fmt.Errorf("capture.total_frames must not exceed %d", maxFrameIndexWidthFrameCount)
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if c.Encoding.ChunkSize <= 0 {
		return errors.New("encoding.chunk_size must be positive")
	}
	if c.Encoding.FrameRate <= 0 {
		return errors.New("encoding.frame_rate must be positive")
	}
	if _, _, err := ParseResolution(c.Encoding.Resolution); err != nil {
		return fmt.Errorf("encoding.resolution: %w", err)
	}
	if c.Encoding.CRF < 0 || c.Encoding.CRF > 51 {
		return errors.New("encoding.crf must be between 0 and 51")
	}
	return nil
}

func (c *Config) validateUpload() error {
	switch c.Upload.PrivacyStatus {
	case "private", "unlisted", "public":
	default:
		return fmt.Errorf("upload.privacy_status must be private, unlisted, or public, got %q", c.Upload.PrivacyStatus)
	}
	switch c.Upload.Cleanup {
	case CleanupAfterUpload, CleanupBeforeUpload:
	default:
		return fmt.Errorf("upload.cleanup must be %q or %q, got %q", CleanupAfterUpload, CleanupBeforeUpload, c.Upload.Cleanup)
	}
	if _, err := url.Parse(c.Upload.BaseURL); err != nil {
		return fmt.Errorf("upload.base_url: %w", err)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	parsed, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil {
		return fmt.Errorf("notifications.ntfy_topic: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("notifications.ntfy_topic must be an http or https URL, got %q", c.Notifications.NtfyTopic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

// ParseResolution splits a "WIDTHxHEIGHT" value into its dimensions.
func ParseResolution(value string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(value)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("expected WIDTHxHEIGHT, got %q", value)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", value)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", value)
	}
	if width%2 != 0 || height%2 != 0 {
		return 0, 0, fmt.Errorf("dimensions in %q must be even for yuv420p output", value)
	}
	return width, height, nil
}

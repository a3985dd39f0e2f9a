package deps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const encoderProbeTimeout = 10 * time.Second

// CheckFFmpeg resolves the ffmpeg binary and confirms it was built with the
// libx264 encoder that chunk encoding requires.
func CheckFFmpeg(ctx context.Context, binary string) Status {
	command := strings.TrimSpace(binary)
	if command == "" {
		command = "ffmpeg"
	}
	result := Status{
		Name:        "FFmpeg",
		Command:     command,
		Description: "Required for chunk encoding and merging",
	}

	resolved, err := exec.LookPath(command)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found", command)
		return result
	}
	result.Command = resolved

	probeCtx, cancel := context.WithTimeout(ctx, encoderProbeTimeout)
	defer cancel()
	var stdout bytes.Buffer
	cmd := exec.CommandContext(probeCtx, resolved, "-hide_banner", "-encoders") //nolint:gosec
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		result.Detail = fmt.Sprintf("list encoders failed: %v", err)
		return result
	}
	if !hasEncoder(stdout.String(), "libx264") {
		result.Detail = "libx264 encoder not available"
		return result
	}
	result.Available = true
	return result
}

// hasEncoder scans `ffmpeg -encoders` output, whose rows look like
// " V....D libx264   libx264 H.264 / AVC ...".
func hasEncoder(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

package encoding

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// commandContext is swapped in tests to exercise the runner without ffmpeg.
var commandContext = exec.CommandContext

const (
	defaultGracePeriod = 10 * time.Second
	stderrTailBytes    = 2048
)

// Runner executes the external encoder with the given argument list. It must
// return a non-nil error whenever the process did not exit successfully.
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// FFmpegRunner runs ffmpeg as a child process. When ctx is cancelled the child
// receives SIGTERM and is killed if it has not exited after GracePeriod.
type FFmpegRunner struct {
	Binary      string
	GracePeriod time.Duration
}

// Run implements Runner.
func (r FFmpegRunner) Run(ctx context.Context, args []string) error {
	binary := strings.TrimSpace(r.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	grace := r.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s interrupted: %w", binary, ctxErr)
		}
		if tail := stderrTail(stderr.Bytes()); tail != "" {
			return fmt.Errorf("%s: %w: %s", binary, err, tail)
		}
		return fmt.Errorf("%s: %w", binary, err)
	}
	return nil
}

func stderrTail(data []byte) string {
	if len(data) > stderrTailBytes {
		data = data[len(data)-stderrTailBytes:]
	}
	return strings.TrimSpace(string(data))
}

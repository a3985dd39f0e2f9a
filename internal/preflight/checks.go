package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"camlapse/internal/deps"
	"camlapse/internal/youtube"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least min bytes
// available to unprivileged users.
func CheckFreeSpace(name, path string, min uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize) //nolint:gosec
	detail := fmt.Sprintf("%s free on %s", humanize.IBytes(free), path)
	if free < min {
		return Result{Name: name, Detail: fmt.Sprintf("%s (need at least %s)", detail, humanize.IBytes(min))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckFFmpeg reports whether ffmpeg with libx264 is available.
func CheckFFmpeg(ctx context.Context, binary string) Result {
	status := deps.CheckFFmpeg(ctx, binary)
	if !status.Available {
		return Result{Name: status.Name, Detail: status.Detail}
	}
	return Result{Name: status.Name, Passed: true, Detail: status.Command}
}

// CheckCamera fetches one snapshot and discards it.
func CheckCamera(ctx context.Context, snapshotURL string, headers map[string]string, timeout time.Duration) Result {
	const name = "Camera"

	target := strings.TrimSpace(snapshotURL)
	if target == "" {
		return Result{Name: name, Detail: "missing snapshot url"}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, target, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Name: name, Detail: fmt.Sprintf("%s returned %d", redact(target), resp.StatusCode)}
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("read snapshot (%v)", err)}
	}
	if n == 0 {
		return Result{Name: name, Detail: "camera returned an empty body"}
	}
	detail := fmt.Sprintf("%s (%s snapshot)", redact(target), humanize.IBytes(uint64(n))) //nolint:gosec
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckFile verifies that a required file exists and is readable.
func CheckFile(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckToken reports whether a stored credential exists and whether it can
// refresh itself without a human.
func CheckToken(name, path string) Result {
	token, err := youtube.NewFileTokenStore(path).Load()
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if token == nil {
		return Result{Name: name, Detail: "not authorized (run camlapse auth)"}
	}
	info, err := os.Stat(path)
	if err == nil && info.Mode().Perm()&0o077 != 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s is readable by other users (chmod 600)", path)}
	}
	if token.RefreshToken == "" && !token.Valid() {
		return Result{Name: name, Detail: "expired without refresh token (run camlapse auth)"}
	}
	if token.Valid() {
		return Result{Name: name, Passed: true, Detail: "valid until " + humanize.Time(token.Expiry)}
	}
	return Result{Name: name, Passed: true, Detail: "expired; will refresh on next upload"}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out (camera unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timed out (camera unreachable)"
	}
	return err.Error()
}

// redact strips credentials embedded in a camera URL before display.
func redact(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	return parsed.Redacted()
}

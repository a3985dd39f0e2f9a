package youtube

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"camlapse/internal/services"
)

func writeVideo(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "timelapse.mp4")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return path, data
}

func noSleep(context.Context, time.Duration) error { return nil }

func testMetadata() Metadata {
	return Metadata{
		Title:         "Garden 2026-10-16",
		Description:   "daily timelapse",
		Tags:          []string{"garden", "timelapse"},
		CategoryID:    "22",
		PrivacyStatus: "unlisted",
	}
}

func TestUploadCompletesInChunks(t *testing.T) {
	rs := newResumableServer(t)
	path, data := writeVideo(t, 3*chunkGranularity+1234)

	var progress []int64
	up := NewUploader(http.DefaultClient, UploadOptions{
		BaseURL:   rs.URL(),
		ChunkSize: chunkGranularity,
	}, WithSleep(noSleep), WithProgress(func(sent, total int64) {
		progress = append(progress, sent)
	}))

	video, err := up.Upload(context.Background(), path, testMetadata())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if video.ID != "vid-123" {
		t.Fatalf("expected video id vid-123, got %q", video.ID)
	}
	if video.Bytes != int64(len(data)) {
		t.Fatalf("expected %d bytes, got %d", len(data), video.Bytes)
	}
	sessions, puts, _, received := rs.snapshot()
	if sessions != 1 || puts != 4 {
		t.Fatalf("expected 1 session and 4 chunk PUTs, got %d and %d", sessions, puts)
	}
	if !bytes.Equal(received, data) {
		t.Fatal("server received different bytes than the file holds")
	}
	if len(progress) == 0 || progress[len(progress)-1] != int64(len(data)) {
		t.Fatalf("expected final progress at total, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
	if rs.metadata.Snippet.Title != "Garden 2026-10-16" || rs.metadata.Status.PrivacyStatus != "unlisted" {
		t.Fatalf("unexpected metadata %+v", rs.metadata)
	}
	if rs.metadata.Snippet.CategoryID != "22" || len(rs.metadata.Snippet.Tags) != 2 {
		t.Fatalf("unexpected snippet %+v", rs.metadata.Snippet)
	}
}

func TestUploadRetriesTransientFailureOnSameSession(t *testing.T) {
	rs := newResumableServer(t)
	rs.failPut = func(n int) int {
		if n == 2 {
			return http.StatusServiceUnavailable
		}
		return 0
	}
	path, data := writeVideo(t, 2*chunkGranularity+10)

	up := NewUploader(http.DefaultClient, UploadOptions{
		BaseURL:    rs.URL(),
		ChunkSize:  chunkGranularity,
		MaxRetries: 3,
	}, WithSleep(noSleep))
	if _, err := up.Upload(context.Background(), path, testMetadata()); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	sessions, _, queries, received := rs.snapshot()
	if sessions != 1 {
		t.Fatalf("transient failure must reuse the session, got %d sessions", sessions)
	}
	if queries != 1 {
		t.Fatalf("expected one status query after the failure, got %d", queries)
	}
	if !bytes.Equal(received, data) {
		t.Fatal("received bytes mismatch after retry")
	}
}

func TestUploadGivesUpAfterRetries(t *testing.T) {
	rs := newResumableServer(t)
	rs.failPut = func(n int) int {
		if n >= 3 {
			return http.StatusInternalServerError
		}
		return 0
	}
	path, _ := writeVideo(t, 5*chunkGranularity)

	var last int64
	up := NewUploader(http.DefaultClient, UploadOptions{
		BaseURL:    rs.URL(),
		ChunkSize:  chunkGranularity,
		MaxRetries: 2,
	}, WithSleep(noSleep), WithProgress(func(sent, total int64) { last = sent }))

	_, err := up.Upload(context.Background(), path, testMetadata())
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if last != 2*chunkGranularity {
		t.Fatalf("expected progress to stop at 40%%, got %d", last)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("upload must never remove the source: %v", err)
	}
	_, puts, _, _ := rs.snapshot()
	if puts != 5 {
		t.Fatalf("expected 2 good PUTs plus 3 failed attempts, got %d", puts)
	}
}

func TestUploadAuthorizationFailure(t *testing.T) {
	rs := newResumableServer(t)
	rs.failPut = func(int) int { return http.StatusUnauthorized }
	path, _ := writeVideo(t, 1024)

	up := NewUploader(http.DefaultClient, UploadOptions{BaseURL: rs.URL(), MaxRetries: 5}, WithSleep(noSleep))
	_, err := up.Upload(context.Background(), path, testMetadata())
	if !errors.Is(err, services.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	_, puts, _, _ := rs.snapshot()
	if puts != 1 {
		t.Fatalf("authorization failures must not be retried, got %d PUTs", puts)
	}
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mp4")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewUploader(http.DefaultClient, UploadOptions{}).Upload(context.Background(), path, testMetadata())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOpenSessionRequiresLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	up := NewUploader(http.DefaultClient, UploadOptions{BaseURL: srv.URL}, WithSleep(noSleep))
	if _, err := up.Open(context.Background(), testMetadata(), 10); err == nil {
		t.Fatal("expected error when Location header is missing")
	}
}

func TestChunkSizeRoundedToGranularity(t *testing.T) {
	up := NewUploader(http.DefaultClient, UploadOptions{ChunkSize: chunkGranularity + 1})
	if up.opts.ChunkSize != 2*chunkGranularity {
		t.Fatalf("expected chunk size rounded to %d, got %d", 2*chunkGranularity, up.opts.ChunkSize)
	}
}

func TestCommittedOffset(t *testing.T) {
	tests := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{header: "", want: 0},
		{header: "bytes=0-262143", want: 262144},
		{header: "bytes=0-0", want: 1},
		{header: "0-10", wantErr: true},
		{header: "bytes=0-x", wantErr: true},
	}
	for _, tc := range tests {
		got, err := committedOffset(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.header)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: expected %d, got %d (err %v)", tc.header, tc.want, got, err)
		}
	}
}

func TestTitle(t *testing.T) {
	date := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	if got := Title("back garden", date, false); got != "back garden 2026-10-16" {
		t.Fatalf("unexpected title %q", got)
	}
	if got := Title("back garden", date, true); got != "Back Garden 2026-10-16" {
		t.Fatalf("unexpected title-cased title %q", got)
	}
	if got := Title("  ", date, true); got != "2026-10-16" {
		t.Fatalf("unexpected bare title %q", got)
	}
}

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"camlapse/internal/encoding"
	"camlapse/internal/frames"
	"camlapse/internal/history"
	"camlapse/internal/runlock"
	"camlapse/internal/services"
	"camlapse/internal/youtube"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	// miss reports whether the nth call (1-based) fails.
	miss func(n int) bool
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, dest string) (bool, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.miss != nil && f.miss(n) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, err
	}
	return true, os.WriteFile(dest, []byte("jpeg"), 0o644)
}

type writeRunner struct {
	calls int
	fail  bool
}

func (r *writeRunner) Run(_ context.Context, args []string) error {
	r.calls++
	if r.fail {
		return errors.New("exit status 1")
	}
	return os.WriteFile(args[len(args)-1], []byte("mp4"), 0o644)
}

type fakeUploader struct {
	calls    int
	paths    []string
	failures []error
	progress []float64
}

func (u *fakeUploader) Upload(_ context.Context, path string) (*youtube.Video, error) {
	u.calls++
	u.paths = append(u.paths, path)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if len(u.failures) > 0 {
		err := u.failures[0]
		u.failures = u.failures[1:]
		u.progress = append(u.progress, 40)
		return nil, err
	}
	u.progress = append(u.progress, 100)
	return &youtube.Video{ID: "vid-1"}, nil
}

// stubbornStore refuses to delete frames while err is set.
type stubbornStore struct {
	*frames.Store
	err error
}

func (s *stubbornStore) DeleteAll() error {
	if s.err != nil {
		return s.err
	}
	return s.Store.DeleteAll()
}

// relocatingMerger writes the merged video somewhere other than the
// configured final video path.
type relocatingMerger struct {
	path string
}

func (m relocatingMerger) Merge(_ context.Context, segments []string) (string, error) {
	if len(segments) == 0 {
		return "", errors.New("no segments")
	}
	return m.path, os.WriteFile(m.path, []byte("merged"), 0o644)
}

type fakeRecorder struct {
	begun    []string
	finished []history.Run
	closed   bool
}

func (r *fakeRecorder) Begin(_ context.Context, id string, _ time.Time) error {
	r.begun = append(r.begun, id)
	return nil
}

func (r *fakeRecorder) Finish(_ context.Context, run history.Run) error {
	r.finished = append(r.finished, run)
	return nil
}

func (r *fakeRecorder) Close() error {
	r.closed = true
	return nil
}

type harness struct {
	t         *testing.T
	work      string
	framesDir string
	chunksDir string
	final     string
	lock      string
	store     *frames.Store
	frameDeps FrameStore
	merger    Merger
	fetcher   *fakeFetcher
	runner    *writeRunner
	uploader  *fakeUploader
	recorder  *fakeRecorder
	sleeps    []time.Duration
	opts      Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	work := t.TempDir()
	h := &harness{
		t:         t,
		work:      work,
		framesDir: filepath.Join(work, "frames"),
		chunksDir: filepath.Join(work, "chunks"),
		final:     filepath.Join(work, "timelapse.mp4"),
		lock:      filepath.Join(work, "state", "camlapse.lock"),
		fetcher:   &fakeFetcher{},
		runner:    &writeRunner{},
		uploader:  &fakeUploader{},
		recorder:  &fakeRecorder{},
	}
	h.store = frames.NewStore(h.framesDir, "snap")
	h.opts = Options{
		SnapshotURL:   "http://camera.local/snapshot.jpg",
		Mode:          ModeLoop,
		TotalFrames:   5,
		Interval:      30 * time.Second,
		Params:        encoding.Params{ChunkSize: 2, FrameRate: 30, Width: 640, Height: 360, Preset: "veryfast", CRF: 23},
		FinalVideo:    h.final,
		LockPath:      h.lock,
		UploadEnabled: true,
	}
	return h
}

func (h *harness) controller() *Controller {
	var store FrameStore = h.store
	if h.frameDeps != nil {
		store = h.frameDeps
	}
	var merger Merger = encoding.NewMerger(h.chunksDir, h.final, h.runner, nil)
	if h.merger != nil {
		merger = h.merger
	}
	return New(h.opts, Deps{
		Fetcher:  h.fetcher,
		Frames:   store,
		Encoder:  encoding.NewChunkEncoder(h.chunksDir, h.runner, nil),
		Merger:   merger,
		Uploader: h.uploader,
		OpenRecorder: func() (Recorder, error) {
			return h.recorder, nil
		},
	}, WithSleep(func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}))
}

func (h *harness) run() Result {
	h.t.Helper()
	res, err := h.controller().Run(context.Background())
	if err != nil {
		h.t.Fatalf("Run: %v", err)
	}
	return res
}

func (h *harness) frameCount() int {
	h.t.Helper()
	n, err := h.store.Count()
	if err != nil {
		h.t.Fatalf("count frames: %v", err)
	}
	return n
}

func (h *harness) segmentsExist() bool {
	h.t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.chunksDir, "chunk_*.mp4"))
	if err != nil {
		h.t.Fatalf("glob: %v", err)
	}
	return len(matches) > 0
}

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if !os.IsNotExist(err) {
		t.Fatalf("stat %s: %v", path, err)
	}
	return false
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunCompletesAndCleansUp(t *testing.T) {
	h := newHarness(t)
	res := h.run()

	if res.Outcome != OutcomeComplete {
		t.Fatalf("expected complete, got %s", res.Outcome)
	}
	if res.VideoID != "vid-1" || res.Captured != 5 || res.Segments != 3 || res.Frames != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.fetcher.calls != 5 {
		t.Fatalf("expected 5 fetches, got %d", h.fetcher.calls)
	}
	if len(h.sleeps) != 4 {
		t.Fatalf("expected 4 interval sleeps between 5 captures, got %d", len(h.sleeps))
	}
	if h.runner.calls != 4 {
		t.Fatalf("expected 3 chunk encodes plus 1 merge, got %d", h.runner.calls)
	}
	if h.uploader.calls != 1 || h.uploader.paths[0] != h.final {
		t.Fatalf("expected one upload of the final video, got %v", h.uploader.paths)
	}
	if h.frameCount() != 0 || h.segmentsExist() || exists(t, h.final) {
		t.Fatal("expected frames, segments, and final video removed after confirmed upload")
	}
	if exists(t, h.final+".uploaded") {
		t.Fatal("expected the upload receipt removed once cleanup finished")
	}
	if len(h.recorder.finished) != 1 || h.recorder.finished[0].Outcome != history.OutcomeComplete {
		t.Fatalf("unexpected history %+v", h.recorder.finished)
	}
	if h.recorder.finished[0].ID != res.RunID || !h.recorder.closed {
		t.Fatal("expected the run to be recorded under its id and the recorder closed")
	}
}

func TestRunResumesAtUploadWhenFinalVideoExists(t *testing.T) {
	h := newHarness(t)
	writeFile(t, h.final)
	writeFile(t, h.store.PathFor(0))

	res := h.run()
	if !res.Resumed || res.Outcome != OutcomeComplete {
		t.Fatalf("expected resumed complete run, got %+v", res)
	}
	if h.fetcher.calls != 0 || h.runner.calls != 0 {
		t.Fatalf("resume must only upload; fetches=%d ffmpeg=%d", h.fetcher.calls, h.runner.calls)
	}
	if h.uploader.calls != 1 {
		t.Fatalf("expected one upload, got %d", h.uploader.calls)
	}
	if exists(t, h.final) || h.frameCount() != 0 {
		t.Fatal("expected artifacts removed after upload")
	}
}

func TestUploadFailureSuspendsThenNextRunRestartsUpload(t *testing.T) {
	h := newHarness(t)
	h.uploader.failures = []error{services.Wrap(services.ErrTransient, "upload", "chunk at offset 4194304", "retries exhausted", nil)}

	first := h.run()
	if first.Outcome != OutcomeSuspended || first.Cause == nil {
		t.Fatalf("expected suspended run with cause, got %+v", first)
	}
	if !exists(t, h.final) {
		t.Fatal("final video must survive a failed upload")
	}
	if h.frameCount() != 5 || !h.segmentsExist() {
		t.Fatal("after_upload cleanup must keep intermediates until the upload is confirmed")
	}
	if h.recorder.finished[0].Outcome != history.OutcomeSuspended || h.recorder.finished[0].Error == "" {
		t.Fatalf("unexpected history %+v", h.recorder.finished[0])
	}

	fetches, encodes := h.fetcher.calls, h.runner.calls
	second := h.run()
	if second.Outcome != OutcomeComplete || !second.Resumed {
		t.Fatalf("expected resumed complete run, got %+v", second)
	}
	if h.fetcher.calls != fetches || h.runner.calls != encodes {
		t.Fatal("second run must not capture, encode, or merge")
	}
	if h.uploader.calls != 2 {
		t.Fatalf("expected the upload to be attempted again, got %d calls", h.uploader.calls)
	}
	if h.uploader.progress[0] != 40 || h.uploader.progress[1] != 100 {
		t.Fatalf("unexpected progress history %v", h.uploader.progress)
	}
	if exists(t, h.final) || h.frameCount() != 0 || h.segmentsExist() {
		t.Fatal("expected all artifacts removed after the second run")
	}
}

func TestCleanupFailureAfterUploadNeverUploadsTwice(t *testing.T) {
	h := newHarness(t)
	store := &stubbornStore{Store: h.store, err: os.ErrPermission}
	h.frameDeps = store

	first := h.run()
	if first.Outcome != OutcomeComplete || first.VideoID != "vid-1" {
		t.Fatalf("a confirmed upload must complete the run, got %+v", first)
	}
	if !errors.Is(first.Cause, services.ErrResource) || !errors.Is(first.Cause, os.ErrPermission) {
		t.Fatalf("expected the cleanup failure as cause, got %v", first.Cause)
	}
	if exists(t, h.final) || h.segmentsExist() {
		t.Fatal("final video and segments must be removed even when frame deletion fails")
	}
	if h.frameCount() != 5 || !exists(t, h.final+".uploaded") {
		t.Fatal("expected leftover frames guarded by the upload receipt")
	}
	if rec := h.recorder.finished[0]; rec.Outcome != history.OutcomeComplete || rec.VideoID != "vid-1" || rec.Error == "" {
		t.Fatalf("unexpected history %+v", rec)
	}

	store.err = nil
	fetches, encodes := h.fetcher.calls, h.runner.calls
	second := h.run()
	if second.Outcome != OutcomeComplete || !second.Resumed || second.VideoID != "vid-1" || second.Cause != nil {
		t.Fatalf("expected cleanup-only completion, got %+v", second)
	}
	if h.uploader.calls != 1 {
		t.Fatalf("confirmed video uploaded %d times", h.uploader.calls)
	}
	if h.fetcher.calls != fetches || h.runner.calls != encodes {
		t.Fatal("finishing cleanup must not capture, encode, or merge")
	}
	if h.frameCount() != 0 || exists(t, h.final+".uploaded") {
		t.Fatal("expected frames and receipt removed by the second run")
	}

	third := h.run()
	if third.Resumed || h.fetcher.calls != fetches+5 {
		t.Fatalf("expected a fresh capture after cleanup finished, got %+v", third)
	}
}

func TestUploadUsesMergedVideoPath(t *testing.T) {
	h := newHarness(t)
	merged := filepath.Join(h.work, "merged-elsewhere.mp4")
	h.merger = relocatingMerger{path: merged}

	res := h.run()
	if res.Outcome != OutcomeComplete || res.VideoPath != merged {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.uploader.paths) != 1 || h.uploader.paths[0] != merged {
		t.Fatalf("expected the merged file uploaded, got %v", h.uploader.paths)
	}
	if exists(t, merged) {
		t.Fatal("expected the uploaded file removed")
	}
}

func TestCleanupBeforeUploadKeepsOnlyFinalVideo(t *testing.T) {
	h := newHarness(t)
	h.opts.CleanupBeforeUpload = true
	h.uploader.failures = []error{services.Wrap(services.ErrAuthorization, "upload", "refresh token", "reauthorization required", nil)}

	res := h.run()
	if res.Outcome != OutcomeSuspended {
		t.Fatalf("expected suspended, got %s", res.Outcome)
	}
	if !errors.Is(res.Cause, services.ErrAuthorization) {
		t.Fatalf("expected authorization cause, got %v", res.Cause)
	}
	if !exists(t, h.final) {
		t.Fatal("final video must be kept")
	}
	if h.frameCount() != 0 || h.segmentsExist() {
		t.Fatal("before_upload cleanup must remove frames and segments before uploading")
	}
}

func TestUploadDisabledKeepsVideo(t *testing.T) {
	h := newHarness(t)
	h.opts.UploadEnabled = false
	res := h.run()
	if res.Outcome != OutcomeSuspended || h.uploader.calls != 0 {
		t.Fatalf("expected suspended run without upload, got %+v", res)
	}
	if !exists(t, h.final) {
		t.Fatal("final video must be kept when upload is disabled")
	}
}

func TestTickModeCapturesOneFramePerRun(t *testing.T) {
	h := newHarness(t)
	h.opts.Mode = ModeTick
	h.opts.TotalFrames = 3

	for i := 1; i <= 2; i++ {
		res := h.run()
		if res.Outcome != OutcomeCapturing {
			t.Fatalf("run %d: expected capturing, got %s", i, res.Outcome)
		}
		if h.frameCount() != i {
			t.Fatalf("run %d: expected %d frames, got %d", i, i, h.frameCount())
		}
	}
	if h.runner.calls != 0 || h.uploader.calls != 0 {
		t.Fatal("tick runs below the frame target must not encode or upload")
	}

	res := h.run()
	if res.Outcome != OutcomeComplete {
		t.Fatalf("expected final tick to complete, got %s", res.Outcome)
	}
	if len(h.sleeps) != 0 {
		t.Fatalf("tick mode must not sleep, got %v", h.sleeps)
	}
	if h.recorder.finished[0].Outcome != history.OutcomeCapturing {
		t.Fatalf("expected capturing outcome recorded, got %s", h.recorder.finished[0].Outcome)
	}
}

func TestMissedFramesLeaveNoGaps(t *testing.T) {
	h := newHarness(t)
	h.opts.TotalFrames = 4
	h.opts.UploadEnabled = false
	h.fetcher.miss = func(n int) bool { return n == 2 }

	res := h.run()
	if res.Captured != 3 || res.Missed != 1 {
		t.Fatalf("expected 3 captured and 1 missed, got %+v", res)
	}
	list, err := h.store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for i, frame := range list {
		if frame.Index != i {
			t.Fatalf("expected contiguous indices, got %v", list)
		}
	}
	if res.Segments != 2 {
		t.Fatalf("expected 2 segments for 3 frames, got %d", res.Segments)
	}
}

func TestLoopModeContinuesAfterExistingFrames(t *testing.T) {
	h := newHarness(t)
	h.opts.UploadEnabled = false
	for i := 0; i < 3; i++ {
		writeFile(t, h.store.PathFor(i))
	}

	res := h.run()
	if h.fetcher.calls != 2 || res.Captured != 2 {
		t.Fatalf("expected 2 remaining captures, got %d fetches", h.fetcher.calls)
	}
	if res.Frames != 5 {
		t.Fatalf("expected 5 frames encoded, got %d", res.Frames)
	}
	if !exists(t, h.store.PathFor(4)) {
		t.Fatal("expected numbering to continue after existing frames")
	}
}

func TestZeroFramesFails(t *testing.T) {
	h := newHarness(t)
	h.fetcher.miss = func(int) bool { return true }

	res, err := h.controller().Run(context.Background())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if res.Outcome != OutcomeFailed || res.Stage != stageEncode {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.runner.calls != 0 || h.uploader.calls != 0 {
		t.Fatal("nothing should run after capture produced no frames")
	}
	if h.recorder.finished[0].Outcome != history.OutcomeFailed || h.recorder.finished[0].Stage != stageEncode {
		t.Fatalf("unexpected history %+v", h.recorder.finished[0])
	}
}

func TestEncodeFailureKeepsArtifacts(t *testing.T) {
	h := newHarness(t)
	h.runner.fail = true

	_, err := h.controller().Run(context.Background())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if h.frameCount() != 5 {
		t.Fatal("frames must survive an encode failure")
	}
	if h.segmentsExist() || exists(t, h.final) {
		t.Fatal("a failed encode must not leave finished-looking output")
	}

	h.runner.fail = false
	fetches := h.fetcher.calls
	res := h.run()
	if res.Outcome != OutcomeComplete || h.fetcher.calls != fetches {
		t.Fatalf("expected recovery without recapture, got %+v", res)
	}
}

func TestCaptureSkippedOnceSegmentsExist(t *testing.T) {
	h := newHarness(t)
	h.opts.UploadEnabled = false
	writeFile(t, h.store.PathFor(0))
	writeFile(t, h.store.PathFor(1))
	writeFile(t, encoding.SegmentPath(h.chunksDir, 0))

	res := h.run()
	if h.fetcher.calls != 0 {
		t.Fatalf("capture must be skipped once encoding started, got %d fetches", h.fetcher.calls)
	}
	if res.Frames != 2 {
		t.Fatalf("expected existing frames encoded, got %d", res.Frames)
	}
}

func TestLockHeldExitsWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	held, err := runlock.Acquire(h.lock)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	res := h.run()
	if res.Outcome != OutcomeLocked {
		t.Fatalf("expected locked outcome, got %s", res.Outcome)
	}
	if h.fetcher.calls != 0 || len(h.recorder.begun) != 0 {
		t.Fatal("locked run must not capture or record")
	}
	if exists(t, h.framesDir) || exists(t, h.chunksDir) {
		t.Fatal("locked run must not create working directories")
	}
}

func TestCancelledCaptureKeepsFrames(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	c := New(h.opts, Deps{
		Fetcher:  h.fetcher,
		Frames:   h.store,
		Encoder:  encoding.NewChunkEncoder(h.chunksDir, h.runner, nil),
		Merger:   encoding.NewMerger(h.chunksDir, h.final, h.runner, nil),
		Uploader: h.uploader,
	}, WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if h.frameCount() != 1 {
		t.Fatalf("expected the first frame kept, got %d", h.frameCount())
	}
	if exists(t, h.chunksDir) {
		t.Fatal("cancelled capture must not start encoding")
	}
}

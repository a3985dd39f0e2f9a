package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"camlapse/internal/config"
	"camlapse/internal/fileutil"
	"camlapse/internal/frames"
	"camlapse/internal/history"
	"camlapse/internal/preflight"
	"camlapse/internal/runlock"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline progress on disk and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("Pipeline", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, line := range pipelineLines(cfg, colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Recent runs", colorize) {
				fmt.Fprintln(out, line)
			}
			return writeRecentRuns(cmd, out, cfg, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of recent runs to show")
	return cmd
}

func pipelineLines(cfg *config.Config, colorize bool) []string {
	var lines []string

	lines = append(lines, lockLine(cfg.Paths.LockFile, colorize))

	store := frames.NewStore(cfg.Paths.FramesDir, cfg.Camera.SnapshotPrefix)
	count, err := store.Count()
	if err != nil {
		lines = append(lines, renderStatusLine("Frames", statusError, err.Error(), colorize))
	} else {
		kind := statusInfo
		if count >= cfg.Capture.TotalFrames {
			kind = statusOK
		}
		lines = append(lines, renderStatusLine("Frames", kind, fmt.Sprintf("%d of %d", count, cfg.Capture.TotalFrames), colorize))
	}

	segments, err := countSegments(cfg.Paths.ChunksDir)
	if err != nil {
		lines = append(lines, renderStatusLine("Segments", statusError, err.Error(), colorize))
	} else {
		lines = append(lines, renderStatusLine("Segments", statusInfo, strconv.Itoa(segments), colorize))
	}

	lines = append(lines, finalVideoLine(cfg.Paths.FinalVideo, colorize))

	if cfg.Upload.Enabled {
		token := preflight.CheckToken("Credential", cfg.Paths.TokenFile)
		kind := statusOK
		if !token.Passed {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Credential", kind, token.Detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Upload", statusWarn, "Disabled", colorize))
	}
	return lines
}

func lockLine(path string, colorize bool) string {
	lock, err := runlock.Acquire(path)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			return renderStatusLine("Run", statusOK, "In progress", colorize)
		}
		return renderStatusLine("Run", statusWarn, err.Error(), colorize)
	}
	_ = lock.Release()
	return renderStatusLine("Run", statusInfo, "Idle", colorize)
}

func countSegments(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "chunk_*.mp4"))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, match := range matches {
		if fileutil.IsPartial(filepath.Base(match)) {
			continue
		}
		ok, err := fileutil.NonEmptyFile(match)
		if err != nil {
			return 0, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

func finalVideoLine(path string, colorize bool) string {
	info, err := statFile(path)
	if err != nil {
		return renderStatusLine("Final video", statusError, err.Error(), colorize)
	}
	if info == nil {
		return renderStatusLine("Final video", statusInfo, "Not built", colorize)
	}
	detail := fmt.Sprintf("%s (%s), pending upload", path, humanize.IBytes(uint64(info.Size()))) //nolint:gosec
	return renderStatusLine("Final video", statusWarn, detail, colorize)
}

func writeRecentRuns(cmd *cobra.Command, out io.Writer, cfg *config.Config, limit int) error {
	exists, err := fileutil.Exists(cfg.HistoryPath())
	if err != nil {
		return err
	}
	if !exists {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer store.Close()

	runs, err := store.Recent(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("read run history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}
	fmt.Fprintln(out, renderTable(runColumns, runRows(runs)))
	return nil
}

var runColumns = []column{
	{title: "Started"},
	{title: "Outcome"},
	{title: "Stage"},
	{title: "Frames", align: text.AlignRight},
	{title: "Segments", align: text.AlignRight},
	{title: "Video"},
	{title: "Error"},
}

func runRows(runs []history.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			string(run.Outcome),
			run.Stage,
			strconv.Itoa(run.Frames),
			strconv.Itoa(run.Segments),
			run.VideoID,
			truncate(run.Error, 60),
		})
	}
	return rows
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if len([]rune(value)) <= max {
		return value
	}
	return string([]rune(value)[:max-1]) + "…"
}

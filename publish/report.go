package publish

import (
	"context"
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/nevindra/clonechat/internal/config"
	"github.com/nevindra/clonechat/transcode"
)

// reportRow is one video's inventory line, including the group-size
// heuristic's recommended action.
type reportRow struct {
	Path            string
	DurationSeconds float64
	Width, Height   int
	Codec           string
	BitrateKbps     int
	SizeBytes       int64
	ModTime         time.Time
	Action          string // "single", "join", or "reencode"
}

const (
	actionSingle   = "single"
	actionJoin     = "join"
	actionReencode = "reencode"
)

// runReport probes every video under workspace.source(), writes the CSV
// inventory, and stamps the action column. The report stage is the sole
// owner of the join-vs-single-vs-reencode decision; the join stage does no
// independent grouping logic.
func runReport(ctx context.Context, w workspace, cfg config.Config, runner transcode.Runner) error {
	videos, err := listVideos(w.source(), cfg)
	if err != nil {
		return fmt.Errorf("publish: report: %w", err)
	}

	durationLimit, err := parseDurationLimit(cfg.DurationLimit)
	if err != nil {
		durationLimit = 2 * time.Hour
	}
	sizeLimitBytes := int64(cfg.FileSizeLimitMB) * 1024 * 1024
	if sizeLimitBytes <= 0 {
		sizeLimitBytes = 1900 * 1024 * 1024
	}

	rows := make([]reportRow, 0, len(videos))
	for _, path := range videos {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		info, statErr := os.Stat(path)
		modTime := time.Now()
		if statErr == nil {
			modTime = fallbackModTime(info)
		}

		p, probeErr := runner.Probe(ctx, path)
		row := reportRow{Path: path, ModTime: modTime}
		if probeErr == nil {
			row.DurationSeconds = p.DurationSeconds
			row.Width, row.Height = p.Width, p.Height
			row.Codec = p.Codec
			row.BitrateKbps = p.BitrateKbps
			row.SizeBytes = p.SizeBytes
			if p.CreationTag != "" {
				if captured, err := parseCreationTag(p.CreationTag); err == nil {
					row.ModTime = captured
				}
			}
		} else if statErr == nil {
			row.SizeBytes = info.Size()
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })

	if cfg.ReencodePlan == "group" {
		assignGroupActions(rows, durationLimit, sizeLimitBytes)
	} else {
		for i := range rows {
			rows[i].Action = actionSingle
		}
	}

	if err := os.MkdirAll(filepath.Dir(w.report()), 0o755); err != nil {
		return fmt.Errorf("publish: report: mkdir: %w", err)
	}
	return writeReportCSV(w.report(), rows)
}

// assignGroupActions implements the accumulation heuristic: videos are
// walked in path order, accumulating duration and size; a video is
// stamped "join" as long as adding it to the running group stays within
// both limits, "reencode" when its own duration/size already exceeds a
// limit (it must be normalised before it can join anything), and the
// first video of a fresh group is "single" until a second video is folded
// into it, at which point both become "join".
func assignGroupActions(rows []reportRow, durationLimit time.Duration, sizeLimitBytes int64) {
	var groupStart int
	var groupDuration time.Duration
	var groupSize int64

	flush := func(end int) {
		if end-groupStart > 1 {
			for i := groupStart; i < end; i++ {
				rows[i].Action = actionJoin
			}
		} else if end > groupStart {
			rows[groupStart].Action = actionSingle
		}
	}

	for i := range rows {
		d := time.Duration(rows[i].DurationSeconds * float64(time.Second))
		if d > durationLimit || rows[i].SizeBytes > sizeLimitBytes {
			flush(i)
			rows[i].Action = actionReencode
			groupStart = i + 1
			groupDuration, groupSize = 0, 0
			continue
		}

		if groupDuration+d > durationLimit || groupSize+rows[i].SizeBytes > sizeLimitBytes {
			flush(i)
			groupStart = i
			groupDuration, groupSize = 0, 0
		}
		groupDuration += d
		groupSize += rows[i].SizeBytes
	}
	flush(len(rows))
}

func writeReportCSV(path string, rows []reportRow) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	_ = cw.Write([]string{"path", "duration_seconds", "width", "height", "codec", "bitrate_kbps", "size_bytes", "action"})
	for _, r := range rows {
		_ = cw.Write([]string{
			r.Path,
			strconv.FormatFloat(r.DurationSeconds, 'f', 3, 64),
			strconv.Itoa(r.Width),
			strconv.Itoa(r.Height),
			r.Codec,
			strconv.Itoa(r.BitrateKbps),
			strconv.FormatInt(r.SizeBytes, 10),
			r.Action,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func listVideos(root string, cfg config.Config) ([]string, error) {
	videoExt := make(map[string]bool, len(cfg.VideoExtensions))
	for _, ext := range cfg.VideoExtensions {
		videoExt[strings.ToLower(ext)] = true
	}

	var videos []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if videoExt[strings.ToLower(filepath.Ext(path))] {
			videos = append(videos, path)
		}
		return nil
	})
	return videos, err
}

// fallbackModTime returns the filesystem mtime, the timestamp runReport
// keeps when a probe carries no creation tag or the tag fails to parse.
func fallbackModTime(info fs.FileInfo) time.Time {
	return info.ModTime()
}

// parseCreationTag parses a free-form creation-time tag using dateparse
// rather than a fixed layout, since the emitted format varies by source
// device. runReport is its only caller.
func parseCreationTag(tag string) (time.Time, error) {
	return dateparse.ParseAny(tag)
}

func parseDurationLimit(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration limit")
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed duration limit %q", s)
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	secParts := strings.SplitN(parts[2], ".", 2)
	seconds, err3 := strconv.Atoi(secParts[0])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, fmt.Errorf("malformed duration limit %q", s)
	}
	d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
	if len(secParts) == 2 {
		ms, err := strconv.Atoi(secParts[1])
		if err == nil {
			d += time.Duration(ms) * time.Millisecond
		}
	}
	return d, nil
}

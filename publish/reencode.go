package publish

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nevindra/clonechat/internal/config"
	"github.com/nevindra/clonechat/transcode"
)

// runReencode normalises every video whose report.csv action is "reencode"
// or "join" into workspace.reencoded(). "join" rows are re-encoded too:
// Concat requires matching codecs/resolution across inputs, which raw
// source files rarely share.
func runReencode(ctx context.Context, w workspace, cfg config.Config, runner transcode.Runner) error {
	rows, err := readReportCSV(w.report())
	if err != nil {
		return fmt.Errorf("publish: reencode: %w", err)
	}

	if err := os.MkdirAll(w.reencoded(), 0o755); err != nil {
		return fmt.Errorf("publish: reencode: mkdir: %w", err)
	}

	plan := transcode.ReencodePlan{Width: 1280, Height: 720, VideoBitrateK: 2000, AudioBitrateK: 128}

	for _, r := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.Action != actionReencode && r.Action != actionJoin {
			continue
		}

		dst := filepath.Join(w.reencoded(), filepath.Base(r.Path))
		if _, err := os.Stat(dst); err == nil {
			continue // already produced by a prior, interrupted run
		}
		if err := runner.Reencode(ctx, r.Path, dst, plan); err != nil {
			return err
		}
	}
	return nil
}

func readReportCSV(path string) ([]reportRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("empty report")
	}

	rows := make([]reportRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 8 {
			continue
		}
		duration, _ := strconv.ParseFloat(rec[1], 64)
		width, _ := strconv.Atoi(rec[2])
		height, _ := strconv.Atoi(rec[3])
		bitrate, _ := strconv.Atoi(rec[5])
		size, _ := strconv.ParseInt(rec[6], 10, 64)
		rows = append(rows, reportRow{
			Path:            rec[0],
			DurationSeconds: duration,
			Width:           width,
			Height:          height,
			Codec:           rec[4],
			BitrateKbps:     bitrate,
			SizeBytes:       size,
			Action:          rec[7],
		})
	}
	return rows, nil
}

package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nevindra/clonechat/internal/config"
	"github.com/nevindra/clonechat/transcode"
)

// runJoin concatenates every contiguous run of report-marked "join" rows
// into a single output under workspace.joined(), using the reencoded
// sibling when one exists (produced by the reencode stage) and the
// original file otherwise. "single" and already-standalone "reencode"
// rows pass through untouched by copying them into joined() too, so the
// timestamp/upload stages only ever need to look in one directory.
func runJoin(ctx context.Context, w workspace, cfg config.Config, runner transcode.Runner) error {
	rows, err := readReportCSV(w.report())
	if err != nil {
		return fmt.Errorf("publish: join: %w", err)
	}

	if err := os.MkdirAll(w.joined(), 0o755); err != nil {
		return fmt.Errorf("publish: join: mkdir: %w", err)
	}

	groupIndex := 0
	i := 0
	for i < len(rows) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if rows[i].Action != actionJoin {
			dst := filepath.Join(w.joined(), filepath.Base(rows[i].Path))
			if err := copyIfAbsent(sourceFor(w, rows[i]), dst); err != nil {
				return err
			}
			i++
			continue
		}

		j := i
		var group []string
		for j < len(rows) && rows[j].Action == actionJoin {
			group = append(group, sourceFor(w, rows[j]))
			j++
		}

		groupIndex++
		dst := filepath.Join(w.joined(), fmt.Sprintf("group-%03d.mp4", groupIndex))
		if _, statErr := os.Stat(dst); statErr != nil {
			if err := runner.Concat(ctx, group, dst, cfg.ActivateTransition); err != nil {
				return err
			}
		}
		i = j
	}
	return nil
}

func sourceFor(w workspace, r reportRow) string {
	candidate := filepath.Join(w.reencoded(), filepath.Base(r.Path))
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return r.Path
}

func copyIfAbsent(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("publish: join: read %s: %w", src, err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("publish: join: write %s: %w", dst, err)
	}
	return os.Rename(tmp, dst)
}

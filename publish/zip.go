package publish

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nevindra/clonechat/internal/config"
)

// runZip archives every non-video file under workspace.source() into
// size-bounded parts under workspace.zipped(). archive/zip covers the
// whole job.
func runZip(ctx context.Context, w workspace, cfg config.Config) error {
	if cfg.Mode != "" && cfg.Mode != "zip" {
		return fmt.Errorf("publish: zip: unsupported archive mode %q", cfg.Mode)
	}
	if err := os.MkdirAll(w.zipped(), 0o755); err != nil {
		return fmt.Errorf("publish: zip: mkdir: %w", err)
	}

	limit := int64(cfg.FileSizeLimitMB) * 1024 * 1024
	if limit <= 0 {
		limit = 1900 * 1024 * 1024
	}

	videoExt := make(map[string]bool, len(cfg.VideoExtensions))
	for _, ext := range cfg.VideoExtensions {
		videoExt[strings.ToLower(ext)] = true
	}

	var files []string
	err := filepath.WalkDir(w.source(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if videoExt[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish: zip: walk: %w", err)
	}

	part := 1
	var zw *zip.Writer
	var zf *os.File
	var partTmp, partFinal string
	var written int64

	closePart := func() error {
		if zw == nil {
			return nil
		}
		if err := zw.Close(); err != nil {
			zf.Close()
			return err
		}
		if err := zf.Close(); err != nil {
			return err
		}
		zw, zf = nil, nil
		return os.Rename(partTmp, partFinal)
	}

	openPart := func() error {
		partFinal = filepath.Join(w.zipped(), fmt.Sprintf("part-%03d.zip", part))
		partTmp = partFinal + ".tmp"
		f, err := os.Create(partTmp)
		if err != nil {
			return err
		}
		zf = f
		zw = zip.NewWriter(f)
		written = 0
		return nil
	}

	for _, path := range files {
		if ctx.Err() != nil {
			_ = closePart()
			return ctx.Err()
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if zw == nil {
			if err := openPart(); err != nil {
				return fmt.Errorf("publish: zip: open part: %w", err)
			}
		} else if written+info.Size() > limit {
			if err := closePart(); err != nil {
				return fmt.Errorf("publish: zip: close part: %w", err)
			}
			part++
			if err := openPart(); err != nil {
				return fmt.Errorf("publish: zip: open part: %w", err)
			}
		}

		rel, err := filepath.Rel(w.source(), path)
		if err != nil {
			rel = filepath.Base(path)
		}
		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("publish: zip: create entry: %w", err)
		}
		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("publish: zip: open source: %w", err)
		}
		n, err := io.Copy(entry, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("publish: zip: copy: %w", err)
		}
		written += n
	}

	return closePart()
}

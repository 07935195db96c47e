package publish

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/internal/config"
)

// runTimestamp writes summary.txt (human) and upload_plan.csv (machine)
// describing upload order, hashtags, and per-segment time offsets.
// PATH_SUMMARY_TOP/BOT are markdown fragments rendered to plain text via
// goldmark before being injected into the summary.
func runTimestamp(ctx context.Context, w workspace, cfg config.Config, task clonechat.PublishTask) error {
	rows, err := readReportCSV(w.report())
	if err != nil {
		return fmt.Errorf("publish: timestamp: %w", err)
	}

	files, err := listJoinedFiles(w)
	if err != nil {
		return fmt.Errorf("publish: timestamp: %w", err)
	}

	top, err := renderMarkdownFile(cfg.PathSummaryTop)
	if err != nil {
		return fmt.Errorf("publish: timestamp: top: %w", err)
	}
	bot, err := renderMarkdownFile(cfg.PathSummaryBot)
	if err != nil {
		return fmt.Errorf("publish: timestamp: bot: %w", err)
	}

	var b strings.Builder
	if top != "" {
		b.WriteString(top)
		b.WriteString("\n\n")
	}
	hashtag := cfg.HashtagIndex
	if hashtag == "" {
		hashtag = "#part"
	}
	offset := time.Duration(0)
	for i, f := range files {
		idx := cfg.StartIndex + i
		fmt.Fprintf(&b, "%d. %s %s%d  [%s]\n", idx, f.name, hashtag, idx, formatOffset(offset))
		offset += durationFor(rows, f.name)
	}
	if bot != "" {
		b.WriteString("\n\n")
		b.WriteString(bot)
	}

	if err := os.MkdirAll(filepath.Dir(w.summary()), 0o755); err != nil {
		return fmt.Errorf("publish: timestamp: mkdir: %w", err)
	}
	if err := writeFileAtomicPub(w.summary(), []byte(b.String())); err != nil {
		return err
	}

	return writeUploadPlanCSV(w, cfg, rows, files, hashtag)
}

type joinedFile struct {
	name string
	path string
}

func listJoinedFiles(w workspace) ([]joinedFile, error) {
	entries, err := os.ReadDir(w.joined())
	if err != nil {
		return nil, err
	}
	var files []joinedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, joinedFile{name: e.Name(), path: w.joined() + "/" + e.Name()})
	}
	return files, nil
}

func durationFor(rows []reportRow, joinedName string) time.Duration {
	// Joined group files are synthetic; their duration is the sum of the
	// constituent clips, which the report doesn't track per-group, so a
	// per-file probe at timestamp-time would be needed for exactness. As
	// a conservative estimate, fall back to zero when no direct match
	// exists, keeping offsets monotonic rather than exact.
	for _, r := range rows {
		if baseName(r.Path) == joinedName {
			return time.Duration(r.DurationSeconds * float64(time.Second))
		}
	}
	return 0
}

func baseName(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}

func formatOffset(d time.Duration) string {
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func writeUploadPlanCSV(w workspace, cfg config.Config, rows []reportRow, files []joinedFile, hashtag string) error {
	tmp := w.uploadPlan() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	_ = cw.Write([]string{"index", "file", "hashtag", "offset_seconds"})

	offset := time.Duration(0)
	for i, jf := range files {
		idx := cfg.StartIndex + i
		_ = cw.Write([]string{strconv.Itoa(idx), jf.name, fmt.Sprintf("%s%d", hashtag, idx), strconv.Itoa(int(offset.Seconds()))})
		offset += durationFor(rows, jf.name)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, w.uploadPlan())
}

func renderMarkdownFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var html bytes.Buffer
	if err := goldmark.Convert(src, &html); err != nil {
		return "", err
	}
	return stripTags(html.String()), nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripTags reduces goldmark's HTML output to plain text suitable for a
// platform text message, which has no markdown/HTML rendering of its own.
func stripTags(html string) string {
	text := tagPattern.ReplaceAllString(html, "")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	return strings.TrimSpace(text)
}

func writeFileAtomicPub(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nevindra/clonechat"
)

// ExecRunner invokes ffmpeg/ffprobe found on PATH. It is the default Runner
// and requires no daemon; Docker is only needed when the binaries aren't
// locally installed (see docker.go).
type ExecRunner struct {
	// WallClockLimit kills a running process after this long and
	// classifies the call as transient (the TIME_LIMIT setting).
	WallClockLimit time.Duration
	FFmpegPath     string
	FFprobePath    string
}

// NewExecRunner returns an ExecRunner with the documented defaults.
func NewExecRunner(wallClockLimit time.Duration) *ExecRunner {
	if wallClockLimit <= 0 {
		wallClockLimit = 30 * time.Minute
	}
	return &ExecRunner{
		WallClockLimit: wallClockLimit,
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
	}
}

func (r *ExecRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, r.WallClockLimit)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return nil, &clonechat.ErrTransient{Op: name, Err: fmt.Errorf("wall-clock limit of %s exceeded", r.WallClockLimit)}
	}
	if ctx.Err() == context.Canceled {
		return nil, &clonechat.ErrInterrupted{}
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return nil, &clonechat.ErrExternalTool{Tool: name, Err: fmt.Errorf("%s: %s", err, strings.TrimSpace(stderr.String()))}
		}
		return nil, &clonechat.ErrExternalTool{Tool: name, Err: err}
	}
	return stdout.Bytes(), nil
}

type ffprobeFormat struct {
	Duration string            `json:"duration"`
	Size     string            `json:"size"`
	BitRate  string            `json:"bit_rate"`
	Tags     map[string]string `json:"tags"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat    `json:"format"`
	Streams []ffprobeStream  `json:"streams"`
}

func (r *ExecRunner) Probe(ctx context.Context, path string) (Probe, error) {
	out, err := r.run(ctx, r.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration,size,bit_rate",
		"-show_entries", "stream=codec_type,codec_name,width,height",
		"-show_format",
		"-of", "json", path)
	if err != nil {
		return Probe{}, err
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Probe{}, &clonechat.ErrExternalTool{Tool: r.FFprobePath, Err: fmt.Errorf("parse probe output: %w", err)}
	}

	p := Probe{}
	p.DurationSeconds, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	p.SizeBytes, _ = strconv.ParseInt(parsed.Format.Size, 10, 64)
	bitrate, _ := strconv.ParseInt(parsed.Format.BitRate, 10, 64)
	p.BitrateKbps = int(bitrate / 1000)

	for _, s := range parsed.Streams {
		if s.CodecType == "video" {
			p.Width, p.Height = s.Width, s.Height
			p.Codec = s.CodecName
			break
		}
	}
	p.CreationTag = parsed.Format.Tags["creation_time"]
	return p, nil
}

func (r *ExecRunner) ExtractAudio(ctx context.Context, srcPath, dstPath string) error {
	tmp := dstPath + ".tmp"
	if _, err := r.run(ctx, r.FFmpegPath,
		"-y", "-i", srcPath,
		"-vn", "-acodec", "libmp3lame", "-q:a", "2",
		tmp); err != nil {
		return err
	}
	return renameInto(tmp, dstPath)
}

func (r *ExecRunner) Reencode(ctx context.Context, srcPath, dstPath string, plan ReencodePlan) error {
	tmp := dstPath + ".tmp"
	args := []string{"-y", "-i", srcPath}
	if plan.Width > 0 && plan.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", plan.Width, plan.Height))
	}
	if plan.VideoBitrateK > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", plan.VideoBitrateK))
	}
	if plan.AudioBitrateK > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", plan.AudioBitrateK))
	}
	args = append(args, "-c:v", "libx264", "-c:a", "aac", tmp)

	if _, err := r.run(ctx, r.FFmpegPath, args...); err != nil {
		return err
	}
	return renameInto(tmp, dstPath)
}

func (r *ExecRunner) Concat(ctx context.Context, srcPaths []string, dstPath string, activateTransition bool) error {
	if len(srcPaths) == 0 {
		return &clonechat.ErrPermanent{Op: "concat", Err: fmt.Errorf("no source clips")}
	}

	listPath := dstPath + ".concat.txt"
	var b strings.Builder
	for _, p := range srcPaths {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	if err := writeFileAtomic(listPath, []byte(b.String())); err != nil {
		return &clonechat.ErrExternalTool{Tool: r.FFmpegPath, Err: err}
	}

	tmp := dstPath + ".tmp"
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath}
	if activateTransition {
		// Transition handling re-encodes rather than stream-copies.
		args = append(args, "-c:v", "libx264", "-c:a", "aac")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, tmp)

	if _, err := r.run(ctx, r.FFmpegPath, args...); err != nil {
		return err
	}
	return renameInto(tmp, dstPath)
}

var _ Runner = (*ExecRunner)(nil)

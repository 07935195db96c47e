package transcode

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available, skipping")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available, skipping")
	}
}

// generateTestClip shells out to ffmpeg's lavfi source to produce a short,
// real video file without needing a checked-in fixture.
func generateTestClip(t *testing.T, path string, seconds int) {
	t.Helper()
	cmd := exec.Command("ffmpeg", "-y", "-f", "lavfi",
		"-i", "testsrc=duration="+itoa(seconds)+":size=64x64:rate=10",
		"-f", "lavfi", "-i", "anullsrc=r=8000:cl=mono",
		"-shortest", "-c:v", "libx264", "-c:a", "aac", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg fixture generation failed: %v\n%s", err, out)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestExecRunnerProbeReadsDuration(t *testing.T) {
	skipIfNoFFmpeg(t)
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	generateTestClip(t, clip, 2)

	r := NewExecRunner(time.Minute)
	p, err := r.Probe(context.Background(), clip)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if p.DurationSeconds < 1.5 || p.DurationSeconds > 3 {
		t.Errorf("DurationSeconds = %v, want ~2", p.DurationSeconds)
	}
	if p.Width != 64 || p.Height != 64 {
		t.Errorf("dimensions = %dx%d, want 64x64", p.Width, p.Height)
	}
}

func TestExecRunnerExtractAudioProducesFile(t *testing.T) {
	skipIfNoFFmpeg(t)
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	generateTestClip(t, clip, 1)

	r := NewExecRunner(time.Minute)
	dst := filepath.Join(dir, "audio.mp3")
	if err := r.ExtractAudio(context.Background(), clip, dst); err != nil {
		t.Fatalf("ExtractAudio: %v", err)
	}
	if info, err := os.Stat(dst); err != nil || info.Size() == 0 {
		t.Errorf("expected a non-empty audio file at %s", dst)
	}
}

func TestExecRunnerConcatJoinsClips(t *testing.T) {
	skipIfNoFFmpeg(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp4")
	b := filepath.Join(dir, "b.mp4")
	generateTestClip(t, a, 1)
	generateTestClip(t, b, 1)

	r := NewExecRunner(time.Minute)
	dst := filepath.Join(dir, "joined.mp4")
	if err := r.Concat(context.Background(), []string{a, b}, dst, false); err != nil {
		t.Fatalf("Concat: %v", err)
	}

	p, err := r.Probe(context.Background(), dst)
	if err != nil {
		t.Fatalf("Probe joined: %v", err)
	}
	if p.DurationSeconds < 1.5 {
		t.Errorf("joined duration %v shorter than the two inputs combined", p.DurationSeconds)
	}
}

func TestExecRunnerConcatRejectsEmptyInput(t *testing.T) {
	r := NewExecRunner(time.Minute)
	if err := r.Concat(context.Background(), nil, filepath.Join(t.TempDir(), "out.mp4"), false); err == nil {
		t.Fatal("expected an error for zero source clips")
	}
}

func TestExecRunnerWallClockLimitKillsLongRunningProcess(t *testing.T) {
	r := NewExecRunner(50 * time.Millisecond)
	_, err := r.run(context.Background(), "sleep", "5")
	if err == nil {
		t.Fatal("expected the wall-clock limit to trigger an error")
	}
}

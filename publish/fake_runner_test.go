package publish

import (
	"context"
	"os"

	"github.com/nevindra/clonechat/transcode"
)

// fakeRunner is a minimal transcode.Runner double for exercising stage
// logic without shelling out to ffmpeg/ffprobe.
type fakeRunner struct {
	probes map[string]transcode.Probe
}

func (r *fakeRunner) Probe(ctx context.Context, path string) (transcode.Probe, error) {
	if r.probes != nil {
		if p, ok := r.probes[path]; ok {
			return p, nil
		}
	}
	return transcode.Probe{DurationSeconds: 60, Width: 1920, Height: 1080, Codec: "h264", BitrateKbps: 4000}, nil
}

func (r *fakeRunner) ExtractAudio(ctx context.Context, srcPath, dstPath string) error {
	return os.WriteFile(dstPath, []byte("mp3"), 0o644)
}

func (r *fakeRunner) Reencode(ctx context.Context, srcPath, dstPath string, plan transcode.ReencodePlan) error {
	return os.WriteFile(dstPath, []byte("reencoded"), 0o644)
}

func (r *fakeRunner) Concat(ctx context.Context, srcPaths []string, dstPath string, activateTransition bool) error {
	return os.WriteFile(dstPath, []byte("joined"), 0o644)
}

var _ transcode.Runner = (*fakeRunner)(nil)

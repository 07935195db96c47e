// Package transcode wraps the external media tool (ffmpeg/ffprobe) calls
// the engines need: probing, MP3 extraction, re-encoding, and
// concatenation. ExecRunner bounds each call by its WallClockLimit on top
// of the caller's context, and a kill-on-timeout is reported back as a
// clonechat.ErrTransient so the retry adapter can retry or the caller can
// fail the stage cleanly.
package transcode

import "context"

// Probe describes one media file's technical characteristics, as read by
// the report stage to fill in duration/resolution/codec/bitrate columns.
type Probe struct {
	DurationSeconds float64
	Width, Height   int
	Codec           string
	BitrateKbps     int
	SizeBytes       int64

	// CreationTag is the container's raw creation_time format tag, if any,
	// in whatever layout the source device emitted. "" when absent.
	CreationTag string
}

// Runner is the external-tool boundary the publish pipeline depends on.
// The default implementation shells out to ffmpeg/ffprobe (exec.go); an
// optional container-backed implementation is provided in docker.go for
// environments where the binaries are distributed only as an image.
type Runner interface {
	// Probe inspects a media file without modifying it.
	Probe(ctx context.Context, path string) (Probe, error)

	// ExtractAudio produces an MP3 at dstPath from the video at srcPath.
	ExtractAudio(ctx context.Context, srcPath, dstPath string) error

	// Reencode normalises srcPath into dstPath per plan (resolution,
	// codec, bitrate target chosen by the caller).
	Reencode(ctx context.Context, srcPath, dstPath string, plan ReencodePlan) error

	// Concat joins srcPaths, in order, into dstPath. When
	// activateTransition is set, the joined output is re-encoded instead of
	// stream-copied; no crossfade or other transition effect is inserted,
	// so clips still meet with a hard cut.
	Concat(ctx context.Context, srcPaths []string, dstPath string, activateTransition bool) error
}

// ReencodePlan describes the normalisation target for the reencode stage.
type ReencodePlan struct {
	Width, Height int
	VideoBitrateK int
	AudioBitrateK int
}

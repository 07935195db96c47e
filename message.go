package clonechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// maxCaptionRunes is the platform's documented caption boundary.
const maxCaptionRunes = 1024

const ellipsis = "…"

// TruncateCaption truncates s to the platform's caption boundary on a rune
// boundary (never splitting a multi-byte rune or a combining sequence),
// appending a trailing ellipsis marker when truncation occurred.
func TruncateCaption(s string) string {
	runes := []rune(norm.NFC.String(s))
	if len(runes) <= maxCaptionRunes {
		return string(runes)
	}
	return string(runes[:maxCaptionRunes-1]) + ellipsis
}

// ProcessOptions configures a single Message Processor invocation.
type ProcessOptions struct {
	ScratchRoot  string // <download_root>/<chat_id> - <title>
	ExtractAudio bool
	Transcoder   AudioExtractor

	// MaxPath bounds the generated file-name component's length (MAX_PATH
	// config setting). 0 disables truncation.
	MaxPath int
}

// AudioExtractor is the narrow slice of the external transcoder the
// Message Processor needs: MP3 extraction from a downloaded video. The
// full Runner interface lives in package transcode; this keeps message.go
// decoupled from the transcode package's process-management concerns.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, mp3Path string) error
}

// Process delivers a single source message to destinationChatID using the
// given strategy. It returns the destination message id on success, or a
// well-typed failure; checkpoint advance is the caller's responsibility.
func Process(ctx context.Context, logger *slog.Logger, p Platform, strategy CloningStrategy, msg Message, destinationChatID int64, opts ProcessOptions) (SendResult, error) {
	if logger == nil {
		logger = discardLogger
	}

	// An unsupported kind is skipped whole, even if it carries a caption,
	// decided ahead of any kind-specific dispatch.
	if msg.Kind == KindUnsupported {
		return SendResult{}, &ErrUnsupported{Kind: string(msg.Kind)}
	}

	if strategy == StrategyForward {
		res, err := Call(ctx, logger, "forward", func(ctx context.Context) (SendResult, error) {
			return p.ForwardMessage(ctx, msg.ChatID, destinationChatID, msg.ID)
		})
		if err != nil {
			var interrupted *ErrInterrupted
			if msg.Protected && !errors.As(err, &interrupted) {
				return SendResult{}, &ErrRestricted{ChatID: msg.ChatID}
			}
			return SendResult{}, err
		}
		return res, nil
	}

	return processDownloadUpload(ctx, logger, p, msg, destinationChatID, opts)
}

func processDownloadUpload(ctx context.Context, logger *slog.Logger, p Platform, msg Message, destinationChatID int64, opts ProcessOptions) (SendResult, error) {
	caption := TruncateCaption(msg.Text)

	if msg.Kind == KindText {
		return Call(ctx, logger, "send_text", func(ctx context.Context) (SendResult, error) {
			return p.SendText(ctx, destinationChatID, caption)
		})
	}
	if msg.Kind == KindPoll || msg.Kind == KindLocation {
		// No payload to download; these are sent as structured data by the
		// concrete Platform implementation via SendMedia with a nil path.
		return Call(ctx, logger, "send_structured", func(ctx context.Context) (SendResult, error) {
			return p.SendMedia(ctx, destinationChatID, Media{}, caption, "")
		})
	}
	if msg.Media == nil {
		return SendResult{}, &ErrUnsupported{Kind: string(msg.Kind)}
	}

	destPath, err := downloadPayload(ctx, logger, p, msg, opts)
	if err != nil {
		return SendResult{}, err
	}

	if msg.Kind == KindVideo && opts.ExtractAudio && opts.Transcoder != nil {
		mp3Path := strings.TrimSuffix(destPath, filepath.Ext(destPath)) + ".mp3"
		if err := opts.Transcoder.ExtractAudio(ctx, destPath, mp3Path); err != nil {
			// Non-fatal: the video is still uploaded.
			logger.Warn("audio extraction failed, continuing with video only", "msg_id", msg.ID, "err", err)
		}
	}

	res, err := Call(ctx, logger, "send_media", func(ctx context.Context) (SendResult, error) {
		return p.SendMedia(ctx, destinationChatID, *msg.Media, caption, destPath)
	})
	if err != nil {
		return SendResult{}, err
	}

	// Delete the downloaded payload but preserve any extracted audio
	// sibling.
	_ = os.Remove(destPath)
	return res, nil
}

func downloadPayload(ctx context.Context, logger *slog.Logger, p Platform, msg Message, opts ProcessOptions) (string, error) {
	name := msg.Media.FileName
	if name == "" {
		name = fmt.Sprintf("%d", msg.ID)
	}
	fileName := truncatePathComponent(sanitizeFileName(name), opts.MaxPath)
	destPath := filepath.Join(opts.ScratchRoot, fmt.Sprintf("%d-%s", msg.ID, fileName))

	download := func(ctx context.Context) (struct{}, error) {
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return struct{}{}, &ErrPermanent{Op: "mkdir", Err: err}
		}
		return struct{}{}, p.DownloadMedia(ctx, msg.ChatID, msg.ID, destPath)
	}

	if _, err := Call(ctx, logger, "download_media", download); err != nil {
		return "", err
	}

	// Zero-byte downloads are treated as transient once; if still zero
	// after retry, logged and skipped.
	if info, statErr := os.Stat(destPath); statErr == nil && info.Size() == 0 {
		if _, err := Call(ctx, logger, "download_media_retry_zero_byte", download); err != nil {
			return "", err
		}
		if info, statErr := os.Stat(destPath); statErr == nil && info.Size() == 0 {
			logger.Warn("zero-byte download persisted after retry, skipping", "msg_id", msg.ID)
			return "", &ErrUnsupported{Kind: "zero_byte_payload"}
		}
	}

	return destPath, nil
}

func sanitizeFileName(name string) string {
	name = norm.NFC.String(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "\x00", "")
	return replacer.Replace(name)
}

// truncatePathComponent bounds a single generated path component (a chat
// title, a file name) to maxRunes, per the MAX_PATH config setting. The
// length is counted in runes of the width-folded form (width.Fold); when
// it exceeds maxRunes, the first maxRunes runes of the original string are
// kept, so the cut always falls on a rune boundary. maxRunes <= 0 disables
// truncation.
func truncatePathComponent(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	folded := width.Fold.String(s)
	runes := []rune(folded)
	if len(runes) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes])
}

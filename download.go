package clonechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// DownloadEngine is the video-only variant of the clone loop: it walks a
// chat's history, pulls every video newer than the stored checkpoint to
// disk, and extracts an MP3 sibling for each.
type DownloadEngine struct {
	platform Platform
	store    Store
	logger   *slog.Logger

	outputRoot      string
	deleteVideo     bool
	limit           int // 0 = unbounded
	restart         bool
	transcoder      AudioExtractor
	maxPath         int
	bytesDownloaded metric.Int64Counter
}

// DownloadOption configures a DownloadEngine.
type DownloadOption func(*DownloadEngine)

func WithOutputRoot(path string) DownloadOption { return func(d *DownloadEngine) { d.outputRoot = path } }
func WithDeleteVideo(on bool) DownloadOption    { return func(d *DownloadEngine) { d.deleteVideo = on } }
func WithDownloadLimit(n int) DownloadOption    { return func(d *DownloadEngine) { d.limit = n } }
func WithDownloadRestart(on bool) DownloadOption {
	return func(d *DownloadEngine) { d.restart = on }
}
func WithDownloadLogger(l *slog.Logger) DownloadOption {
	return func(d *DownloadEngine) { d.logger = l }
}
func WithDownloadTranscoder(t AudioExtractor) DownloadOption {
	return func(d *DownloadEngine) { d.transcoder = t }
}
func WithDownloadMaxPath(n int) DownloadOption { return func(d *DownloadEngine) { d.maxPath = n } }

// WithDownloadBytesCounter wires a metric counter incremented by the size
// of every media payload pulled from the platform.
func WithDownloadBytesCounter(c metric.Int64Counter) DownloadOption {
	return func(d *DownloadEngine) { d.bytesDownloaded = c }
}

// NewDownloadEngine builds a Download Engine against platform p and store s.
func NewDownloadEngine(p Platform, s Store, opts ...DownloadOption) *DownloadEngine {
	d := &DownloadEngine{platform: p, store: s, logger: discardLogger, outputRoot: "data/downloads", maxPath: 200}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download runs a single DownloadTask, restricted to video messages newer
// than the stored checkpoint. overrideStart, when non-zero, forces the
// starting checkpoint downward (the --message-id flag).
func (d *DownloadEngine) Download(ctx context.Context, originChatID int64, overrideStart int64) error {
	task, found, err := d.store.GetDownloadTask(ctx, originChatID)
	if err != nil {
		return err
	}
	if found && d.restart {
		if err := d.store.DeleteDownloadTask(ctx, originChatID); err != nil {
			return err
		}
		found = false
	}

	origin, err := Call(ctx, d.logger, "resolve_origin", func(ctx context.Context) (Chat, error) {
		return d.platform.ResolveIdentifier(ctx, originChatID)
	})
	if err != nil {
		return err
	}

	now := NowUnix()
	if !found {
		task = DownloadTask{
			OriginChatID:    originChatID,
			OriginChatTitle: origin.Title,
			Status:          StatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}
	if overrideStart != 0 {
		task.LastDownloadedMessageID = overrideStart
	}

	if RunLockHeld(task.Status, task.UpdatedAt) {
		return &ErrPermanent{Op: "download", Err: fmt.Errorf("task for chat %d is already running", originChatID)}
	}
	task.Status = StatusRunning
	task.UpdatedAt = now
	if err := d.store.UpsertDownloadTask(ctx, task); err != nil {
		return err
	}

	if err := d.walkVideos(ctx, &task, origin.Title); err != nil {
		task.Status = StatusFailed
		task.UpdatedAt = NowUnix()
		_ = d.store.UpsertDownloadTask(ctx, task)
		return err
	}

	task.Status = StatusCompleted
	task.UpdatedAt = NowUnix()
	return d.store.UpsertDownloadTask(ctx, task)
}

func (d *DownloadEngine) walkVideos(ctx context.Context, task *DownloadTask, title string) error {
	msgs, errs := d.platform.IterateHistory(ctx, task.OriginChatID, task.LastDownloadedMessageID)
	downloaded := 0

	for {
		select {
		case <-ctx.Done():
			return &ErrInterrupted{}
		case msg, ok := <-msgs:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}

			if msg.Kind != KindVideo || msg.Media == nil {
				if err := d.advance(ctx, task, msg.ID); err != nil {
					return err
				}
				continue
			}

			task.TotalVideos++
			destPath, err := d.downloadOne(ctx, task, title, msg)
			if err != nil {
				return err
			}

			if destPath != "" {
				if d.bytesDownloaded != nil {
					if info, statErr := os.Stat(destPath); statErr == nil {
						d.bytesDownloaded.Add(ctx, info.Size())
					}
				}
				mp3Path := strings.TrimSuffix(destPath, filepath.Ext(destPath)) + ".mp3"
				if d.transcoder != nil {
					if err := d.transcoder.ExtractAudio(ctx, destPath, mp3Path); err != nil {
						d.logger.Warn("audio extraction failed", "msg_id", msg.ID, "err", err)
					}
				}
				if d.deleteVideo {
					_ = os.Remove(destPath)
				}
				task.DownloadedVideos++
				downloaded++
			}

			if err := d.advance(ctx, task, msg.ID); err != nil {
				return err
			}

			if d.limit > 0 && downloaded >= d.limit {
				return nil
			}
		}
	}
}

func (d *DownloadEngine) downloadOne(ctx context.Context, task *DownloadTask, title string, msg Message) (string, error) {
	msgDate := msg.Date
	if msgDate == 0 {
		msgDate = NowUnix()
	}
	date := time.Unix(msgDate, 0).UTC().Format("2006-01-02")
	name := msg.Media.FileName
	if name == "" {
		name = fmt.Sprintf("%d.mp4", msg.ID)
	}
	fileName := truncatePathComponent(sanitizeFileName(name), d.maxPath)
	destPath := filepath.Join(d.outputRoot, truncatePathComponent(title, d.maxPath), date, fmt.Sprintf("%d-%s", msg.ID, fileName))

	if _, err := Call(ctx, d.logger, "download_media", func(ctx context.Context) (struct{}, error) {
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return struct{}{}, &ErrPermanent{Op: "mkdir", Err: err}
		}
		return struct{}{}, d.platform.DownloadMedia(ctx, msg.ChatID, msg.ID, destPath)
	}); err != nil {
		var unsupported *ErrUnsupported
		if errors.As(err, &unsupported) {
			return "", nil
		}
		return "", err
	}
	return destPath, nil
}

func (d *DownloadEngine) advance(ctx context.Context, task *DownloadTask, newCheckpoint int64) error {
	if err := d.store.AdvanceDownloadCheckpoint(ctx, task.OriginChatID, newCheckpoint); err != nil {
		return err
	}
	task.LastDownloadedMessageID = newCheckpoint
	task.UpdatedAt = NowUnix()
	return nil
}

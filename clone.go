package clonechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Engine clones a source chat's history into a destination chat: it walks
// the source in ascending message-id order, delivers each message with the
// task's strategy, and checkpoints after every acknowledged delivery. A
// single worker drives the whole loop so destination ordering and
// rate-limit accounting stay trivial.
type Engine struct {
	platform Platform
	store    Store
	logger   *slog.Logger

	delay              time.Duration
	scratchRoot        string
	linkFilePath       string
	extractAudio       bool
	forceDownload      bool
	restart            bool
	leaveOrigin        bool
	publishToChat      int64
	publishTopic       int64
	registerInviteLink bool
	transcoder         AudioExtractor
	maxPath            int
	deliveries         metric.Int64Counter

	idTranslation map[int64]int64 // in-memory source->destination id map, this run only
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option      { return func(e *Engine) { e.logger = l } }
func WithDelay(d time.Duration) Option      { return func(e *Engine) { e.delay = d } }
func WithScratchRoot(path string) Option    { return func(e *Engine) { e.scratchRoot = path } }
func WithLinkFilePath(path string) Option   { return func(e *Engine) { e.linkFilePath = path } }
func WithExtractAudio(on bool) Option       { return func(e *Engine) { e.extractAudio = on } }
func WithForceDownload(on bool) Option      { return func(e *Engine) { e.forceDownload = on } }
func WithRestart(on bool) Option            { return func(e *Engine) { e.restart = on } }
func WithLeaveOrigin(on bool) Option        { return func(e *Engine) { e.leaveOrigin = on } }
func WithPublishTo(chatID int64) Option     { return func(e *Engine) { e.publishToChat = chatID } }
func WithPublishTopic(topicID int64) Option { return func(e *Engine) { e.publishTopic = topicID } }
func WithRegisterInviteLink(on bool) Option { return func(e *Engine) { e.registerInviteLink = on } }

func WithTranscoder(t AudioExtractor) Option { return func(e *Engine) { e.transcoder = t } }
func WithMaxPath(n int) Option               { return func(e *Engine) { e.maxPath = n } }

// WithDeliveryCounter wires a metric counter incremented once per message
// delivered to the destination, attributed by strategy.
func WithDeliveryCounter(c metric.Int64Counter) Option {
	return func(e *Engine) { e.deliveries = c }
}

// NewEngine builds a Clone Engine against platform p and store s.
func NewEngine(p Platform, s Store, opts ...Option) *Engine {
	e := &Engine{
		platform:      p,
		store:         s,
		logger:        discardLogger,
		delay:         2 * time.Second,
		linkFilePath:  "links_canais.txt",
		maxPath:       200,
		idTranslation: make(map[int64]int64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync runs a single SyncTask to completion (or to the platform head).
// destChatID is 0 when the caller wants a fresh private channel created.
func (e *Engine) Sync(ctx context.Context, originChatID int64, destChatID int64) error {
	task, found, err := e.store.GetSyncTask(ctx, originChatID)
	if err != nil {
		return err
	}

	if found && e.restart {
		if err := e.store.DeleteSyncTask(ctx, originChatID); err != nil {
			return err
		}
		found = false
	}
	if !found {
		task, err = e.createTask(ctx, originChatID, destChatID)
		if err != nil {
			return err
		}
	}

	if RunLockHeld(task.Status, task.UpdatedAt) {
		return &ErrPermanent{Op: "sync", Err: fmt.Errorf("task for chat %d is already running", originChatID)}
	}
	task.Status = StatusRunning
	task.UpdatedAt = NowUnix()
	if err := e.store.UpsertSyncTask(ctx, task); err != nil {
		return err
	}

	if err := e.walkHistory(ctx, &task); err != nil {
		// Checkpoint was already committed message-by-message, so a
		// failed/interrupted task still resumes cleanly on the next Sync.
		task.Status = StatusFailed
		task.UpdatedAt = NowUnix()
		_ = e.store.UpsertSyncTask(ctx, task)
		return err
	}

	if err := e.replicatePinned(ctx, task); err != nil {
		e.logger.Warn("pinned replication incomplete", "err", err)
	}

	if e.leaveOrigin {
		if _, err := Call(ctx, e.logger, "leave_chat", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.platform.LeaveChat(ctx, originChatID)
		}); err != nil {
			e.logger.Warn("leave_origin failed", "err", err)
		}
	}

	invite := ""
	if e.registerInviteLink {
		link, err := Call(ctx, e.logger, "invite_link", func(ctx context.Context) (string, error) {
			return e.platform.InviteLink(ctx, task.DestinationChatID)
		})
		if err != nil {
			e.logger.Warn("invite link lookup failed", "err", err)
		} else {
			invite = link
		}
	}
	if err := AppendLinkRecord(e.linkFilePath, task.OriginChatTitle, task.DestinationChatID, invite); err != nil {
		e.logger.Warn("link file append failed", "err", err)
	}

	if e.publishToChat != 0 {
		deepLink := DeepLink(task.DestinationChatID)
		if _, err := Call(ctx, e.logger, "publish_link", func(ctx context.Context) (SendResult, error) {
			if e.publishTopic != 0 {
				return e.platform.SendTopicText(ctx, e.publishToChat, e.publishTopic, deepLink)
			}
			return e.platform.SendText(ctx, e.publishToChat, deepLink)
		}); err != nil {
			e.logger.Warn("publish-to failed", "err", err)
		}
	}

	task.Status = StatusCompleted
	task.UpdatedAt = NowUnix()
	return e.store.UpsertSyncTask(ctx, task)
}

func (e *Engine) createTask(ctx context.Context, originChatID, destChatID int64) (SyncTask, error) {
	origin, err := Call(ctx, e.logger, "resolve_origin", func(ctx context.Context) (Chat, error) {
		return e.platform.ResolveIdentifier(ctx, originChatID)
	})
	if err != nil {
		return SyncTask{}, err
	}

	strategy := selectStrategy(origin.ContentProtected, e.forceDownload)

	if destChatID == 0 {
		dest, err := Call(ctx, e.logger, "create_channel", func(ctx context.Context) (Chat, error) {
			return e.platform.CreateChannel(ctx, "[CLONE] "+origin.Title)
		})
		if err != nil {
			return SyncTask{}, err
		}
		destChatID = dest.ID
	}

	now := NowUnix()
	task := SyncTask{
		OriginChatID:      originChatID,
		OriginChatTitle:   origin.Title,
		DestinationChatID: destChatID,
		CloningStrategy:   strategy,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.UpsertSyncTask(ctx, task); err != nil {
		return SyncTask{}, err
	}
	return task, nil
}

// selectStrategy picks the transport for a new task: forward unless the
// source forbids it or the user forced the download path.
func selectStrategy(restricted, forceDownload bool) CloningStrategy {
	if restricted || forceDownload {
		return StrategyDownloadUpload
	}
	return StrategyForward
}

func (e *Engine) walkHistory(ctx context.Context, task *SyncTask) error {
	msgs, errs := e.platform.IterateHistory(ctx, task.OriginChatID, task.LastSyncedMessageID)

	scratch := e.scratchRoot
	if scratch == "" {
		scratch = filepath.Join("data", "downloads")
	}
	title := truncatePathComponent(task.OriginChatTitle, e.maxPath)
	chatScratch := filepath.Join(scratch, fmt.Sprintf("%d - %s", task.OriginChatID, title))

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

			strategy := task.CloningStrategy
			res, err := Process(ctx, e.logger, e.platform, strategy, msg, task.DestinationChatID, ProcessOptions{
				ScratchRoot:  chatScratch,
				ExtractAudio: e.extractAudio,
				Transcoder:   e.transcoder,
				MaxPath:      e.maxPath,
			})

			var restricted *ErrRestricted
			if errors.As(err, &restricted) && task.CloningStrategy == StrategyForward {
				// One-way downgrade, never the reverse.
				task.CloningStrategy = StrategyDownloadUpload
				strategy = StrategyDownloadUpload
				if err := e.store.UpsertSyncTask(ctx, *task); err != nil {
					return err
				}
				res, err = Process(ctx, e.logger, e.platform, task.CloningStrategy, msg, task.DestinationChatID, ProcessOptions{
					ScratchRoot:  chatScratch,
					ExtractAudio: e.extractAudio,
					Transcoder:   e.transcoder,
					MaxPath:      e.maxPath,
				})
			}

			var unsupported *ErrUnsupported
			if errors.As(err, &unsupported) {
				e.logger.Info("skipping unsupported message", "msg_id", msg.ID, "kind", msg.Kind)
				if err := e.advance(ctx, task, msg.ID); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			e.idTranslation[msg.ID] = res.MessageID
			if err := e.advance(ctx, task, msg.ID); err != nil {
				return err
			}
			if e.deliveries != nil {
				e.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", string(strategy))))
			}

			if e.delay > 0 {
				select {
				case <-ctx.Done():
					return &ErrInterrupted{}
				case <-time.After(e.delay):
				}
			}
		}
	}
}

// advance persists the new checkpoint only after the message is settled:
// callers invoke it after a successful Process, or after a message is
// skipped as unsupported.
func (e *Engine) advance(ctx context.Context, task *SyncTask, newCheckpoint int64) error {
	if err := e.store.AdvanceSyncCheckpoint(ctx, task.OriginChatID, newCheckpoint); err != nil {
		return err
	}
	task.LastSyncedMessageID = newCheckpoint
	task.UpdatedAt = NowUnix()
	return nil
}

// replicatePinned re-sorts the source's pins chronologically (oldest
// source id first) before replicating, regardless of the platform's
// native pin ordering.
func (e *Engine) replicatePinned(ctx context.Context, task SyncTask) error {
	pinned, err := Call(ctx, e.logger, "get_pinned", func(ctx context.Context) ([]Message, error) {
		return e.platform.GetPinned(ctx, task.OriginChatID)
	})
	if err != nil {
		return err
	}

	sort.Slice(pinned, func(i, j int) bool { return pinned[i].ID < pinned[j].ID })

	for _, m := range pinned {
		destID, ok := e.idTranslation[m.ID]
		if !ok {
			e.logger.Warn("pin translation failed, skipping", "source_msg_id", m.ID)
			continue
		}
		if _, err := Call(ctx, e.logger, "pin_message", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.platform.PinMessage(ctx, task.DestinationChatID, destID)
		}); err != nil {
			e.logger.Warn("pin_message failed", "err", err)
		}
	}
	return nil
}

// SyncBatch runs an independent SyncTask, sequentially, for every id in
// ids that resolves successfully. Unresolvable or inaccessible ids are
// logged and skipped; the batch itself never fails because of them.
func (e *Engine) SyncBatch(ctx context.Context, ids []string) error {
	for _, raw := range ids {
		resolved, err := Resolve(ctx, e.platform, raw)
		if err != nil {
			e.logger.Warn("batch: unresolvable id, skipping", "id", raw, "err", err)
			continue
		}
		if err := e.Sync(ctx, resolved.ChatID, 0); err != nil {
			var unresolvable *ErrUnresolvable
			if errors.As(err, &unresolvable) {
				e.logger.Warn("batch: inaccessible id, skipping", "id", raw, "err", err)
				continue
			}
			var permanent *ErrPermanent
			if errors.As(err, &permanent) {
				e.logger.Warn("batch: task failed, skipping", "id", raw, "err", err)
				continue
			}
			return err
		}
	}
	return nil
}

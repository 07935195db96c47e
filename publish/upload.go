package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/internal/config"
)

// runUpload creates (or reuses) the destination channel, uploads every
// joined file in plan order, pins the final summary, and populates the
// destination description with the project name and the total size of the
// files sent in this invocation; no duration is written. Resumption uses
// last_uploaded_file: items lexicographically <= the marker are skipped,
// and the marker advances per successful send. When
// DescriptionsAutoAdapt is set, each file's caption is rewritten to the
// hashtag+index pair matching its position in upload order instead of its
// raw file name, keeping captions consistent with summary.txt.
func runUpload(ctx context.Context, logger *slog.Logger, p clonechat.Platform, store clonechat.PublishStore, w workspace, cfg config.Config, task clonechat.PublishTask) (clonechat.PublishTask, error) {
	if logger == nil {
		logger = discardLogger
	}

	if task.DestinationChatID == 0 {
		destID, err := resolveUploadDestination(ctx, logger, p, cfg, task)
		if err != nil {
			return task, err
		}
		task.DestinationChatID = destID
		if err := store.AdvancePublishStage(ctx, task.SourceFolderPath, task); err != nil {
			return task, err
		}
	}

	items, err := listUploadItems(w)
	if err != nil {
		return task, fmt.Errorf("publish: upload: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })

	var totalSize int64
	var lastMessageID int64
	videoIndex := 0

	for _, it := range items {
		if ctx.Err() != nil {
			return task, &clonechat.ErrInterrupted{}
		}
		if it.name <= task.LastUploadedFile {
			if !it.isDocument {
				videoIndex++
			}
			continue
		}

		info, statErr := os.Stat(it.path)
		if statErr == nil {
			totalSize += info.Size()
		}

		caption := it.name
		switch {
		case it.isDocument:
			caption = fmt.Sprintf("%s %s", cfg.DocumentTitle, cfg.DocumentHashtag)
		case cfg.DescriptionsAutoAdapt:
			hashtag := cfg.HashtagIndex
			if hashtag == "" {
				hashtag = "#part"
			}
			caption = fmt.Sprintf("%s%d", hashtag, cfg.StartIndex+videoIndex)
		}

		res, err := clonechat.Call(ctx, logger, "upload_file", func(ctx context.Context) (clonechat.SendResult, error) {
			return p.SendMedia(ctx, task.DestinationChatID, clonechat.Media{FileName: it.name}, caption, it.path)
		})
		if err != nil {
			return task, err
		}
		lastMessageID = res.MessageID
		if !it.isDocument {
			videoIndex++
		}

		task.LastUploadedFile = it.name
		task.UpdatedAt = clonechat.NowUnix()
		if err := store.AdvancePublishStage(ctx, task.SourceFolderPath, task); err != nil {
			return task, err
		}
	}

	if summaryData, err := os.ReadFile(w.summary()); err == nil {
		res, err := clonechat.Call(ctx, logger, "send_summary", func(ctx context.Context) (clonechat.SendResult, error) {
			return p.SendText(ctx, task.DestinationChatID, string(summaryData))
		})
		if err == nil {
			lastMessageID = res.MessageID
		}
	}

	if lastMessageID != 0 {
		if _, err := clonechat.Call(ctx, logger, "pin_summary", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.PinMessage(ctx, task.DestinationChatID, lastMessageID)
		}); err != nil {
			logger.Warn("failed to pin final summary", "err", err)
		}
	}

	description := fmt.Sprintf("%s\ntotal size: %d bytes", task.ProjectName, totalSize)
	if _, err := clonechat.Call(ctx, logger, "set_description", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.SetDescription(ctx, task.DestinationChatID, description)
	}); err != nil {
		logger.Warn("failed to set destination description", "err", err)
	}

	if cfg.RegisterInviteLink {
		if link, err := clonechat.Call(ctx, logger, "invite_link", func(ctx context.Context) (string, error) {
			return p.InviteLink(ctx, task.DestinationChatID)
		}); err == nil {
			logger.Info("destination invite link", "chat_id", task.DestinationChatID, "link", link)
		}
	}

	return task, nil
}

type uploadItem struct {
	name       string
	path       string
	isDocument bool
}

// listUploadItems combines the joined video groups with any zip archive
// parts produced by the zip stage, so both ride the same upload-order
// plan and the same last_uploaded_file checkpoint; archive parts are
// captioned with DOCUMENT_TITLE/DOCUMENT_HASHTAG instead of the
// per-segment hashtag+index used for videos.
func listUploadItems(w workspace) ([]uploadItem, error) {
	videos, err := listJoinedFiles(w)
	if err != nil {
		return nil, err
	}
	items := make([]uploadItem, 0, len(videos))
	for _, v := range videos {
		items = append(items, uploadItem{name: v.name, path: v.path})
	}

	entries, err := os.ReadDir(w.zipped())
	if err != nil {
		if os.IsNotExist(err) {
			return items, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		items = append(items, uploadItem{name: e.Name(), path: w.zipped() + "/" + e.Name(), isDocument: true})
	}
	return items, nil
}

// resolveUploadDestination implements the CREATE_NEW_CHANNEL / CHAT_ID /
// MOC_CHAT_ID destination-selection policy: when CreateNewChannel is unset
// and MocChatID (which itself falls back to ChatID when unset, per
// config.Load) is non-zero, that fixed chat is resolved and reused;
// otherwise a fresh channel named after the project is created.
func resolveUploadDestination(ctx context.Context, logger *slog.Logger, p clonechat.Platform, cfg config.Config, task clonechat.PublishTask) (int64, error) {
	if !cfg.CreateNewChannel && cfg.MocChatID != 0 {
		chat, err := clonechat.Call(ctx, logger, "resolve_destination", func(ctx context.Context) (clonechat.Chat, error) {
			return p.ResolveIdentifier(ctx, cfg.MocChatID)
		})
		if err != nil {
			return 0, err
		}
		return chat.ID, nil
	}

	chat, err := clonechat.Call(ctx, logger, "create_channel", func(ctx context.Context) (clonechat.Chat, error) {
		return p.CreateChannel(ctx, task.ProjectName)
	})
	if err != nil {
		return 0, err
	}
	return chat.ID, nil
}

package clonechat

import (
	"context"
	"time"
)

// CloningStrategy is fixed at first write for a SyncTask and is sticky
// thereafter, except for the one-way downgrade to download_upload when the
// source turns out to forbid forwarding.
type CloningStrategy string

const (
	StrategyForward        CloningStrategy = "forward"
	StrategyDownloadUpload CloningStrategy = "download_upload"
)

// TaskStatus doubles as a cooperative run lock: an engine marks its task
// running while it owns it and completed/failed when it lets go.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// lockStaleAfter bounds how long a status=running row is honoured as a
// live co-operative lock. A live engine touches updated_at on every
// checkpoint advance, so a running row older than this belongs to a
// crashed process and may be reclaimed.
const lockStaleAfter = 2 * time.Minute

// RunLockHeld reports whether a task row's status=running flag should be
// treated as a live co-operative lock held by another invocation.
func RunLockHeld(status TaskStatus, updatedAt int64) bool {
	return status == StatusRunning && NowUnix()-updatedAt < int64(lockStaleAfter/time.Second)
}

// PublishStep enumerates the publish pipeline's current_step column.
type PublishStep string

const (
	StepInit          PublishStep = "init"
	StepZip           PublishStep = "zip"
	StepReport        PublishStep = "report"
	StepReencodeAuth  PublishStep = "reencode_auth"
	StepReencode      PublishStep = "reencode"
	StepJoin          PublishStep = "join"
	StepTimestamp     PublishStep = "timestamp"
	StepUploadAuth    PublishStep = "upload_auth"
	StepUpload        PublishStep = "upload"
	StepDone          PublishStep = "done"
)

// SyncTask tracks one clone per origin chat.
type SyncTask struct {
	OriginChatID         int64
	OriginChatTitle      string
	DestinationChatID    int64
	CloningStrategy      CloningStrategy
	LastSyncedMessageID  int64
	Status               TaskStatus
	CreatedAt, UpdatedAt int64
}

// DownloadTask tracks one bulk video download per origin chat.
type DownloadTask struct {
	OriginChatID           int64
	OriginChatTitle        string
	LastDownloadedMessageID int64
	TotalVideos            int
	DownloadedVideos        int
	Status                  TaskStatus
	CreatedAt, UpdatedAt     int64
}

// PublishTask tracks one publish run per source folder path.
type PublishTask struct {
	SourceFolderPath  string
	ProjectName       string
	DestinationChatID int64
	CurrentStep       PublishStep
	Status            TaskStatus

	IsStarted      bool
	IsZipped       bool
	IsReported     bool
	IsReencodeAuth bool
	IsReencoded    bool
	IsJoined       bool
	IsTimestamped  bool
	IsUploadAuth   bool
	IsPublished    bool

	LastUploadedFile     string
	CreatedAt, UpdatedAt int64
}

// Latches returns the monotonic boolean latches in stage order, for
// monotonicity checks.
func (t PublishTask) Latches() []bool {
	return []bool{
		t.IsStarted, t.IsZipped, t.IsReported, t.IsReencodeAuth,
		t.IsReencoded, t.IsJoined, t.IsTimestamped, t.IsUploadAuth, t.IsPublished,
	}
}

// SyncStore exposes get/upsert/advance/delete for SyncTask rows (schema
// bootstrap lives on Store). Every mutation is transactionally committed before
// control returns; there is no in-memory write-back cache.
type SyncStore interface {
	GetSyncTask(ctx context.Context, originChatID int64) (SyncTask, bool, error)
	UpsertSyncTask(ctx context.Context, task SyncTask) error
	AdvanceSyncCheckpoint(ctx context.Context, originChatID int64, newCheckpoint int64) error
	DeleteSyncTask(ctx context.Context, originChatID int64) error
}

// DownloadStore is the DownloadTask analogue of SyncStore.
type DownloadStore interface {
	GetDownloadTask(ctx context.Context, originChatID int64) (DownloadTask, bool, error)
	UpsertDownloadTask(ctx context.Context, task DownloadTask) error
	AdvanceDownloadCheckpoint(ctx context.Context, originChatID int64, newCheckpoint int64) error
	DeleteDownloadTask(ctx context.Context, originChatID int64) error
}

// PublishStore is the PublishTask analogue of SyncStore. Advance sets
// current_step and the corresponding latch together, atomically.
type PublishStore interface {
	GetPublishTask(ctx context.Context, sourceFolderPath string) (PublishTask, bool, error)
	UpsertPublishTask(ctx context.Context, task PublishTask) error
	AdvancePublishStage(ctx context.Context, sourceFolderPath string, task PublishTask) error
	DeletePublishTask(ctx context.Context, sourceFolderPath string) error
}

// Store is the full task-store surface clonechat depends on. EnsureSchema
// is idempotent: it creates any missing tables and leaves existing ones
// as they are, so columns absent from an older database are not added.
type Store interface {
	SyncStore
	DownloadStore
	PublishStore

	EnsureSchema(ctx context.Context) error
	Close() error
}

// Package sqlite implements clonechat.Store using pure-Go SQLite. Zero CGO
// required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/nevindra/clonechat"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When unset, the store
// emits no logs.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements clonechat.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath. It opens a
// single shared connection with SetMaxOpenConns(1) so all callers
// serialize through one connection: the task store has exactly one writer
// at a time.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema is idempotent: CREATE TABLE IF NOT EXISTS covers fresh
// databases and leaves existing tables untouched. No ALTER TABLE is issued,
// so a database file created with an older column set is not migrated.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_tasks (
			origin_chat_id INTEGER PRIMARY KEY,
			origin_chat_title TEXT NOT NULL DEFAULT '',
			destination_chat_id INTEGER NOT NULL DEFAULT 0,
			cloning_strategy TEXT NOT NULL DEFAULT '',
			last_synced_message_id INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS download_tasks (
			origin_chat_id INTEGER PRIMARY KEY,
			origin_chat_title TEXT NOT NULL DEFAULT '',
			last_downloaded_message_id INTEGER NOT NULL DEFAULT 0,
			total_videos INTEGER NOT NULL DEFAULT 0,
			downloaded_videos INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS publish_tasks (
			source_folder_path TEXT PRIMARY KEY,
			project_name TEXT NOT NULL DEFAULT '',
			destination_chat_id INTEGER NOT NULL DEFAULT 0,
			current_step TEXT NOT NULL DEFAULT 'init',
			status TEXT NOT NULL DEFAULT 'pending',
			is_started INTEGER NOT NULL DEFAULT 0,
			is_zipped INTEGER NOT NULL DEFAULT 0,
			is_reported INTEGER NOT NULL DEFAULT 0,
			is_reencode_auth INTEGER NOT NULL DEFAULT 0,
			is_reencoded INTEGER NOT NULL DEFAULT 0,
			is_joined INTEGER NOT NULL DEFAULT 0,
			is_timestamped INTEGER NOT NULL DEFAULT 0,
			is_upload_auth INTEGER NOT NULL DEFAULT 0,
			is_published INTEGER NOT NULL DEFAULT 0,
			last_uploaded_file TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure_schema: %w", err)
		}
	}
	return nil
}

// --- SyncTask ---

func (s *Store) GetSyncTask(ctx context.Context, originChatID int64) (clonechat.SyncTask, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT origin_chat_id, origin_chat_title, destination_chat_id,
		cloning_strategy, last_synced_message_id, status, created_at, updated_at
		FROM sync_tasks WHERE origin_chat_id = ?`, originChatID)

	var t clonechat.SyncTask
	var strategy, status string
	err := row.Scan(&t.OriginChatID, &t.OriginChatTitle, &t.DestinationChatID,
		&strategy, &t.LastSyncedMessageID, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return clonechat.SyncTask{}, false, nil
	}
	if err != nil {
		return clonechat.SyncTask{}, false, fmt.Errorf("sqlite: get_sync_task: %w", err)
	}
	t.CloningStrategy = clonechat.CloningStrategy(strategy)
	t.Status = clonechat.TaskStatus(status)
	return t, true, nil
}

func (s *Store) UpsertSyncTask(ctx context.Context, task clonechat.SyncTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: upsert_sync_task begin: %w", err)
	}
	defer tx.Rollback()

	if task.UpdatedAt == 0 {
		task.UpdatedAt = clonechat.NowUnix()
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = task.UpdatedAt
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO sync_tasks
		(origin_chat_id, origin_chat_title, destination_chat_id, cloning_strategy, last_synced_message_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(origin_chat_id) DO UPDATE SET
			origin_chat_title = excluded.origin_chat_title,
			destination_chat_id = excluded.destination_chat_id,
			cloning_strategy = excluded.cloning_strategy,
			last_synced_message_id = excluded.last_synced_message_id,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		task.OriginChatID, task.OriginChatTitle, task.DestinationChatID,
		string(task.CloningStrategy), task.LastSyncedMessageID, string(task.Status),
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upsert_sync_task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: upsert_sync_task commit: %w", err)
	}
	s.logger.Debug("sqlite: sync task upserted", "origin_chat_id", task.OriginChatID)
	return nil
}

func (s *Store) AdvanceSyncCheckpoint(ctx context.Context, originChatID int64, newCheckpoint int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: advance_sync_checkpoint begin: %w", err)
	}
	defer tx.Rollback()

	// The checkpoint is monotonic non-decreasing: the WHERE clause refuses
	// a regression even if called out of order.
	_, err = tx.ExecContext(ctx, `UPDATE sync_tasks SET last_synced_message_id = ?, updated_at = ?
		WHERE origin_chat_id = ? AND last_synced_message_id < ?`,
		newCheckpoint, clonechat.NowUnix(), originChatID, newCheckpoint)
	if err != nil {
		return fmt.Errorf("sqlite: advance_sync_checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: advance_sync_checkpoint commit: %w", err)
	}
	return nil
}

func (s *Store) DeleteSyncTask(ctx context.Context, originChatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_tasks WHERE origin_chat_id = ?`, originChatID)
	if err != nil {
		return fmt.Errorf("sqlite: delete_sync_task: %w", err)
	}
	return nil
}

// --- DownloadTask ---

func (s *Store) GetDownloadTask(ctx context.Context, originChatID int64) (clonechat.DownloadTask, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT origin_chat_id, origin_chat_title, last_downloaded_message_id,
		total_videos, downloaded_videos, status, created_at, updated_at
		FROM download_tasks WHERE origin_chat_id = ?`, originChatID)

	var t clonechat.DownloadTask
	var status string
	err := row.Scan(&t.OriginChatID, &t.OriginChatTitle, &t.LastDownloadedMessageID,
		&t.TotalVideos, &t.DownloadedVideos, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return clonechat.DownloadTask{}, false, nil
	}
	if err != nil {
		return clonechat.DownloadTask{}, false, fmt.Errorf("sqlite: get_download_task: %w", err)
	}
	t.Status = clonechat.TaskStatus(status)
	return t, true, nil
}

func (s *Store) UpsertDownloadTask(ctx context.Context, task clonechat.DownloadTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: upsert_download_task begin: %w", err)
	}
	defer tx.Rollback()

	if task.UpdatedAt == 0 {
		task.UpdatedAt = clonechat.NowUnix()
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = task.UpdatedAt
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO download_tasks
		(origin_chat_id, origin_chat_title, last_downloaded_message_id, total_videos, downloaded_videos, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(origin_chat_id) DO UPDATE SET
			origin_chat_title = excluded.origin_chat_title,
			last_downloaded_message_id = excluded.last_downloaded_message_id,
			total_videos = excluded.total_videos,
			downloaded_videos = excluded.downloaded_videos,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		task.OriginChatID, task.OriginChatTitle, task.LastDownloadedMessageID,
		task.TotalVideos, task.DownloadedVideos, string(task.Status), task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upsert_download_task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: upsert_download_task commit: %w", err)
	}
	return nil
}

func (s *Store) AdvanceDownloadCheckpoint(ctx context.Context, originChatID int64, newCheckpoint int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: advance_download_checkpoint begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `UPDATE download_tasks SET last_downloaded_message_id = ?, updated_at = ?
		WHERE origin_chat_id = ? AND last_downloaded_message_id < ?`,
		newCheckpoint, clonechat.NowUnix(), originChatID, newCheckpoint)
	if err != nil {
		return fmt.Errorf("sqlite: advance_download_checkpoint: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DeleteDownloadTask(ctx context.Context, originChatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM download_tasks WHERE origin_chat_id = ?`, originChatID)
	return err
}

// --- PublishTask ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) GetPublishTask(ctx context.Context, sourceFolderPath string) (clonechat.PublishTask, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT source_folder_path, project_name, destination_chat_id, current_step, status,
		is_started, is_zipped, is_reported, is_reencode_auth, is_reencoded, is_joined, is_timestamped, is_upload_auth, is_published,
		last_uploaded_file, created_at, updated_at
		FROM publish_tasks WHERE source_folder_path = ?`, sourceFolderPath)

	var t clonechat.PublishTask
	var step, status string
	var started, zipped, reported, reencodeAuth, reencoded, joined, timestamped, uploadAuth, published int
	err := row.Scan(&t.SourceFolderPath, &t.ProjectName, &t.DestinationChatID, &step, &status,
		&started, &zipped, &reported, &reencodeAuth, &reencoded, &joined, &timestamped, &uploadAuth, &published,
		&t.LastUploadedFile, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return clonechat.PublishTask{}, false, nil
	}
	if err != nil {
		return clonechat.PublishTask{}, false, fmt.Errorf("sqlite: get_publish_task: %w", err)
	}
	t.CurrentStep = clonechat.PublishStep(step)
	t.Status = clonechat.TaskStatus(status)
	t.IsStarted, t.IsZipped, t.IsReported = started != 0, zipped != 0, reported != 0
	t.IsReencodeAuth, t.IsReencoded, t.IsJoined = reencodeAuth != 0, reencoded != 0, joined != 0
	t.IsTimestamped, t.IsUploadAuth, t.IsPublished = timestamped != 0, uploadAuth != 0, published != 0
	return t, true, nil
}

func (s *Store) UpsertPublishTask(ctx context.Context, task clonechat.PublishTask) error {
	return s.writePublishTask(ctx, task)
}

// AdvancePublishStage sets current_step and its corresponding latch
// together, atomically: a latch is visible only once the whole row commit
// succeeds.
func (s *Store) AdvancePublishStage(ctx context.Context, sourceFolderPath string, task clonechat.PublishTask) error {
	task.SourceFolderPath = sourceFolderPath
	return s.writePublishTask(ctx, task)
}

func (s *Store) writePublishTask(ctx context.Context, task clonechat.PublishTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: write_publish_task begin: %w", err)
	}
	defer tx.Rollback()

	if task.UpdatedAt == 0 {
		task.UpdatedAt = clonechat.NowUnix()
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = task.UpdatedAt
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO publish_tasks
		(source_folder_path, project_name, destination_chat_id, current_step, status,
		 is_started, is_zipped, is_reported, is_reencode_auth, is_reencoded, is_joined, is_timestamped, is_upload_auth, is_published,
		 last_uploaded_file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_folder_path) DO UPDATE SET
			project_name = excluded.project_name,
			destination_chat_id = excluded.destination_chat_id,
			current_step = excluded.current_step,
			status = excluded.status,
			is_started = excluded.is_started,
			is_zipped = excluded.is_zipped,
			is_reported = excluded.is_reported,
			is_reencode_auth = excluded.is_reencode_auth,
			is_reencoded = excluded.is_reencoded,
			is_joined = excluded.is_joined,
			is_timestamped = excluded.is_timestamped,
			is_upload_auth = excluded.is_upload_auth,
			is_published = excluded.is_published,
			last_uploaded_file = excluded.last_uploaded_file,
			updated_at = excluded.updated_at`,
		task.SourceFolderPath, task.ProjectName, task.DestinationChatID, string(task.CurrentStep), string(task.Status),
		boolToInt(task.IsStarted), boolToInt(task.IsZipped), boolToInt(task.IsReported),
		boolToInt(task.IsReencodeAuth), boolToInt(task.IsReencoded), boolToInt(task.IsJoined),
		boolToInt(task.IsTimestamped), boolToInt(task.IsUploadAuth), boolToInt(task.IsPublished),
		task.LastUploadedFile, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: write_publish_task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: write_publish_task commit: %w", err)
	}
	return nil
}

func (s *Store) DeletePublishTask(ctx context.Context, sourceFolderPath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM publish_tasks WHERE source_folder_path = ?`, sourceFolderPath)
	return err
}

var _ clonechat.Store = (*Store)(nil)

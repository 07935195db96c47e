// Package postgres implements clonechat.Store using PostgreSQL via
// pgx/v5 + pgxpool, for deployments that already run Postgres and would
// rather not add a second embedded database file alongside it. It
// implements the same Store interfaces as store/sqlite, so callers can
// swap backends without touching engine code.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/clonechat"
)

// Store implements clonechat.Store backed by an externally-owned
// *pgxpool.Pool. The caller creates and closes the pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store using an existing pgxpool.Pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// EnsureSchema creates all required tables. Safe to call multiple times.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_tasks (
			origin_chat_id BIGINT PRIMARY KEY,
			origin_chat_title TEXT NOT NULL DEFAULT '',
			destination_chat_id BIGINT NOT NULL DEFAULT 0,
			cloning_strategy TEXT NOT NULL DEFAULT '',
			last_synced_message_id BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS download_tasks (
			origin_chat_id BIGINT PRIMARY KEY,
			origin_chat_title TEXT NOT NULL DEFAULT '',
			last_downloaded_message_id BIGINT NOT NULL DEFAULT 0,
			total_videos INTEGER NOT NULL DEFAULT 0,
			downloaded_videos INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS publish_tasks (
			source_folder_path TEXT PRIMARY KEY,
			project_name TEXT NOT NULL DEFAULT '',
			destination_chat_id BIGINT NOT NULL DEFAULT 0,
			current_step TEXT NOT NULL DEFAULT 'init',
			status TEXT NOT NULL DEFAULT 'pending',
			is_started BOOLEAN NOT NULL DEFAULT FALSE,
			is_zipped BOOLEAN NOT NULL DEFAULT FALSE,
			is_reported BOOLEAN NOT NULL DEFAULT FALSE,
			is_reencode_auth BOOLEAN NOT NULL DEFAULT FALSE,
			is_reencoded BOOLEAN NOT NULL DEFAULT FALSE,
			is_joined BOOLEAN NOT NULL DEFAULT FALSE,
			is_timestamped BOOLEAN NOT NULL DEFAULT FALSE,
			is_upload_auth BOOLEAN NOT NULL DEFAULT FALSE,
			is_published BOOLEAN NOT NULL DEFAULT FALSE,
			last_uploaded_file TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure_schema: %w", err)
		}
	}
	return nil
}

// --- SyncTask ---

func (s *Store) GetSyncTask(ctx context.Context, originChatID int64) (clonechat.SyncTask, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT origin_chat_id, origin_chat_title, destination_chat_id,
		cloning_strategy, last_synced_message_id, status, created_at, updated_at
		FROM sync_tasks WHERE origin_chat_id = $1`, originChatID)

	var t clonechat.SyncTask
	var strategy, status string
	err := row.Scan(&t.OriginChatID, &t.OriginChatTitle, &t.DestinationChatID,
		&strategy, &t.LastSyncedMessageID, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return clonechat.SyncTask{}, false, nil
	}
	if err != nil {
		return clonechat.SyncTask{}, false, fmt.Errorf("postgres: get_sync_task: %w", err)
	}
	t.CloningStrategy = clonechat.CloningStrategy(strategy)
	t.Status = clonechat.TaskStatus(status)
	return t, true, nil
}

func (s *Store) UpsertSyncTask(ctx context.Context, task clonechat.SyncTask) error {
	if task.UpdatedAt == 0 {
		task.UpdatedAt = clonechat.NowUnix()
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = task.UpdatedAt
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO sync_tasks
		(origin_chat_id, origin_chat_title, destination_chat_id, cloning_strategy, last_synced_message_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (origin_chat_id) DO UPDATE SET
			origin_chat_title = EXCLUDED.origin_chat_title,
			destination_chat_id = EXCLUDED.destination_chat_id,
			cloning_strategy = EXCLUDED.cloning_strategy,
			last_synced_message_id = EXCLUDED.last_synced_message_id,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		task.OriginChatID, task.OriginChatTitle, task.DestinationChatID,
		string(task.CloningStrategy), task.LastSyncedMessageID, string(task.Status),
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert_sync_task: %w", err)
	}
	return nil
}

func (s *Store) AdvanceSyncCheckpoint(ctx context.Context, originChatID int64, newCheckpoint int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE sync_tasks SET last_synced_message_id = $1, updated_at = $2
		WHERE origin_chat_id = $3 AND last_synced_message_id < $1`,
		newCheckpoint, clonechat.NowUnix(), originChatID)
	if err != nil {
		return fmt.Errorf("postgres: advance_sync_checkpoint: %w", err)
	}
	return nil
}

func (s *Store) DeleteSyncTask(ctx context.Context, originChatID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sync_tasks WHERE origin_chat_id = $1`, originChatID)
	return err
}

// --- DownloadTask ---

func (s *Store) GetDownloadTask(ctx context.Context, originChatID int64) (clonechat.DownloadTask, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT origin_chat_id, origin_chat_title, last_downloaded_message_id,
		total_videos, downloaded_videos, status, created_at, updated_at
		FROM download_tasks WHERE origin_chat_id = $1`, originChatID)

	var t clonechat.DownloadTask
	var status string
	err := row.Scan(&t.OriginChatID, &t.OriginChatTitle, &t.LastDownloadedMessageID,
		&t.TotalVideos, &t.DownloadedVideos, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return clonechat.DownloadTask{}, false, nil
	}
	if err != nil {
		return clonechat.DownloadTask{}, false, fmt.Errorf("postgres: get_download_task: %w", err)
	}
	t.Status = clonechat.TaskStatus(status)
	return t, true, nil
}

func (s *Store) UpsertDownloadTask(ctx context.Context, task clonechat.DownloadTask) error {
	if task.UpdatedAt == 0 {
		task.UpdatedAt = clonechat.NowUnix()
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = task.UpdatedAt
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO download_tasks
		(origin_chat_id, origin_chat_title, last_downloaded_message_id, total_videos, downloaded_videos, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (origin_chat_id) DO UPDATE SET
			origin_chat_title = EXCLUDED.origin_chat_title,
			last_downloaded_message_id = EXCLUDED.last_downloaded_message_id,
			total_videos = EXCLUDED.total_videos,
			downloaded_videos = EXCLUDED.downloaded_videos,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		task.OriginChatID, task.OriginChatTitle, task.LastDownloadedMessageID,
		task.TotalVideos, task.DownloadedVideos, string(task.Status), task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert_download_task: %w", err)
	}
	return nil
}

func (s *Store) AdvanceDownloadCheckpoint(ctx context.Context, originChatID int64, newCheckpoint int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE download_tasks SET last_downloaded_message_id = $1, updated_at = $2
		WHERE origin_chat_id = $3 AND last_downloaded_message_id < $1`,
		newCheckpoint, clonechat.NowUnix(), originChatID)
	return err
}

func (s *Store) DeleteDownloadTask(ctx context.Context, originChatID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM download_tasks WHERE origin_chat_id = $1`, originChatID)
	return err
}

// --- PublishTask ---

func (s *Store) GetPublishTask(ctx context.Context, sourceFolderPath string) (clonechat.PublishTask, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT source_folder_path, project_name, destination_chat_id, current_step, status,
		is_started, is_zipped, is_reported, is_reencode_auth, is_reencoded, is_joined, is_timestamped, is_upload_auth, is_published,
		last_uploaded_file, created_at, updated_at
		FROM publish_tasks WHERE source_folder_path = $1`, sourceFolderPath)

	var t clonechat.PublishTask
	var step, status string
	err := row.Scan(&t.SourceFolderPath, &t.ProjectName, &t.DestinationChatID, &step, &status,
		&t.IsStarted, &t.IsZipped, &t.IsReported, &t.IsReencodeAuth, &t.IsReencoded, &t.IsJoined,
		&t.IsTimestamped, &t.IsUploadAuth, &t.IsPublished, &t.LastUploadedFile, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return clonechat.PublishTask{}, false, nil
	}
	if err != nil {
		return clonechat.PublishTask{}, false, fmt.Errorf("postgres: get_publish_task: %w", err)
	}
	t.CurrentStep = clonechat.PublishStep(step)
	t.Status = clonechat.TaskStatus(status)
	return t, true, nil
}

func (s *Store) UpsertPublishTask(ctx context.Context, task clonechat.PublishTask) error {
	return s.writePublishTask(ctx, task)
}

func (s *Store) AdvancePublishStage(ctx context.Context, sourceFolderPath string, task clonechat.PublishTask) error {
	task.SourceFolderPath = sourceFolderPath
	return s.writePublishTask(ctx, task)
}

func (s *Store) writePublishTask(ctx context.Context, task clonechat.PublishTask) error {
	if task.UpdatedAt == 0 {
		task.UpdatedAt = clonechat.NowUnix()
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = task.UpdatedAt
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO publish_tasks
		(source_folder_path, project_name, destination_chat_id, current_step, status,
		 is_started, is_zipped, is_reported, is_reencode_auth, is_reencoded, is_joined, is_timestamped, is_upload_auth, is_published,
		 last_uploaded_file, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (source_folder_path) DO UPDATE SET
			project_name = EXCLUDED.project_name,
			destination_chat_id = EXCLUDED.destination_chat_id,
			current_step = EXCLUDED.current_step,
			status = EXCLUDED.status,
			is_started = EXCLUDED.is_started,
			is_zipped = EXCLUDED.is_zipped,
			is_reported = EXCLUDED.is_reported,
			is_reencode_auth = EXCLUDED.is_reencode_auth,
			is_reencoded = EXCLUDED.is_reencoded,
			is_joined = EXCLUDED.is_joined,
			is_timestamped = EXCLUDED.is_timestamped,
			is_upload_auth = EXCLUDED.is_upload_auth,
			is_published = EXCLUDED.is_published,
			last_uploaded_file = EXCLUDED.last_uploaded_file,
			updated_at = EXCLUDED.updated_at`,
		task.SourceFolderPath, task.ProjectName, task.DestinationChatID, string(task.CurrentStep), string(task.Status),
		task.IsStarted, task.IsZipped, task.IsReported, task.IsReencodeAuth, task.IsReencoded, task.IsJoined,
		task.IsTimestamped, task.IsUploadAuth, task.IsPublished, task.LastUploadedFile, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: write_publish_task: %w", err)
	}
	return nil
}

func (s *Store) DeletePublishTask(ctx context.Context, sourceFolderPath string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM publish_tasks WHERE source_folder_path = $1`, sourceFolderPath)
	return err
}

var _ clonechat.Store = (*Store)(nil)

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nevindra/clonechat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clonechat.db")
	s := New(path)
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema call failed: %v", err)
	}
}

func TestSyncTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, found, err := s.GetSyncTask(ctx, 100); err != nil || found {
		t.Fatalf("expected no task, got found=%v err=%v", found, err)
	}

	task := clonechat.SyncTask{
		OriginChatID:    100,
		OriginChatTitle: "Origin",
		CloningStrategy: clonechat.StrategyForward,
		Status:          clonechat.StatusPending,
	}
	if err := s.UpsertSyncTask(ctx, task); err != nil {
		t.Fatalf("UpsertSyncTask: %v", err)
	}

	got, found, err := s.GetSyncTask(ctx, 100)
	if err != nil || !found {
		t.Fatalf("expected task found, got found=%v err=%v", found, err)
	}
	if got.CloningStrategy != clonechat.StrategyForward {
		t.Errorf("strategy = %v, want forward", got.CloningStrategy)
	}
}

func TestAdvanceSyncCheckpointMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task := clonechat.SyncTask{OriginChatID: 1, CloningStrategy: clonechat.StrategyForward}
	if err := s.UpsertSyncTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	if err := s.AdvanceSyncCheckpoint(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}
	got, _, _ := s.GetSyncTask(ctx, 1)
	if got.LastSyncedMessageID != 10 {
		t.Fatalf("checkpoint = %d, want 10", got.LastSyncedMessageID)
	}

	// A regression is silently refused, not applied.
	if err := s.AdvanceSyncCheckpoint(ctx, 1, 3); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.GetSyncTask(ctx, 1)
	if got.LastSyncedMessageID != 10 {
		t.Fatalf("checkpoint regressed to %d, want 10", got.LastSyncedMessageID)
	}
}

func TestPublishTaskLatchesPersist(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task := clonechat.PublishTask{
		SourceFolderPath: "/videos/project",
		ProjectName:      "project",
		CurrentStep:      clonechat.StepZip,
		IsStarted:        true,
		IsZipped:         true,
	}
	if err := s.UpsertPublishTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, found, err := s.GetPublishTask(ctx, "/videos/project")
	if err != nil || !found {
		t.Fatalf("expected task found, got found=%v err=%v", found, err)
	}
	if !got.IsStarted || !got.IsZipped || got.IsReported {
		t.Errorf("unexpected latch state: %+v", got.Latches())
	}
	if got.CurrentStep != clonechat.StepZip {
		t.Errorf("current_step = %v, want zip", got.CurrentStep)
	}
}

func TestDeleteSyncTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.UpsertSyncTask(ctx, clonechat.SyncTask{OriginChatID: 5}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSyncTask(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.GetSyncTask(ctx, 5); found {
		t.Fatal("expected task to be deleted")
	}
}

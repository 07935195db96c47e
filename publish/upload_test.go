package publish

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/internal/config"
	"github.com/nevindra/clonechat/platform/memtest"
	"github.com/nevindra/clonechat/store/sqlite"
)

func newTestPublishStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st := sqlite.New(filepath.Join(t.TempDir(), "clonechat.db"))
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return st
}

func TestRunUploadCreatesChannelAndSendsInOrder(t *testing.T) {
	root := t.TempDir()
	w := workspace{sourceRoot: filepath.Join(root, "source"), root: root}
	if err := os.MkdirAll(w.joined(), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"group-002.mp4", "group-001.mp4"} {
		if err := os.WriteFile(filepath.Join(w.joined(), name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(w.summary()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(w.summary(), []byte("summary body"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := memtest.New()
	store := newTestPublishStore(t)
	task := clonechat.PublishTask{SourceFolderPath: root, ProjectName: "demo"}
	if err := store.UpsertPublishTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	got, err := runUpload(context.Background(), slog.Default(), fake, store, w, config.Default(), task)
	if err != nil {
		t.Fatalf("runUpload: %v", err)
	}

	if got.DestinationChatID == 0 {
		t.Fatal("expected a destination channel to be created")
	}
	if len(fake.Sent) != 3 { // group-001, group-002, summary
		t.Fatalf("expected 3 sends (2 files + summary), got %d: %+v", len(fake.Sent), fake.Sent)
	}
	if fake.Sent[0].Path != filepath.Join(w.joined(), "group-001.mp4") {
		t.Errorf("expected group-001.mp4 uploaded first in plan order, got %+v", fake.Sent)
	}
	if fake.Sent[1].Path != filepath.Join(w.joined(), "group-002.mp4") {
		t.Errorf("expected group-002.mp4 uploaded second, got %+v", fake.Sent)
	}
	if got.LastUploadedFile != "group-002.mp4" {
		t.Errorf("LastUploadedFile = %q, want group-002.mp4", got.LastUploadedFile)
	}
	if len(fake.Pinned) != 1 {
		t.Errorf("expected the final summary to be pinned, got %+v", fake.Pinned)
	}
}

func TestRunUploadResumesAfterLastUploadedFile(t *testing.T) {
	root := t.TempDir()
	w := workspace{sourceRoot: filepath.Join(root, "source"), root: root}
	if err := os.MkdirAll(w.joined(), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"group-001.mp4", "group-002.mp4"} {
		if err := os.WriteFile(filepath.Join(w.joined(), name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	fake := memtest.New()
	store := newTestPublishStore(t)
	task := clonechat.PublishTask{
		SourceFolderPath:  root,
		ProjectName:       "demo",
		DestinationChatID: 555,
		LastUploadedFile:  "group-001.mp4",
	}
	if err := store.UpsertPublishTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	got, err := runUpload(context.Background(), slog.Default(), fake, store, w, config.Default(), task)
	if err != nil {
		t.Fatalf("runUpload: %v", err)
	}

	if len(fake.Sent) != 1 {
		t.Fatalf("expected only the not-yet-uploaded file to be sent, got %+v", fake.Sent)
	}
	if fake.Sent[0].Path != filepath.Join(w.joined(), "group-002.mp4") {
		t.Errorf("expected group-002.mp4 resumed, got %+v", fake.Sent)
	}
	if got.DestinationChatID != 555 {
		t.Errorf("expected the existing destination channel to be reused, got %d", got.DestinationChatID)
	}
}

func TestRunUploadReusesFixedChatWhenCreateNewChannelIsFalse(t *testing.T) {
	root := t.TempDir()
	w := workspace{sourceRoot: filepath.Join(root, "source"), root: root}
	if err := os.MkdirAll(w.joined(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(w.joined(), "group-001.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := memtest.New()
	fake.SeedChat(clonechat.Chat{ID: 42, Title: "Fixed Destination"})
	store := newTestPublishStore(t)
	task := clonechat.PublishTask{SourceFolderPath: root, ProjectName: "demo"}
	if err := store.UpsertPublishTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.CreateNewChannel = false
	cfg.MocChatID = 42

	got, err := runUpload(context.Background(), slog.Default(), fake, store, w, cfg, task)
	if err != nil {
		t.Fatalf("runUpload: %v", err)
	}
	if got.DestinationChatID != 42 {
		t.Errorf("DestinationChatID = %d, want the configured fixed chat 42", got.DestinationChatID)
	}
}

func TestRunUploadDescriptionsAutoAdaptUsesHashtagCaption(t *testing.T) {
	root := t.TempDir()
	w := workspace{sourceRoot: filepath.Join(root, "source"), root: root}
	if err := os.MkdirAll(w.joined(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(w.joined(), "group-001.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := memtest.New()
	store := newTestPublishStore(t)
	task := clonechat.PublishTask{SourceFolderPath: root, ProjectName: "demo", DestinationChatID: 10}
	if err := store.UpsertPublishTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.DescriptionsAutoAdapt = true
	cfg.HashtagIndex = "#ep"
	cfg.StartIndex = 1

	if _, err := runUpload(context.Background(), slog.Default(), fake, store, w, cfg, task); err != nil {
		t.Fatalf("runUpload: %v", err)
	}
	if len(fake.Sent) == 0 {
		t.Fatal("expected at least one send")
	}
	if fake.Sent[0].Caption != "#ep1" {
		t.Errorf("caption = %q, want #ep1", fake.Sent[0].Caption)
	}
}

package clonechat_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/platform/memtest"
	"github.com/nevindra/clonechat/store/sqlite"
)

func newTestDownloadEngine(t *testing.T, fake *memtest.Fake, opts ...clonechat.DownloadOption) (*clonechat.DownloadEngine, *sqlite.Store) {
	t.Helper()
	st := sqlite.New(filepath.Join(t.TempDir(), "clonechat.db"))
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	allOpts := append([]clonechat.DownloadOption{clonechat.WithOutputRoot(t.TempDir())}, opts...)
	return clonechat.NewDownloadEngine(fake, st, allOpts...), st
}

func TestDownloadSkipsNonVideoMessages(t *testing.T) {
	fake := memtest.New()
	fake.SeedChat(clonechat.Chat{ID: 100, Title: "Origin"})
	fake.DownloadPayload = []byte("video bytes")
	fake.SeedHistory(100,
		clonechat.Message{ID: 1, ChatID: 100, Kind: clonechat.KindText, Text: "hello"},
		clonechat.Message{ID: 2, ChatID: 100, Kind: clonechat.KindVideo, Media: &clonechat.Media{FileName: "clip.mp4"}},
	)

	engine, st := newTestDownloadEngine(t, fake)
	if err := engine.Download(context.Background(), 100, 0); err != nil {
		t.Fatalf("Download: %v", err)
	}

	task, found, err := st.GetDownloadTask(context.Background(), 100)
	if err != nil || !found {
		t.Fatalf("GetDownloadTask: found=%v err=%v", found, err)
	}
	if task.TotalVideos != 1 || task.DownloadedVideos != 1 {
		t.Errorf("TotalVideos=%d DownloadedVideos=%d, want 1/1", task.TotalVideos, task.DownloadedVideos)
	}
	if task.LastDownloadedMessageID != 2 {
		t.Errorf("checkpoint = %d, want 2", task.LastDownloadedMessageID)
	}
}

func TestDownloadLimitStopsEarly(t *testing.T) {
	fake := memtest.New()
	fake.SeedChat(clonechat.Chat{ID: 100, Title: "Origin"})
	fake.DownloadPayload = []byte("video bytes")
	fake.SeedHistory(100,
		clonechat.Message{ID: 1, ChatID: 100, Kind: clonechat.KindVideo, Media: &clonechat.Media{FileName: "a.mp4"}},
		clonechat.Message{ID: 2, ChatID: 100, Kind: clonechat.KindVideo, Media: &clonechat.Media{FileName: "b.mp4"}},
		clonechat.Message{ID: 3, ChatID: 100, Kind: clonechat.KindVideo, Media: &clonechat.Media{FileName: "c.mp4"}},
	)

	engine, st := newTestDownloadEngine(t, fake, clonechat.WithDownloadLimit(2))
	if err := engine.Download(context.Background(), 100, 0); err != nil {
		t.Fatalf("Download: %v", err)
	}

	task, _, err := st.GetDownloadTask(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if task.DownloadedVideos != 2 {
		t.Errorf("DownloadedVideos = %d, want 2 (limit)", task.DownloadedVideos)
	}
}

func TestDownloadOverrideStartMovesCheckpointDown(t *testing.T) {
	fake := memtest.New()
	fake.SeedChat(clonechat.Chat{ID: 100, Title: "Origin"})
	fake.DownloadPayload = []byte("video bytes")
	fake.SeedHistory(100, clonechat.Message{ID: 5, ChatID: 100, Kind: clonechat.KindVideo, Media: &clonechat.Media{FileName: "a.mp4"}})

	engine, st := newTestDownloadEngine(t, fake)
	if err := st.UpsertDownloadTask(context.Background(), clonechat.DownloadTask{
		OriginChatID:            100,
		OriginChatTitle:         "Origin",
		LastDownloadedMessageID: 10,
		Status:                  clonechat.StatusCompleted,
	}); err != nil {
		t.Fatal(err)
	}

	if err := engine.Download(context.Background(), 100, 4); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(fake.Sent) != 0 {
		t.Fatalf("download engine should not call SendMedia")
	}

	task, _, err := st.GetDownloadTask(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if task.LastDownloadedMessageID != 5 {
		t.Errorf("checkpoint = %d, want 5", task.LastDownloadedMessageID)
	}
}

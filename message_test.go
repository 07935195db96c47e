package clonechat_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/platform/memtest"
)

func TestProcessForwardStrategy(t *testing.T) {
	fake := memtest.New()
	msg := clonechat.Message{ID: 1, ChatID: 10, Kind: clonechat.KindText, Text: "hi"}

	res, err := clonechat.Process(context.Background(), nil, fake, clonechat.StrategyForward, msg, 20, clonechat.ProcessOptions{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(fake.Forwarded) != 1 || fake.Forwarded[0].MessageID != 1 {
		t.Errorf("unexpected forward record: %+v", fake.Forwarded)
	}
	if res.MessageID == 0 {
		t.Errorf("expected non-zero destination message id")
	}
}

func TestProcessForwardRestrictedReturnsErrRestricted(t *testing.T) {
	fake := memtest.New()
	fake.ForwardErr = errors.New("FORWARDS_RESTRICTED")
	msg := clonechat.Message{ID: 1, ChatID: 10, Kind: clonechat.KindText, Protected: true}

	_, err := clonechat.Process(context.Background(), nil, fake, clonechat.StrategyForward, msg, 20, clonechat.ProcessOptions{})
	var restricted *clonechat.ErrRestricted
	if !errors.As(err, &restricted) {
		t.Fatalf("expected ErrRestricted, got %v", err)
	}
}

func TestProcessUnsupportedKindSkipsEvenWithCaption(t *testing.T) {
	fake := memtest.New()
	msg := clonechat.Message{ID: 1, ChatID: 10, Kind: clonechat.KindUnsupported, Text: "a caption"}

	_, err := clonechat.Process(context.Background(), nil, fake, clonechat.StrategyDownloadUpload, msg, 20, clonechat.ProcessOptions{})
	var unsupported *clonechat.ErrUnsupported
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if len(fake.Sent) != 0 {
		t.Errorf("expected no send attempt, got %+v", fake.Sent)
	}
}

func TestProcessDownloadUploadVideo(t *testing.T) {
	fake := memtest.New()
	fake.DownloadPayload = []byte("video bytes")
	msg := clonechat.Message{
		ID:     2,
		ChatID: 10,
		Kind:   clonechat.KindVideo,
		Text:   "caption",
		Media:  &clonechat.Media{FileName: "clip.mp4"},
	}

	scratch := t.TempDir()
	res, err := clonechat.Process(context.Background(), nil, fake, clonechat.StrategyDownloadUpload, msg, 20, clonechat.ProcessOptions{
		ScratchRoot: scratch,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(fake.Sent) != 1 {
		t.Fatalf("expected one send_media call, got %d", len(fake.Sent))
	}
	if fake.Sent[0].Caption != "caption" {
		t.Errorf("caption = %q, want %q", fake.Sent[0].Caption, "caption")
	}
	if res.MessageID == 0 {
		t.Errorf("expected non-zero destination message id")
	}
	// Source file removed after a successful upload.
	if _, err := os.Stat(fake.Sent[0].Path); err == nil {
		t.Errorf("expected source file to be removed after upload")
	}
}

func TestProcessDownloadUploadZeroByteSkipsAfterRetry(t *testing.T) {
	fake := memtest.New()
	fake.DownloadPayload = nil // empty payload every call
	msg := clonechat.Message{ID: 3, ChatID: 10, Kind: clonechat.KindDocument, Media: &clonechat.Media{FileName: "doc.pdf"}}

	_, err := clonechat.Process(context.Background(), nil, fake, clonechat.StrategyDownloadUpload, msg, 20, clonechat.ProcessOptions{
		ScratchRoot: t.TempDir(),
	})
	var unsupported *clonechat.ErrUnsupported
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupported for persisted zero-byte payload, got %v", err)
	}
}

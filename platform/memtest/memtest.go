// Package memtest provides an in-memory fake implementing
// clonechat.Platform, for unit tests of the clone/download engines and the
// message processor without a real chat-platform session.
package memtest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/nevindra/clonechat"
)

// Fake is a minimal Platform double. Chats, history and pins are seeded via
// SeedChat, SeedHistory and SeedPinned; sent/forwarded/downloaded calls are
// recorded for assertions.
type Fake struct {
	mu sync.Mutex

	chats    map[int64]clonechat.Chat
	byName   map[string]int64 // username (without "@") -> chat id
	history  map[int64][]clonechat.Message // chatID -> messages ascending by ID
	pinned   map[int64][]clonechat.Message
	nextSent int64

	Sent       []SentRecord
	Forwarded  []ForwardRecord
	Pinned     []PinRecord
	TopicSends []TopicSendRecord

	// ForwardErr, when set, is returned by every ForwardMessage call
	// instead of succeeding — used to exercise the ErrRestricted downgrade.
	ForwardErr error

	// DownloadPayload is written to destPath by DownloadMedia when non-nil;
	// an empty payload exercises the zero-byte retry path.
	DownloadPayload []byte
}

type SentRecord struct {
	ChatID  int64
	Caption string
	Path    string
}

type ForwardRecord struct {
	FromChatID, ToChatID, MessageID int64
}

type PinRecord struct {
	ChatID, MessageID int64
}

type TopicSendRecord struct {
	ChatID, TopicID int64
	Text            string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		chats:   make(map[int64]clonechat.Chat),
		byName:  make(map[string]int64),
		history: make(map[int64][]clonechat.Message),
		pinned:  make(map[int64][]clonechat.Message),
	}
}

// SeedChat registers a resolvable chat. If c.Username is set, it also
// becomes resolvable by ResolveUsername.
func (f *Fake) SeedChat(c clonechat.Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[c.ID] = c
	if c.Username != "" {
		f.byName[c.Username] = c.ID
	}
}

// SeedHistory appends messages to chatID's history, kept sorted by ID.
func (f *Fake) SeedHistory(chatID int64, msgs ...clonechat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[chatID] = append(f.history[chatID], msgs...)
	sort.Slice(f.history[chatID], func(i, j int) bool {
		return f.history[chatID][i].ID < f.history[chatID][j].ID
	})
}

// SeedPinned registers chatID's pinned messages in the given (arbitrary)
// order, to exercise the Clone Engine's re-sort.
func (f *Fake) SeedPinned(chatID int64, msgs ...clonechat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned[chatID] = msgs
}

func (f *Fake) ResolveIdentifier(ctx context.Context, id int64) (clonechat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return clonechat.Chat{}, &clonechat.ErrPermanent{Op: "resolve_identifier", Err: fmt.Errorf("unknown chat %d", id)}
	}
	return c, nil
}

func (f *Fake) IterateHistory(ctx context.Context, chatID int64, afterID int64) (<-chan clonechat.Message, <-chan error) {
	out := make(chan clonechat.Message)
	errc := make(chan error, 1)

	f.mu.Lock()
	all := append([]clonechat.Message(nil), f.history[chatID]...)
	f.mu.Unlock()

	go func() {
		defer close(out)
		for _, m := range all {
			if m.ID <= afterID {
				continue
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errc
}

func (f *Fake) ResolveUsername(ctx context.Context, username string) (clonechat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[username]
	if !ok {
		return clonechat.Chat{}, &clonechat.ErrPermanent{Op: "resolve_username", Err: fmt.Errorf("unknown handle %q", username)}
	}
	return f.chats[id], nil
}

func (f *Fake) GetPinned(ctx context.Context, chatID int64) ([]clonechat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]clonechat.Message(nil), f.pinned[chatID]...), nil
}

func (f *Fake) PinMessage(ctx context.Context, chatID int64, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pinned = append(f.Pinned, PinRecord{ChatID: chatID, MessageID: messageID})
	return nil
}

func (f *Fake) SendText(ctx context.Context, chatID int64, text string) (clonechat.SendResult, error) {
	return f.recordSend(chatID, text, "")
}

func (f *Fake) SendTopicText(ctx context.Context, chatID int64, topicID int64, text string) (clonechat.SendResult, error) {
	f.mu.Lock()
	f.TopicSends = append(f.TopicSends, TopicSendRecord{ChatID: chatID, TopicID: topicID, Text: text})
	f.mu.Unlock()
	return f.recordSend(chatID, text, "")
}

func (f *Fake) SendMedia(ctx context.Context, chatID int64, m clonechat.Media, caption string, path string) (clonechat.SendResult, error) {
	return f.recordSend(chatID, caption, path)
}

func (f *Fake) recordSend(chatID int64, caption, path string) (clonechat.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSent++
	f.Sent = append(f.Sent, SentRecord{ChatID: chatID, Caption: caption, Path: path})
	return clonechat.SendResult{MessageID: f.nextSent}, nil
}

func (f *Fake) ForwardMessage(ctx context.Context, fromChatID, toChatID int64, messageID int64) (clonechat.SendResult, error) {
	if f.ForwardErr != nil {
		return clonechat.SendResult{}, f.ForwardErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSent++
	f.Forwarded = append(f.Forwarded, ForwardRecord{FromChatID: fromChatID, ToChatID: toChatID, MessageID: messageID})
	return clonechat.SendResult{MessageID: f.nextSent}, nil
}

func (f *Fake) DownloadMedia(ctx context.Context, chatID int64, messageID int64, destPath string) error {
	if err := os.MkdirAll(dirOf(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, f.DownloadPayload, 0o644)
}

func (f *Fake) CreateChannel(ctx context.Context, title string) (clonechat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := int64(-1000000) - int64(len(f.chats))
	c := clonechat.Chat{ID: id, Title: title}
	f.chats[id] = c
	return c, nil
}

func (f *Fake) SetDescription(ctx context.Context, chatID int64, description string) error {
	return nil
}

func (f *Fake) LeaveChat(ctx context.Context, chatID int64) error {
	return nil
}

func (f *Fake) ListDialogs(ctx context.Context) ([]clonechat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]clonechat.Chat, 0, len(f.chats))
	for _, c := range f.chats {
		out = append(out, c)
	}
	return out, nil
}

func (f *Fake) ListForumTopics(ctx context.Context, chatID int64) ([]string, error) {
	return nil, nil
}

func (f *Fake) InviteLink(ctx context.Context, chatID int64) (string, error) {
	return fmt.Sprintf("https://t.me/c/%d", chatID), nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

var _ clonechat.Platform = (*Fake)(nil)

package clonechat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/platform/memtest"
)

func TestResolvePlainInteger(t *testing.T) {
	got, err := clonechat.Resolve(context.Background(), memtest.New(), "-1001234567890")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ChatID != -1001234567890 {
		t.Errorf("ChatID = %d, want -1001234567890", got.ChatID)
	}
	if got.MessageID != 0 {
		t.Errorf("MessageID = %d, want 0", got.MessageID)
	}
}

func TestResolvePrivateLink(t *testing.T) {
	got, err := clonechat.Resolve(context.Background(), memtest.New(), "https://t.me/c/1234567890/42")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ChatID != -1001234567890 {
		t.Errorf("ChatID = %d, want -1001234567890", got.ChatID)
	}
	if got.MessageID != 42 {
		t.Errorf("MessageID = %d, want 42", got.MessageID)
	}
}

func TestResolvePublicLink(t *testing.T) {
	fake := memtest.New()
	fake.SeedChat(clonechat.Chat{ID: 555, Title: "Some Channel", Username: "somechannel"})

	resolved, err := clonechat.Resolve(context.Background(), fake, "https://t.me/somechannel/7")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.ChatID != 555 {
		t.Errorf("ChatID = %d, want 555", resolved.ChatID)
	}
	if resolved.MessageID != 7 {
		t.Errorf("MessageID = %d, want 7", resolved.MessageID)
	}
}

func TestResolveAtHandle(t *testing.T) {
	fake := memtest.New()
	fake.SeedChat(clonechat.Chat{ID: 555, Title: "Some Channel", Username: "somechannel"})

	resolved, err := clonechat.Resolve(context.Background(), fake, "@somechannel")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.ChatID != 555 {
		t.Errorf("ChatID = %d, want 555", resolved.ChatID)
	}
}

func TestResolveEmptyInputUnresolvable(t *testing.T) {
	_, err := clonechat.Resolve(context.Background(), memtest.New(), "   ")
	var unresolvable *clonechat.ErrUnresolvable
	if !errors.As(err, &unresolvable) {
		t.Fatalf("expected ErrUnresolvable, got %v", err)
	}
}

func TestResolvedIdentifierCanonicalFormRoundTrips(t *testing.T) {
	fake := memtest.New()
	fake.SeedChat(clonechat.Chat{ID: 555, Title: "Some Channel", Username: "somechannel"})

	inputs := []string{
		"-1009876543210",
		"https://t.me/c/1234567890/42",
		"https://t.me/somechannel/7",
	}
	for _, input := range inputs {
		first, err := clonechat.Resolve(context.Background(), fake, input)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", input, err)
		}
		again, err := clonechat.Resolve(context.Background(), fake, first.CanonicalForm())
		if err != nil {
			t.Fatalf("Resolve(CanonicalForm of %q): %v", input, err)
		}
		if again != first {
			t.Errorf("%q: round-trip gave %+v, want %+v", input, again, first)
		}
	}
}

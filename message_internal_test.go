package clonechat

import (
	"strings"
	"testing"
)

func TestTruncateCaptionRespectsBoundary(t *testing.T) {
	long := strings.Repeat("a", maxCaptionRunes+50)
	got := TruncateCaption(long)
	runes := []rune(got)
	if len(runes) != maxCaptionRunes {
		t.Fatalf("truncated length = %d, want %d", len(runes), maxCaptionRunes)
	}
	if runes[len(runes)-1] != []rune(ellipsis)[0] {
		t.Errorf("expected trailing ellipsis marker, got %q", got)
	}
}

func TestTruncateCaptionUnderBoundaryUnchanged(t *testing.T) {
	short := "hello world"
	if got := TruncateCaption(short); got != short {
		t.Errorf("TruncateCaption(%q) = %q, want unchanged", short, got)
	}
}

func TestTruncatePathComponentBoundsLength(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := truncatePathComponent(long, 200)
	if len([]rune(got)) != 200 {
		t.Errorf("truncated length = %d, want 200", len([]rune(got)))
	}
}

func TestTruncatePathComponentDisabledWhenZero(t *testing.T) {
	long := strings.Repeat("x", 300)
	if got := truncatePathComponent(long, 0); got != long {
		t.Errorf("expected unchanged string when maxRunes <= 0")
	}
}

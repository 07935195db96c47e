package clonechat

import (
	"context"
	"strconv"
	"strings"
)

// ResolvedIdentifier is the output of the Identifier Resolver: a canonical
// chat id plus an optional message id extracted from a deep link.
type ResolvedIdentifier struct {
	ChatID    int64
	MessageID int64 // 0 if the input carried no message component
}

// ErrUnresolvable means the input could not even be parsed locally; no
// round-trip was attempted. It is distinct from a round-trip failure
// returned by a Platform lookup such as ResolveUsername (a "no-access"
// case).
type ErrUnresolvable struct {
	Input string
}

func (e *ErrUnresolvable) Error() string {
	return "unresolvable identifier: " + e.Input
}

// Resolve maps a free-form user-supplied string to a canonical chat id,
// trying in order: plain integer, the "<chat_id>/<msg_id>" pair
// CanonicalForm emits, "@handle", "t.me/c/<id>/<msg>" private link,
// "t.me/<name>/<msg>" public link, and finally bare handle.
func Resolve(ctx context.Context, p Platform, input string) (ResolvedIdentifier, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return ResolvedIdentifier{}, &ErrUnresolvable{Input: input}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ResolvedIdentifier{ChatID: n}, nil
	}
	if id, ok := parseCanonicalPair(s); ok {
		return id, nil
	}

	if strings.HasPrefix(s, "@") {
		handle := strings.TrimPrefix(s, "@")
		return resolveHandle(ctx, p, handle, 0)
	}

	if path, ok := stripTMePrefix(s); ok {
		if rest, ok := cutPrefix(path, "c/"); ok {
			return resolvePrivateLink(ctx, p, rest)
		}
		return resolvePublicLink(ctx, p, path)
	}

	return resolveHandle(ctx, p, s, 0)
}

func stripTMePrefix(s string) (string, bool) {
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if rest, ok := cutPrefix(s, prefix); ok {
			return strings.TrimPrefix(rest, "/"), true
		}
	}
	return "", false
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return strings.TrimPrefix(s, prefix), true
	}
	return "", false
}

// resolvePrivateLink parses "<internal_id>[/<msg_id>]" from a t.me/c/ link
// and recovers the "-100<id>" canonical supergroup/channel id form.
func resolvePrivateLink(ctx context.Context, p Platform, rest string) (ResolvedIdentifier, error) {
	parts := strings.SplitN(rest, "/", 2)
	internal, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ResolvedIdentifier{}, &ErrUnresolvable{Input: rest}
	}
	chatID := -(1000000000000 + internal)

	var msgID int64
	if len(parts) == 2 {
		msgID, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return ResolvedIdentifier{ChatID: chatID, MessageID: msgID}, nil
}

// resolvePublicLink parses "<name>[/<msg_id>]" from a public t.me link.
func resolvePublicLink(ctx context.Context, p Platform, rest string) (ResolvedIdentifier, error) {
	parts := strings.SplitN(rest, "/", 2)
	name := parts[0]
	if name == "" {
		return ResolvedIdentifier{}, &ErrUnresolvable{Input: rest}
	}
	var msgID int64
	if len(parts) == 2 {
		msgID, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return resolveHandle(ctx, p, name, msgID)
}

func resolveHandle(ctx context.Context, p Platform, handle string, msgID int64) (ResolvedIdentifier, error) {
	if handle == "" {
		return ResolvedIdentifier{}, &ErrUnresolvable{Input: handle}
	}
	// Handles require a round-trip: there is no local mapping from a
	// username/name to a numeric id.
	chat, err := p.ResolveUsername(ctx, handle)
	if err != nil {
		return ResolvedIdentifier{}, err
	}
	return ResolvedIdentifier{ChatID: chat.ID, MessageID: msgID}, nil
}

// parseCanonicalPair parses the "<chat_id>/<msg_id>" form CanonicalForm
// emits for identifiers carrying a message component.
func parseCanonicalPair(s string) (ResolvedIdentifier, bool) {
	chat, msg, ok := strings.Cut(s, "/")
	if !ok {
		return ResolvedIdentifier{}, false
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return ResolvedIdentifier{}, false
	}
	msgID, err := strconv.ParseInt(msg, 10, 64)
	if err != nil {
		return ResolvedIdentifier{}, false
	}
	return ResolvedIdentifier{ChatID: chatID, MessageID: msgID}, true
}

// CanonicalForm returns the string form Resolve would need to reproduce
// the same ResolvedIdentifier: resolving it again must yield an identical
// result, message id included.
func (r ResolvedIdentifier) CanonicalForm() string {
	if r.MessageID != 0 {
		return strconv.FormatInt(r.ChatID, 10) + "/" + strconv.FormatInt(r.MessageID, 10)
	}
	return strconv.FormatInt(r.ChatID, 10)
}

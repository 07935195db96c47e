package clonechat

import (
	"fmt"
	"os"
)

// DeepLink returns the first-message deep link for a destination chat,
// https://t.me/c/<internal>/1, where <internal> is the id with the
// platform's -100 channel prefix stripped.
func DeepLink(chatID int64) string {
	return fmt.Sprintf("https://t.me/c/%d/1", internalChatID(chatID))
}

// internalChatID recovers the bare internal id from the canonical
// -100<internal> supergroup/channel form; ids outside that range pass
// through unchanged.
func internalChatID(chatID int64) int64 {
	if chatID < -1000000000000 {
		return -chatID - 1000000000000
	}
	return chatID
}

// AppendLinkRecord appends exactly two lines to the link file: the origin
// title, then the clone's first-message deep link. When inviteLink is
// non-empty (the REGISTER_INVITE_LINK setting), it is appended beside the
// deep link on the same line, keeping the two-lines-per-record contract.
// The file is opened O_APPEND so no existing line is ever rewritten or
// deleted.
func AppendLinkRecord(path string, originTitle string, destChatID int64, inviteLink string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &ErrPermanent{Op: "open_link_file", Err: err}
	}
	defer f.Close()

	line := DeepLink(destChatID)
	if inviteLink != "" {
		line += " " + inviteLink
	}
	if _, err := fmt.Fprintf(f, "%s\n%s\n", originTitle, line); err != nil {
		return &ErrPermanent{Op: "append_link_file", Err: err}
	}
	return nil
}

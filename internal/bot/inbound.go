package bot

import (
	"fmt"
	"strings"

	"github.com/hurttlocker/eventbot/internal/connect"
	"github.com/hurttlocker/eventbot/internal/event"
	"github.com/hurttlocker/eventbot/internal/ingest"
)

// PhotoMarker is appended to forwarded text when the post carried an image.
const PhotoMarker = "\n[이미지 포함]"

// SourceURL derives the record identity link of a message. Channel forwards
// get their public t.me link; other forwards get the private-channel
// sentinel; plain messages use the first URL in their text.
func SourceURL(msg *connect.Message) string {
	if msg.IsForward() {
		chat, id := msg.OriginChat()
		if chat == nil || strings.TrimSpace(chat.Username) == "" {
			return event.PrivateChannel
		}
		return fmt.Sprintf("https://t.me/%s/%d", strings.TrimSpace(chat.Username), id)
	}
	if u := event.FirstURL(messageText(msg)); u != "" {
		return u
	}
	return event.NoURL
}

// Inbound converts a chat message into pipeline input.
func Inbound(updateID int64, msg *connect.Message) ingest.Inbound {
	text := messageText(msg)
	forwarded := msg.IsForward()
	if forwarded && len(msg.Photo) > 0 {
		text += PhotoMarker
	}
	return ingest.Inbound{
		UpdateID:  updateID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      text,
		SourceURL: SourceURL(msg),
		Forwarded: forwarded,
	}
}

// accepts reports whether the bot analyzes msg: every forward, and plain
// text that is not a command.
func accepts(msg *connect.Message) bool {
	if msg.IsForward() {
		return true
	}
	text := strings.TrimSpace(msg.Text)
	return text != "" && !strings.HasPrefix(text, "/")
}

// command returns the bot command in msg ("start" for "/start@eventbot"), or "".
func command(msg *connect.Message) string {
	if msg.IsForward() {
		return ""
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0][1:]
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

func messageText(msg *connect.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

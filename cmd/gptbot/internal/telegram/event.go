// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MediaKind is the type of a media attachment.
type MediaKind string

const (
	Voice     MediaKind = "voice"
	Audio     MediaKind = "audio"
	Video     MediaKind = "video"
	VideoNote MediaKind = "video_note"
	Document  MediaKind = "document"
)

// Media is an attachment that can be transcribed.
type Media struct {
	Kind     MediaKind
	FileID   string
	FileSize int64
	MimeType string
	// Duration in seconds, if known.
	Duration int
}

// Event is an inbound message.
type Event struct {
	UpdateID  int
	UserID    int64
	FirstName string
	Username  string
	ChatID    int64
	MessageID int
	// Text is the message text. Captions of media are not included.
	Text    string
	HasText bool
	// Edited is true for edits of earlier messages.
	Edited bool
	// Command is the command name without the slash and the bot username,
	// like "speed", or empty if the message isn't a command.
	Command string
	// Args holds the text after the command.
	Args  string
	Media *Media
}

// IsCommand reports whether the event carries a bot command.
func (e Event) IsCommand() bool { return e.Command != "" }

// EventFromUpdate extracts an Event from u. It returns false for updates
// without a message from a user.
func EventFromUpdate(u tgbotapi.Update) (Event, bool) {
	msg, edited := u.Message, false
	if msg == nil {
		msg, edited = u.EditedMessage, true
	}
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return Event{}, false
	}

	ev := Event{
		UpdateID:  u.UpdateID,
		UserID:    msg.From.ID,
		FirstName: msg.From.FirstName,
		Username:  msg.From.UserName,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		HasText:   msg.Text != "",
		Edited:    edited,
		Media:     mediaOf(msg),
	}
	if msg.IsCommand() {
		ev.Command = msg.Command()
		ev.Args = strings.TrimSpace(msg.CommandArguments())
	} else if cmd, args, ok := parseCommand(msg.Text); ok {
		// Commands typed without entities, like in some edits.
		ev.Command, ev.Args = cmd, args
	}
	return ev, true
}

func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	word, _, _ = strings.Cut(word, "@")
	if word == "" || strings.ContainsAny(word, "\n\t/") {
		return "", "", false
	}
	return word, strings.TrimSpace(rest), true
}

func mediaOf(msg *tgbotapi.Message) *Media {
	switch {
	case msg.Voice != nil:
		return &Media{Kind: Voice, FileID: msg.Voice.FileID, FileSize: int64(msg.Voice.FileSize), MimeType: msg.Voice.MimeType, Duration: msg.Voice.Duration}
	case msg.Audio != nil:
		return &Media{Kind: Audio, FileID: msg.Audio.FileID, FileSize: int64(msg.Audio.FileSize), MimeType: msg.Audio.MimeType, Duration: msg.Audio.Duration}
	case msg.Video != nil:
		return &Media{Kind: Video, FileID: msg.Video.FileID, FileSize: int64(msg.Video.FileSize), MimeType: msg.Video.MimeType, Duration: msg.Video.Duration}
	case msg.VideoNote != nil:
		return &Media{Kind: VideoNote, FileID: msg.VideoNote.FileID, FileSize: int64(msg.VideoNote.FileSize), MimeType: "video/mp4", Duration: msg.VideoNote.Duration}
	case msg.Document != nil && isAudioOrVideo(msg.Document.MimeType):
		return &Media{Kind: Document, FileID: msg.Document.FileID, FileSize: int64(msg.Document.FileSize), MimeType: msg.Document.MimeType}
	}
	return nil
}

func isAudioOrVideo(mime string) bool {
	return strings.HasPrefix(mime, "audio/") || strings.HasPrefix(mime, "video/")
}

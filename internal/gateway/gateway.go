// Package gateway defines the small chat-platform surface the bot consumes.
// The Discord implementation lives in internal/discord; everything else in
// the repository depends only on these types.
package gateway

import (
	"context"
	"regexp"
)

// Message is an inbound or stored chat message.
type Message struct {
	ID          string
	ChannelID   string
	AuthorID    string
	Content     string
	Attachments []Attachment
}

// Attachment is a file attached to a message.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
}

// Reaction is an emoji added to a message.
type Reaction struct {
	MessageID string
	ChannelID string
	UserID    string
	Emoji     string
}

// Channel is the platform API the bot needs: message CRUD on channels,
// reactions, and a permission probe. Implementations must return history
// newest-first.
type Channel interface {
	// History returns up to limit messages from the channel, newest first.
	History(ctx context.Context, channelID string, limit int) ([]Message, error)
	Send(ctx context.Context, channelID, content string) (Message, error)
	Edit(ctx context.Context, channelID, messageID, content string) error
	Delete(ctx context.Context, channelID, messageID string) error
	React(ctx context.Context, channelID, messageID, emoji string) error

	// BotID is the service account's own user ID, used to filter authorship.
	BotID() string

	// IsAdmin reports whether the user holds administrator permission in the
	// channel's guild.
	IsAdmin(ctx context.Context, channelID, userID string) (bool, error)
}

var mentionRe = regexp.MustCompile(`<@!?(\d+)>`)

// ParseMentions extracts mentioned user IDs from message content in order of
// appearance. Duplicates are kept; callers that need distinct targets
// deduplicate themselves.
func ParseMentions(content string) []string {
	matches := mentionRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

// Mention renders a user ID as a platform mention.
func Mention(userID string) string {
	return "<@" + userID + ">"
}

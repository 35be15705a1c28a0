// Package discord adapts the discordgo session to the gateway interfaces.
// Everything Discord-specific stays here.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/slipkeeper/slipkeeper/internal/gateway"
)

const historyPageSize = 100

// Adapter implements gateway.Channel on top of a discordgo session and pumps
// inbound events to registered handlers.
type Adapter struct {
	session *discordgo.Session
	botID   string
	log     *slog.Logger
}

var _ gateway.Channel = (*Adapter)(nil)

func New(token string, log *slog.Logger) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildMessageReactions |
		discordgo.IntentMessageContent
	return &Adapter{session: session, log: log}, nil
}

// Open connects to the gateway and records the bot's own user ID.
func (a *Adapter) Open() error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	a.botID = a.session.State.User.ID
	a.log.Info("discord gateway connected", "user", a.session.State.User.Username)
	return nil
}

func (a *Adapter) Close() error {
	return a.session.Close()
}

// OnMessage registers a handler for guild message creation. discordgo runs
// each event handler on its own goroutine, which is what lets an admin
// command proceed while a payer's allocation window is open.
func (a *Adapter) OnMessage(h func(ctx context.Context, msg gateway.Message)) {
	a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		h(context.Background(), convertMessage(m.Message))
	})
}

// OnReaction registers a handler for reaction adds.
func (a *Adapter) OnReaction(h func(ctx context.Context, r gateway.Reaction)) {
	a.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		h(context.Background(), gateway.Reaction{
			MessageID: r.MessageID,
			ChannelID: r.ChannelID,
			UserID:    r.UserID,
			Emoji:     r.Emoji.Name,
		})
	})
}

// --- gateway.Channel ---

func (a *Adapter) History(ctx context.Context, channelID string, limit int) ([]gateway.Message, error) {
	var out []gateway.Message
	beforeID := ""
	for len(out) < limit {
		page := historyPageSize
		if remaining := limit - len(out); remaining < page {
			page = remaining
		}
		msgs, err := a.session.ChannelMessages(channelID, page, beforeID, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("fetch channel history: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			out = append(out, convertMessage(m))
		}
		beforeID = msgs[len(msgs)-1].ID
	}
	return out, nil
}

func (a *Adapter) Send(ctx context.Context, channelID, content string) (gateway.Message, error) {
	m, err := a.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return gateway.Message{}, err
	}
	return convertMessage(m), nil
}

func (a *Adapter) Edit(ctx context.Context, channelID, messageID, content string) error {
	_, err := a.session.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
	return err
}

func (a *Adapter) Delete(ctx context.Context, channelID, messageID string) error {
	return a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func (a *Adapter) React(ctx context.Context, channelID, messageID, emoji string) error {
	return a.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}

func (a *Adapter) BotID() string { return a.botID }

func (a *Adapter) IsAdmin(ctx context.Context, channelID, userID string) (bool, error) {
	perms, err := a.session.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("resolve permissions: %w", err)
	}
	return perms&discordgo.PermissionAdministrator != 0, nil
}

func convertMessage(m *discordgo.Message) gateway.Message {
	msg := gateway.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, gateway.Attachment{
			URL:         att.URL,
			Filename:    att.Filename,
			ContentType: att.ContentType,
		})
	}
	return msg
}

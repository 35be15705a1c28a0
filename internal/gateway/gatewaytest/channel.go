// Package gatewaytest provides an in-memory gateway.Channel for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/slipkeeper/slipkeeper/internal/gateway"
)

// FakeChannel is an in-memory chat platform. Messages are stored oldest-first
// per channel; History returns them newest-first like the real gateway.
// Error hooks let tests inject per-call failures.
type FakeChannel struct {
	mu        sync.Mutex
	botID     string
	nextID    int
	messages  map[string][]gateway.Message
	reactions []gateway.Reaction
	admins    map[string]bool

	SendHook   func(channelID, content string) error
	EditHook   func(messageID string) error
	DeleteHook func(messageID string) error
}

func NewFakeChannel(botID string) *FakeChannel {
	return &FakeChannel{
		botID:    botID,
		messages: make(map[string][]gateway.Message),
		admins:   make(map[string]bool),
	}
}

// Seed inserts a message authored by authorID and returns it.
func (f *FakeChannel) Seed(channelID, authorID, content string) gateway.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.append(channelID, authorID, content)
}

// MakeAdmin marks a user as administrator for IsAdmin checks.
func (f *FakeChannel) MakeAdmin(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins[userID] = true
}

// MessagesIn returns a copy of the channel's messages, oldest first.
func (f *FakeChannel) MessagesIn(channelID string) []gateway.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Message, len(f.messages[channelID]))
	copy(out, f.messages[channelID])
	return out
}

// Reactions returns every reaction the bot added.
func (f *FakeChannel) Reactions() []gateway.Reaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Reaction, len(f.reactions))
	copy(out, f.reactions)
	return out
}

func (f *FakeChannel) append(channelID, authorID, content string) gateway.Message {
	f.nextID++
	msg := gateway.Message{
		ID:        fmt.Sprintf("msg-%d", f.nextID),
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
	}
	f.messages[channelID] = append(f.messages[channelID], msg)
	return msg
}

// --- gateway.Channel ---

func (f *FakeChannel) History(_ context.Context, channelID string, limit int) ([]gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[channelID]
	var out []gateway.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (f *FakeChannel) Send(_ context.Context, channelID, content string) (gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendHook != nil {
		if err := f.SendHook(channelID, content); err != nil {
			return gateway.Message{}, err
		}
	}
	return f.append(channelID, f.botID, content), nil
}

func (f *FakeChannel) Edit(_ context.Context, channelID, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EditHook != nil {
		if err := f.EditHook(messageID); err != nil {
			return err
		}
	}
	msgs := f.messages[channelID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Content = content
			return nil
		}
	}
	return fmt.Errorf("edit: message %s not found in %s", messageID, channelID)
}

func (f *FakeChannel) Delete(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteHook != nil {
		if err := f.DeleteHook(messageID); err != nil {
			return err
		}
	}
	msgs := f.messages[channelID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			f.messages[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete: message %s not found in %s", messageID, channelID)
}

func (f *FakeChannel) React(_ context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, gateway.Reaction{
		MessageID: messageID,
		ChannelID: channelID,
		UserID:    f.botID,
		Emoji:     emoji,
	})
	return nil
}

func (f *FakeChannel) BotID() string { return f.botID }

func (f *FakeChannel) IsAdmin(_ context.Context, _ string, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[userID], nil
}

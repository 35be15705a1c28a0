package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slipkeeper/slipkeeper/internal/gateway"
)

// DefaultScanWindow bounds how far back the view scans the ledger channel. A
// ledger message older than the window is treated as absent; the periodic
// resync job re-renders it from the store, so the bound is a staleness limit
// on the view, not on balances.
const DefaultScanWindow = 200

// Snapshot is one decoded ledger message as found in the channel.
type Snapshot struct {
	MessageID string
	MemberID  string
	Credits   int
	Suffix    string
}

// View renders the credit store into the ledger channel: one service-authored
// message per member, text produced by the codec. Messages authored by anyone
// else, or not matching the codec grammar, are invisible to it.
type View struct {
	channel   gateway.Channel
	channelID string
	window    int
	log       *slog.Logger
}

func NewView(channel gateway.Channel, channelID string, log *slog.Logger) *View {
	if log == nil {
		log = slog.Default()
	}
	return &View{channel: channel, channelID: channelID, window: DefaultScanWindow, log: log}
}

// Find locates the member's ledger message within the scan window. Absence is
// not an error.
func (v *View) Find(ctx context.Context, memberID string) (Snapshot, bool, error) {
	snaps, err := v.scan(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}
	for _, s := range snaps {
		if s.MemberID == memberID {
			return s, true, nil
		}
	}
	return Snapshot{}, false, nil
}

// Apply makes the member's ledger message show the given balance, editing the
// existing message (suffix annotation lines preserved) or sending a new one.
func (v *View) Apply(ctx context.Context, memberID string, credits int) error {
	snap, found, err := v.Find(ctx, memberID)
	if err != nil {
		return fmt.Errorf("scan ledger channel: %w", err)
	}
	if found {
		text := Encode(memberID, credits, snap.Suffix)
		if err := v.channel.Edit(ctx, v.channelID, snap.MessageID, text); err != nil {
			return fmt.Errorf("edit ledger message: %w", err)
		}
		return nil
	}
	return v.Append(ctx, memberID, credits)
}

// Append always sends a fresh ledger message for the member.
func (v *View) Append(ctx context.Context, memberID string, credits int) error {
	if _, err := v.channel.Send(ctx, v.channelID, Encode(memberID, credits, "")); err != nil {
		return fmt.Errorf("send ledger message: %w", err)
	}
	return nil
}

// Remove deletes the member's ledger message if one is in the window.
func (v *View) Remove(ctx context.Context, memberID string) error {
	snap, found, err := v.Find(ctx, memberID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return v.channel.Delete(ctx, v.channelID, snap.MessageID)
}

// ListAll returns every ledger message in the scan window in scan order
// (newest first). Used by reconciliation and resync.
func (v *View) ListAll(ctx context.Context) ([]Snapshot, error) {
	return v.scan(ctx)
}

// DeleteByID removes a specific ledger message.
func (v *View) DeleteByID(ctx context.Context, messageID string) error {
	return v.channel.Delete(ctx, v.channelID, messageID)
}

func (v *View) scan(ctx context.Context) ([]Snapshot, error) {
	msgs, err := v.channel.History(ctx, v.channelID, v.window)
	if err != nil {
		return nil, err
	}
	botID := v.channel.BotID()
	var snaps []Snapshot
	for _, msg := range msgs {
		if msg.AuthorID != botID {
			continue
		}
		memberID, credits, suffix, ok := Decode(msg.Content)
		if !ok {
			// Bot-authored but not a ledger entry (announcements, replies).
			continue
		}
		snaps = append(snaps, Snapshot{
			MessageID: msg.ID,
			MemberID:  memberID,
			Credits:   credits,
			Suffix:    suffix,
		})
	}
	return snaps, nil
}

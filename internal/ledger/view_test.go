package ledger

import (
	"context"
	"strings"
	"testing"

	"github.com/slipkeeper/slipkeeper/internal/gateway/gatewaytest"
)

const testChannelID = "ledger-chan"

func newTestView(t *testing.T) (*View, *gatewaytest.FakeChannel) {
	t.Helper()
	ch := gatewaytest.NewFakeChannel("bot")
	return NewView(ch, testChannelID, nil), ch
}

// ---------------------------------------------------------------------------
// Find
// ---------------------------------------------------------------------------

func TestView_FindSkipsForeignAndMalformed(t *testing.T) {
	view, ch := newTestView(t)
	ctx := context.Background()

	// A member's message that looks like an entry but has the wrong author.
	ch.Seed(testChannelID, "impostor", Encode("42", 5, ""))
	// Bot-authored but not codec-shaped.
	ch.Seed(testChannelID, "bot", "monthly reset complete")
	// The real entry.
	ch.Seed(testChannelID, "bot", Encode("42", 2, ""))

	snap, found, err := view.Find(ctx, "42")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !found || snap.Credits != 2 {
		t.Fatalf("found=%v credits=%d, want the bot-authored entry with 2", found, snap.Credits)
	}

	if _, found, _ := view.Find(ctx, "no-such-member"); found {
		t.Fatal("found an entry for a member with none")
	}
}

// ---------------------------------------------------------------------------
// Apply: edit-or-create, suffix preservation
// ---------------------------------------------------------------------------

func TestView_ApplyCreatesThenEdits(t *testing.T) {
	view, ch := newTestView(t)
	ctx := context.Background()

	if err := view.Apply(ctx, "7", 1); err != nil {
		t.Fatalf("Apply (create): %v", err)
	}
	if n := len(ch.MessagesIn(testChannelID)); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}

	if err := view.Apply(ctx, "7", 3); err != nil {
		t.Fatalf("Apply (edit): %v", err)
	}
	msgs := ch.MessagesIn(testChannelID)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d after second apply, want 1 (edit, not append)", len(msgs))
	}
	if _, credits, _, _ := Decode(msgs[0].Content); credits != 3 {
		t.Fatalf("credits = %d, want 3", credits)
	}
}

func TestView_ApplyPreservesSuffix(t *testing.T) {
	view, ch := newTestView(t)
	ctx := context.Background()

	note := "joined via promo\nvip"
	ch.Seed(testChannelID, "bot", Encode("9", 2, note))

	if err := view.Apply(ctx, "9", 5); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	msgs := ch.MessagesIn(testChannelID)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if !strings.HasSuffix(msgs[0].Content, "\n"+note) {
		t.Fatalf("suffix lost on edit: %q", msgs[0].Content)
	}
}

// ---------------------------------------------------------------------------
// ListAll / Remove
// ---------------------------------------------------------------------------

func TestView_ListAllScanOrder(t *testing.T) {
	view, ch := newTestView(t)
	ctx := context.Background()

	ch.Seed(testChannelID, "bot", Encode("101", 1, ""))
	ch.Seed(testChannelID, "someone", "hello")
	ch.Seed(testChannelID, "bot", Encode("202", 4, ""))

	snaps, err := view.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("entries = %d, want 2", len(snaps))
	}
	// Scan order is newest first.
	if snaps[0].MemberID != "202" || snaps[1].MemberID != "101" {
		t.Fatalf("order = %s,%s, want 202,101", snaps[0].MemberID, snaps[1].MemberID)
	}
}

func TestView_Remove(t *testing.T) {
	view, ch := newTestView(t)
	ctx := context.Background()

	ch.Seed(testChannelID, "bot", Encode("101", 1, ""))
	keep := ch.Seed(testChannelID, "someone", "not an entry")

	if err := view.Remove(ctx, "101"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// Removing an absent member is not an error.
	if err := view.Remove(ctx, "101"); err != nil {
		t.Fatalf("Remove (absent): %v", err)
	}
	msgs := ch.MessagesIn(testChannelID)
	if len(msgs) != 1 || msgs[0].ID != keep.ID {
		t.Fatalf("foreign message must survive, got %v", msgs)
	}
}

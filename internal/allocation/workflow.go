// Package allocation drives the interactive "who gets the credits" exchange
// that follows a verified payment slip.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slipkeeper/slipkeeper/internal/gateway"
	"github.com/slipkeeper/slipkeeper/internal/ledger"
	"github.com/slipkeeper/slipkeeper/internal/slip"
)

// ErrPending is returned when a payer uploads a second slip while their
// previous allocation choice is still open. The second upload is refused
// rather than queued; the payer resolves or times out the first one.
var ErrPending = errors.New("allocation already pending for this payer")

// Ledger is the credit write path the workflow needs.
type Ledger interface {
	Grant(ctx context.Context, memberID string, periods int) (int, error)
}

// Messenger sends replies into the channel the exchange happens in.
type Messenger interface {
	Send(ctx context.Context, channelID, content string) (gateway.Message, error)
}

// Request is one open allocation choice. It lives only in memory for the
// duration of its window; a restart forfeits the wait (the credits were not
// yet assigned to anyone).
type Request struct {
	ID       uuid.UUID
	Payer    string
	Channel  string
	Periods  int
	Deadline time.Time

	timer *time.Timer
}

// Manager is the allocation state machine. Pending requests are keyed by
// (payer, channel); message and timer events feed the same resolution path,
// and each request resolves exactly once.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Request

	ledger    Ledger
	messenger Messenger
	window    time.Duration
	log       *slog.Logger
}

func NewManager(ledger Ledger, messenger Messenger, window time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		pending:   make(map[string]*Request),
		ledger:    ledger,
		messenger: messenger,
		window:    window,
		log:       log,
	}
}

// PeriodsFor converts a verified payment amount into credit periods: floor
// division by the unit price, minimum one.
func PeriodsFor(amount, unitPrice float64) int {
	periods := int(amount / unitPrice)
	if periods < 1 {
		periods = 1
	}
	return periods
}

func pendingKey(payer, channel string) string { return payer + "|" + channel }

// Start opens an allocation window for a verified payment: announces the
// verification, registers the pending request, and arms the deadline timer.
func (m *Manager) Start(ctx context.Context, payer, channelID string, v *slip.Verification, unitPrice float64) error {
	periods := PeriodsFor(v.Amount, unitPrice)
	key := pendingKey(payer, channelID)

	m.mu.Lock()
	if _, exists := m.pending[key]; exists {
		m.mu.Unlock()
		m.reply(ctx, channelID, fmt.Sprintf(
			"⚠️ %s you already have an allocation waiting for your choice — answer it (or let it time out) before uploading another slip.",
			gateway.Mention(payer)))
		return ErrPending
	}
	req := &Request{
		ID:       uuid.New(),
		Payer:    payer,
		Channel:  channelID,
		Periods:  periods,
		Deadline: time.Now().Add(m.window),
	}
	m.pending[key] = req
	req.timer = time.AfterFunc(m.window, func() { m.expire(key, req.ID) })
	m.mu.Unlock()

	m.reply(ctx, channelID, announcement(payer, v, periods, m.window))
	return nil
}

// HasPending reports whether the payer has an open request in the channel.
func (m *Manager) HasPending(payer, channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[pendingKey(payer, channelID)]
	return ok
}

// HandleMessage offers an inbound message to the state machine. It returns
// true when the message resolved a pending request; anything from a user
// without an open request is left for other handlers.
func (m *Manager) HandleMessage(ctx context.Context, msg gateway.Message) bool {
	// An attachment-bearing message is an upload, not an allocation choice.
	// The router owns uploads and refuses a second slip while a request is
	// pending.
	if len(msg.Attachments) > 0 {
		return false
	}

	key := pendingKey(msg.AuthorID, msg.ChannelID)

	m.mu.Lock()
	req, ok := m.pending[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, key)
	req.timer.Stop()
	m.mu.Unlock()

	m.resolve(ctx, req, msg)
	return true
}

var selfKeywords = map[string]bool{"me": true, "self": true, "myself": true}

func (m *Manager) resolve(ctx context.Context, req *Request, msg gateway.Message) {
	content := strings.ToLower(strings.TrimSpace(msg.Content))

	if selfKeywords[content] {
		m.grantFull(ctx, req, req.Payer, fmt.Sprintf("✅ Topped up %s — %d period(s).", gateway.Mention(req.Payer), req.Periods))
		return
	}

	targets := distinct(gateway.ParseMentions(msg.Content))
	switch {
	case len(targets) == 1:
		m.grantFull(ctx, req, targets[0], fmt.Sprintf(
			"✅ Topped up %s — %d period(s).\n🎁 From: %s",
			gateway.Mention(targets[0]), req.Periods, gateway.Mention(req.Payer)))

	case len(targets) > 1:
		m.grantSpread(ctx, req, targets)

	default:
		// No recognizable reference: deterministic fallback to the payer.
		m.grantFull(ctx, req, req.Payer, fmt.Sprintf(
			"⚠️ No member mention found — topped up %s instead (%d period(s)).",
			gateway.Mention(req.Payer), req.Periods))
	}
}

// expire fires on deadline. The request ID guards against a stale timer
// racing a message resolution followed by a new request under the same key.
func (m *Manager) expire(key string, id uuid.UUID) {
	m.mu.Lock()
	req, ok := m.pending[key]
	if !ok || req.ID != id {
		m.mu.Unlock()
		return
	}
	delete(m.pending, key)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m.grantFull(ctx, req, req.Payer, fmt.Sprintf(
		"⏰ Time's up — topped up %s instead (%d period(s)).",
		gateway.Mention(req.Payer), req.Periods))
}

const viewLagNote = "⚠️ The ledger channel could not be updated right now; it will catch up automatically."

// grantFull assigns every available period to one member.
func (m *Manager) grantFull(ctx context.Context, req *Request, target, successReply string) {
	if _, err := m.ledger.Grant(ctx, target, req.Periods); err != nil {
		// A view-only failure means the credits are already recorded; a
		// manual re-grant would double-credit, so the reply must not
		// suggest one.
		if errors.Is(err, ledger.ErrViewUpdate) {
			m.log.Warn("ledger channel lagging after grant", "target", target, "error", err)
			m.reply(ctx, req.Channel, successReply+"\n"+viewLagNote)
			return
		}
		m.log.Error("allocation grant failed", "payer", req.Payer, "target", target, "periods", req.Periods, "error", err)
		m.reply(ctx, req.Channel, fmt.Sprintf("❌ Could not credit %s — please ask an admin to run !verify manually.", gateway.Mention(target)))
		return
	}
	m.reply(ctx, req.Channel, successReply)
}

// grantSpread assigns one period each to the first periodsAvailable targets.
// Each target's grant stands or fails on its own.
func (m *Manager) grantSpread(ctx context.Context, req *Request, targets []string) {
	if len(targets) > req.Periods {
		targets = targets[:req.Periods]
	}
	var credited []string
	var failed []string
	var lagged bool
	for _, target := range targets {
		if _, err := m.ledger.Grant(ctx, target, 1); err != nil {
			if errors.Is(err, ledger.ErrViewUpdate) {
				// Credits recorded, channel render pending.
				m.log.Warn("ledger channel lagging after grant", "target", target, "error", err)
				credited = append(credited, gateway.Mention(target))
				lagged = true
				continue
			}
			m.log.Error("allocation grant failed", "payer", req.Payer, "target", target, "error", err)
			failed = append(failed, gateway.Mention(target))
			continue
		}
		credited = append(credited, gateway.Mention(target))
	}

	var b strings.Builder
	if len(credited) > 0 {
		fmt.Fprintf(&b, "✅ Topped up %s — 1 period each (%d of %d periods used).\n🎁 From: %s",
			strings.Join(credited, ", "), len(credited), req.Periods, gateway.Mention(req.Payer))
	}
	if len(failed) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "❌ Could not credit %s — please ask an admin to run !verify manually.", strings.Join(failed, ", "))
	}
	if lagged {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(viewLagNote)
	}
	m.reply(ctx, req.Channel, b.String())
}

func (m *Manager) reply(ctx context.Context, channelID, content string) {
	if _, err := m.messenger.Send(ctx, channelID, content); err != nil {
		m.log.Error("allocation reply failed", "channel", channelID, "error", err)
	}
}

func announcement(payer string, v *slip.Verification, periods int, window time.Duration) string {
	marks := strings.TrimSpace(strings.Repeat("✅ ", periods))
	return fmt.Sprintf(
		"✅ **Slip verified**\n👤 From: %s\n\n💰 Amount: **%.2f**\n📤 Sender: %s\n📥 Receiver: %s\n🔢 Ref: %s\n📅 %s %s\n\n📊 Periods: **%d** %s\n\n🎁 **Who gets the credit?**\n• Mention the member(s) you want (up to %d)\n• Type `me` to keep it yourself\n(%d seconds)",
		gateway.Mention(payer), v.Amount, v.SenderName, v.ReceiverName, v.Ref, v.Date, v.Time,
		periods, marks, periods, int(window.Seconds()))
}

func distinct(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

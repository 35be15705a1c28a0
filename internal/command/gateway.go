// Package command is the admin-facing command surface: manual credit grants
// and the monthly reset with its confirmation gate.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slipkeeper/slipkeeper/internal/gateway"
)

// Prefix starts every command message.
const Prefix = "!"

const (
	confirmEmoji = "✅"
	cancelEmoji  = "❌"
)

const verifyUsage = "**Usage:** `!verify @member [periods]`\n" +
	"Examples:\n" +
	"• `!verify @Alice 1` — give Alice 1 period\n" +
	"• `!verify @Bob 3` — give Bob 3 periods"

// Ledger is the credit write path commands need.
type Ledger interface {
	Grant(ctx context.Context, memberID string, periods int) (int, error)
}

// EnqueueReset hands an approved reset to the job queue.
type EnqueueReset func(ctx context.Context, requestedBy, replyChannelID string) error

// confirmWait is one open reset confirmation: the warning message the bot
// posted, waiting for the invoking admin's reaction.
type confirmWait struct {
	invoker string
	channel string
	timer   *time.Timer
}

// Gateway parses and executes admin commands. Reset confirmations follow the
// same registry-plus-timer pattern as allocation waits: the reaction event
// and the deadline feed one resolution path, and each gate resolves once.
type Gateway struct {
	channel       gateway.Channel
	ledger        Ledger
	enqueueReset  EnqueueReset
	confirmWindow time.Duration
	log           *slog.Logger

	mu       sync.Mutex
	confirms map[string]*confirmWait
}

func NewGateway(channel gateway.Channel, ledger Ledger, enqueueReset EnqueueReset, confirmWindow time.Duration, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		channel:       channel,
		ledger:        ledger,
		enqueueReset:  enqueueReset,
		confirmWindow: confirmWindow,
		log:           log,
		confirms:      make(map[string]*confirmWait),
	}
}

// HandleMessage executes the message as a command if it is one. Unknown
// command words are left alone (another bot's prefix traffic is not ours to
// answer).
func (g *Gateway) HandleMessage(ctx context.Context, msg gateway.Message) bool {
	if !strings.HasPrefix(msg.Content, Prefix) {
		return false
	}
	fields := strings.Fields(msg.Content)
	switch strings.TrimPrefix(fields[0], Prefix) {
	case "verify":
		g.reply(ctx, msg.ChannelID, render(g.verify(ctx, msg, fields[1:])))
		return true
	case "monthly_reset":
		if res := g.monthlyReset(ctx, msg); res != nil {
			g.reply(ctx, msg.ChannelID, render(*res))
		}
		return true
	default:
		return false
	}
}

// verify is the manual grant: admin-only, one mentioned member, optional
// period count defaulting to 1. Any rejection leaves the ledger untouched.
func (g *Gateway) verify(ctx context.Context, msg gateway.Message, args []string) Result {
	if res, allowed := g.requireAdmin(ctx, msg); !allowed {
		return res
	}

	targets := gateway.ParseMentions(strings.Join(args, " "))
	if len(targets) != 1 {
		return usage("**Member not found or ambiguous.**\n\n" + verifyUsage)
	}
	periods := 1
	if len(args) >= 2 {
		n, err := strconv.Atoi(args[len(args)-1])
		if err != nil || n < 1 {
			return usage("**Invalid period count.**\n\n" + verifyUsage)
		}
		periods = n
	}

	total, err := g.ledger.Grant(ctx, targets[0], periods)
	if err != nil {
		g.log.Error("verify command failed", "admin", msg.AuthorID, "target", targets[0], "error", err)
		return internal(fmt.Sprintf("Could not add periods to %s: %v", gateway.Mention(targets[0]), err))
	}
	return ok(fmt.Sprintf("Added %d period(s) to %s — balance is now %d.", periods, gateway.Mention(targets[0]), total))
}

// monthlyReset opens the confirmation gate. It returns a Result only for
// immediate rejections; an opened gate resolves later via reaction or
// timeout. Nothing is mutated before the gate approves.
func (g *Gateway) monthlyReset(ctx context.Context, msg gateway.Message) *Result {
	if res, allowed := g.requireAdmin(ctx, msg); !allowed {
		return &res
	}

	warning, err := g.channel.Send(ctx, msg.ChannelID,
		"⚠️ **Warning: this will reduce every member's balance by one period.**\n"+
			fmt.Sprintf("React %s to confirm or %s to cancel (%d seconds).",
				confirmEmoji, cancelEmoji, int(g.confirmWindow.Seconds())))
	if err != nil {
		res := internal(fmt.Sprintf("Could not open the confirmation prompt: %v", err))
		return &res
	}
	for _, emoji := range []string{confirmEmoji, cancelEmoji} {
		if err := g.channel.React(ctx, msg.ChannelID, warning.ID, emoji); err != nil {
			g.log.Error("confirmation reaction failed", "emoji", emoji, "error", err)
		}
	}

	wait := &confirmWait{invoker: msg.AuthorID, channel: msg.ChannelID}
	g.mu.Lock()
	g.confirms[warning.ID] = wait
	wait.timer = time.AfterFunc(g.confirmWindow, func() { g.expireConfirm(warning.ID) })
	g.mu.Unlock()
	return nil
}

// HandleReaction resolves an open confirmation gate. Reactions from anyone
// but the invoking admin, or with other emojis, leave the gate open.
func (g *Gateway) HandleReaction(ctx context.Context, r gateway.Reaction) bool {
	if r.Emoji != confirmEmoji && r.Emoji != cancelEmoji {
		return false
	}

	g.mu.Lock()
	wait, open := g.confirms[r.MessageID]
	if !open || wait.invoker != r.UserID {
		g.mu.Unlock()
		return false
	}
	delete(g.confirms, r.MessageID)
	wait.timer.Stop()
	g.mu.Unlock()

	if r.Emoji == cancelEmoji {
		g.reply(ctx, wait.channel, render(Result{Kind: KindCancelled, Text: "Reset cancelled — nothing was changed."}))
		return true
	}

	if err := g.enqueueReset(ctx, wait.invoker, wait.channel); err != nil {
		g.log.Error("enqueue reset failed", "admin", wait.invoker, "error", err)
		g.reply(ctx, wait.channel, render(internal(fmt.Sprintf("Could not start the reset: %v", err))))
		return true
	}
	g.reply(ctx, wait.channel, "🔄 Reset approved — processing...")
	return true
}

func (g *Gateway) expireConfirm(messageID string) {
	g.mu.Lock()
	wait, open := g.confirms[messageID]
	if !open {
		g.mu.Unlock()
		return
	}
	delete(g.confirms, messageID)
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g.reply(ctx, wait.channel, render(Result{Kind: KindTimeout, Text: "Timed out — reset cancelled, nothing was changed."}))
}

func (g *Gateway) requireAdmin(ctx context.Context, msg gateway.Message) (Result, bool) {
	admin, err := g.channel.IsAdmin(ctx, msg.ChannelID, msg.AuthorID)
	if err != nil {
		g.log.Error("permission check failed", "user", msg.AuthorID, "error", err)
		return internal("Could not check your permissions, try again."), false
	}
	if !admin {
		return permission("You don't have permission to use this command (administrator required)."), false
	}
	return Result{}, true
}

func (g *Gateway) reply(ctx context.Context, channelID, content string) {
	if _, err := g.channel.Send(ctx, channelID, content); err != nil {
		g.log.Error("command reply failed", "channel", channelID, "error", err)
	}
}

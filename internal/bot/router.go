// Package bot routes inbound chat events to the command gateway, the slip
// verification flow, and the allocation state machine.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/slipkeeper/slipkeeper/internal/gateway"
	"github.com/slipkeeper/slipkeeper/internal/slip"
)

// Verifier validates a slip image.
type Verifier interface {
	Verify(ctx context.Context, image []byte, filename, contentType string) (*slip.Verification, error)
}

// Allocator is the allocation state machine surface the router needs.
type Allocator interface {
	Start(ctx context.Context, payer, channelID string, v *slip.Verification, unitPrice float64) error
	HandleMessage(ctx context.Context, msg gateway.Message) bool
	HasPending(payer, channelID string) bool
}

// Commander is the admin command surface.
type Commander interface {
	HandleMessage(ctx context.Context, msg gateway.Message) bool
	HandleReaction(ctx context.Context, r gateway.Reaction) bool
}

const maxSlipImageBytes = 8 << 20

type Router struct {
	channel       gateway.Channel
	verifier      Verifier
	alloc         Allocator
	cmds          Commander
	slipChannelID string
	unitPrice     float64
	httpClient    *http.Client
	log           *slog.Logger
}

func NewRouter(channel gateway.Channel, verifier Verifier, alloc Allocator, cmds Commander, slipChannelID string, unitPrice float64, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		channel:       channel,
		verifier:      verifier,
		alloc:         alloc,
		cmds:          cmds,
		slipChannelID: slipChannelID,
		unitPrice:     unitPrice,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		log:           log,
	}
}

// HandleMessage dispatches one inbound message. The bot's own messages are
// dropped first; commands take precedence over an open allocation choice, so
// an admin with a pending allocation can still run commands.
func (r *Router) HandleMessage(ctx context.Context, msg gateway.Message) {
	if msg.AuthorID == r.channel.BotID() {
		return
	}
	if r.cmds.HandleMessage(ctx, msg) {
		return
	}
	if r.alloc.HandleMessage(ctx, msg) {
		return
	}
	if msg.ChannelID == r.slipChannelID && len(msg.Attachments) > 0 {
		r.handleSlipUpload(ctx, msg)
	}
}

// HandleReaction dispatches one inbound reaction.
func (r *Router) HandleReaction(ctx context.Context, reaction gateway.Reaction) {
	if reaction.UserID == r.channel.BotID() {
		return
	}
	r.cmds.HandleReaction(ctx, reaction)
}

func (r *Router) handleSlipUpload(ctx context.Context, msg gateway.Message) {
	for _, att := range msg.Attachments {
		if !slip.SupportedType(att.ContentType) {
			r.reply(ctx, msg.ChannelID, fmt.Sprintf("⚠️ File `%s` is not a supported image (png/jpeg only).", att.Filename))
			continue
		}

		// Refuse before spending a verification call: the payer's previous
		// allocation choice is still open.
		if r.alloc.HasPending(msg.AuthorID, msg.ChannelID) {
			r.reply(ctx, msg.ChannelID, fmt.Sprintf(
				"⚠️ %s you already have an allocation waiting for your choice — answer it (or let it time out) before uploading another slip.",
				gateway.Mention(msg.AuthorID)))
			continue
		}

		r.log.Info("processing slip", "payer", msg.AuthorID, "file", att.Filename)
		image, err := r.fetch(ctx, att.URL)
		if err != nil {
			r.log.Error("slip download failed", "url", att.URL, "error", err)
			r.reply(ctx, msg.ChannelID, "❌ Could not download the image, please upload it again.")
			continue
		}

		v, err := r.verifier.Verify(ctx, image, att.Filename, att.ContentType)
		if err != nil {
			var rej *slip.RejectedError
			if errors.As(err, &rej) {
				r.reply(ctx, msg.ChannelID, "⚠️ Slip not accepted: "+rej.Reason)
			} else {
				r.log.Error("slip verification failed", "payer", msg.AuthorID, "error", err)
				r.reply(ctx, msg.ChannelID, "❌ Could not verify the slip right now — please try again in a moment.")
			}
			continue
		}

		if err := r.alloc.Start(ctx, msg.AuthorID, msg.ChannelID, v, r.unitPrice); err != nil {
			r.log.Warn("allocation not started", "payer", msg.AuthorID, "error", err)
		}
	}
}

func (r *Router) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSlipImageBytes))
}

func (r *Router) reply(ctx context.Context, channelID, content string) {
	if _, err := r.channel.Send(ctx, channelID, content); err != nil {
		r.log.Error("reply failed", "channel", channelID, "error", err)
	}
}

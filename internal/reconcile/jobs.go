package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/slipkeeper/slipkeeper/internal/gateway"
)

// Messenger delivers the run summary back to the channel the command came
// from.
type Messenger interface {
	Send(ctx context.Context, channelID, content string) (gateway.Message, error)
}

// ResetJobArgs runs one monthly reset. Enqueued only after the admin passed
// the confirmation gate.
type ResetJobArgs struct {
	RequestedBy    string `json:"requested_by"`
	ReplyChannelID string `json:"reply_channel_id"`
}

func (ResetJobArgs) Kind() string { return "monthly_reset" }

// A reset decrements balances; a retry would decrement them again. One
// attempt only: a failed run is surfaced, not replayed.
func (ResetJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type ResetWorker struct {
	river.WorkerDefaults[ResetJobArgs]
	rec       *Reconciler
	messenger Messenger
	log       *slog.Logger
}

func NewResetWorker(rec *Reconciler, messenger Messenger, log *slog.Logger) *ResetWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ResetWorker{rec: rec, messenger: messenger, log: log}
}

func (w *ResetWorker) Work(ctx context.Context, job *river.Job[ResetJobArgs]) error {
	args := job.Args
	sum, err := w.rec.Run(ctx)
	if err != nil {
		w.reply(ctx, args.ReplyChannelID, fmt.Sprintf(
			"❌ Monthly reset failed after %d entries: %v", sum.Processed, err))
		return err
	}

	msg := fmt.Sprintf("✅ **Monthly reset complete!** Requested by: %s — %d member(s) remaining.",
		gateway.Mention(args.RequestedBy), sum.Remaining)
	if sum.Failed > 0 {
		msg += fmt.Sprintf("\n⚠️ %d item(s) failed and were skipped; see the logs.", sum.Failed)
	}
	w.reply(ctx, args.ReplyChannelID, msg)
	return nil
}

func (w *ResetWorker) reply(ctx context.Context, channelID, content string) {
	if _, err := w.messenger.Send(ctx, channelID, content); err != nil {
		w.log.Error("reset summary reply failed", "channel", channelID, "error", err)
	}
}

// ResyncJobArgs heals drift between the store and the channel view. Runs
// periodically.
type ResyncJobArgs struct{}

func (ResyncJobArgs) Kind() string { return "ledger_resync" }

func (ResyncJobArgs) InsertOpts() river.InsertOpts {
	// Overlapping resyncs are pointless; keep one pending at a time.
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

type ResyncWorker struct {
	river.WorkerDefaults[ResyncJobArgs]
	rec *Reconciler
	log *slog.Logger
}

func NewResyncWorker(rec *Reconciler, log *slog.Logger) *ResyncWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ResyncWorker{rec: rec, log: log}
}

func (w *ResyncWorker) Work(ctx context.Context, _ *river.Job[ResyncJobArgs]) error {
	repaired, err := w.rec.Resync(ctx)
	if err != nil {
		return err
	}
	if repaired > 0 {
		w.log.Info("ledger view resynced", "repaired", repaired)
	}
	return nil
}

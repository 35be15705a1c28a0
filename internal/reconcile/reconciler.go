// Package reconcile implements the monthly reset: every balance drops by one
// period, exhausted members disappear, and the ledger channel is rewritten in
// descending-balance order.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/slipkeeper/slipkeeper/internal/ledger"
)

// Store is the credit-store surface the reconciler needs.
type Store interface {
	List(ctx context.Context) ([]ledger.Entry, error)
	Set(ctx context.Context, memberID string, credits int) error
	Remove(ctx context.Context, memberID string) error
}

// View is the ledger-channel surface the reconciler needs.
type View interface {
	ListAll(ctx context.Context) ([]ledger.Snapshot, error)
	DeleteByID(ctx context.Context, messageID string) error
	Append(ctx context.Context, memberID string, credits int) error
	Find(ctx context.Context, memberID string) (ledger.Snapshot, bool, error)
	Apply(ctx context.Context, memberID string, credits int) error
}

// Summary reports how a reconciliation run went. Failed counts per-item
// errors that were logged and skipped; the rest of the batch still ran.
type Summary struct {
	Processed int
	Remaining int
	Failed    int
}

// DefaultPace is the delay between consecutive channel deletes/sends,
// keeping the batch under the platform's rate limits.
const DefaultPace = 200 * time.Millisecond

type Reconciler struct {
	store Store
	view  View
	pace  time.Duration
	log   *slog.Logger
}

func New(store Store, view View, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: store, view: view, pace: DefaultPace, log: log}
}

// Run executes one reset. The survival rule is explicit: an entry survives
// with credits-1 iff it had credits >= 2; an entry at exactly 1 is dropped
// outright (zero-balance rows never exist). The channel is then rewritten:
// every ledger message deleted, survivors re-sent highest-balance first.
// Per-item failures are logged and skipped, never aborting the batch; the
// store is decremented before the channel is touched, so a crash mid-rewrite
// leaves a stale view that the resync job repairs from the store.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list ledger entries: %w", err)
	}

	var sum Summary
	var survivors []ledger.Entry
	for _, e := range entries {
		if e.Credits <= 1 {
			if err := r.store.Remove(ctx, e.MemberID); err != nil {
				r.log.Error("reset: drop entry failed", "member", e.MemberID, "error", err)
				sum.Failed++
				continue
			}
		} else {
			if err := r.store.Set(ctx, e.MemberID, e.Credits-1); err != nil {
				r.log.Error("reset: decrement failed", "member", e.MemberID, "error", err)
				sum.Failed++
				continue
			}
			survivors = append(survivors, ledger.Entry{MemberID: e.MemberID, Credits: e.Credits - 1})
		}
		sum.Processed++
	}

	snaps, err := r.view.ListAll(ctx)
	if err != nil {
		return sum, fmt.Errorf("scan ledger channel: %w", err)
	}
	for _, snap := range snaps {
		if err := r.view.DeleteByID(ctx, snap.MessageID); err != nil {
			r.log.Error("reset: delete ledger message failed", "member", snap.MemberID, "message", snap.MessageID, "error", err)
			sum.Failed++
		}
		if err := r.sleep(ctx); err != nil {
			return sum, err
		}
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].Credits != survivors[j].Credits {
			return survivors[i].Credits > survivors[j].Credits
		}
		return survivors[i].MemberID < survivors[j].MemberID
	})
	for _, e := range survivors {
		if err := r.view.Append(ctx, e.MemberID, e.Credits); err != nil {
			r.log.Error("reset: rewrite ledger message failed", "member", e.MemberID, "error", err)
			sum.Failed++
		}
		if err := r.sleep(ctx); err != nil {
			return sum, err
		}
	}

	sum.Remaining = len(survivors)
	r.log.Info("monthly reset finished", "processed", sum.Processed, "remaining", sum.Remaining, "failed", sum.Failed)
	return sum, nil
}

// Resync makes the channel view agree with the store for every stored
// member: missing messages are recreated and drifted counts re-rendered,
// suffix annotations preserved. It never deletes anything, so foreign
// messages and out-of-window strays are left alone.
func (r *Reconciler) Resync(ctx context.Context) (repaired int, err error) {
	entries, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list ledger entries: %w", err)
	}
	for _, e := range entries {
		snap, found, err := r.view.Find(ctx, e.MemberID)
		if err != nil {
			return repaired, fmt.Errorf("scan ledger channel: %w", err)
		}
		if found && snap.Credits == e.Credits {
			continue
		}
		if err := r.view.Apply(ctx, e.MemberID, e.Credits); err != nil {
			r.log.Error("resync: repair failed", "member", e.MemberID, "error", err)
			continue
		}
		r.log.Warn("resync: repaired ledger view", "member", e.MemberID, "credits", e.Credits, "was_present", found)
		repaired++
		if err := r.sleep(ctx); err != nil {
			return repaired, err
		}
	}
	return repaired, nil
}

func (r *Reconciler) sleep(ctx context.Context) error {
	if r.pace <= 0 {
		return nil
	}
	t := time.NewTimer(r.pace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrInvalidPeriods is returned for grants of zero or negative periods.
var ErrInvalidPeriods = errors.New("periods must be at least 1")

// ErrViewUpdate marks a grant whose store write succeeded but whose channel
// render failed. The balance is already correct; only the rendered view lags
// until the resync job repairs it. Callers must not re-issue the grant.
var ErrViewUpdate = errors.New("ledger channel update failed")

// Store is the balance storage Service needs.
type Store interface {
	Add(ctx context.Context, memberID string, delta int) (int, error)
	List(ctx context.Context) ([]Entry, error)
}

// Renderer keeps the ledger channel in step with the store.
type Renderer interface {
	Apply(ctx context.Context, memberID string, credits int) error
}

// Service is the single write path for credit grants: the store is updated
// first, then the channel view is re-rendered for that member. All mutations
// in the process go through here, which is what keeps the one-message-per-
// member invariant without any locking on the channel itself.
type Service struct {
	store Store
	view  Renderer
	log   *slog.Logger
}

func NewService(store Store, view Renderer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, view: view, log: log}
}

// Grant adds periods credits to the member and returns the new total. A view
// failure after a successful store write is still reported to the caller; the
// store remains correct and the resync job repairs the channel later.
func (s *Service) Grant(ctx context.Context, memberID string, periods int) (int, error) {
	if periods < 1 {
		return 0, ErrInvalidPeriods
	}
	total, err := s.store.Add(ctx, memberID, periods)
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	if err := s.view.Apply(ctx, memberID, total); err != nil {
		s.log.Error("ledger view update failed", "member", memberID, "credits", total, "error", err)
		return total, fmt.Errorf("credits recorded but %w: %v", ErrViewUpdate, err)
	}
	return total, nil
}

// Entries lists all balances, highest first.
func (s *Service) Entries(ctx context.Context) ([]Entry, error) {
	return s.store.List(ctx)
}

package services

import (
	"context"
	"fmt"

	"socialzAPI/internal/store"
	"socialzAPI/internal/streak"
)

// StreakNotifier lets a caller observe live changes to one user's streak
// record. It is a thin facade over the store's push-change primitive; the
// engine never polls.
type StreakNotifier struct {
	store store.StreakStore
}

func NewStreakNotifier(st store.StreakStore) *StreakNotifier {
	return &StreakNotifier{store: st}
}

// Subscribe delivers every subsequent persisted change to userID's record to
// fn. The returned unsubscribe stops delivery and releases the underlying
// subscription; callers must invoke it on every exit path.
func (n *StreakNotifier) Subscribe(ctx context.Context, userID string, fn func(rec *streak.Record)) (func(), error) {
	if userID == "" {
		return nil, streak.ErrMissingUserID
	}

	unsubscribe, err := n.store.Subscribe(ctx, userID, store.ChangeCallback(fn))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to streak changes: %w", err)
	}
	return unsubscribe, nil
}

// Package store holds the streak persistence contract. The engine never
// talks to Postgres directly; it goes through StreakStore so tests can swap
// in the in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"socialzAPI/internal/leaderboard"
	"socialzAPI/internal/stats"
	"socialzAPI/internal/streak"
)

var (
	ErrNotFound    = errors.New("streak record not found")
	ErrConflict    = errors.New("streak record conflict")
	ErrUnavailable = errors.New("streak store unavailable")
)

// ChangeCallback receives every persisted change to a subscribed record.
type ChangeCallback func(rec *streak.Record)

// LeaderboardQuery selects up to Limit records ordered by current_streak
// descending. Ties break on updated_at ascending, then user_id, so the order
// is deterministic. Scope filters by the owning user's college; empty means
// global.
type LeaderboardQuery struct {
	Scope string
	Limit int
	Today time.Time
}

type StreakStore interface {
	// Get returns the record for userID or ErrNotFound.
	Get(ctx context.Context, userID string) (*streak.Record, error)

	// Insert creates a new record, ErrConflict if the key already exists.
	Insert(ctx context.Context, rec *streak.Record) error

	// CompareAndUpdate writes rec only if the stored row still carries
	// expectedUpdatedAt. A version miss returns ErrConflict and leaves the
	// row untouched; callers re-read and retry.
	CompareAndUpdate(ctx context.Context, rec *streak.Record, expectedUpdatedAt time.Time) error

	// Leaderboard returns streak records joined with user display fields.
	Leaderboard(ctx context.Context, q LeaderboardQuery) ([]*leaderboard.LeaderboardEntry, error)

	// CountHigherThan counts records whose current_streak strictly exceeds
	// currentStreak, within scope.
	CountHigherThan(ctx context.Context, currentStreak int, scope string) (int, error)

	// Aggregate computes scoped statistics. An empty record set yields the
	// zero value, never an error.
	Aggregate(ctx context.Context, scope string, today time.Time) (*stats.StreakStatistics, error)

	// Subscribe delivers every subsequent persisted change to userID's
	// record. The returned func stops delivery and releases the underlying
	// subscription; it is safe to call more than once.
	Subscribe(ctx context.Context, userID string, fn ChangeCallback) (func(), error)
}

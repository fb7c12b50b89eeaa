package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"socialzAPI/internal/leaderboard"
	"socialzAPI/internal/stats"
	"socialzAPI/internal/store"
	"socialzAPI/internal/streak"
)

// How many times a read-modify-write is retried after losing the CAS race
// before giving up. Two concurrent updates for one user resolve on the first
// retry; more than that means something is hammering the row.
const maxUpdateAttempts = 3

const defaultLeaderboardLimit = 50

var streakMilestones = []int{7, 14, 30, 50, 100, 365}

var (
	streakUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_updates_total",
			Help: "Total number of accepted activity events",
		},
		[]string{"activity_type", "result"},
	)
	streakResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "streak_resets_total",
			Help: "Total number of streak resets, lazy breaks included",
		},
	)
)

// InitStreakMetrics registers the streak counters. Call this from main.go
func InitStreakMetrics() {
	prometheus.MustRegister(streakUpdatesTotal)
	prometheus.MustRegister(streakResetsTotal)
}

// StreakService owns the daily activity streak state machine. All reads and
// writes go through the injected StreakStore; nothing is cached across calls.
type StreakService struct {
	store      store.StreakStore
	dispatcher *PushDispatcher
}

func NewStreakService(st store.StreakStore) *StreakService {
	return &StreakService{store: st}
}

// SetMilestoneDispatcher wires the push pipeline for milestone streaks.
// Optional; without it milestones are only logged.
func (s *StreakService) SetMilestoneDispatcher(d *PushDispatcher) {
	s.dispatcher = d
}

// GetOrCreate loads the user's streak record, creating a zeroed one on first
// access. A record whose last activity is older than yesterday is a broken
// streak: it is reset in place and returned with StreakReset set. Breakage is
// only ever detected here, on access, not by any background sweep.
func (s *StreakService) GetOrCreate(ctx context.Context, userID string) (*streak.Record, error) {
	if userID == "" {
		return nil, streak.ErrMissingUserID
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		rec, err := s.store.Get(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			now := time.Now()
			fresh := &streak.Record{UserID: userID, CreatedAt: now, UpdatedAt: now}
			if err := s.store.Insert(ctx, fresh); err != nil {
				if errors.Is(err, store.ErrConflict) {
					// Lost the create race, the next read finds the row.
					continue
				}
				return nil, fmt.Errorf("failed to create streak record: %w", err)
			}
			return fresh, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load streak record: %w", err)
		}

		today := streak.DateOnly(time.Now())
		yesterday := today.AddDate(0, 0, -1)

		if rec.LastActivityDate != nil && streak.DateOnly(*rec.LastActivityDate).Before(yesterday) {
			updated := rec.Clone()
			updated.CurrentStreak = 0
			updated.LastActivityDate = nil
			updated.StreakActive = false
			updated.UpdatedAt = time.Now()

			if err := s.store.CompareAndUpdate(ctx, updated, rec.UpdatedAt); err != nil {
				if errors.Is(err, store.ErrConflict) {
					continue
				}
				return nil, fmt.Errorf("failed to reset broken streak: %w", err)
			}

			streakResetsTotal.Inc()
			log.Printf("Streak for user %s broke (last activity %s)", userID, rec.LastActivityDate.Format("2006-01-02"))

			updated.StreakReset = true
			return updated, nil
		}

		rec.StreakActive = rec.LastActivityDate != nil && streak.SameDay(*rec.LastActivityDate, today)
		return rec, nil
	}

	return nil, fmt.Errorf("streak record for user %s kept changing: %w", userID, store.ErrConflict)
}

// HasActivityToday is the idempotence gate: true iff the stored last activity
// date is today's calendar date.
func (s *StreakService) HasActivityToday(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, streak.ErrMissingUserID
	}

	rec, err := s.store.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load streak record: %w", err)
	}

	return rec.LastActivityDate != nil && streak.SameDay(*rec.LastActivityDate, time.Now()), nil
}

// RecordActivity applies one qualifying event. The per-type counter always
// moves; the streak itself increments at most once per calendar day. The
// whole read-decide-write runs as a compare-and-swap on updated_at, so two
// concurrent events on the same day cannot double-increment the streak.
func (s *StreakService) RecordActivity(ctx context.Context, userID string, activityType streak.ActivityType) (*streak.UpdateResult, error) {
	if userID == "" {
		return nil, streak.ErrMissingUserID
	}
	if !streak.ValidActivityType(activityType) {
		return nil, fmt.Errorf("%w: %q", streak.ErrInvalidActivityType, activityType)
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		rec, err := s.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}

		today := streak.DateOnly(time.Now())
		hadActivityToday := rec.LastActivityDate != nil && streak.SameDay(*rec.LastActivityDate, today)

		result := &streak.UpdateResult{
			ActivityType:   activityType,
			PreviousStreak: rec.CurrentStreak,
		}

		updated := rec.Clone()
		updated.StreakReset = false
		updated.ActivityCounts.Add(activityType)

		if !hadActivityToday {
			updated.CurrentStreak++
			if updated.CurrentStreak > updated.HighestStreak {
				updated.HighestStreak = updated.CurrentStreak
			}
			result.StreakIncreased = true
			result.StreakStarted = updated.CurrentStreak == 1
		}

		updated.LastActivityDate = &today
		updated.StreakActive = true
		updated.UpdatedAt = time.Now()

		if err := s.store.CompareAndUpdate(ctx, updated, rec.UpdatedAt); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Someone else wrote this record between our read and write.
				// Re-read: if they already counted today, this attempt only
				// bumps the activity counter.
				continue
			}
			return nil, fmt.Errorf("failed to persist streak update: %w", err)
		}

		if result.StreakIncreased {
			streakUpdatesTotal.WithLabelValues(string(activityType), "increment").Inc()
		} else {
			streakUpdatesTotal.WithLabelValues(string(activityType), "repeat").Inc()
		}

		if result.StreakIncreased && isMilestone(updated.CurrentStreak) {
			s.notifyMilestone(userID, updated.CurrentStreak)
		}

		result.Record = updated
		return result, nil
	}

	return nil, fmt.Errorf("streak update for user %s kept conflicting: %w", userID, store.ErrConflict)
}

// Reset zeroes the running streak on request. Highest streak and activity
// counters survive; they are lifetime values.
func (s *StreakService) Reset(ctx context.Context, userID string) (*streak.Record, error) {
	if userID == "" {
		return nil, streak.ErrMissingUserID
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		rec, err := s.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}

		updated := rec.Clone()
		updated.StreakReset = false
		updated.CurrentStreak = 0
		updated.LastActivityDate = nil
		updated.StreakActive = false
		updated.UpdatedAt = time.Now()

		if err := s.store.CompareAndUpdate(ctx, updated, rec.UpdatedAt); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return nil, fmt.Errorf("failed to reset streak: %w", err)
		}

		streakResetsTotal.Inc()
		updated.StreakReset = true
		return updated, nil
	}

	return nil, fmt.Errorf("streak reset for user %s kept conflicting: %w", userID, store.ErrConflict)
}

// Leaderboard returns up to limit records ordered by current streak. On store
// failure it degrades to an empty board so screens render "no data" instead
// of an error state.
func (s *StreakService) Leaderboard(ctx context.Context, userID, scope string, limit int) (*leaderboard.Leaderboard, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}

	entries, err := s.store.Leaderboard(ctx, store.LeaderboardQuery{
		Scope: scope,
		Limit: limit,
		Today: streak.DateOnly(time.Now()),
	})
	if err != nil {
		log.Printf("Leaderboard query failed (scope=%q): %v", scope, err)
		entries = nil
	}

	if entries == nil {
		entries = []*leaderboard.LeaderboardEntry{}
	}

	board := &leaderboard.Leaderboard{
		Entries:    entries,
		TotalUsers: len(entries),
		Scope:      scope,
	}
	for _, entry := range entries {
		if entry.UserID == userID {
			board.UserPosition = entry
			break
		}
	}

	return board, nil
}

// Rank is 1 + the number of records with a strictly greater current streak;
// tied streaks share a rank.
func (s *StreakService) Rank(ctx context.Context, userID, scope string) (*leaderboard.RankResult, error) {
	rec, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	higher, err := s.store.CountHigherThan(ctx, rec.CurrentStreak, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to compute rank: %w", err)
	}

	return &leaderboard.RankResult{
		Rank:          higher + 1,
		CurrentStreak: rec.CurrentStreak,
		StreakActive:  rec.StreakActive,
		Scope:         scope,
	}, nil
}

// Statistics aggregates the scoped record set. An empty store yields zeros,
// and so does a store failure (degraded read, logged).
func (s *StreakService) Statistics(ctx context.Context, scope string) (*stats.StreakStatistics, error) {
	agg, err := s.store.Aggregate(ctx, scope, streak.DateOnly(time.Now()))
	if err != nil {
		log.Printf("Statistics query failed (scope=%q): %v", scope, err)
		return &stats.StreakStatistics{Scope: scope}, nil
	}
	return agg, nil
}

func isMilestone(streakLength int) bool {
	for _, m := range streakMilestones {
		if m == streakLength {
			return true
		}
	}
	return false
}

func (s *StreakService) notifyMilestone(userID string, streakLength int) {
	if s.dispatcher == nil {
		log.Printf("User %s hit a %d-day streak (no push dispatcher wired)", userID, streakLength)
		return
	}
	s.dispatcher.Enqueue(&MilestoneJob{UserID: userID, StreakLength: streakLength})
}

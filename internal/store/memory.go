package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"socialzAPI/internal/leaderboard"
	"socialzAPI/internal/stats"
	"socialzAPI/internal/streak"
)

// MemoryUser is the display slice of a user the memory store joins into
// leaderboard rows.
type MemoryUser struct {
	ID       string
	Username string
	ImageURL *string
	College  string
}

// MemoryStreakStore is the in-process StreakStore used by tests. It enforces
// the same CAS semantics as the Postgres store, serialized under one mutex.
type MemoryStreakStore struct {
	mu          sync.Mutex
	records     map[string]*streak.Record
	users       map[string]MemoryUser
	subscribers map[string]map[int]ChangeCallback
	nextSubID   int
}

func NewMemoryStreakStore() *MemoryStreakStore {
	return &MemoryStreakStore{
		records:     make(map[string]*streak.Record),
		users:       make(map[string]MemoryUser),
		subscribers: make(map[string]map[int]ChangeCallback),
	}
}

// PutUser seeds the user directory the leaderboard joins against.
func (s *MemoryStreakStore) PutUser(u MemoryUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryStreakStore) Get(ctx context.Context, userID string) (*streak.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStreakStore) Insert(ctx context.Context, rec *streak.Record) error {
	s.mu.Lock()
	if _, ok := s.records[rec.UserID]; ok {
		s.mu.Unlock()
		return ErrConflict
	}
	s.records[rec.UserID] = rec.Clone()
	fns := s.callbacksLocked(rec.UserID)
	s.mu.Unlock()

	deliver(fns, rec)
	return nil
}

func (s *MemoryStreakStore) CompareAndUpdate(ctx context.Context, rec *streak.Record, expectedUpdatedAt time.Time) error {
	s.mu.Lock()
	current, ok := s.records[rec.UserID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if !current.UpdatedAt.Equal(expectedUpdatedAt) {
		s.mu.Unlock()
		return ErrConflict
	}
	s.records[rec.UserID] = rec.Clone()
	fns := s.callbacksLocked(rec.UserID)
	s.mu.Unlock()

	deliver(fns, rec)
	return nil
}

func (s *MemoryStreakStore) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]*leaderboard.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*leaderboard.LeaderboardEntry
	for id, rec := range s.records {
		u, ok := s.users[id]
		if !ok {
			continue
		}
		if q.Scope != "" && u.College != q.Scope {
			continue
		}
		entries = append(entries, &leaderboard.LeaderboardEntry{
			UserID:        id,
			Username:      u.Username,
			ImageURL:      u.ImageURL,
			CurrentStreak: rec.CurrentStreak,
			HighestStreak: rec.HighestStreak,
			StreakActive:  rec.LastActivityDate != nil && streak.SameDay(*rec.LastActivityDate, q.Today),
			LastUpdated:   rec.UpdatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CurrentStreak != entries[j].CurrentStreak {
			return entries[i].CurrentStreak > entries[j].CurrentStreak
		}
		if !entries[i].LastUpdated.Equal(entries[j].LastUpdated) {
			return entries[i].LastUpdated.Before(entries[j].LastUpdated)
		}
		return entries[i].UserID < entries[j].UserID
	})

	for _, entry := range entries {
		entry.Rank = 1
		for _, other := range entries {
			if other.CurrentStreak > entry.CurrentStreak {
				entry.Rank++
			}
		}
	}

	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}

	return entries, nil
}

func (s *MemoryStreakStore) CountHigherThan(ctx context.Context, currentStreak int, scope string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, rec := range s.records {
		if scope != "" {
			u, ok := s.users[id]
			if !ok || u.College != scope {
				continue
			}
		}
		if rec.CurrentStreak > currentStreak {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStreakStore) Aggregate(ctx context.Context, scope string, today time.Time) (*stats.StreakStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg := &stats.StreakStatistics{Scope: scope}
	var sumCurrent, sumHighest int
	for id, rec := range s.records {
		if scope != "" {
			u, ok := s.users[id]
			if !ok || u.College != scope {
				continue
			}
		}
		agg.TotalUsers++
		if rec.LastActivityDate != nil && streak.SameDay(*rec.LastActivityDate, today) {
			agg.ActiveStreaks++
		}
		sumCurrent += rec.CurrentStreak
		sumHighest += rec.HighestStreak
		if rec.CurrentStreak > agg.LongestCurrentStreak {
			agg.LongestCurrentStreak = rec.CurrentStreak
		}
		if rec.HighestStreak > agg.LongestAllTimeStreak {
			agg.LongestAllTimeStreak = rec.HighestStreak
		}
	}

	if agg.TotalUsers > 0 {
		agg.AverageCurrentStreak = float64(sumCurrent) / float64(agg.TotalUsers)
		agg.AverageHighestStreak = float64(sumHighest) / float64(agg.TotalUsers)
	}

	return agg, nil
}

func (s *MemoryStreakStore) Subscribe(ctx context.Context, userID string, fn ChangeCallback) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribers[userID] == nil {
		s.subscribers[userID] = make(map[int]ChangeCallback)
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[userID][id] = fn

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers[userID], id)
		})
	}
	return unsubscribe, nil
}

func (s *MemoryStreakStore) callbacksLocked(userID string) []ChangeCallback {
	fns := make([]ChangeCallback, 0, len(s.subscribers[userID]))
	for _, fn := range s.subscribers[userID] {
		fns = append(fns, fn)
	}
	return fns
}

func deliver(fns []ChangeCallback, rec *streak.Record) {
	for _, fn := range fns {
		fn(rec.Clone())
	}
}

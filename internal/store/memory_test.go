package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"socialzAPI/internal/streak"
)

func insertRecord(t *testing.T, s *MemoryStreakStore, userID string, current int, updatedAt time.Time) *streak.Record {
	t.Helper()

	today := streak.DateOnly(time.Now())
	rec := &streak.Record{
		UserID:           userID,
		CurrentStreak:    current,
		HighestStreak:    current,
		LastActivityDate: &today,
		CreatedAt:        updatedAt,
		UpdatedAt:        updatedAt,
	}
	if err := s.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert failed for %s: %v", userID, err)
	}
	return rec
}

func TestMemoryGetNotFound(t *testing.T) {
	s := NewMemoryStreakStore()

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryInsertDuplicate(t *testing.T) {
	s := NewMemoryStreakStore()
	insertRecord(t, s, "user-1", 1, time.Now())

	err := s.Insert(context.Background(), &streak.Record{UserID: "user-1"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict on duplicate insert, got %v", err)
	}
}

func TestMemoryCompareAndUpdate(t *testing.T) {
	s := NewMemoryStreakStore()
	ctx := context.Background()

	base := time.Now()
	insertRecord(t, s, "user-1", 1, base)

	rec, err := s.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	updated := rec.Clone()
	updated.CurrentStreak = 2
	updated.UpdatedAt = base.Add(time.Second)

	if err := s.CompareAndUpdate(ctx, updated, rec.UpdatedAt); err != nil {
		t.Fatalf("CompareAndUpdate with matching token failed: %v", err)
	}

	// The first write consumed the token; replaying it must conflict.
	stale := rec.Clone()
	stale.CurrentStreak = 99
	if err := s.CompareAndUpdate(ctx, stale, rec.UpdatedAt); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict on stale token, got %v", err)
	}

	if err := s.CompareAndUpdate(ctx, &streak.Record{UserID: "missing"}, base); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing record, got %v", err)
	}

	got, err := s.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CurrentStreak != 2 {
		t.Errorf("Lost update: expected streak 2, got %d", got.CurrentStreak)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	s := NewMemoryStreakStore()
	insertRecord(t, s, "user-1", 3, time.Now())

	rec, _ := s.Get(context.Background(), "user-1")
	rec.CurrentStreak = 42

	again, _ := s.Get(context.Background(), "user-1")
	if again.CurrentStreak != 3 {
		t.Error("Mutating a returned record must not touch the stored one")
	}
}

func TestMemorySubscribe(t *testing.T) {
	s := NewMemoryStreakStore()
	ctx := context.Background()

	base := time.Now()
	insertRecord(t, s, "user-1", 1, base)
	insertRecord(t, s, "user-2", 1, base)

	var got []*streak.Record
	unsubscribe, err := s.Subscribe(ctx, "user-1", func(rec *streak.Record) {
		got = append(got, rec)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	rec, _ := s.Get(ctx, "user-1")
	updated := rec.Clone()
	updated.CurrentStreak = 2
	updated.UpdatedAt = base.Add(time.Second)
	if err := s.CompareAndUpdate(ctx, updated, rec.UpdatedAt); err != nil {
		t.Fatalf("CompareAndUpdate failed: %v", err)
	}

	// Updates for other users must not be delivered.
	other, _ := s.Get(ctx, "user-2")
	otherUpd := other.Clone()
	otherUpd.UpdatedAt = base.Add(time.Second)
	if err := s.CompareAndUpdate(ctx, otherUpd, other.UpdatedAt); err != nil {
		t.Fatalf("CompareAndUpdate failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("Expected exactly one delivery, got %d", len(got))
	}
	if got[0].CurrentStreak != 2 {
		t.Errorf("Expected delivered streak 2, got %d", got[0].CurrentStreak)
	}

	unsubscribe()
	unsubscribe() // double unsubscribe is a no-op

	rec, _ = s.Get(ctx, "user-1")
	final := rec.Clone()
	final.CurrentStreak = 3
	final.UpdatedAt = base.Add(2 * time.Second)
	if err := s.CompareAndUpdate(ctx, final, rec.UpdatedAt); err != nil {
		t.Fatalf("CompareAndUpdate failed: %v", err)
	}

	if len(got) != 1 {
		t.Errorf("Expected no deliveries after unsubscribe, got %d", len(got))
	}
}

func TestMemoryLeaderboardTiebreak(t *testing.T) {
	s := NewMemoryStreakStore()

	base := time.Now()
	s.PutUser(MemoryUser{ID: "user-a", Username: "alice"})
	s.PutUser(MemoryUser{ID: "user-b", Username: "bob"})
	s.PutUser(MemoryUser{ID: "user-c", Username: "carol"})

	// b reached 5 earlier than a; c is below both.
	insertRecord(t, s, "user-a", 5, base)
	insertRecord(t, s, "user-b", 5, base.Add(-time.Hour))
	insertRecord(t, s, "user-c", 2, base)

	entries, err := s.Leaderboard(context.Background(), LeaderboardQuery{
		Limit: 10,
		Today: streak.DateOnly(time.Now()),
	})
	if err != nil {
		t.Fatalf("Leaderboard failed: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}

	order := []string{entries[0].UserID, entries[1].UserID, entries[2].UserID}
	want := []string{"user-b", "user-a", "user-c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Wrong order: got %v, want %v", order, want)
		}
	}

	// Ties share the rank, the next distinct streak skips past them.
	if entries[0].Rank != 1 || entries[1].Rank != 1 || entries[2].Rank != 3 {
		t.Errorf("Wrong ranks: %d, %d, %d", entries[0].Rank, entries[1].Rank, entries[2].Rank)
	}
}

func TestMemoryLeaderboardLimit(t *testing.T) {
	s := NewMemoryStreakStore()

	base := time.Now()
	for _, id := range []string{"u1", "u2", "u3"} {
		s.PutUser(MemoryUser{ID: id, Username: id})
		insertRecord(t, s, id, 1, base)
		base = base.Add(time.Second)
	}

	entries, err := s.Leaderboard(context.Background(), LeaderboardQuery{
		Limit: 2,
		Today: streak.DateOnly(time.Now()),
	})
	if err != nil {
		t.Fatalf("Leaderboard failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected limit to apply, got %d entries", len(entries))
	}
}

func TestMemoryCountHigherThan(t *testing.T) {
	s := NewMemoryStreakStore()

	base := time.Now()
	s.PutUser(MemoryUser{ID: "user-a", Username: "alice", College: "mit"})
	s.PutUser(MemoryUser{ID: "user-b", Username: "bob", College: "caltech"})
	insertRecord(t, s, "user-a", 5, base)
	insertRecord(t, s, "user-b", 9, base)

	count, err := s.CountHigherThan(context.Background(), 4, "")
	if err != nil {
		t.Fatalf("CountHigherThan failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 higher records, got %d", count)
	}

	count, err = s.CountHigherThan(context.Background(), 4, "mit")
	if err != nil {
		t.Fatalf("CountHigherThan failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 higher record in mit scope, got %d", count)
	}
}

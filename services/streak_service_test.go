package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"socialzAPI/internal/leaderboard"
	"socialzAPI/internal/stats"
	"socialzAPI/internal/store"
	"socialzAPI/internal/streak"
)

func seedRecord(t *testing.T, st *store.MemoryStreakStore, userID string, current, highest int, lastActivityDaysAgo int) {
	t.Helper()

	now := time.Now()
	rec := &streak.Record{
		UserID:        userID,
		CurrentStreak: current,
		HighestStreak: highest,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if lastActivityDaysAgo >= 0 {
		d := streak.DateOnly(now).AddDate(0, 0, -lastActivityDaysAgo)
		rec.LastActivityDate = &d
	}

	if err := st.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Failed to seed streak record for %s: %v", userID, err)
	}
}

func TestRecordActivityStartsStreak(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	result, err := svc.RecordActivity(ctx, "user-1", streak.ActivityPost)
	if err != nil {
		t.Fatalf("RecordActivity failed: %v", err)
	}

	if !result.StreakStarted {
		t.Error("Expected StreakStarted on first ever activity")
	}
	if !result.StreakIncreased {
		t.Error("Expected StreakIncreased on first ever activity")
	}
	if result.PreviousStreak != 0 {
		t.Errorf("Expected previous streak 0, got %d", result.PreviousStreak)
	}
	if result.Record.CurrentStreak != 1 {
		t.Errorf("Expected current streak 1, got %d", result.Record.CurrentStreak)
	}
	if result.Record.HighestStreak != 1 {
		t.Errorf("Expected highest streak 1, got %d", result.Record.HighestStreak)
	}
	if !result.Record.StreakActive {
		t.Error("Expected streak to be active after recording activity")
	}
	if result.Record.ActivityCounts.Post != 1 {
		t.Errorf("Expected post count 1, got %d", result.Record.ActivityCounts.Post)
	}
}

func TestRecordActivitySameDayOnlyCountsOnce(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	if _, err := svc.RecordActivity(ctx, "user-1", streak.ActivityPost); err != nil {
		t.Fatalf("First RecordActivity failed: %v", err)
	}

	result, err := svc.RecordActivity(ctx, "user-1", streak.ActivityComment)
	if err != nil {
		t.Fatalf("Second RecordActivity failed: %v", err)
	}

	if result.StreakIncreased {
		t.Error("Second activity on the same day must not increment the streak")
	}
	if result.Record.CurrentStreak != 1 {
		t.Errorf("Expected current streak 1, got %d", result.Record.CurrentStreak)
	}
	if result.Record.ActivityCounts.Post != 1 || result.Record.ActivityCounts.Comment != 1 {
		t.Errorf("Activity counters must move on every event, got %+v", result.Record.ActivityCounts)
	}
}

func TestRecordActivityContinuesStreak(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	seedRecord(t, st, "user-1", 5, 10, 1) // last active yesterday

	result, err := svc.RecordActivity(ctx, "user-1", streak.ActivityLike)
	if err != nil {
		t.Fatalf("RecordActivity failed: %v", err)
	}

	if !result.StreakIncreased {
		t.Error("Activity after yesterday's should continue the streak")
	}
	if result.StreakStarted {
		t.Error("Continuation is not a new streak")
	}
	if result.Record.CurrentStreak != 6 {
		t.Errorf("Expected current streak 6, got %d", result.Record.CurrentStreak)
	}
	if result.Record.HighestStreak != 10 {
		t.Errorf("Highest streak must be untouched below the record, got %d", result.Record.HighestStreak)
	}
}

func TestRecordActivityRaisesHighest(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	seedRecord(t, st, "user-1", 5, 5, 1)

	result, err := svc.RecordActivity(ctx, "user-1", streak.ActivityPost)
	if err != nil {
		t.Fatalf("RecordActivity failed: %v", err)
	}

	if result.Record.CurrentStreak != 6 || result.Record.HighestStreak != 6 {
		t.Errorf("Expected 6/6, got %d/%d", result.Record.CurrentStreak, result.Record.HighestStreak)
	}
}

func TestBrokenStreakResetsOnRead(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	seedRecord(t, st, "user-1", 12, 20, 3) // last active three days ago

	rec, err := svc.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if rec.CurrentStreak != 0 {
		t.Errorf("Broken streak must read as 0, got %d", rec.CurrentStreak)
	}
	if !rec.StreakReset {
		t.Error("Expected StreakReset flag on the read that detected the break")
	}
	if rec.HighestStreak != 20 {
		t.Errorf("Highest streak must survive a break, got %d", rec.HighestStreak)
	}
	if rec.LastActivityDate != nil {
		t.Error("Expected cleared last activity date after break")
	}
	if rec.StreakActive {
		t.Error("Broken streak cannot be active")
	}

	// The flag is transient: the next read is an ordinary zeroed record.
	again, err := svc.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("Second GetOrCreate failed: %v", err)
	}
	if again.StreakReset {
		t.Error("StreakReset must only be set on the read that performed the reset")
	}
}

func TestYesterdayActivityIsNotBroken(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	seedRecord(t, st, "user-1", 4, 4, 1)

	rec, err := svc.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if rec.CurrentStreak != 4 {
		t.Errorf("Yesterday's activity keeps the streak, got %d", rec.CurrentStreak)
	}
	if rec.StreakReset {
		t.Error("No reset expected for yesterday's activity")
	}
	if rec.StreakActive {
		t.Error("Streak is not active until the user acts today")
	}
}

func TestGetOrCreateNewUser(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)

	rec, err := svc.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if rec.CurrentStreak != 0 || rec.HighestStreak != 0 || rec.LastActivityDate != nil {
		t.Errorf("Expected zeroed record for new user, got %+v", rec)
	}
	if rec.ActivityCounts.Total() != 0 {
		t.Errorf("Expected zero activity counts, got %+v", rec.ActivityCounts)
	}
}

func TestResetPreservesLifetimeValues(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	if _, err := svc.RecordActivity(ctx, "user-1", streak.ActivityPost); err != nil {
		t.Fatalf("RecordActivity failed: %v", err)
	}

	rec, err := svc.Reset(ctx, "user-1")
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if rec.CurrentStreak != 0 {
		t.Errorf("Expected current streak 0 after reset, got %d", rec.CurrentStreak)
	}
	if !rec.StreakReset {
		t.Error("Expected StreakReset flag on explicit reset")
	}
	if rec.HighestStreak != 1 {
		t.Errorf("Highest streak must survive reset, got %d", rec.HighestStreak)
	}
	if rec.ActivityCounts.Post != 1 {
		t.Errorf("Activity counters must survive reset, got %+v", rec.ActivityCounts)
	}

	hasActivity, err := svc.HasActivityToday(ctx, "user-1")
	if err != nil {
		t.Fatalf("HasActivityToday failed: %v", err)
	}
	if hasActivity {
		t.Error("Reset clears today's activity marker")
	}
}

func TestHasActivityToday(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	hasActivity, err := svc.HasActivityToday(ctx, "unknown")
	if err != nil {
		t.Fatalf("HasActivityToday failed for unknown user: %v", err)
	}
	if hasActivity {
		t.Error("Unknown user cannot have activity today")
	}

	if _, err := svc.RecordActivity(ctx, "user-1", streak.ActivityLike); err != nil {
		t.Fatalf("RecordActivity failed: %v", err)
	}

	hasActivity, err = svc.HasActivityToday(ctx, "user-1")
	if err != nil {
		t.Fatalf("HasActivityToday failed: %v", err)
	}
	if !hasActivity {
		t.Error("Expected activity today after recording")
	}
}

func TestRecordActivityValidation(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	if _, err := svc.RecordActivity(ctx, "", streak.ActivityPost); !errors.Is(err, streak.ErrMissingUserID) {
		t.Errorf("Expected ErrMissingUserID, got %v", err)
	}

	if _, err := svc.RecordActivity(ctx, "user-1", streak.ActivityType("login")); !errors.Is(err, streak.ErrInvalidActivityType) {
		t.Errorf("Expected ErrInvalidActivityType, got %v", err)
	}

	if _, err := svc.GetOrCreate(ctx, ""); !errors.Is(err, streak.ErrMissingUserID) {
		t.Errorf("Expected ErrMissingUserID from GetOrCreate, got %v", err)
	}
}

// Two events racing on the same day must produce exactly one streak
// increment between them, no matter how the writes interleave.
func TestConcurrentActivitySingleIncrement(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	const workers = 8

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordActivity(ctx, "user-1", streak.ActivityPost)
			if err != nil {
				// Exhausting the retry budget is an acceptable loss under
				// this much contention, anything else is a bug.
				if !errors.Is(err, store.ErrConflict) {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if succeeded == 0 {
		t.Fatal("Expected at least one activity to be recorded")
	}

	rec, err := svc.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if rec.CurrentStreak != 1 {
		t.Errorf("Concurrent same-day events must increment the streak exactly once, got %d", rec.CurrentStreak)
	}
	if rec.ActivityCounts.Post != succeeded {
		t.Errorf("Expected %d recorded posts, got %d", succeeded, rec.ActivityCounts.Post)
	}
}

func TestRankSharedForTies(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	seedRecord(t, st, "user-a", 5, 5, 0)
	seedRecord(t, st, "user-b", 5, 5, 0)
	seedRecord(t, st, "user-c", 7, 9, 0)
	seedRecord(t, st, "user-d", 3, 3, 0)

	cases := []struct {
		userID string
		rank   int
	}{
		{"user-c", 1},
		{"user-a", 2},
		{"user-b", 2},
		{"user-d", 4},
	}

	for _, tc := range cases {
		result, err := svc.Rank(ctx, tc.userID, "")
		if err != nil {
			t.Fatalf("Rank failed for %s: %v", tc.userID, err)
		}
		if result.Rank != tc.rank {
			t.Errorf("Expected rank %d for %s, got %d", tc.rank, tc.userID, result.Rank)
		}
	}
}

func TestLeaderboardScopeAndPosition(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	st.PutUser(store.MemoryUser{ID: "user-a", Username: "alice", College: "mit"})
	st.PutUser(store.MemoryUser{ID: "user-b", Username: "bob", College: "mit"})
	st.PutUser(store.MemoryUser{ID: "user-c", Username: "carol", College: "caltech"})

	seedRecord(t, st, "user-a", 3, 3, 0)
	seedRecord(t, st, "user-b", 8, 8, 0)
	seedRecord(t, st, "user-c", 5, 5, 0)

	board, err := svc.Leaderboard(ctx, "user-a", "mit", 10)
	if err != nil {
		t.Fatalf("Leaderboard failed: %v", err)
	}

	if len(board.Entries) != 2 {
		t.Fatalf("Expected 2 entries in mit scope, got %d", len(board.Entries))
	}
	if board.Entries[0].UserID != "user-b" || board.Entries[1].UserID != "user-a" {
		t.Errorf("Wrong ordering: %s, %s", board.Entries[0].UserID, board.Entries[1].UserID)
	}
	if board.UserPosition == nil || board.UserPosition.UserID != "user-a" {
		t.Error("Expected the caller's entry as UserPosition")
	}
	if !board.Entries[0].StreakActive {
		t.Error("Today's activity must show as active on the board")
	}
}

func TestStatistics(t *testing.T) {
	st := store.NewMemoryStreakStore()
	svc := NewStreakService(st)
	ctx := context.Background()

	seedRecord(t, st, "user-a", 4, 10, 0)
	seedRecord(t, st, "user-b", 2, 2, 2) // stale

	agg, err := svc.Statistics(ctx, "")
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}

	if agg.TotalUsers != 2 {
		t.Errorf("Expected 2 users, got %d", agg.TotalUsers)
	}
	if agg.ActiveStreaks != 1 {
		t.Errorf("Expected 1 active streak, got %d", agg.ActiveStreaks)
	}
	if agg.AverageCurrentStreak != 3 {
		t.Errorf("Expected average current 3, got %f", agg.AverageCurrentStreak)
	}
	if agg.LongestCurrentStreak != 4 || agg.LongestAllTimeStreak != 10 {
		t.Errorf("Wrong longest values: %d / %d", agg.LongestCurrentStreak, agg.LongestAllTimeStreak)
	}
}

func TestStatisticsEmptyStore(t *testing.T) {
	svc := NewStreakService(store.NewMemoryStreakStore())

	agg, err := svc.Statistics(context.Background(), "mit")
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if agg.TotalUsers != 0 || agg.AverageCurrentStreak != 0 {
		t.Errorf("Expected zeroed statistics, got %+v", agg)
	}
	if agg.Scope != "mit" {
		t.Errorf("Expected scope echoed back, got %q", agg.Scope)
	}
}

// failingStore errors on every call, standing in for a database outage.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(ctx context.Context, userID string) (*streak.Record, error) {
	return nil, errStoreDown
}

func (failingStore) Insert(ctx context.Context, rec *streak.Record) error {
	return errStoreDown
}

func (failingStore) CompareAndUpdate(ctx context.Context, rec *streak.Record, expectedUpdatedAt time.Time) error {
	return errStoreDown
}

func (failingStore) Leaderboard(ctx context.Context, q store.LeaderboardQuery) ([]*leaderboard.LeaderboardEntry, error) {
	return nil, errStoreDown
}

func (failingStore) CountHigherThan(ctx context.Context, currentStreak int, scope string) (int, error) {
	return 0, errStoreDown
}

func (failingStore) Aggregate(ctx context.Context, scope string, today time.Time) (*stats.StreakStatistics, error) {
	return nil, errStoreDown
}

func (failingStore) Subscribe(ctx context.Context, userID string, fn store.ChangeCallback) (func(), error) {
	return nil, errStoreDown
}

func TestLeaderboardDegradesToEmpty(t *testing.T) {
	svc := NewStreakService(failingStore{})

	board, err := svc.Leaderboard(context.Background(), "user-1", "", 10)
	if err != nil {
		t.Fatalf("Leaderboard must not propagate store errors, got %v", err)
	}
	if len(board.Entries) != 0 || board.TotalUsers != 0 {
		t.Errorf("Expected empty board, got %+v", board)
	}
	if board.UserPosition != nil {
		t.Error("Expected no user position on empty board")
	}
}

func TestStatisticsDegradeToZeros(t *testing.T) {
	svc := NewStreakService(failingStore{})

	agg, err := svc.Statistics(context.Background(), "")
	if err != nil {
		t.Fatalf("Statistics must not propagate store errors, got %v", err)
	}
	if agg.TotalUsers != 0 || agg.ActiveStreaks != 0 {
		t.Errorf("Expected zeroed statistics, got %+v", agg)
	}
}

func TestRecordActivityPropagatesStoreErrors(t *testing.T) {
	svc := NewStreakService(failingStore{})

	if _, err := svc.RecordActivity(context.Background(), "user-1", streak.ActivityPost); !errors.Is(err, errStoreDown) {
		t.Errorf("Writes must propagate store errors, got %v", err)
	}
}

func TestIsMilestone(t *testing.T) {
	for _, m := range []int{7, 14, 30, 50, 100, 365} {
		if !isMilestone(m) {
			t.Errorf("Expected %d to be a milestone", m)
		}
	}
	for _, n := range []int{0, 1, 6, 8, 99, 364} {
		if isMilestone(n) {
			t.Errorf("%d is not a milestone", n)
		}
	}
}

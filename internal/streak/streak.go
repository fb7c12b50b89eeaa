package streak

import (
	"errors"
	"time"
)

// ActivityType is the kind of event that can count toward a streak.
type ActivityType string

const (
	ActivityPost    ActivityType = "post"
	ActivityComment ActivityType = "comment"
	ActivityLike    ActivityType = "like"
)

var (
	ErrMissingUserID       = errors.New("user id is required")
	ErrInvalidActivityType = errors.New("invalid activity type")
)

// ValidActivityType reports whether t is one of the fixed activity kinds.
func ValidActivityType(t ActivityType) bool {
	switch t {
	case ActivityPost, ActivityComment, ActivityLike:
		return true
	}
	return false
}

// ActivityCounts holds per-type lifetime counters. Each counter moves up by
// exactly one per accepted event, whether or not the streak itself changed.
type ActivityCounts struct {
	Post    int `json:"post" db:"post_count"`
	Comment int `json:"comment" db:"comment_count"`
	Like    int `json:"like" db:"like_count"`
}

func (c *ActivityCounts) Add(t ActivityType) {
	switch t {
	case ActivityPost:
		c.Post++
	case ActivityComment:
		c.Comment++
	case ActivityLike:
		c.Like++
	}
}

func (c ActivityCounts) Total() int {
	return c.Post + c.Comment + c.Like
}

// Record is the per-user streak row. LastActivityDate is a calendar date
// (midnight-truncated) or nil if the user never had activity / was reset.
// StreakActive is derived on every read, never trusted from storage.
type Record struct {
	UserID           string         `json:"user_id" db:"user_id"`
	CurrentStreak    int            `json:"current_streak" db:"current_streak"`
	HighestStreak    int            `json:"highest_streak" db:"highest_streak"`
	LastActivityDate *time.Time     `json:"last_activity_date" db:"last_activity_date"`
	ActivityCounts   ActivityCounts `json:"activity_counts"`
	StreakActive     bool           `json:"streak_active"`
	StreakReset      bool           `json:"streak_reset,omitempty"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// Clone returns a copy safe to mutate without touching the original.
func (r *Record) Clone() *Record {
	out := *r
	if r.LastActivityDate != nil {
		d := *r.LastActivityDate
		out.LastActivityDate = &d
	}
	return &out
}

// UpdateResult is what RecordActivity hands back to callers so the UI can
// decide whether to celebrate.
type UpdateResult struct {
	Record          *Record      `json:"record"`
	ActivityType    ActivityType `json:"activity_type"`
	StreakIncreased bool         `json:"streak_increased"`
	StreakStarted   bool         `json:"streak_started"`
	PreviousStreak  int          `json:"previous_streak"`
}

// DateOnly reduces t to its calendar day, rebuilt at local midnight. The
// date components are read in t's own location so DATE values scanned at UTC
// midnight keep their calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

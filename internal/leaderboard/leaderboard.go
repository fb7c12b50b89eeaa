package leaderboard

import "time"

type LeaderboardEntry struct {
	UserID        string  `json:"user_id" db:"user_id"`
	Username      string  `json:"username" db:"username"`
	ImageURL      *string `json:"image_url" db:"image_url"`
	CurrentStreak int     `json:"current_streak" db:"current_streak"`
	HighestStreak int     `json:"highest_streak" db:"highest_streak"`
	StreakActive  bool    `json:"streak_active"`
	Rank          int     `json:"rank" db:"rank"`

	LastUpdated time.Time `json:"-" db:"updated_at"`
}

type Leaderboard struct {
	Entries      []*LeaderboardEntry `json:"entries"`
	UserPosition *LeaderboardEntry   `json:"user_position"`
	TotalUsers   int                 `json:"total_users"`
	Scope        string              `json:"scope,omitempty"`
}

type RankResult struct {
	Rank          int    `json:"rank"`
	CurrentStreak int    `json:"current_streak"`
	StreakActive  bool   `json:"streak_active"`
	Scope         string `json:"scope,omitempty"`
}

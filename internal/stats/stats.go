package stats

type StreakStatistics struct {
	TotalUsers           int     `json:"total_users"`
	ActiveStreaks        int     `json:"active_streaks"`
	AverageCurrentStreak float64 `json:"average_current_streak"`
	AverageHighestStreak float64 `json:"average_highest_streak"`
	LongestCurrentStreak int     `json:"longest_current_streak"`
	LongestAllTimeStreak int     `json:"longest_all_time_streak"`
	Scope                string  `json:"scope,omitempty"`
}

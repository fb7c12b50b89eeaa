package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"socialzAPI/internal/leaderboard"
	"socialzAPI/internal/stats"
	"socialzAPI/internal/streak"
)

const streakChannel = "streak_changes"

// PostgresStreakStore keeps one row per user in the streaks table and pushes
// every persisted change through Postgres NOTIFY so subscribers see it live.
type PostgresStreakStore struct {
	db *pgxpool.Pool
}

func NewPostgresStreakStore(db *pgxpool.Pool) *PostgresStreakStore {
	return &PostgresStreakStore{db: db}
}

func (s *PostgresStreakStore) Get(ctx context.Context, userID string) (*streak.Record, error) {
	query := `
	SELECT user_id, current_streak, highest_streak, last_activity_date,
	       post_count, comment_count, like_count, created_at, updated_at
	FROM streaks
	WHERE user_id = $1
	`

	rec := &streak.Record{}
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&rec.UserID,
		&rec.CurrentStreak,
		&rec.HighestStreak,
		&rec.LastActivityDate,
		&rec.ActivityCounts.Post,
		&rec.ActivityCounts.Comment,
		&rec.ActivityCounts.Like,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapStoreErr(err)
	}

	return rec, nil
}

func (s *PostgresStreakStore) Insert(ctx context.Context, rec *streak.Record) error {
	query := `
	INSERT INTO streaks (user_id, current_streak, highest_streak, last_activity_date,
	                     post_count, comment_count, like_count, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		rec.UserID,
		rec.CurrentStreak,
		rec.HighestStreak,
		rec.LastActivityDate,
		rec.ActivityCounts.Post,
		rec.ActivityCounts.Comment,
		rec.ActivityCounts.Like,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return mapStoreErr(err)
	}

	s.publish(ctx, rec)
	return nil
}

// CompareAndUpdate is the conditional write that keeps one streak increment
// per day under concurrent callers: the row only changes if updated_at still
// matches what the caller read.
func (s *PostgresStreakStore) CompareAndUpdate(ctx context.Context, rec *streak.Record, expectedUpdatedAt time.Time) error {
	query := `
	UPDATE streaks
	SET current_streak = $3,
	    highest_streak = $4,
	    last_activity_date = $5,
	    post_count = $6,
	    comment_count = $7,
	    like_count = $8,
	    updated_at = $9
	WHERE user_id = $1 AND updated_at = $2
	`

	result, err := s.db.Exec(ctx, query,
		rec.UserID,
		expectedUpdatedAt,
		rec.CurrentStreak,
		rec.HighestStreak,
		rec.LastActivityDate,
		rec.ActivityCounts.Post,
		rec.ActivityCounts.Comment,
		rec.ActivityCounts.Like,
		rec.UpdatedAt,
	)
	if err != nil {
		return mapStoreErr(err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM streaks WHERE user_id = $1)`, rec.UserID).Scan(&exists); err != nil {
			return mapStoreErr(err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}

	s.publish(ctx, rec)
	return nil
}

func (s *PostgresStreakStore) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]*leaderboard.LeaderboardEntry, error) {
	query := `
	SELECT
		s.user_id,
		u.username,
		u.image_url,
		s.current_streak,
		s.highest_streak,
		(s.last_activity_date = $1::date) AS streak_active,
		RANK() OVER (ORDER BY s.current_streak DESC) AS rank,
		s.updated_at
	FROM streaks s
	INNER JOIN users u ON u.id = s.user_id
	WHERE ($2 = '' OR u.college = $2)
	ORDER BY s.current_streak DESC, s.updated_at ASC, s.user_id ASC
	LIMIT $3
	`

	rows, err := s.db.Query(ctx, query, q.Today, q.Scope, q.Limit)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	var entries []*leaderboard.LeaderboardEntry
	for rows.Next() {
		entry := &leaderboard.LeaderboardEntry{}
		var active *bool
		err := rows.Scan(
			&entry.UserID,
			&entry.Username,
			&entry.ImageURL,
			&entry.CurrentStreak,
			&entry.HighestStreak,
			&active,
			&entry.Rank,
			&entry.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entry.StreakActive = active != nil && *active
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}

	return entries, nil
}

func (s *PostgresStreakStore) CountHigherThan(ctx context.Context, currentStreak int, scope string) (int, error) {
	query := `
	SELECT COUNT(*)
	FROM streaks s
	INNER JOIN users u ON u.id = s.user_id
	WHERE s.current_streak > $1
	  AND ($2 = '' OR u.college = $2)
	`

	var count int
	if err := s.db.QueryRow(ctx, query, currentStreak, scope).Scan(&count); err != nil {
		return 0, mapStoreErr(err)
	}
	return count, nil
}

func (s *PostgresStreakStore) Aggregate(ctx context.Context, scope string, today time.Time) (*stats.StreakStatistics, error) {
	query := `
	SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE s.last_activity_date = $1::date),
		COALESCE(AVG(s.current_streak), 0),
		COALESCE(AVG(s.highest_streak), 0),
		COALESCE(MAX(s.current_streak), 0),
		COALESCE(MAX(s.highest_streak), 0)
	FROM streaks s
	INNER JOIN users u ON u.id = s.user_id
	WHERE ($2 = '' OR u.college = $2)
	`

	agg := &stats.StreakStatistics{Scope: scope}
	err := s.db.QueryRow(ctx, query, today, scope).Scan(
		&agg.TotalUsers,
		&agg.ActiveStreaks,
		&agg.AverageCurrentStreak,
		&agg.AverageHighestStreak,
		&agg.LongestCurrentStreak,
		&agg.LongestAllTimeStreak,
	)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	return agg, nil
}

type changePayload struct {
	UserID string         `json:"user_id"`
	Record *streak.Record `json:"record"`
}

// Subscribe holds a dedicated connection on LISTEN until unsubscribed or the
// connection drops. A drop ends delivery silently; reconnection is the
// caller's concern.
func (s *PostgresStreakStore) Subscribe(ctx context.Context, userID string, fn ChangeCallback) (func(), error) {
	subCtx, cancel := context.WithCancel(context.Background())

	conn, err := s.db.Acquire(ctx)
	if err != nil {
		cancel()
		return nil, mapStoreErr(err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+streakChannel); err != nil {
		conn.Release()
		cancel()
		return nil, mapStoreErr(err)
	}

	go func() {
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				return
			}

			var payload changePayload
			if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
				log.Printf("Streak subscription: bad notify payload: %v", err)
				continue
			}

			if payload.UserID == userID && payload.Record != nil {
				fn(payload.Record)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

func (s *PostgresStreakStore) publish(ctx context.Context, rec *streak.Record) {
	payload, err := json.Marshal(changePayload{UserID: rec.UserID, Record: rec})
	if err != nil {
		log.Printf("Failed to marshal streak change for %s: %v", rec.UserID, err)
		return
	}

	if _, err := s.db.Exec(ctx, "SELECT pg_notify($1, $2)", streakChannel, string(payload)); err != nil {
		log.Printf("Failed to notify streak change for %s: %v", rec.UserID, err)
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

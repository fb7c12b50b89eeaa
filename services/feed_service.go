package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"socialzAPI/internal/feed"
	"socialzAPI/internal/streak"
)

// FeedService owns posts, comments and likes. Every successful write reports
// one qualifying event to the streak engine; streak tracking is best-effort
// relative to the primary action and never rolls it back.
type FeedService struct {
	db      *pgxpool.Pool
	streaks *StreakService
}

func NewFeedService(db *pgxpool.Pool, streaks *StreakService) *FeedService {
	return &FeedService{db: db, streaks: streaks}
}

func (s *FeedService) CreatePost(ctx context.Context, userID string, req *feed.CreatePostRequest) (*feed.Post, *streak.UpdateResult, error) {
	if req.Content == "" && req.ImageURL == nil {
		return nil, nil, fmt.Errorf("post needs content or an image")
	}

	post := &feed.Post{
		ID:        uuid.New().String(),
		UserID:    userID,
		Content:   req.Content,
		ImageURL:  req.ImageURL,
		CreatedAt: time.Now(),
	}

	query := `
	INSERT INTO posts (id, user_id, content, image_url, created_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING created_at
	`

	err := s.db.QueryRow(ctx, query, post.ID, post.UserID, post.Content, post.ImageURL, post.CreatedAt).Scan(&post.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create post: %w", err)
	}

	result := s.recordStreakActivity(ctx, userID, streak.ActivityPost)
	return post, result, nil
}

func (s *FeedService) CreateComment(ctx context.Context, userID, postID string, req *feed.CreateCommentRequest) (*feed.Comment, *streak.UpdateResult, error) {
	if req.Content == "" {
		return nil, nil, fmt.Errorf("comment content is required")
	}

	comment := &feed.Comment{
		ID:        uuid.New().String(),
		PostID:    postID,
		UserID:    userID,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}

	query := `
	INSERT INTO comments (id, post_id, user_id, content, created_at)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING created_at
	`

	err := s.db.QueryRow(ctx, query, comment.ID, comment.PostID, comment.UserID, comment.Content, comment.CreatedAt).Scan(&comment.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create comment: %w", err)
	}

	result := s.recordStreakActivity(ctx, userID, streak.ActivityComment)
	return comment, result, nil
}

// LikePost is idempotent per (user, post); only a fresh like counts as a
// qualifying event.
func (s *FeedService) LikePost(ctx context.Context, userID, postID string) (*streak.UpdateResult, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1)`, postID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check post: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("post not found")
	}

	query := `
	INSERT INTO post_likes (post_id, user_id, created_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (post_id, user_id) DO NOTHING
	`

	result, err := s.db.Exec(ctx, query, postID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to like post: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Already liked, not a new event.
		return nil, nil
	}

	return s.recordStreakActivity(ctx, userID, streak.ActivityLike), nil
}

func (s *FeedService) UnlikePost(ctx context.Context, userID, postID string) error {
	result, err := s.db.Exec(ctx, `DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`, postID, userID)
	if err != nil {
		return fmt.Errorf("failed to unlike post: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("like not found")
	}
	return nil
}

func (s *FeedService) GetFeed(ctx context.Context, limit int) ([]*feed.Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
	SELECT
		p.id,
		p.user_id,
		u.username,
		u.image_url,
		p.content,
		p.image_url,
		(SELECT COUNT(*) FROM post_likes pl WHERE pl.post_id = p.id) AS like_count,
		(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id) AS comment_count,
		p.created_at
	FROM posts p
	JOIN users u ON u.id = p.user_id
	ORDER BY p.created_at DESC
	LIMIT $1
	`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer rows.Close()

	var posts []*feed.Post
	for rows.Next() {
		post := &feed.Post{}
		err := rows.Scan(
			&post.ID,
			&post.UserID,
			&post.Username,
			&post.UserImageURL,
			&post.Content,
			&post.ImageURL,
			&post.LikeCount,
			&post.CommentCount,
			&post.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}

	if posts == nil {
		posts = []*feed.Post{}
	}

	return posts, nil
}

func (s *FeedService) GetComments(ctx context.Context, postID string) ([]*feed.Comment, error) {
	query := `
	SELECT c.id, c.post_id, c.user_id, u.username, c.content, c.created_at
	FROM comments c
	JOIN users u ON u.id = c.user_id
	WHERE c.post_id = $1
	ORDER BY c.created_at ASC
	`

	rows, err := s.db.Query(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch comments: %w", err)
	}
	defer rows.Close()

	var comments []*feed.Comment
	for rows.Next() {
		c := &feed.Comment{}
		if err := rows.Scan(&c.ID, &c.PostID, &c.UserID, &c.Username, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}

	if comments == nil {
		comments = []*feed.Comment{}
	}

	return comments, nil
}

// recordStreakActivity reports a qualifying event after the primary write
// already succeeded. A failure here is logged and surfaced as a missing
// result; it never fails the caller's action.
func (s *FeedService) recordStreakActivity(ctx context.Context, userID string, activityType streak.ActivityType) *streak.UpdateResult {
	streakCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	result, err := s.streaks.RecordActivity(streakCtx, userID, activityType)
	if err != nil {
		log.Printf("Streak update failed for user %s after %s: %v", userID, activityType, err)
		return nil
	}
	return result
}

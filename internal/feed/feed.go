package feed

import "time"

type Post struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Username     string    `json:"username"`
	UserImageURL *string   `json:"user_image_url"`
	Content      string    `json:"content" db:"content"`
	ImageURL     *string   `json:"image_url" db:"image_url"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type Comment struct {
	ID        string    `json:"id" db:"id"`
	PostID    string    `json:"post_id" db:"post_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CreatePostRequest struct {
	Content  string  `json:"content"`
	ImageURL *string `json:"image_url"`
}

type CreateCommentRequest struct {
	Content string `json:"content"`
}

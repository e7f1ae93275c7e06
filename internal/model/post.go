package model

import "time"

const (
	// MaxPostTitleLength は投稿タイトルの最大文字数。
	MaxPostTitleLength = 150
	// MaxCommentLength はコメントの最大文字数。
	MaxCommentLength = 300
)

// Post は画像投稿を表す。
type Post struct {
	ID        string
	UserID    string
	Title     string
	ImageURL  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostWithStats は投稿に作成者・いいね数・コメントを結合したもの。
type PostWithStats struct {
	Post
	Author     UserSummary
	LikesCount int
	LikedByMe  bool
	Comments   []CommentWithAuthor
}

// Comment は投稿へのコメント。
type Comment struct {
	ID        string
	PostID    string
	UserID    string
	Text      string
	CreatedAt time.Time
}

// CommentWithAuthor はコメントに作成者情報を結合したもの。
type CommentWithAuthor struct {
	Comment
	Author UserSummary
}

// PostSummary は通知などで参照する投稿の射影。
type PostSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ImageURL string `json:"imageUrl"`
}

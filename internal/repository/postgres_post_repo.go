package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/mosaic/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, user_id, title, image_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		post.ID, post.UserID, post.Title, post.ImageURL, post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	post := &model.Post{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, image_url, created_at, updated_at FROM posts WHERE id = $1`,
		id,
	).Scan(&post.ID, &post.UserID, &post.Title, &post.ImageURL, &post.CreatedAt, &post.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	return post, nil
}

const postWithStatsSelect = `SELECT p.id, p.user_id, p.title, p.image_url, p.created_at, p.updated_at,
	       u.id, u.username, u.email, u.avatar_url,
	       (SELECT count(*) FROM post_likes l WHERE l.post_id = p.id),
	       EXISTS (SELECT 1 FROM post_likes l WHERE l.post_id = p.id AND l.user_id::text = $1)
	FROM posts p JOIN users u ON u.id = p.user_id`

func scanPostWithStats(row rowScanner) (*model.PostWithStats, error) {
	var (
		p         model.PostWithStats
		avatarURL sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Title, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt,
		&p.Author.ID, &p.Author.Username, &p.Author.Email, &avatarURL,
		&p.LikesCount, &p.LikedByMe,
	)
	if err != nil {
		return nil, err
	}
	p.Author.AvatarURL = avatarURL.String
	p.Comments = []model.CommentWithAuthor{}
	return &p, nil
}

// FindWithStats は投稿を作成者・いいね・コメント付きで取得する。
func (r *PostgresPostRepo) FindWithStats(ctx context.Context, id, viewerID string) (*model.PostWithStats, error) {
	post, err := scanPostWithStats(r.db.QueryRowContext(ctx,
		postWithStatsSelect+` WHERE p.id = $2`,
		viewerID, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post with stats: %w", err)
	}

	comments, err := r.commentsFor(ctx, []string{post.ID})
	if err != nil {
		return nil, err
	}
	if c, ok := comments[post.ID]; ok {
		post.Comments = c
	}
	return post, nil
}

// ListRecent はsince以降の投稿を新しい順にlimit件返す。
func (r *PostgresPostRepo) ListRecent(ctx context.Context, viewerID, authorID string, since time.Time, limit int) ([]model.PostWithStats, error) {
	rows, err := r.db.QueryContext(ctx,
		postWithStatsSelect+`
		 WHERE ($2 = '' OR p.user_id::text = $2)
		   AND ($3::timestamptz IS NULL OR p.created_at >= $3)
		 ORDER BY p.created_at DESC
		 LIMIT $4`,
		viewerID, authorID, nullTime(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts := make([]model.PostWithStats, 0)
	var ids []string
	for rows.Next() {
		p, err := scanPostWithStats(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, *p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	comments, err := r.commentsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		if c, ok := comments[posts[i].ID]; ok {
			posts[i].Comments = c
		}
	}
	return posts, nil
}

// commentsFor は投稿IDごとのコメントを作成日時の昇順で返す。
func (r *PostgresPostRepo) commentsFor(ctx context.Context, postIDs []string) (map[string][]model.CommentWithAuthor, error) {
	result := make(map[string][]model.CommentWithAuthor)
	if len(postIDs) == 0 {
		return result, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.post_id, c.user_id, c.text, c.created_at,
		        u.id, u.username, u.email, u.avatar_url
		 FROM comments c JOIN users u ON u.id = c.user_id
		 WHERE c.post_id = ANY($1)
		 ORDER BY c.created_at ASC`,
		pq.Array(postIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c         model.CommentWithAuthor
			avatarURL sql.NullString
		)
		if err := rows.Scan(
			&c.ID, &c.PostID, &c.UserID, &c.Text, &c.CreatedAt,
			&c.Author.ID, &c.Author.Username, &c.Author.Email, &avatarURL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.Author.AvatarURL = avatarURL.String
		result[c.PostID] = append(result[c.PostID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return result, nil
}

// Delete は投稿を削除する。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザーの全投稿を削除する。
func (r *PostgresPostRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user posts: %w", err)
	}
	return nil
}

// Like はいいねを冪等に追加する。
func (r *PostgresPostRepo) Like(ctx context.Context, postID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO post_likes (post_id, user_id, created_at) VALUES ($1, $2, now())
		 ON CONFLICT (post_id, user_id) DO NOTHING`,
		postID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to like post: %w", err)
	}
	return nil
}

// Unlike はいいねを冪等に削除する。
func (r *PostgresPostRepo) Unlike(ctx context.Context, postID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`,
		postID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to unlike post: %w", err)
	}
	return nil
}

// AddComment はコメントを作成する。
func (r *PostgresPostRepo) AddComment(ctx context.Context, comment *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, user_id, text, created_at) VALUES ($1, $2, $3, $4, $5)`,
		comment.ID, comment.PostID, comment.UserID, comment.Text, comment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// FindComment は投稿内のコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindComment(ctx context.Context, postID, commentID string) (*model.Comment, error) {
	c := &model.Comment{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, post_id, user_id, text, created_at FROM comments WHERE id = $1 AND post_id = $2`,
		commentID, postID,
	).Scan(&c.ID, &c.PostID, &c.UserID, &c.Text, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find comment: %w", err)
	}
	return c, nil
}

// DeleteComment はコメントを削除する。
func (r *PostgresPostRepo) DeleteComment(ctx context.Context, postID, commentID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM comments WHERE id = $1 AND post_id = $2`,
		commentID, postID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)

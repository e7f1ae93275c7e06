package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/mosaic/internal/model"
)

// PostgresFollowRepo はPostgreSQLを使用したフォローリポジトリ。
// フォロー関係はfollowsテーブルの1行で表し、両方向の一覧は同じ行から引く。
type PostgresFollowRepo struct {
	db *sql.DB
}

// NewPostgresFollowRepo はPostgresFollowRepoを生成する。
func NewPostgresFollowRepo(db *sql.DB) *PostgresFollowRepo {
	return &PostgresFollowRepo{db: db}
}

// Follow はエッジとfollow通知を同一トランザクションで作成する。
func (r *PostgresFollowRepo) Follow(ctx context.Context, followerID, followeeID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO follows (follower_id, followee_id, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (follower_id, followee_id) DO NOTHING`,
		followerID, followeeID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert follow: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return nil
	}

	// 同じ相手からのfollow通知は1件に保つ
	_, err = tx.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, kind, from_user_id, seen, created_at)
		 VALUES ($1, $2, $3, $4, false, now())
		 ON CONFLICT (user_id, from_user_id) WHERE kind = 'follow' DO NOTHING`,
		uuid.New().String(), followeeID, string(model.NotificationFollow), followerID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert follow notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Unfollow はエッジと対応するfollow通知を同一トランザクションで削除する。
func (r *PostgresFollowRepo) Unfollow(ctx context.Context, followerID, followeeID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`,
		followerID, followeeID,
	); err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notifications WHERE user_id = $1 AND from_user_id = $2 AND kind = $3`,
		followeeID, followerID, string(model.NotificationFollow),
	); err != nil {
		return fmt.Errorf("failed to delete follow notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsFollowing はfollowerIDがfolloweeIDをフォローしているかを返す。
func (r *PostgresFollowRepo) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND followee_id = $2)`,
		followerID, followeeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check follow: %w", err)
	}
	return exists, nil
}

// IsMutual はaとbが互いにフォローしているかを単一クエリで返す。
func (r *PostgresFollowRepo) IsMutual(ctx context.Context, a, b string) (bool, error) {
	var edges int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM follows
		 WHERE (follower_id = $1 AND followee_id = $2)
		    OR (follower_id = $2 AND followee_id = $1)`,
		a, b,
	).Scan(&edges)
	if err != nil {
		return false, fmt.Errorf("failed to check mutual follow: %w", err)
	}
	return edges == 2, nil
}

// ListFollowers はフォロワーを新しい順に返す。
func (r *PostgresFollowRepo) ListFollowers(ctx context.Context, userID string, limit int) ([]model.UserSummary, error) {
	return r.listEdges(ctx,
		`SELECT u.id, u.username, u.email, u.avatar_url
		 FROM follows f JOIN users u ON u.id = f.follower_id
		 WHERE f.followee_id = $1
		 ORDER BY f.created_at DESC
		 LIMIT NULLIF($2, 0)`,
		userID, limit)
}

// ListFollowing はフォロー中のユーザーを新しい順に返す。
func (r *PostgresFollowRepo) ListFollowing(ctx context.Context, userID string, limit int) ([]model.UserSummary, error) {
	return r.listEdges(ctx,
		`SELECT u.id, u.username, u.email, u.avatar_url
		 FROM follows f JOIN users u ON u.id = f.followee_id
		 WHERE f.follower_id = $1
		 ORDER BY f.created_at DESC
		 LIMIT NULLIF($2, 0)`,
		userID, limit)
}

func (r *PostgresFollowRepo) listEdges(ctx context.Context, query, userID string, limit int) ([]model.UserSummary, error) {
	if limit < 0 {
		limit = 0
	}
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list follows: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// FollowerIDs はフォロワーのID一覧を返す。
func (r *PostgresFollowRepo) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT follower_id FROM follows WHERE followee_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list follower IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan follower ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate follower IDs: %w", err)
	}
	return ids, nil
}

// Counts はフォロワー数とフォロー数を返す。
func (r *PostgresFollowRepo) Counts(ctx context.Context, userID string) (int, int, error) {
	var followers, following int
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT count(*) FROM follows WHERE followee_id = $1),
		   (SELECT count(*) FROM follows WHERE follower_id = $1)`,
		userID,
	).Scan(&followers, &following)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count follows: %w", err)
	}
	return followers, following, nil
}

// compile-time interface check
var _ FollowRepository = (*PostgresFollowRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/mosaic/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// InsertMany は通知を同一トランザクションで一括作成する。
func (r *PostgresNotificationRepo) InsertMany(ctx context.Context, notifications []model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO notifications (id, user_id, kind, from_user_id, post_id, seen, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT DO NOTHING`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare notification insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range notifications {
		kind, from, postID := model.NotificationColumns(n.Payload)
		if _, err := stmt.ExecContext(ctx,
			n.ID, n.UserID, string(kind), from, nullString(postID), n.Seen, n.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByUser は通知を新しい順にlimit件、送信者・投稿情報付きで返す。
// 送信者または投稿が削除済みの場合は対応するフィールドがnilとなる。
func (r *PostgresNotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.NotificationView, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT n.id, n.user_id, n.kind, n.from_user_id, n.post_id, n.seen, n.created_at,
		        u.id, u.username, u.avatar_url,
		        p.id, p.title, p.image_url
		 FROM notifications n
		 LEFT JOIN users u ON u.id = n.from_user_id
		 LEFT JOIN posts p ON p.id = n.post_id
		 WHERE n.user_id = $1
		 ORDER BY n.created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	views := make([]model.NotificationView, 0)
	for rows.Next() {
		var (
			v                             model.NotificationView
			kind, from                    string
			postID                        sql.NullString
			fromID, fromName, fromAvatar  sql.NullString
			postRefID, postTitle, postImg sql.NullString
		)
		if err := rows.Scan(
			&v.ID, &v.UserID, &kind, &from, &postID, &v.Seen, &v.CreatedAt,
			&fromID, &fromName, &fromAvatar,
			&postRefID, &postTitle, &postImg,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		payload, err := model.NotificationPayloadFromColumns(kind, from, postID.String)
		if err != nil {
			return nil, err
		}
		v.Payload = payload
		if fromID.Valid {
			v.From = &model.UserSummary{ID: fromID.String, Username: fromName.String, AvatarURL: fromAvatar.String}
		}
		if postRefID.Valid {
			v.Post = &model.PostSummary{ID: postRefID.String, Title: postTitle.String, ImageURL: postImg.String}
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return views, nil
}

// CountUnseen は未読通知数を返す。
func (r *PostgresNotificationRepo) CountUnseen(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND seen = false`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unseen notifications: %w", err)
	}
	return count, nil
}

// MarkSeen は本人の通知1件を既読にする。
func (r *PostgresNotificationRepo) MarkSeen(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET seen = true WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification seen: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkAllSeen は本人の未読通知をすべて既読にする。
func (r *PostgresNotificationRepo) MarkAllSeen(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET seen = true WHERE user_id = $1 AND seen = false`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark all notifications seen: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザー宛て、およびユーザーが送信者の通知を削除する。
func (r *PostgresNotificationRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE user_id = $1 OR from_user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete notifications: %w", err)
	}
	return nil
}

// DeleteSeenOlderThan はcutoffより古い既読通知を削除し、削除件数を返す。
func (r *PostgresNotificationRepo) DeleteSeenOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE seen = true AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/mosaic/internal/model"
)

// PostgresHandshakeRepo はPostgreSQLを使用したOAuth stateリポジトリ。
type PostgresHandshakeRepo struct {
	db *sql.DB
}

// NewPostgresHandshakeRepo はPostgresHandshakeRepoを生成する。
func NewPostgresHandshakeRepo(db *sql.DB) *PostgresHandshakeRepo {
	return &PostgresHandshakeRepo{db: db}
}

// Create はstateを保存する。
func (r *PostgresHandshakeRepo) Create(ctx context.Context, handshake *model.OAuthHandshake) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_handshakes (state, expires_at, created_at)
		 VALUES ($1, $2, $3)`,
		handshake.State, handshake.ExpiresAt, handshake.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create oauth handshake: %w", err)
	}
	return nil
}

// Consume は有効期限内のstateを削除し、存在した場合はtrueを返す。
func (r *PostgresHandshakeRepo) Consume(ctx context.Context, state string) (bool, error) {
	var consumed string
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM oauth_handshakes
		 WHERE state = $1 AND expires_at > now()
		 RETURNING state`,
		state,
	).Scan(&consumed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume oauth handshake: %w", err)
	}
	return true, nil
}

// DeleteExpired は期限切れのstateを削除し、削除件数を返す。
func (r *PostgresHandshakeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_handshakes WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired oauth handshakes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ HandshakeRepository = (*PostgresHandshakeRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/mosaic/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

// isUniqueViolation はerrが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime はゼロ値をNULLとして扱う。
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

const userColumns = `id, email, username, password_hash, google_id, avatar_url, role,
	login_otp_hash, login_otp_expires_at, login_pending_token, login_otp_attempts,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                                 model.User
		passwordHash, googleID, avatarURL sql.NullString
		otpHash, pendingToken             sql.NullString
		otpExpiresAt                      sql.NullTime
		role                              string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &passwordHash, &googleID, &avatarURL, &role,
		&otpHash, &otpExpiresAt, &pendingToken, &u.LoginOTPAttempts,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = passwordHash.String
	u.GoogleID = googleID.String
	u.AvatarURL = avatarURL.String
	u.Role = model.Role(role)
	u.LoginOTPHash = otpHash.String
	u.LoginPendingToken = pendingToken.String
	if otpExpiresAt.Valid {
		u.LoginOTPExpiresAt = otpExpiresAt.Time
	}
	return &u, nil
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// ログインOTPチャレンジもusers行に保持するため、OTPChallengeRepositoryも実装する。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.findOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は正規化済みメールアドレスでユーザーを取得する。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, `email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByGoogleID はGoogleのユーザーIDでユーザーを取得する。
func (r *PostgresUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	user, err := r.findOne(ctx, `google_id = $1`, googleID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google ID: %w", err)
	}
	return user, nil
}

// FindByPendingToken は保留トークンでユーザーを取得する。
func (r *PostgresUserRepo) FindByPendingToken(ctx context.Context, pendingToken string) (*model.User, error) {
	user, err := r.findOne(ctx, `login_pending_token = $1`, pendingToken)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by pending token: %w", err)
	}
	return user, nil
}

// FindIdentity はリクエストコンテキスト用の射影を取得する。
func (r *PostgresUserRepo) FindIdentity(ctx context.Context, id string) (*model.Identity, error) {
	var (
		identity  model.Identity
		avatarURL sql.NullString
		role      string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, email, role, avatar_url FROM users WHERE id = $1`,
		id,
	).Scan(&identity.ID, &identity.Username, &identity.Email, &role, &avatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	identity.Role = model.Role(role)
	identity.AvatarURL = avatarURL.String
	return &identity, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, google_id, avatar_url, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.Username, nullString(user.PasswordHash), nullString(user.GoogleID),
		nullString(user.AvatarURL), string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateProfile はgoogle_id、avatar_url、username、roleを更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET google_id = $2, avatar_url = $3, username = $4, role = $5, updated_at = $6
		 WHERE id = $1`,
		user.ID, nullString(user.GoogleID), nullString(user.AvatarURL), user.Username,
		string(user.Role), user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return nil
}

// UpdateAvatar はアバターURLのみを更新する。
func (r *PostgresUserRepo) UpdateAvatar(ctx context.Context, id, avatarURL string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET avatar_url = $2, updated_at = now() WHERE id = $1`,
		id, nullString(avatarURL),
	)
	if err != nil {
		return fmt.Errorf("failed to update avatar: %w", err)
	}
	return nil
}

// ListSummaries は指定IDのユーザー射影を取得する。
func (r *PostgresUserRepo) ListSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, email, avatar_url FROM users WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user summaries: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]model.UserSummary, error) {
	var summaries []model.UserSummary
	for rows.Next() {
		var (
			s         model.UserSummary
			avatarURL sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Username, &s.Email, &avatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan user summary: %w", err)
		}
		s.AvatarURL = avatarURL.String
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user summaries: %w", err)
	}
	return summaries, nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// IssueChallenge はチャレンジを上書き発行する。以前の保留トークンは無効になる。
func (r *PostgresUserRepo) IssueChallenge(ctx context.Context, userID, otpHash, pendingToken string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET login_otp_hash = $2, login_otp_expires_at = $3, login_pending_token = $4,
		     login_otp_attempts = 0, updated_at = now()
		 WHERE id = $1`,
		userID, otpHash, expiresAt, pendingToken,
	)
	if err != nil {
		return fmt.Errorf("failed to issue otp challenge: %w", err)
	}
	return nil
}

// ReissueChallenge は保留トークンを維持したままコードと期限を再発行する。
func (r *PostgresUserRepo) ReissueChallenge(ctx context.Context, pendingToken, otpHash string, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET login_otp_hash = $2, login_otp_expires_at = $3, login_otp_attempts = 0, updated_at = now()
		 WHERE login_pending_token = $1`,
		pendingToken, otpHash, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reissue otp challenge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ClaimAttempt は試行回数の確認と加算を単一のUPDATEで行う。
// 同時に検証されても、上限を超えて照合権が払い出されることはない。
func (r *PostgresUserRepo) ClaimAttempt(ctx context.Context, pendingToken string, maxAttempts int, now time.Time) (*OTPAttempt, error) {
	var attempt OTPAttempt
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET login_otp_attempts = login_otp_attempts + 1
		 WHERE login_pending_token = $1
		   AND login_otp_hash IS NOT NULL
		   AND login_otp_attempts < $2
		   AND login_otp_expires_at > $3
		 RETURNING id, login_otp_hash`,
		pendingToken, maxAttempts, now,
	).Scan(&attempt.UserID, &attempt.OTPHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim otp attempt: %w", err)
	}
	return &attempt, nil
}

// ConsumeChallenge は現在のチャレンジがotpHashと一致する場合のみクリアする。
// 同じコードでの同時検証は1件だけが成功する。
func (r *PostgresUserRepo) ConsumeChallenge(ctx context.Context, userID, pendingToken, otpHash string, maxAttempts int, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET login_otp_hash = NULL, login_otp_expires_at = NULL, login_pending_token = NULL,
		     login_otp_attempts = 0, updated_at = now()
		 WHERE id = $1 AND login_pending_token = $2 AND login_otp_hash = $3
		   AND login_otp_attempts <= $4 AND login_otp_expires_at > $5`,
		userID, pendingToken, otpHash, maxAttempts, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume otp challenge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ClearChallenge は保留トークンに紐づくチャレンジを破棄する。
func (r *PostgresUserRepo) ClearChallenge(ctx context.Context, pendingToken string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET login_otp_hash = NULL, login_otp_expires_at = NULL, login_pending_token = NULL,
		     login_otp_attempts = 0, updated_at = now()
		 WHERE login_pending_token = $1`,
		pendingToken,
	)
	if err != nil {
		return fmt.Errorf("failed to clear otp challenge: %w", err)
	}
	return nil
}

// CountUsers は全ユーザー数とGoogle連携ユーザー数を返す。
func (r *PostgresUserRepo) CountUsers(ctx context.Context) (int, int, error) {
	var total, linked int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), count(google_id) FROM users`,
	).Scan(&total, &linked)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count users: %w", err)
	}
	return total, linked, nil
}

// ListRecentUsers は作成日時の新しい順にユーザーを投稿数付きで返す。
func (r *PostgresUserRepo) ListRecentUsers(ctx context.Context, limit int, googleOnly bool) ([]AdminUserRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.email, u.google_id, u.created_at,
		        (SELECT count(*) FROM posts p WHERE p.user_id = u.id)
		 FROM users u
		 WHERE ($2 = false OR u.google_id IS NOT NULL)
		 ORDER BY u.created_at DESC
		 LIMIT $1`,
		limit, googleOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent users: %w", err)
	}
	defer rows.Close()

	var result []AdminUserRow
	for rows.Next() {
		var (
			row      AdminUserRow
			googleID sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.Username, &row.Email, &googleID, &row.CreatedAt, &row.PostCount); err != nil {
			return nil, fmt.Errorf("failed to scan admin user row: %w", err)
		}
		row.GoogleID = googleID.String
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate admin user rows: %w", err)
	}
	return result, nil
}

// compile-time interface check
var (
	_ UserRepository         = (*PostgresUserRepo)(nil)
	_ OTPChallengeRepository = (*PostgresUserRepo)(nil)
	_ AdminStatsRepository   = (*PostgresUserRepo)(nil)
)

// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/mosaic/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByGoogleID はGoogleのユーザーIDでユーザーを取得する。見つからない場合はnilを返す。
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)

	// FindIdentity はリクエストコンテキスト用の最小限の射影を取得する。見つからない場合はnilを返す。
	FindIdentity(ctx context.Context, id string) (*model.Identity, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile はgoogle_id、avatar_url、username、roleを更新する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// UpdateAvatar はアバターURLのみを更新する。
	UpdateAvatar(ctx context.Context, id, avatarURL string) error

	// ListSummaries は指定IDのユーザー射影を取得する。存在しないIDは結果に含まれない。
	ListSummaries(ctx context.Context, ids []string) ([]model.UserSummary, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// follows、chats、messages、post_likes、commentsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// OTPChallengeRepository はusers行に保持するログインOTPチャレンジの永続化インターフェース。
// すべての操作は単一行の条件付きUPDATEで行い、読み取り→書き込みの競合を避ける。
type OTPChallengeRepository interface {
	// FindByPendingToken は保留トークンでユーザーを取得する。見つからない場合はnilを返す。
	FindByPendingToken(ctx context.Context, pendingToken string) (*model.User, error)

	// IssueChallenge はチャレンジを上書き発行し、試行回数を0に戻す。
	IssueChallenge(ctx context.Context, userID, otpHash, pendingToken string, expiresAt time.Time) error

	// ReissueChallenge は保留トークンを維持したままコードと期限を再発行し、試行回数を0に戻す。
	// 対象が存在しない場合はfalseを返す。
	ReissueChallenge(ctx context.Context, pendingToken, otpHash string, expiresAt time.Time) (bool, error)

	// ClaimAttempt は有効期限内かつ試行回数がmaxAttempts未満のチャレンジについて、
	// 試行回数を1増やしてから照合対象のハッシュを返す。照合はこの更新の後で行う。
	// 条件を満たすチャレンジが存在しない場合はnilを返す。
	ClaimAttempt(ctx context.Context, pendingToken string, maxAttempts int, now time.Time) (*OTPAttempt, error)

	// ConsumeChallenge はotpHashが現在のチャレンジと一致し、有効期限内かつ試行回数がmaxAttempts以下の場合のみ
	// OTP関連カラムをすべてクリアする。既に消費済み・再発行済み・期限切れの場合はfalseを返す。
	ConsumeChallenge(ctx context.Context, userID, pendingToken, otpHash string, maxAttempts int, now time.Time) (bool, error)

	// ClearChallenge は保留トークンに紐づくチャレンジを無条件に破棄する。
	ClearChallenge(ctx context.Context, pendingToken string) error
}

// OTPAttempt はClaimAttemptで確保した1回分の照合権。
type OTPAttempt struct {
	UserID  string
	OTPHash string
}

// AdminUserRow は管理者向けユーザー一覧の1行。
type AdminUserRow struct {
	ID        string
	Username  string
	Email     string
	GoogleID  string
	PostCount int
	CreatedAt time.Time
}

// AdminStatsRepository は管理者向け集計の永続化インターフェース。
type AdminStatsRepository interface {
	// CountUsers は全ユーザー数とGoogle連携ユーザー数を返す。
	CountUsers(ctx context.Context) (total int, googleLinked int, err error)

	// ListRecentUsers は作成日時の新しい順にユーザーを投稿数付きで返す。
	// googleOnlyがtrueの場合はGoogle連携ユーザーのみを返す。
	ListRecentUsers(ctx context.Context, limit int, googleOnly bool) ([]AdminUserRow, error)
}

// FollowRepository はフォロー関係の永続化インターフェース。
// 1つの有向エッジを1行として保持し、フォロワー・フォロー中の両方向を同じ行から引く。
type FollowRepository interface {
	// Follow はエッジを作成し、重複排除されたfollow通知を同一トランザクションで作成する。
	// 既にフォロー済みの場合は何もしない。
	Follow(ctx context.Context, followerID, followeeID string) error

	// Unfollow はエッジと対応するfollow通知を同一トランザクションで削除する。
	Unfollow(ctx context.Context, followerID, followeeID string) error

	// IsFollowing はfollowerIDがfolloweeIDをフォローしているかを返す。
	IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error)

	// IsMutual はaとbが互いにフォローしているかを返す。
	IsMutual(ctx context.Context, a, b string) (bool, error)

	// ListFollowers はフォロワーを新しい順に返す。limitが0以下の場合は全件を返す。
	ListFollowers(ctx context.Context, userID string, limit int) ([]model.UserSummary, error)

	// ListFollowing はフォロー中のユーザーを新しい順に返す。limitが0以下の場合は全件を返す。
	ListFollowing(ctx context.Context, userID string, limit int) ([]model.UserSummary, error)

	// FollowerIDs はフォロワーのID一覧を返す。
	FollowerIDs(ctx context.Context, userID string) ([]string, error)

	// Counts はフォロワー数とフォロー数を返す。
	Counts(ctx context.Context, userID string) (followers int, following int, err error)
}

// ChatRepository はチャットとメッセージの永続化インターフェース。
type ChatRepository interface {
	// Upsert は(low, high)のチャットを原子的に取得または作成する。
	// 呼び出し側はlow < highを保証すること。
	Upsert(ctx context.Context, low, high string, now time.Time) (*model.Chat, error)

	// ListByParticipant はユーザーが参加するチャットを最終メッセージ日時の降順で返す。
	ListByParticipant(ctx context.Context, userID string) ([]model.Chat, error)

	// AppendMessage はメッセージを作成し、チャットの最終メッセージ日時を同一トランザクションで更新する。
	AppendMessage(ctx context.Context, msg *model.Message) error

	// ListRecentMessages はチャットの直近limit件のメッセージを作成日時の昇順で返す。
	ListRecentMessages(ctx context.Context, chatID string, limit int) ([]model.Message, error)

	// LatestMessages はチャットごとの最新メッセージを返す。メッセージのないチャットは含まれない。
	LatestMessages(ctx context.Context, chatIDs []string) (map[string]*model.Message, error)
}

// PostRepository は投稿・いいね・コメントの永続化インターフェース。
type PostRepository interface {
	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// FindWithStats は投稿を作成者・いいね・コメント付きで取得する。見つからない場合はnilを返す。
	FindWithStats(ctx context.Context, id, viewerID string) (*model.PostWithStats, error)

	// ListRecent はsince以降の投稿を新しい順にlimit件返す。sinceがゼロ値の場合は期間を限定しない。
	// authorIDが空でない場合はその作成者の投稿のみを返す。
	ListRecent(ctx context.Context, viewerID, authorID string, since time.Time, limit int) ([]model.PostWithStats, error)

	// Delete は投稿を削除する。いいね・コメントはCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// DeleteByUserID はユーザーの全投稿を削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// Like はいいねを冪等に追加する。
	Like(ctx context.Context, postID, userID string) error

	// Unlike はいいねを冪等に削除する。
	Unlike(ctx context.Context, postID, userID string) error

	// AddComment はコメントを作成する。
	AddComment(ctx context.Context, comment *model.Comment) error

	// FindComment は投稿内のコメントを取得する。見つからない場合はnilを返す。
	FindComment(ctx context.Context, postID, commentID string) (*model.Comment, error)

	// DeleteComment はコメントを削除する。
	DeleteComment(ctx context.Context, postID, commentID string) error
}

// NotificationRepository は通知の永続化インターフェース。
type NotificationRepository interface {
	// InsertMany は通知を一括作成する。
	InsertMany(ctx context.Context, notifications []model.Notification) error

	// ListByUser は通知を新しい順にlimit件、送信者・投稿情報付きで返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]model.NotificationView, error)

	// CountUnseen は未読通知数を返す。
	CountUnseen(ctx context.Context, userID string) (int, error)

	// MarkSeen は本人の通知1件を既読にする。対象が存在しない場合はfalseを返す。
	MarkSeen(ctx context.Context, id, userID string) (bool, error)

	// MarkAllSeen は本人の未読通知をすべて既読にする。
	MarkAllSeen(ctx context.Context, userID string) error

	// DeleteByUserID はユーザー宛ての全通知を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// HandshakeRepository はOAuth認可フロー中のstateの永続化インターフェース。
type HandshakeRepository interface {
	// Create はstateを保存する。
	Create(ctx context.Context, handshake *model.OAuthHandshake) error

	// Consume は有効期限内のstateを削除し、存在した場合はtrueを返す。
	// 同じstateは一度しか消費できない。
	Consume(ctx context.Context, state string) (bool, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

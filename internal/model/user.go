// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーの権限を表す。
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User はサービス利用ユーザーを表す。
// パスワードハッシュとGoogle IDの少なくとも一方を必ず持つ。
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string // パスワード未設定（Googleのみ）の場合は空
	GoogleID     string // Google未連携の場合は空
	AvatarURL    string
	Role         Role

	// ログインOTPチャレンジ
	LoginOTPHash      string
	LoginOTPExpiresAt time.Time
	LoginPendingToken string
	LoginOTPAttempts  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword はパスワードログインが可能かどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsAdmin は管理者かどうかを返す。
func (u *User) IsAdmin() bool {
	return strings.EqualFold(string(u.Role), string(RoleAdmin))
}

// Identity はリクエストコンテキストに載せる最小限のユーザー情報。
// セッショントークンからはIDのみを信頼し、それ以外は毎リクエストDBから取得する。
type Identity struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// IsAdmin は管理者かどうかを返す。
func (i *Identity) IsAdmin() bool {
	return strings.EqualFold(string(i.Role), string(RoleAdmin))
}

// UserSummary は一覧表示用のユーザー射影。
type UserSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Session は署名付きセッショントークンの発行結果を表す。
// サーバー側には保存しない。
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// PendingLogin はパスワード確認後、OTP確認待ちのログインを表す。
// Tokenはブラウザに保持させるCookieの値となる。
type PendingLogin struct {
	Token     string
	ExpiresAt time.Time
}

// OAuthHandshake はOAuth認可フロー中のみ存在する一時的なstate。
type OAuthHandshake struct {
	State     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NormalizeEmail はメールアドレスを前後空白除去・小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

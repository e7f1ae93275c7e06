// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, forbidden, validation, not_found, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryForbidden  = "forbidden"
	CategoryValidation = "validation"
	CategoryNotFound   = "not_found"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeOTPInvalid          = "OTP_INVALID"
	ErrCodeOTPExpired          = "OTP_EXPIRED"
	ErrCodeOTPLocked           = "OTP_LOCKED"
	ErrCodeOTPFormat           = "OTP_FORMAT"
	ErrCodeLoginRequired       = "LOGIN_REQUIRED"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeEmailDomain         = "EMAIL_DOMAIN_NOT_ALLOWED"
	ErrCodeMailDeliveryFailed  = "MAIL_DELIVERY_FAILED"
	ErrCodeNotMutualFollowers  = "NOT_MUTUAL_FOLLOWERS"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeSelfAction          = "SELF_ACTION"
	ErrCodeInvalidID           = "INVALID_ID"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeEmptyText           = "EMPTY_TEXT"
	ErrCodeTextTooLong         = "TEXT_TOO_LONG"
	ErrCodeInvalidImage        = "INVALID_IMAGE"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodePostNotFound        = "POST_NOT_FOUND"
	ErrCodeCommentNotFound     = "COMMENT_NOT_FOUND"
	ErrCodeNotificationMissing = "NOTIFICATION_NOT_FOUND"
)

// NewInvalidCredentialsError はメールアドレス未登録・パスワード不一致の共通エラーを生成する。
// どちらが原因かは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: CategoryAuth,
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewOTPInvalidError は確認コード不一致のエラーを生成する。
func NewOTPInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPInvalid,
		Message:  "確認コードが正しくありません。",
		Category: CategoryAuth,
		Action:   "メールに記載された確認コードを入力してください。",
	}
}

// NewOTPExpiredError は確認コード期限切れのエラーを生成する。
func NewOTPExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPExpired,
		Message:  "確認コードの有効期限が切れています。",
		Category: CategoryAuth,
		Action:   "「コードを再送信」から新しいコードを取得してください。",
	}
}

// NewOTPLockedError は試行回数超過のエラーを生成する。
// 残り回数などは開示しない。
func NewOTPLockedError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPLocked,
		Message:  "確認コードの入力回数が上限に達しました。",
		Category: CategoryAuth,
		Action:   "「コードを再送信」から新しいコードを取得してください。",
	}
}

// NewOTPFormatError は確認コードが6桁の数字でない場合のエラーを生成する。
func NewOTPFormatError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPFormat,
		Message:  "確認コードは6桁の数字で入力してください。",
		Category: CategoryValidation,
		Action:   "メールに記載された6桁のコードを入力してください。",
	}
}

// NewLoginRequiredError は保留中のログインが存在しない場合のエラーを生成する。
func NewLoginRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginRequired,
		Message:  "ログイン手続きが見つかりません。",
		Category: CategoryAuth,
		Action:   "ログイン画面からやり直してください。",
	}
}

// NewEmailTakenError はメールアドレス重複のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: CategoryValidation,
		Action:   "ログイン画面からログインしてください。",
	}
}

// NewEmailDomainError は登録可能ドメイン以外のメールアドレスのエラーを生成する。
func NewEmailDomainError(domain string) *APIError {
	return &APIError{
		Code:     ErrCodeEmailDomain,
		Message:  fmt.Sprintf("@%s のメールアドレスのみ登録できます。", domain),
		Category: CategoryValidation,
		Action:   "対応しているメールアドレスを入力してください。",
	}
}

// NewMailDeliveryFailedError は確認メール送信失敗のエラーを生成する。
// 再試行可能なエラーとして扱う。
func NewMailDeliveryFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeMailDeliveryFailed,
		Message:  "確認メールを送信できませんでした。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNotMutualFollowersError は相互フォローでないユーザー間のメッセージ操作のエラーを生成する。
func NewNotMutualFollowersError() *APIError {
	return &APIError{
		Code:     ErrCodeNotMutualFollowers,
		Message:  "チャットは相互フォローのユーザー間でのみ利用できます。",
		Category: CategoryForbidden,
		Action:   "お互いにフォローしてから再度お試しください。",
	}
}

// NewForbiddenError は権限不足のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: CategoryForbidden,
		Action:   "操作対象を確認してください。",
	}
}

// NewSelfActionError は自分自身を対象とした操作のエラーを生成する。
func NewSelfActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeSelfAction,
		Message:  fmt.Sprintf("自分自身に対して%sはできません。", action),
		Category: CategoryValidation,
		Action:   "対象のユーザーを確認してください。",
	}
}

// NewInvalidIDError は不正なIDのエラーを生成する。
func NewInvalidIDError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidID,
		Message:  fmt.Sprintf("IDの形式が正しくありません: %s", field),
		Category: CategoryValidation,
		Action:   "URLを確認してください。",
	}
}

// NewInvalidInputError は入力値不正のエラーを生成する。
func NewInvalidInputError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("%s: %s", field, reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewEmptyTextError は本文が空の場合のエラーを生成する。
func NewEmptyTextError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeEmptyText,
		Message:  fmt.Sprintf("%sを入力してください。", field),
		Category: CategoryValidation,
		Action:   "空でない内容を入力してください。",
	}
}

// NewTextTooLongError は本文が長すぎる場合のエラーを生成する。
func NewTextTooLongError(field string, max int) *APIError {
	return &APIError{
		Code:     ErrCodeTextTooLong,
		Message:  fmt.Sprintf("%sは%d文字以内で入力してください。", field, max),
		Category: CategoryValidation,
		Action:   "文字数を減らしてください。",
	}
}

// NewInvalidImageError は画像の形式・サイズ・URLが不正な場合のエラーを生成する。
func NewInvalidImageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImage,
		Message:  fmt.Sprintf("画像を受け付けられません: %s", reason),
		Category: CategoryValidation,
		Action:   "5MB以下のJPEG/PNG/WebP/GIF/AVIF画像を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryNotFound,
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewPostNotFoundError は投稿が見つからない場合のエラーを生成する。
func NewPostNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  "投稿が見つかりません。",
		Category: CategoryNotFound,
		Action:   "投稿IDを確認してください。",
	}
}

// NewCommentNotFoundError はコメントが見つからない場合のエラーを生成する。
func NewCommentNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeCommentNotFound,
		Message:  "コメントが見つかりません。",
		Category: CategoryNotFound,
		Action:   "コメントIDを確認してください。",
	}
}

// NewNotificationNotFoundError は通知が見つからない場合のエラーを生成する。
func NewNotificationNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotificationMissing,
		Message:  "通知が見つかりません。",
		Category: CategoryNotFound,
		Action:   "通知一覧を再読み込みしてください。",
	}
}

package model

import (
	"fmt"
	"time"
)

// NotificationKind は通知の種類。
type NotificationKind string

const (
	NotificationNewPost        NotificationKind = "new-post"
	NotificationFollow         NotificationKind = "follow"
	NotificationFollowRequest  NotificationKind = "follow-request"
	NotificationFollowAccepted NotificationKind = "follow-accepted"
)

// NotificationPayload は通知種別ごとのペイロード。
// 実装は本パッケージ内の型に閉じている。
type NotificationPayload interface {
	Kind() NotificationKind
	Actor() string
	sealed()
}

// NewPostPayload はフォロー中ユーザーの新規投稿通知。
type NewPostPayload struct {
	FromUserID string
	PostID     string
}

// FollowPayload はフォローされたことの通知。
type FollowPayload struct {
	FromUserID string
}

// FollowRequestPayload はフォローリクエストの通知。
type FollowRequestPayload struct {
	FromUserID string
}

// FollowAcceptedPayload はフォローリクエスト承認の通知。
type FollowAcceptedPayload struct {
	FromUserID string
}

func (NewPostPayload) Kind() NotificationKind        { return NotificationNewPost }
func (FollowPayload) Kind() NotificationKind         { return NotificationFollow }
func (FollowRequestPayload) Kind() NotificationKind  { return NotificationFollowRequest }
func (FollowAcceptedPayload) Kind() NotificationKind { return NotificationFollowAccepted }

func (p NewPostPayload) Actor() string        { return p.FromUserID }
func (p FollowPayload) Actor() string         { return p.FromUserID }
func (p FollowRequestPayload) Actor() string  { return p.FromUserID }
func (p FollowAcceptedPayload) Actor() string { return p.FromUserID }

func (NewPostPayload) sealed()        {}
func (FollowPayload) sealed()         {}
func (FollowRequestPayload) sealed()  {}
func (FollowAcceptedPayload) sealed() {}

// Notification はユーザーへの通知1件。
type Notification struct {
	ID        string
	UserID    string
	Payload   NotificationPayload
	Seen      bool
	CreatedAt time.Time
}

// NotificationView は表示用に送信者・投稿を結合した通知。
type NotificationView struct {
	Notification
	From *UserSummary
	Post *PostSummary
}

// NotificationColumns はペイロードを永続化用のカラム値に分解する。
// postIDはnew-post以外では空文字列となる。
func NotificationColumns(p NotificationPayload) (kind NotificationKind, fromUserID, postID string) {
	switch v := p.(type) {
	case NewPostPayload:
		return v.Kind(), v.FromUserID, v.PostID
	default:
		return p.Kind(), p.Actor(), ""
	}
}

// NotificationPayloadFromColumns は永続化されたカラム値からペイロードを復元する。
func NotificationPayloadFromColumns(kind, fromUserID, postID string) (NotificationPayload, error) {
	switch NotificationKind(kind) {
	case NotificationNewPost:
		return NewPostPayload{FromUserID: fromUserID, PostID: postID}, nil
	case NotificationFollow:
		return FollowPayload{FromUserID: fromUserID}, nil
	case NotificationFollowRequest:
		return FollowRequestPayload{FromUserID: fromUserID}, nil
	case NotificationFollowAccepted:
		return FollowAcceptedPayload{FromUserID: fromUserID}, nil
	default:
		return nil, fmt.Errorf("unknown notification kind: %q", kind)
	}
}

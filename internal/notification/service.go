// Package notification は通知の作成・一覧・既読管理を提供する。
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/repository"
)

// ListLimit は通知一覧で返す最大件数。
const ListLimit = 100

// FollowerLister はフォロワーIDの一覧を返す。
type FollowerLister interface {
	FollowerIDs(ctx context.Context, userID string) ([]string, error)
}

// Service は通知のサービス層。
type Service struct {
	repo      repository.NotificationRepository
	followers FollowerLister
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.NotificationRepository, followers FollowerLister) *Service {
	return &Service{repo: repo, followers: followers, now: time.Now}
}

// NotifyNewPost は投稿者のフォロワー全員にnew-post通知を作成する。
func (s *Service) NotifyNewPost(ctx context.Context, authorID, postID string) error {
	ids, err := s.followers.FollowerIDs(ctx, authorID)
	if err != nil {
		return fmt.Errorf("フォロワーの取得に失敗しました: %w", err)
	}
	payload := model.NewPostPayload{FromUserID: authorID, PostID: postID}
	return s.insert(ctx, ids, payload)
}

// NotifyFollowRequest はフォローリクエストの通知を作成する。
func (s *Service) NotifyFollowRequest(ctx context.Context, targetID, fromUserID string) error {
	return s.insert(ctx, []string{targetID}, model.FollowRequestPayload{FromUserID: fromUserID})
}

// NotifyFollowAccepted はフォローリクエスト承認の通知を作成する。
func (s *Service) NotifyFollowAccepted(ctx context.Context, requesterID, byUserID string) error {
	return s.insert(ctx, []string{requesterID}, model.FollowAcceptedPayload{FromUserID: byUserID})
}

func (s *Service) insert(ctx context.Context, recipients []string, payload model.NotificationPayload) error {
	if len(recipients) == 0 {
		return nil
	}
	now := s.now()
	notifications := make([]model.Notification, 0, len(recipients))
	for _, uid := range recipients {
		if uid == payload.Actor() {
			continue
		}
		notifications = append(notifications, model.Notification{
			ID:        uuid.New().String(),
			UserID:    uid,
			Payload:   payload,
			CreatedAt: now,
		})
	}
	if err := s.repo.InsertMany(ctx, notifications); err != nil {
		return fmt.Errorf("通知の作成に失敗しました: %w", err)
	}
	return nil
}

// List は通知を新しい順に最大ListLimit件返す。
func (s *Service) List(ctx context.Context, userID string) ([]model.NotificationView, error) {
	views, err := s.repo.ListByUser(ctx, userID, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗しました: %w", err)
	}
	return views, nil
}

// UnseenCount は未読通知数を返す。
func (s *Service) UnseenCount(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.CountUnseen(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("未読数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// MarkSeen は本人宛ての通知1件を既読にする。他人の通知は存在しないものとして扱う。
func (s *Service) MarkSeen(ctx context.Context, userID, notificationID string) error {
	ok, err := s.repo.MarkSeen(ctx, notificationID, userID)
	if err != nil {
		return fmt.Errorf("通知の更新に失敗しました: %w", err)
	}
	if !ok {
		return model.NewNotificationNotFoundError()
	}
	return nil
}

// MarkAllSeen は本人宛ての未読通知をすべて既読にする。
func (s *Service) MarkAllSeen(ctx context.Context, userID string) error {
	if err := s.repo.MarkAllSeen(ctx, userID); err != nil {
		return fmt.Errorf("通知の更新に失敗しました: %w", err)
	}
	return nil
}

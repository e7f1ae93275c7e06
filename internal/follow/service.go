// Package follow はフォロー関係と相互フォロー判定のドメインロジックを提供する。
package follow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/repository"
)

// PreviewLimit はプロフィールに表示するフォロワー・フォロー中の件数。
const PreviewLimit = 12

// Relationship は閲覧者から見た対象ユーザーとの関係。
type Relationship struct {
	FollowersCount int
	FollowingCount int
	IsMe           bool
	IsFollowing    bool
	CanMessage     bool
}

// Service はフォロー管理のサービス層。
type Service struct {
	follows repository.FollowRepository
	users   repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(follows repository.FollowRepository, users repository.UserRepository) *Service {
	return &Service{follows: follows, users: users}
}

// Follow はactorIDがtargetIDをフォローする。既にフォロー済みの場合は何もしない。
// 対象へのfollow通知はエッジと同一トランザクションで作成される。
func (s *Service) Follow(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return model.NewSelfActionError("フォロー")
	}
	if err := s.requireUser(ctx, targetID); err != nil {
		return err
	}
	if err := s.follows.Follow(ctx, actorID, targetID); err != nil {
		return fmt.Errorf("フォローに失敗しました: %w", err)
	}
	slog.Info("user followed", slog.String("user_id", actorID), slog.String("target_id", targetID))
	return nil
}

// Unfollow はフォローを解除し、対応するfollow通知を削除する。
func (s *Service) Unfollow(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return model.NewSelfActionError("フォロー解除")
	}
	if err := s.requireUser(ctx, targetID); err != nil {
		return err
	}
	if err := s.follows.Unfollow(ctx, actorID, targetID); err != nil {
		return fmt.Errorf("フォロー解除に失敗しました: %w", err)
	}
	slog.Info("user unfollowed", slog.String("user_id", actorID), slog.String("target_id", targetID))
	return nil
}

// CanMessage はaとbが互いにフォローしている場合のみtrueを返す。
// どちらかのユーザーが存在しない場合はfalseを返す。結果はキャッシュせず毎回問い合わせる。
func (s *Service) CanMessage(ctx context.Context, a, b string) (bool, error) {
	if a == "" || b == "" || a == b {
		return false, nil
	}
	// 片方が存在しなければエッジも存在しないため、IsMutualのみで判定できる
	ok, err := s.follows.IsMutual(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("相互フォローの確認に失敗しました: %w", err)
	}
	return ok, nil
}

// Relationship は閲覧者viewerIDから見たuserIDとの関係とフォロー数を返す。
func (s *Service) Relationship(ctx context.Context, viewerID, userID string) (*Relationship, error) {
	followers, following, err := s.follows.Counts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フォロー数の取得に失敗しました: %w", err)
	}

	rel := &Relationship{
		FollowersCount: followers,
		FollowingCount: following,
		IsMe:           viewerID == userID,
	}
	if rel.IsMe || viewerID == "" {
		return rel, nil
	}

	rel.IsFollowing, err = s.follows.IsFollowing(ctx, viewerID, userID)
	if err != nil {
		return nil, fmt.Errorf("フォロー状態の取得に失敗しました: %w", err)
	}
	if rel.IsFollowing {
		rel.CanMessage, err = s.CanMessage(ctx, viewerID, userID)
		if err != nil {
			return nil, err
		}
	}
	return rel, nil
}

// Followers はuserIDのフォロワーを返す。limitが0以下の場合は全件を返す。
func (s *Service) Followers(ctx context.Context, userID string, limit int) ([]model.UserSummary, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	list, err := s.follows.ListFollowers(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("フォロワーの取得に失敗しました: %w", err)
	}
	return list, nil
}

// Following はuserIDがフォローしているユーザーを返す。limitが0以下の場合は全件を返す。
func (s *Service) Following(ctx context.Context, userID string, limit int) ([]model.UserSummary, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	list, err := s.follows.ListFollowing(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("フォロー中ユーザーの取得に失敗しました: %w", err)
	}
	return list, nil
}

func (s *Service) requireUser(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	return nil
}

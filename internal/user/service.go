// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mosaic/internal/follow"
	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/repository"
)

const (
	defaultAdminListLimit = 25
	maxAdminListLimit     = 100
)

// PostDeleter は投稿の一括削除インターフェース。
type PostDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// NotificationDeleter は通知の一括削除インターフェース。
type NotificationDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// FollowGraph はフォロー関係の参照インターフェース。
type FollowGraph interface {
	Relationship(ctx context.Context, viewerID, userID string) (*follow.Relationship, error)
	Followers(ctx context.Context, userID string, limit int) ([]model.UserSummary, error)
	Following(ctx context.Context, userID string, limit int) ([]model.UserSummary, error)
}

// PostLister はユーザーの投稿一覧の参照インターフェース。
type PostLister interface {
	ByAuthor(ctx context.Context, viewerID, authorID string) ([]model.PostWithStats, error)
}

// ProfileStats はプロフィールの集計値。
type ProfileStats struct {
	PostsCount     int
	TotalLoves     int
	FollowersCount int
	FollowingCount int
	Joined         time.Time
}

// Profile はユーザーのプロフィール。
type Profile struct {
	User             model.UserSummary
	Role             model.Role
	Posts            []model.PostWithStats
	Stats            ProfileStats
	IsMe             bool
	IsFollowing      bool
	CanMessage       bool
	FollowersPreview []model.UserSummary
	FollowingPreview []model.UserSummary
}

// AdminStats は管理者向けの集計。
type AdminStats struct {
	TotalUsers   int
	GoogleUsers  int
	RecentUsers  []repository.AdminUserRow
	RecentGoogle []repository.AdminUserRow
}

// Dashboard はログインユーザー自身のダッシュボード。
type Dashboard struct {
	Profile *Profile
	Admin   *AdminStats // 管理者以外はnil
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo     repository.UserRepository
	statsRepo    repository.AdminStatsRepository
	postDeleter  PostDeleter
	notifDeleter NotificationDeleter
	graph        FollowGraph
	posts        PostLister
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	statsRepo repository.AdminStatsRepository,
	postDeleter PostDeleter,
	notifDeleter NotificationDeleter,
	graph FollowGraph,
	posts PostLister,
) *Service {
	return &Service{
		userRepo:     userRepo,
		statsRepo:    statsRepo,
		postDeleter:  postDeleter,
		notifDeleter: notifDeleter,
		graph:        graph,
		posts:        posts,
	}
}

// Profile は閲覧者viewerIDから見たuserIDのプロフィールを返す。
func (s *Service) Profile(ctx context.Context, viewerID, userID string) (*Profile, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	posts, err := s.posts.ByAuthor(ctx, viewerID, userID)
	if err != nil {
		return nil, err
	}
	rel, err := s.graph.Relationship(ctx, viewerID, userID)
	if err != nil {
		return nil, err
	}
	followers, err := s.graph.Followers(ctx, userID, follow.PreviewLimit)
	if err != nil {
		return nil, err
	}
	following, err := s.graph.Following(ctx, userID, follow.PreviewLimit)
	if err != nil {
		return nil, err
	}

	loves := 0
	for _, p := range posts {
		loves += p.LikesCount
	}

	return &Profile{
		User: model.UserSummary{
			ID:        user.ID,
			Username:  user.Username,
			Email:     user.Email,
			AvatarURL: user.AvatarURL,
		},
		Role:  user.Role,
		Posts: posts,
		Stats: ProfileStats{
			PostsCount:     len(posts),
			TotalLoves:     loves,
			FollowersCount: rel.FollowersCount,
			FollowingCount: rel.FollowingCount,
			Joined:         user.CreatedAt,
		},
		IsMe:             rel.IsMe,
		IsFollowing:      rel.IsFollowing,
		CanMessage:       rel.CanMessage,
		FollowersPreview: followers,
		FollowingPreview: following,
	}, nil
}

// Dashboard はログインユーザー自身のプロフィールと、管理者の場合は管理者向け集計を返す。
func (s *Service) Dashboard(ctx context.Context, actor *model.Identity, adminLimit int) (*Dashboard, error) {
	profile, err := s.Profile(ctx, actor.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	dashboard := &Dashboard{Profile: profile}
	if actor.IsAdmin() {
		dashboard.Admin, err = s.AdminStats(ctx, actor, adminLimit)
		if err != nil {
			return nil, err
		}
	}
	return dashboard, nil
}

// UpdateAvatar はアバターURLを更新する。
func (s *Service) UpdateAvatar(ctx context.Context, userID, avatarURL string) error {
	if avatarURL == "" {
		return model.NewInvalidImageError("画像ファイルまたはURLを指定してください")
	}
	if err := s.userRepo.UpdateAvatar(ctx, userID, avatarURL); err != nil {
		return fmt.Errorf("アバターの更新に失敗しました: %w", err)
	}
	slog.Info("avatar updated", slog.String("user_id", userID))
	return nil
}

// AdminStats は全ユーザー数・Google連携ユーザー数と、新しい順のユーザー一覧を返す。
// limitは1〜100に丸め、0以下の場合は25とする。
func (s *Service) AdminStats(ctx context.Context, actor *model.Identity, limit int) (*AdminStats, error) {
	if !actor.IsAdmin() {
		return nil, model.NewForbiddenError()
	}
	if limit <= 0 {
		limit = defaultAdminListLimit
	}
	if limit > maxAdminListLimit {
		limit = maxAdminListLimit
	}

	total, google, err := s.statsRepo.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー数の取得に失敗しました: %w", err)
	}
	recent, err := s.statsRepo.ListRecentUsers(ctx, limit, false)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	recentGoogle, err := s.statsRepo.ListRecentUsers(ctx, limit, true)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}

	return &AdminStats{
		TotalUsers:   total,
		GoogleUsers:  google,
		RecentUsers:  recent,
		RecentGoogle: recentGoogle,
	}, nil
}

// AdminDelete は管理者がユーザーを削除する。自分自身は削除できない。
// 削除順序: notifications → posts → user（+ CASCADE: follows, chats, messages, post_likes, comments）
func (s *Service) AdminDelete(ctx context.Context, actor *model.Identity, userID string) error {
	if !actor.IsAdmin() {
		return model.NewForbiddenError()
	}
	if actor.ID == userID {
		return model.NewSelfActionError("削除")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("ユーザー削除を開始します",
		slog.String("user_id", userID),
		slog.String("admin_id", actor.ID),
	)

	// 1. 本人宛て・本人発の通知を削除
	if s.notifDeleter != nil {
		if err := s.notifDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("通知の削除に失敗しました: %w", err)
		}
	}

	// 2. 投稿を削除（いいね・コメントはCASCADE削除）
	if s.postDeleter != nil {
		if err := s.postDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("投稿の削除に失敗しました: %w", err)
		}
	}

	// 3. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("ユーザー削除が完了しました",
		slog.String("user_id", userID),
		slog.String("admin_id", actor.ID),
	)
	return nil
}

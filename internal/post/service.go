// Package post は画像投稿・いいね・コメントのドメインロジックを提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/repository"
	"github.com/hitoshi/mosaic/internal/security"
)

const (
	// DefaultListLimit は投稿一覧の既定件数。
	DefaultListLimit = 50
	// MaxListLimit は投稿一覧で指定できる最大件数。
	MaxListLimit = 200
	// WeekListLimit は直近1週間の投稿一覧の件数。
	WeekListLimit = 100
	// ProfileListLimit はプロフィールに表示する投稿の件数。
	ProfileListLimit = 60
)

// NewPostNotifier は新規投稿をフォロワーに通知する。
type NewPostNotifier interface {
	NotifyNewPost(ctx context.Context, authorID, postID string) error
}

// Service は投稿のサービス層。
type Service struct {
	posts     repository.PostRepository
	notifier  NewPostNotifier
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(posts repository.PostRepository, notifier NewPostNotifier, sanitizer security.TextSanitizer) *Service {
	return &Service{
		posts:     posts,
		notifier:  notifier,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Create は投稿を作成し、投稿者のフォロワーにnew-post通知を送る。
// 通知の作成に失敗しても投稿は取り消さない。
func (s *Service) Create(ctx context.Context, userID, title, imageURL string) (*model.Post, error) {
	title = s.sanitizer.Clean(title)
	if title == "" {
		return nil, model.NewEmptyTextError("タイトル")
	}
	if utf8.RuneCountInString(title) > model.MaxPostTitleLength {
		return nil, model.NewTextTooLongError("タイトル", model.MaxPostTitleLength)
	}
	if imageURL == "" {
		return nil, model.NewInvalidImageError("画像ファイルまたはURLを指定してください")
	}

	now := s.now()
	post := &model.Post{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		ImageURL:  imageURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	if err := s.notifier.NotifyNewPost(ctx, userID, post.ID); err != nil {
		slog.Error("failed to notify followers of new post",
			slog.String("post_id", post.ID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("post created", slog.String("post_id", post.ID), slog.String("user_id", userID))
	return post, nil
}

// List は新しい順に投稿を返す。limitは1〜MaxListLimitに丸める。
func (s *Service) List(ctx context.Context, viewerID string, limit int) ([]model.PostWithStats, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.list(ctx, viewerID, "", time.Time{}, limit)
}

// ThisWeek は直近7日間の投稿を新しい順に返す。集計開始日時も返す。
func (s *Service) ThisWeek(ctx context.Context, viewerID string) ([]model.PostWithStats, time.Time, error) {
	since := s.now().Add(-7 * 24 * time.Hour)
	posts, err := s.list(ctx, viewerID, "", since, WeekListLimit)
	return posts, since, err
}

// ByAuthor は指定ユーザーの投稿を新しい順に返す。
func (s *Service) ByAuthor(ctx context.Context, viewerID, authorID string) ([]model.PostWithStats, error) {
	return s.list(ctx, viewerID, authorID, time.Time{}, ProfileListLimit)
}

func (s *Service) list(ctx context.Context, viewerID, authorID string, since time.Time, limit int) ([]model.PostWithStats, error) {
	posts, err := s.posts.ListRecent(ctx, viewerID, authorID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// Get は投稿を作成者・いいね・コメント付きで返す。
func (s *Service) Get(ctx context.Context, viewerID, postID string) (*model.PostWithStats, error) {
	post, err := s.posts.FindWithStats(ctx, postID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError()
	}
	return post, nil
}

// Like は投稿にいいねする。既にいいね済みの場合は何もしない。
func (s *Service) Like(ctx context.Context, userID, postID string) error {
	if _, err := s.find(ctx, postID); err != nil {
		return err
	}
	if err := s.posts.Like(ctx, postID, userID); err != nil {
		return fmt.Errorf("いいねに失敗しました: %w", err)
	}
	return nil
}

// Unlike はいいねを取り消す。いいねしていない場合は何もしない。
func (s *Service) Unlike(ctx context.Context, userID, postID string) error {
	if _, err := s.find(ctx, postID); err != nil {
		return err
	}
	if err := s.posts.Unlike(ctx, postID, userID); err != nil {
		return fmt.Errorf("いいねの取り消しに失敗しました: %w", err)
	}
	return nil
}

// Delete は投稿を削除する。投稿者本人または管理者のみ実行できる。
func (s *Service) Delete(ctx context.Context, actor *model.Identity, postID string) error {
	post, err := s.find(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != actor.ID && !actor.IsAdmin() {
		return model.NewForbiddenError()
	}
	if err := s.posts.Delete(ctx, postID); err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	slog.Info("post deleted", slog.String("post_id", postID), slog.String("user_id", actor.ID))
	return nil
}

// AddComment はコメントを追加する。本文は空でなくMaxCommentLength文字以内であること。
func (s *Service) AddComment(ctx context.Context, userID, postID, text string) (*model.Comment, error) {
	text = s.sanitizer.Clean(text)
	if text == "" {
		return nil, model.NewEmptyTextError("コメント")
	}
	if utf8.RuneCountInString(text) > model.MaxCommentLength {
		return nil, model.NewTextTooLongError("コメント", model.MaxCommentLength)
	}
	if _, err := s.find(ctx, postID); err != nil {
		return nil, err
	}

	comment := &model.Comment{
		ID:        uuid.New().String(),
		PostID:    postID,
		UserID:    userID,
		Text:      text,
		CreatedAt: s.now(),
	}
	if err := s.posts.AddComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("コメントの追加に失敗しました: %w", err)
	}
	return comment, nil
}

// DeleteComment はコメントを削除する。コメント投稿者、投稿の作成者、管理者のいずれかのみ実行できる。
func (s *Service) DeleteComment(ctx context.Context, actor *model.Identity, postID, commentID string) error {
	post, err := s.find(ctx, postID)
	if err != nil {
		return err
	}
	comment, err := s.posts.FindComment(ctx, postID, commentID)
	if err != nil {
		return fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	if comment == nil {
		return model.NewCommentNotFoundError()
	}

	if comment.UserID != actor.ID && post.UserID != actor.ID && !actor.IsAdmin() {
		return model.NewForbiddenError()
	}
	if err := s.posts.DeleteComment(ctx, postID, commentID); err != nil {
		return fmt.Errorf("コメントの削除に失敗しました: %w", err)
	}
	return nil
}

func (s *Service) find(ctx context.Context, postID string) (*model.Post, error) {
	post, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError()
	}
	return post, nil
}

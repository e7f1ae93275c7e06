package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/mosaic/internal/model"
)

// FollowServiceInterface はフォローハンドラーが必要とするサービスインターフェース。
type FollowServiceInterface interface {
	Follow(ctx context.Context, actorID, targetID string) error
	Unfollow(ctx context.Context, actorID, targetID string) error
	Followers(ctx context.Context, userID string, limit int) ([]model.UserSummary, error)
	Following(ctx context.Context, userID string, limit int) ([]model.UserSummary, error)
}

// FollowHandler はフォロー関係のHTTPハンドラー。
type FollowHandler struct {
	service FollowServiceInterface
}

// NewFollowHandler はFollowHandlerを生成する。
func NewFollowHandler(service FollowServiceInterface) *FollowHandler {
	return &FollowHandler{service: service}
}

// Follow は対象ユーザーをフォローする。既にフォロー済みの場合も成功する。
// POST /u/{id}/follow
func (h *FollowHandler) Follow(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Follow)
}

// Unfollow は対象ユーザーのフォローを解除する。
// POST /u/{id}/unfollow
func (h *FollowHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.service.Unfollow)
}

func (h *FollowHandler) mutate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actorID, targetID string) error) {
	targetID, err := parseIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := op(r.Context(), viewerID(r), targetID); err != nil {
		handleServiceError(w, err)
		return
	}
	respondDone(w, r, "/u/"+targetID, nil)
}

// Followers はフォロワー一覧を返す。
// GET /u/{id}/followers
func (h *FollowHandler) Followers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.Followers)
}

// Following はフォロー中のユーザー一覧を返す。
// GET /u/{id}/following
func (h *FollowHandler) Following(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.service.Following)
}

func (h *FollowHandler) list(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID string, limit int) ([]model.UserSummary, error)) {
	userID, err := parseIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	users, err := op(r.Context(), userID, 0)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilSummaries(users))
}

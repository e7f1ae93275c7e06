package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, viewerID, userID string) (*user.Profile, error)
	Dashboard(ctx context.Context, actor *model.Identity, adminLimit int) (*user.Dashboard, error)
	UpdateAvatar(ctx context.Context, userID, avatarURL string) error
	AdminStats(ctx context.Context, actor *model.Identity, limit int) (*user.AdminStats, error)

	// AdminDelete は管理者によるユーザー削除を実行する。
	// notifications、postsを削除した後にuserを削除し、follows、chats、messagesはCASCADE削除される。
	AdminDelete(ctx context.Context, actor *model.Identity, userID string) error
}

// UserHandler はプロフィール・アバター・管理者機能のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	images  ImageResolver
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, images ImageResolver) *UserHandler {
	return &UserHandler{
		service: service,
		images:  images,
	}
}

// Profile はユーザーのプロフィールを返す。
// GET /u/{id}
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	profile, err := h.service.Profile(r.Context(), viewerID(r), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// Dashboard はログインユーザー自身のダッシュボードを返す。管理者には集計が含まれる。
// GET /dashboard?limit=25
func (h *UserHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.service.Dashboard(r.Context(), currentIdentity(r), queryInt(r, "limit", 0))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := DashboardResponse{Profile: toProfileResponse(dashboard.Profile)}
	if dashboard.Admin != nil {
		resp.Admin = toAdminStatsResponse(dashboard.Admin)
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateAvatar はアバター画像をアップロードファイルまたは外部URLで更新する。
// POST /me/avatar
func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	identity := currentIdentity(r)
	values, err := formValues(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	avatarURL, err := resolveImage(r, values, h.images)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.UpdateAvatar(r.Context(), identity.ID, avatarURL); err != nil {
		handleServiceError(w, err)
		return
	}

	respondDone(w, r, "/u/"+identity.ID, map[string]string{"avatarUrl": avatarURL})
}

// AdminStats は管理者向けのユーザー集計を返す。
// GET /admin/stats?limit=25
func (h *UserHandler) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.AdminStats(r.Context(), currentIdentity(r), queryInt(r, "limit", 0))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdminStatsResponse(stats))
}

// AdminDelete はユーザーを削除する。
// POST /admin/users/{id}/delete
func (h *UserHandler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := parseIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.AdminDelete(r.Context(), currentIdentity(r), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	respondDone(w, r, "/dashboard", nil)
}

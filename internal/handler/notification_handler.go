package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/mosaic/internal/model"
)

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	List(ctx context.Context, userID string) ([]model.NotificationView, error)
	UnseenCount(ctx context.Context, userID string) (int, error)
	MarkSeen(ctx context.Context, userID, notificationID string) error
	MarkAllSeen(ctx context.Context, userID string) error
}

// NotificationHandler は通知のHTTPハンドラー。
type NotificationHandler struct {
	service NotificationServiceInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{service: service}
}

const notificationsPath = "/notifications"

// List は通知を新しい順に返す。
// GET /notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.List(r.Context(), viewerID(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationResponses(views))
}

// UnseenCount は未読通知数を返す。
// GET /api/notifications/unseen-count
func (h *NotificationHandler) UnseenCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.UnseenCount(r.Context(), viewerID(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// MarkSeen は通知1件を既読にする。
// POST /notifications/{id}/read
func (h *NotificationHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	notificationID, err := parseIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.MarkSeen(r.Context(), viewerID(r), notificationID); err != nil {
		handleServiceError(w, err)
		return
	}
	respondDone(w, r, notificationsPath, nil)
}

// MarkAllSeen は未読通知をすべて既読にする。
// POST /notifications/read-all
func (h *NotificationHandler) MarkAllSeen(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkAllSeen(r.Context(), viewerID(r)); err != nil {
		handleServiceError(w, err)
		return
	}
	respondDone(w, r, notificationsPath, nil)
}

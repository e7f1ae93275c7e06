package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/mosaic/internal/chat"
	"github.com/hitoshi/mosaic/internal/middleware"
	"github.com/hitoshi/mosaic/internal/model"
)

// ChatServiceInterface はチャットハンドラーが必要とするサービスインターフェース。
// 一覧以外のすべての操作はサービス層で相互フォローを再確認する。
type ChatServiceInterface interface {
	List(ctx context.Context, userID string) ([]model.ChatPreview, error)
	Start(ctx context.Context, userID, peerID string) (*model.Chat, error)
	Thread(ctx context.Context, userID, peerID string) (*chat.Thread, error)
	Send(ctx context.Context, userID, peerID, text string) (*model.Message, error)
}

// ChatHandler はチャットのHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface) *ChatHandler {
	return &ChatHandler{service: service}
}

type threadResponse struct {
	Chat     ChatResponse       `json:"chat"`
	Peer     *model.UserSummary `json:"peer"`
	Messages []MessageResponse  `json:"messages"`
}

// List は参加中のチャットを最終メッセージ日時の降順で返す。
// GET /chats
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	previews, err := h.service.List(r.Context(), viewerID(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatPreviewResponses(previews))
}

// Start は相手とのチャットを取得または作成する。
// POST /chats/{peer}/start
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	peerID, err := parseIDParam(r, "peer")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	c, err := h.service.Start(r.Context(), viewerID(r), peerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondDone(w, r, "/chats/"+peerID, toChatResponse(c))
}

// Thread は直近のメッセージを作成日時の昇順で返す。クライアントはこのエンドポイントを定期取得する。
// GET /chats/{peer}
func (h *ChatHandler) Thread(w http.ResponseWriter, r *http.Request) {
	peerID, err := parseIDParam(r, "peer")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	thread, err := h.service.Thread(r.Context(), viewerID(r), peerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{
		Chat:     toChatResponse(thread.Chat),
		Peer:     thread.Peer,
		Messages: toMessageResponses(thread.Messages),
	})
}

// Send はメッセージを送信する。
// POST /chats/{peer}/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	peerID, err := parseIDParam(r, "peer")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	values, err := formValues(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	msg, err := h.service.Send(r.Context(), viewerID(r), peerID, values.Get("text"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if middleware.WantsJSON(r) {
		writeJSON(w, http.StatusCreated, toMessageResponse(msg))
		return
	}
	http.Redirect(w, r, "/chats/"+peerID, http.StatusSeeOther)
}

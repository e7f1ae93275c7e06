package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mosaic/internal/chat"
	"github.com/hitoshi/mosaic/internal/middleware"
	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/user"
)

// --- 認証 ---

type mockAuthService struct {
	registerFn       func(ctx context.Context, email, username, password string) (*model.User, error)
	submitPasswordFn func(ctx context.Context, email, password string) (*model.PendingLogin, error)
	verifyOTPFn      func(ctx context.Context, pendingToken, code string) (*model.Session, error)
	resendOTPFn      func(ctx context.Context, pendingToken string) error
	cancelPendingFn  func(ctx context.Context, pendingToken string) error
	beginOAuthFn     func(ctx context.Context) (string, string, error)
	completeOAuthFn  func(ctx context.Context, state, code string) (*model.Session, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, username, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, username, password)
	}
	return &model.User{ID: "new-user", Email: email, Username: username}, nil
}

func (m *mockAuthService) SubmitPassword(ctx context.Context, email, password string) (*model.PendingLogin, error) {
	if m.submitPasswordFn != nil {
		return m.submitPasswordFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) VerifyOTP(ctx context.Context, pendingToken, code string) (*model.Session, error) {
	if m.verifyOTPFn != nil {
		return m.verifyOTPFn(ctx, pendingToken, code)
	}
	return nil, model.NewLoginRequiredError()
}

func (m *mockAuthService) ResendOTP(ctx context.Context, pendingToken string) error {
	if m.resendOTPFn != nil {
		return m.resendOTPFn(ctx, pendingToken)
	}
	return nil
}

func (m *mockAuthService) CancelPending(ctx context.Context, pendingToken string) error {
	if m.cancelPendingFn != nil {
		return m.cancelPendingFn(ctx, pendingToken)
	}
	return nil
}

func (m *mockAuthService) BeginOAuth(ctx context.Context) (string, string, error) {
	if m.beginOAuthFn != nil {
		return m.beginOAuthFn(ctx)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=s1", "s1", nil
}

func (m *mockAuthService) CompleteOAuth(ctx context.Context, state, code string) (*model.Session, error) {
	if m.completeOAuthFn != nil {
		return m.completeOAuthFn(ctx, state, code)
	}
	return nil, model.NewLoginRequiredError()
}

// --- ユーザー ---

type mockUserService struct {
	profileFn      func(ctx context.Context, viewerID, userID string) (*user.Profile, error)
	dashboardFn    func(ctx context.Context, actor *model.Identity, adminLimit int) (*user.Dashboard, error)
	updateAvatarFn func(ctx context.Context, userID, avatarURL string) error
	adminStatsFn   func(ctx context.Context, actor *model.Identity, limit int) (*user.AdminStats, error)
	adminDeleteFn  func(ctx context.Context, actor *model.Identity, userID string) error
}

func (m *mockUserService) Profile(ctx context.Context, viewerID, userID string) (*user.Profile, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, viewerID, userID)
	}
	return &user.Profile{User: model.UserSummary{ID: userID}}, nil
}

func (m *mockUserService) Dashboard(ctx context.Context, actor *model.Identity, adminLimit int) (*user.Dashboard, error) {
	if m.dashboardFn != nil {
		return m.dashboardFn(ctx, actor, adminLimit)
	}
	return &user.Dashboard{Profile: &user.Profile{User: model.UserSummary{ID: actor.ID}}}, nil
}

func (m *mockUserService) UpdateAvatar(ctx context.Context, userID, avatarURL string) error {
	if m.updateAvatarFn != nil {
		return m.updateAvatarFn(ctx, userID, avatarURL)
	}
	return nil
}

func (m *mockUserService) AdminStats(ctx context.Context, actor *model.Identity, limit int) (*user.AdminStats, error) {
	if m.adminStatsFn != nil {
		return m.adminStatsFn(ctx, actor, limit)
	}
	return &user.AdminStats{}, nil
}

func (m *mockUserService) AdminDelete(ctx context.Context, actor *model.Identity, userID string) error {
	if m.adminDeleteFn != nil {
		return m.adminDeleteFn(ctx, actor, userID)
	}
	return nil
}

// --- フォロー ---

type mockFollowService struct {
	followFn    func(ctx context.Context, actorID, targetID string) error
	unfollowFn  func(ctx context.Context, actorID, targetID string) error
	followersFn func(ctx context.Context, userID string, limit int) ([]model.UserSummary, error)
	followingFn func(ctx context.Context, userID string, limit int) ([]model.UserSummary, error)
}

func (m *mockFollowService) Follow(ctx context.Context, actorID, targetID string) error {
	if m.followFn != nil {
		return m.followFn(ctx, actorID, targetID)
	}
	return nil
}

func (m *mockFollowService) Unfollow(ctx context.Context, actorID, targetID string) error {
	if m.unfollowFn != nil {
		return m.unfollowFn(ctx, actorID, targetID)
	}
	return nil
}

func (m *mockFollowService) Followers(ctx context.Context, userID string, limit int) ([]model.UserSummary, error) {
	if m.followersFn != nil {
		return m.followersFn(ctx, userID, limit)
	}
	return nil, nil
}

func (m *mockFollowService) Following(ctx context.Context, userID string, limit int) ([]model.UserSummary, error) {
	if m.followingFn != nil {
		return m.followingFn(ctx, userID, limit)
	}
	return nil, nil
}

// --- 投稿 ---

type mockPostService struct {
	createFn        func(ctx context.Context, userID, title, imageURL string) (*model.Post, error)
	listFn          func(ctx context.Context, viewerID string, limit int) ([]model.PostWithStats, error)
	thisWeekFn      func(ctx context.Context, viewerID string) ([]model.PostWithStats, time.Time, error)
	getFn           func(ctx context.Context, viewerID, postID string) (*model.PostWithStats, error)
	likeFn          func(ctx context.Context, userID, postID string) error
	unlikeFn        func(ctx context.Context, userID, postID string) error
	deleteFn        func(ctx context.Context, actor *model.Identity, postID string) error
	addCommentFn    func(ctx context.Context, userID, postID, text string) (*model.Comment, error)
	deleteCommentFn func(ctx context.Context, actor *model.Identity, postID, commentID string) error
}

func (m *mockPostService) Create(ctx context.Context, userID, title, imageURL string) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, title, imageURL)
	}
	return &model.Post{ID: "post-1", UserID: userID, Title: title, ImageURL: imageURL}, nil
}

func (m *mockPostService) List(ctx context.Context, viewerID string, limit int) ([]model.PostWithStats, error) {
	if m.listFn != nil {
		return m.listFn(ctx, viewerID, limit)
	}
	return nil, nil
}

func (m *mockPostService) ThisWeek(ctx context.Context, viewerID string) ([]model.PostWithStats, time.Time, error) {
	if m.thisWeekFn != nil {
		return m.thisWeekFn(ctx, viewerID)
	}
	return nil, time.Time{}, nil
}

func (m *mockPostService) Get(ctx context.Context, viewerID, postID string) (*model.PostWithStats, error) {
	if m.getFn != nil {
		return m.getFn(ctx, viewerID, postID)
	}
	return nil, model.NewPostNotFoundError()
}

func (m *mockPostService) Like(ctx context.Context, userID, postID string) error {
	if m.likeFn != nil {
		return m.likeFn(ctx, userID, postID)
	}
	return nil
}

func (m *mockPostService) Unlike(ctx context.Context, userID, postID string) error {
	if m.unlikeFn != nil {
		return m.unlikeFn(ctx, userID, postID)
	}
	return nil
}

func (m *mockPostService) Delete(ctx context.Context, actor *model.Identity, postID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, postID)
	}
	return nil
}

func (m *mockPostService) AddComment(ctx context.Context, userID, postID, text string) (*model.Comment, error) {
	if m.addCommentFn != nil {
		return m.addCommentFn(ctx, userID, postID, text)
	}
	return &model.Comment{ID: "comment-1", PostID: postID, UserID: userID, Text: text}, nil
}

func (m *mockPostService) DeleteComment(ctx context.Context, actor *model.Identity, postID, commentID string) error {
	if m.deleteCommentFn != nil {
		return m.deleteCommentFn(ctx, actor, postID, commentID)
	}
	return nil
}

// --- 通知 ---

type mockNotificationService struct {
	listFn        func(ctx context.Context, userID string) ([]model.NotificationView, error)
	unseenCountFn func(ctx context.Context, userID string) (int, error)
	markSeenFn    func(ctx context.Context, userID, notificationID string) error
	markAllSeenFn func(ctx context.Context, userID string) error
}

func (m *mockNotificationService) List(ctx context.Context, userID string) ([]model.NotificationView, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockNotificationService) UnseenCount(ctx context.Context, userID string) (int, error) {
	if m.unseenCountFn != nil {
		return m.unseenCountFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockNotificationService) MarkSeen(ctx context.Context, userID, notificationID string) error {
	if m.markSeenFn != nil {
		return m.markSeenFn(ctx, userID, notificationID)
	}
	return nil
}

func (m *mockNotificationService) MarkAllSeen(ctx context.Context, userID string) error {
	if m.markAllSeenFn != nil {
		return m.markAllSeenFn(ctx, userID)
	}
	return nil
}

// --- チャット ---

type mockChatService struct {
	listFn   func(ctx context.Context, userID string) ([]model.ChatPreview, error)
	startFn  func(ctx context.Context, userID, peerID string) (*model.Chat, error)
	threadFn func(ctx context.Context, userID, peerID string) (*chat.Thread, error)
	sendFn   func(ctx context.Context, userID, peerID, text string) (*model.Message, error)
}

func (m *mockChatService) List(ctx context.Context, userID string) ([]model.ChatPreview, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockChatService) Start(ctx context.Context, userID, peerID string) (*model.Chat, error) {
	if m.startFn != nil {
		return m.startFn(ctx, userID, peerID)
	}
	low, high := model.CanonicalPair(userID, peerID)
	return &model.Chat{ID: "chat-1", ParticipantA: low, ParticipantB: high}, nil
}

func (m *mockChatService) Thread(ctx context.Context, userID, peerID string) (*chat.Thread, error) {
	if m.threadFn != nil {
		return m.threadFn(ctx, userID, peerID)
	}
	return nil, model.NewNotMutualFollowersError()
}

func (m *mockChatService) Send(ctx context.Context, userID, peerID, text string) (*model.Message, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, userID, peerID, text)
	}
	return &model.Message{ID: "msg-1", SenderID: userID, RecipientID: peerID, Text: text}, nil
}

// --- 画像 ---

type mockImageResolver struct {
	fromUploadFn func(ctx context.Context, r io.Reader) (string, error)
	fromURLFn    func(ctx context.Context, rawURL string) (string, error)
}

func (m *mockImageResolver) FromUpload(ctx context.Context, r io.Reader) (string, error) {
	if m.fromUploadFn != nil {
		return m.fromUploadFn(ctx, r)
	}
	return "/uploads/uploaded.png", nil
}

func (m *mockImageResolver) FromURL(ctx context.Context, rawURL string) (string, error) {
	if m.fromURLFn != nil {
		return m.fromURLFn(ctx, rawURL)
	}
	return rawURL, nil
}

// --- ヘルパー ---

const (
	testUserID  = "11111111-1111-1111-1111-111111111111"
	testPeerID  = "22222222-2222-2222-2222-222222222222"
	testPostID  = "33333333-3333-3333-3333-333333333333"
	testOtherID = "44444444-4444-4444-4444-444444444444"
)

func testIdentity() *model.Identity {
	return &model.Identity{ID: testUserID, Username: "alice", Email: "alice@example.com", Role: model.RoleUser}
}

func testAdmin() *model.Identity {
	return &model.Identity{ID: testUserID, Username: "root", Email: "root@example.com", Role: model.RoleAdmin}
}

// withIdentity はリクエストにIdentityを注入する。
func withIdentity(r *http.Request, identity *model.Identity) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), identity))
}

// withURLParams はchiのURLパラメータをリクエストに設定する。
func withURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonRequest(r *http.Request) *http.Request {
	r.Header.Set("Accept", "application/json")
	return r
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body.Code
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

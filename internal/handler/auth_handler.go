// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/mosaic/internal/middleware"
	"github.com/hitoshi/mosaic/internal/model"
)

const (
	verifyPath = "/verify"
	homePath   = "/"

	// oauthStateCookie はOAuthフローを開始したブラウザとstateを結びつけるCookie。
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 10 * time.Minute
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, username, password string) (*model.User, error)
	SubmitPassword(ctx context.Context, email, password string) (*model.PendingLogin, error)
	VerifyOTP(ctx context.Context, pendingToken, code string) (*model.Session, error)
	ResendOTP(ctx context.Context, pendingToken string) error
	CancelPending(ctx context.Context, pendingToken string) error
	BeginOAuth(ctx context.Context) (string, string, error)
	CompleteOAuth(ctx context.Context, state, code string) (*model.Session, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge time.Duration
	PendingMaxAge time.Duration
}

// AuthHandler はパスワード+OTPログインとGoogle OAuthのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type registerResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type pendingResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

type sessionResponse struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Register はパスワードユーザーを登録する。登録後はログイン（OTP確認）を経る必要がある。
// POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	values, err := formValues(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), values.Get("email"), values.Get("username"), values.Get("password"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if middleware.WantsJSON(r) {
		writeJSON(w, http.StatusCreated, registerResponse{
			ID:       user.ID,
			Email:    user.Email,
			Username: user.Username,
		})
		return
	}
	http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
}

// Login はパスワードを確認し、確認コードを発行して保留Cookieを設定する。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	values, err := formValues(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	pending, err := h.service.SubmitPassword(r.Context(), values.Get("email"), values.Get("password"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setCookie(w, middleware.PendingCookieName, pending.Token, h.config.PendingMaxAge)
	respondDone(w, r, verifyPath, pendingResponse{ExpiresAt: pending.ExpiresAt})
}

// Verify は確認コードを検証し、成功した場合はセッションCookieを設定する。
// POST /verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	pendingToken := cookieValue(r, middleware.PendingCookieName)
	values, err := formValues(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	session, err := h.service.VerifyOTP(r.Context(), pendingToken, values.Get("code"))
	if err != nil {
		if isLoginRequired(err) {
			h.clearCookie(w, middleware.PendingCookieName)
			h.respondLoginRequired(w, r, err)
			return
		}
		handleServiceError(w, err)
		return
	}

	h.clearCookie(w, middleware.PendingCookieName)
	h.setCookie(w, middleware.SessionCookieName, session.Token, h.config.SessionMaxAge)
	respondDone(w, r, homePath, sessionResponse{UserID: session.UserID, ExpiresAt: session.ExpiresAt})
}

// ResendOTP は同じ保留ログインに対して新しい確認コードを送信する。
// POST /resend-otp
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResendOTP(r.Context(), cookieValue(r, middleware.PendingCookieName)); err != nil {
		if isLoginRequired(err) {
			h.clearCookie(w, middleware.PendingCookieName)
			h.respondLoginRequired(w, r, err)
			return
		}
		handleServiceError(w, err)
		return
	}
	respondDone(w, r, verifyPath, nil)
}

// Logout はセッションCookieと保留Cookieを無条件に削除する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if pendingToken := cookieValue(r, middleware.PendingCookieName); pendingToken != "" {
		if err := h.service.CancelPending(r.Context(), pendingToken); err != nil {
			// 破棄に失敗してもCookieはクリアする
			slog.Error("failed to cancel pending login", slog.String("error", err.Error()))
		}
	}

	h.clearCookie(w, middleware.SessionCookieName)
	h.clearCookie(w, middleware.PendingCookieName)
	respondDone(w, r, middleware.LoginPath, nil)
}

// GoogleLogin はGoogle OAuthフローを開始する。
// stateをCookieにも保存し、コールバックを受けたブラウザがフローを開始したブラウザであることを確認する。
// GET /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	url, state, err := h.service.BeginOAuth(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.setCookie(w, oauthStateCookie, state, oauthStateMaxAge)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理し、セッションCookieを設定する。
// クエリのstateがCookieのstateと一致しない場合はサービスを呼ばずにログイン画面へ戻す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	state := query.Get("state")
	stateCookie := cookieValue(r, oauthStateCookie)
	h.clearCookie(w, oauthStateCookie)

	if errParam := query.Get("error"); errParam != "" {
		slog.Warn("oauth provider returned error", slog.String("error", errParam))
		http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
		return
	}

	if stateCookie == "" || subtle.ConstantTimeCompare([]byte(stateCookie), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.Bool("cookie_present", stateCookie != ""))
		h.respondLoginRequired(w, r, model.NewLoginRequiredError())
		return
	}

	session, err := h.service.CompleteOAuth(r.Context(), state, query.Get("code"))
	if err != nil {
		slog.Warn("oauth login failed", slog.String("error", err.Error()))
		h.respondLoginRequired(w, r, err)
		return
	}

	h.setCookie(w, middleware.SessionCookieName, session.Token, h.config.SessionMaxAge)
	http.Redirect(w, r, homePath, http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentIdentity(r))
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// respondLoginRequired はブラウザをログイン画面へ戻し、JSONクライアントにはエラーを返す。
func (h *AuthHandler) respondLoginRequired(w http.ResponseWriter, r *http.Request, err error) {
	if middleware.WantsJSON(r) {
		handleServiceError(w, err)
		return
	}
	http.Redirect(w, r, middleware.LoginPath, http.StatusSeeOther)
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func isLoginRequired(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeLoginRequired
}

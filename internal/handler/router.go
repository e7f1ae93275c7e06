package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/mosaic/internal/metrics"
	"github.com/hitoshi/mosaic/internal/middleware"
)

// UploadsPath はローカル保存した画像を配信するURLプレフィックス。
const UploadsPath = "/uploads"

// multipartOverhead は画像以外のフォームフィールドに許容するサイズ。
const multipartOverhead = 1 << 20

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	IdentityResolver  middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilの場合は/metricsを公開しない

	// 画像
	Images         ImageResolver
	UploadDir      string // 空の場合は/uploadsを配信しない（MinIO利用時）
	UploadMaxBytes int64

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	UserService         UserServiceInterface
	FollowService       FollowServiceInterface
	PostService         PostServiceInterface
	NotificationService NotificationServiceInterface
	ChatService         ChatServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Identity → Logging → RateLimit(General)
//
// 認証ルートには認証専用のレート制限を追加し、ログインが必要なルートにはRequireAuthとCSRF検証を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewIdentityMiddleware(deps.IdentityResolver))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(deps.RateLimiter.GeneralMiddleware())

	healthHandler := NewHealthHandler(deps.HealthChecker)
	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.Images)
	followHandler := NewFollowHandler(deps.FollowService)
	postHandler := NewPostHandler(deps.PostService, deps.Images)
	notificationHandler := NewNotificationHandler(deps.NotificationService)
	chatHandler := NewChatHandler(deps.ChatService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	if deps.UploadDir != "" {
		fileServer := http.StripPrefix(UploadsPath+"/", http.FileServer(http.Dir(deps.UploadDir)))
		r.Method(http.MethodGet, UploadsPath+"/*", fileServer)
	}

	// 認証ルート（パスワード+OTP、Google OAuth）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/verify", authHandler.Verify)
		r.Post("/resend-otp", authHandler.ResendOTP)
		r.Post("/logout", authHandler.Logout)
		r.Get("/auth/google", authHandler.GoogleLogin)
		r.Get("/auth/google/callback", authHandler.GoogleCallback)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: RequireAuth → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		uploadLimit := chimw.RequestSize(deps.UploadMaxBytes + multipartOverhead)

		r.Get("/me", authHandler.Me)
		r.With(uploadLimit).Post("/me/avatar", userHandler.UpdateAvatar)
		r.Get("/dashboard", userHandler.Dashboard)

		// プロフィール・フォロー
		r.Route("/u/{id}", func(r chi.Router) {
			r.Get("/", userHandler.Profile)
			r.Post("/follow", followHandler.Follow)
			r.Post("/unfollow", followHandler.Unfollow)
			r.Get("/followers", followHandler.Followers)
			r.Get("/following", followHandler.Following)
		})

		// 投稿
		r.Get("/api/posts", postHandler.ListPosts)
		r.Route("/posts", func(r chi.Router) {
			r.With(uploadLimit).Post("/", postHandler.CreatePost)
			r.Get("/week", postHandler.ThisWeek)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", postHandler.GetPost)
				r.Post("/like", postHandler.Like)
				r.Post("/unlike", postHandler.Unlike)
				r.Post("/delete", postHandler.DeletePost)
				r.Post("/comments", postHandler.AddComment)
				r.Post("/comments/{cid}/delete", postHandler.DeleteComment)
			})
		})

		// 通知
		r.Get("/api/notifications/unseen-count", notificationHandler.UnseenCount)
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Post("/read-all", notificationHandler.MarkAllSeen)
			r.Post("/{id}/read", notificationHandler.MarkSeen)
		})

		// チャット（一覧以外は相互フォローを毎回確認する）
		r.Route("/chats", func(r chi.Router) {
			r.Get("/", chatHandler.List)
			r.Get("/{peer}", chatHandler.Thread)
			r.Post("/{peer}/start", chatHandler.Start)
			r.Post("/{peer}/messages", chatHandler.Send)
		})

		// 管理者
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/stats", userHandler.AdminStats)
			r.Post("/users/{id}/delete", userHandler.AdminDelete)
		})
	})

	return r
}

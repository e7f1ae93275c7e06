package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mosaic/internal/auth"
	"github.com/hitoshi/mosaic/internal/chat"
	"github.com/hitoshi/mosaic/internal/config"
	"github.com/hitoshi/mosaic/internal/database"
	"github.com/hitoshi/mosaic/internal/follow"
	"github.com/hitoshi/mosaic/internal/handler"
	"github.com/hitoshi/mosaic/internal/logger"
	"github.com/hitoshi/mosaic/internal/mailer"
	"github.com/hitoshi/mosaic/internal/metrics"
	"github.com/hitoshi/mosaic/internal/middleware"
	"github.com/hitoshi/mosaic/internal/notification"
	"github.com/hitoshi/mosaic/internal/post"
	"github.com/hitoshi/mosaic/internal/repository"
	"github.com/hitoshi/mosaic/internal/security"
	"github.com/hitoshi/mosaic/internal/upload"
	"github.com/hitoshi/mosaic/internal/user"
	"github.com/hitoshi/mosaic/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（存在しない場合は無視）
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "mosaic"),
	)
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	followRepo := repository.NewPostgresFollowRepo(db)
	chatRepo := repository.NewPostgresChatRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)
	handshakeRepo := repository.NewPostgresHandshakeRepo(db)

	// 4. 外部依存（メール・画像保存）の初期化
	sender, err := newMailSender(cfg)
	if err != nil {
		return err
	}
	store, uploadDir, err := newImageStore(cfg)
	if err != nil {
		return err
	}

	// 5. セキュリティサービスの初期化
	sanitizer := security.NewTextSanitizer()
	urlGuard := security.NewImageURLGuard(cfg.ImageFetchTimeout, cfg.UploadMaxBytes)

	// 6. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		userRepo, userRepo, handshakeRepo,
		oauthProvider, auth.NewLinker(userRepo), sender,
		auth.NewTokenIssuer(cfg.JWTSecret, cfg.SessionMaxAge),
		collector,
		auth.ServiceConfig{
			OTPTTL:             cfg.OTPTTL,
			OTPMaxAttempts:     cfg.OTPMaxAttempts,
			BcryptCost:         cfg.BcryptCost,
			RegistrationDomain: cfg.RegistrationEmailDomain,
		},
	)

	followService := follow.NewService(followRepo, userRepo)
	notificationService := notification.NewService(notificationRepo, followRepo)
	postService := post.NewService(postRepo, notificationService, sanitizer)
	chatService := chat.NewService(chatRepo, userRepo, followService, sanitizer, collector, cfg.ChatThreadLimit)
	userService := user.NewService(userRepo, userRepo, postRepo, notificationRepo, followService, postService)

	// 7. ルーターの構築
	// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.AuthRequests = cfg.RateLimitAuth
	rateLimiterCfg.AuthWindow = cfg.RateLimitAuthWindow
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		IdentityResolver:  authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:         slog.Default(),
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),

		Images:         handler.NewImageServiceAdapter(upload.NewUploader(store, cfg.UploadMaxBytes), urlGuard),
		UploadDir:      uploadDir,
		UploadMaxBytes: cfg.UploadMaxBytes,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
			PendingMaxAge: cfg.PendingMaxAge,
		},

		UserService:         userService,
		FollowService:       followService,
		PostService:         postService,
		NotificationService: notificationService,
		ChatService:         chatService,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newMailSender はSMTPが設定されていればSMTP送信を、そうでなければログ出力のみの送信を返す。
func newMailSender(cfg *config.Config) (auth.Mailer, error) {
	if !cfg.SMTPEnabled() {
		slog.Warn("SMTP is not configured; login codes are written to the log only")
		return mailer.LogSender{}, nil
	}
	sender, err := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp sender: %w", err)
	}
	return sender, nil
}

// newImageStore は設定されたバックエンドの画像保存先を返す。
// ローカル保存の場合は/uploadsで配信するディレクトリも返す。
func newImageStore(cfg *config.Config) (upload.Store, string, error) {
	if cfg.UploadBackend == config.UploadBackendMinIO {
		store, err := upload.NewMinIOStore(upload.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			PublicURL: cfg.MinIOPublicURL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create minio store: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, "", fmt.Errorf("failed to prepare minio bucket: %w", err)
		}
		slog.Info("image store: minio", slog.String("bucket", cfg.MinIOBucket))
		return store, "", nil
	}

	store, err := upload.NewLocalStore(cfg.UploadDir, handler.UploadsPath)
	if err != nil {
		return nil, "", err
	}
	slog.Info("image store: local", slog.String("dir", store.Dir()))
	return store, store.Dir(), nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れOAuth stateと古い既読通知のクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(
		repository.NewPostgresHandshakeRepo(db),
		repository.NewPostgresNotificationRepo(db),
		slog.Default(),
	)
	cleanupJob.RetentionDays = cfg.NotificationRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("notification_retention_days", cfg.NotificationRetentionDays),
	)

	// クリーンアップをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

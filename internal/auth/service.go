// Package auth はパスワード＋確認コードによるログイン、OAuthログイン、セッショントークンを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/mosaic/internal/metrics"
	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
// EmailVerifiedがfalseの場合、メールアドレスによる既存アカウントへの統合は行わない。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	AvatarURL      string
	Provider       string // "google"
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// Mailer は確認コードの送信先。
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	OTPTTL             time.Duration // 確認コードの有効期間
	OTPMaxAttempts     int           // 確認コードの最大試行回数
	BcryptCost         int           // パスワード・確認コードのハッシュコスト
	HandshakeTTL       time.Duration // OAuth stateの有効期間
	RegistrationDomain string        // 登録可能なメールドメイン。空の場合は制限しない
}

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcryptの入力上限
	maxUsernameLength = 50
	otpMailSubject    = "ログイン確認コード"
)

// Service は認証に関するビジネスロジックを提供する。
//
// ログインは ANONYMOUS → PASSWORD_CHECKED → OTP_PENDING → AUTHENTICATED と遷移する。
// OTP_PENDINGの状態はusers行のOTPカラムと、ブラウザが保持する保留トークンで表す。
type Service struct {
	users      repository.UserRepository
	challenges repository.OTPChallengeRepository
	handshakes repository.HandshakeRepository
	oauth      OAuthProvider
	linker     IdentityLinker
	mailer     Mailer
	tokens     *TokenIssuer
	metrics    metrics.MetricsCollector
	config     ServiceConfig
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	challenges repository.OTPChallengeRepository,
	handshakes repository.HandshakeRepository,
	oauth OAuthProvider,
	linker IdentityLinker,
	mailer Mailer,
	tokens *TokenIssuer,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.OTPTTL == 0 {
		config.OTPTTL = 10 * time.Minute
	}
	if config.OTPMaxAttempts == 0 {
		config.OTPMaxAttempts = 5
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.HandshakeTTL == 0 {
		config.HandshakeTTL = 10 * time.Minute
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		users:      users,
		challenges: challenges,
		handshakes: handshakes,
		oauth:      oauth,
		linker:     linker,
		mailer:     mailer,
		tokens:     tokens,
		metrics:    collector,
		config:     config,
		now:        time.Now,
	}
}

// Register はパスワードでユーザーを登録する。
// 登録だけではログイン状態にならず、続けて確認コードによるログインを行う。
func (s *Service) Register(ctx context.Context, email, username, password string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	username = strings.TrimSpace(username)

	if !strings.Contains(email, "@") || strings.HasPrefix(email, "@") || strings.HasSuffix(email, "@") {
		return nil, model.NewInvalidInputError("email", "メールアドレスの形式が正しくありません")
	}
	if d := s.config.RegistrationDomain; d != "" && !strings.HasSuffix(email, "@"+strings.ToLower(d)) {
		return nil, model.NewEmailDomainError(d)
	}
	if username == "" {
		username = localPart(email)
	}
	if len([]rune(username)) > maxUsernameLength {
		return nil, model.NewTextTooLongError("ユーザー名", maxUsernameLength)
	}
	if len(password) < minPasswordLength {
		return nil, model.NewInvalidInputError("password", fmt.Sprintf("%d文字以上で入力してください", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return nil, model.NewInvalidInputError("password", fmt.Sprintf("%dバイト以内で入力してください", maxPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// SubmitPassword はメールアドレスとパスワードを確認し、確認コードを発行・送信する。
// 未登録・パスワード不一致・パスワード未設定はすべて同じエラーを返す。
// メール送信に失敗した場合は発行したチャレンジを取り消す。
func (s *Service) SubmitPassword(ctx context.Context, email, password string) (*model.PendingLogin, error) {
	email = model.NormalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.HasPassword() {
		s.metrics.RecordLogin(metrics.ResultFailure)
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.metrics.RecordLogin(metrics.ResultFailure)
		return nil, model.NewInvalidCredentialsError()
	}

	code, hash, expiresAt, err := s.newChallenge()
	if err != nil {
		return nil, err
	}
	pendingToken, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate pending token: %w", err)
	}

	if err := s.challenges.IssueChallenge(ctx, user.ID, hash, pendingToken, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to issue challenge: %w", err)
	}

	if err := s.sendCode(ctx, user.Email, code); err != nil {
		if clearErr := s.challenges.ClearChallenge(ctx, pendingToken); clearErr != nil {
			slog.Error("failed to roll back otp challenge",
				slog.String("user_id", user.ID),
				slog.String("error", clearErr.Error()),
			)
		}
		return nil, model.NewMailDeliveryFailedError()
	}

	s.metrics.RecordLogin(metrics.ResultSuccess)
	slog.Info("otp challenge issued", slog.String("user_id", user.ID))
	return &model.PendingLogin{Token: pendingToken, ExpiresAt: expiresAt}, nil
}

// VerifyOTP は確認コードを検証し、成功した場合はセッショントークンを発行する。
//
// 保留トークンに対応するチャレンジが存在しない場合はLOGIN_REQUIREDを返す。
// 期限切れは試行回数やコードの正否に関わらずOTP_EXPIRED、試行回数が上限に達している場合は
// コードの正否に関わらずOTP_LOCKEDを返す。照合のたびに試行回数を1増やす。
func (s *Service) VerifyOTP(ctx context.Context, pendingToken, code string) (*model.Session, error) {
	if pendingToken == "" {
		return nil, model.NewLoginRequiredError()
	}
	code = strings.TrimSpace(code)
	if !isValidOTPFormat(code) {
		return nil, model.NewOTPFormatError()
	}

	user, err := s.challenges.FindByPendingToken(ctx, pendingToken)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending login: %w", err)
	}
	if user == nil || user.LoginOTPHash == "" {
		return nil, model.NewLoginRequiredError()
	}

	now := s.now()
	if err := s.checkChallenge(user, now); err != nil {
		return nil, err
	}

	// 照合の前に試行回数を原子的に確保する。同時検証でも上限を超えて照合されない。
	attempt, err := s.challenges.ClaimAttempt(ctx, pendingToken, s.config.OTPMaxAttempts, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record otp attempt: %w", err)
	}
	if attempt == nil {
		return nil, s.unclaimedChallengeError(ctx, pendingToken, now)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(attempt.OTPHash), []byte(code)); err != nil {
		s.metrics.RecordOTPVerification(metrics.ResultInvalid)
		return nil, model.NewOTPInvalidError()
	}

	// 照合したハッシュが現在のチャレンジのままである場合のみ消費する
	consumed, err := s.challenges.ConsumeChallenge(ctx, attempt.UserID, pendingToken, attempt.OTPHash, s.config.OTPMaxAttempts, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !consumed {
		s.metrics.RecordOTPVerification(metrics.ResultInvalid)
		return nil, model.NewOTPInvalidError()
	}

	session, err := s.tokens.Issue(attempt.UserID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOTPVerification(metrics.ResultSuccess)
	slog.Info("user logged in", slog.String("user_id", attempt.UserID), slog.String("method", "password_otp"))
	return session, nil
}

// checkChallenge は期限切れ（優先）と試行回数超過を判定する。
func (s *Service) checkChallenge(user *model.User, now time.Time) error {
	if !now.Before(user.LoginOTPExpiresAt) {
		s.metrics.RecordOTPVerification(metrics.ResultExpired)
		return model.NewOTPExpiredError()
	}
	if user.LoginOTPAttempts >= s.config.OTPMaxAttempts {
		s.metrics.RecordOTPVerification(metrics.ResultLocked)
		return model.NewOTPLockedError()
	}
	return nil
}

// unclaimedChallengeError は試行回数を確保できなかった理由を最新の状態から判定する。
func (s *Service) unclaimedChallengeError(ctx context.Context, pendingToken string, now time.Time) error {
	user, err := s.challenges.FindByPendingToken(ctx, pendingToken)
	if err != nil {
		return fmt.Errorf("failed to find pending login: %w", err)
	}
	if user == nil || user.LoginOTPHash == "" {
		return model.NewLoginRequiredError()
	}
	if err := s.checkChallenge(user, now); err != nil {
		return err
	}
	s.metrics.RecordOTPVerification(metrics.ResultLocked)
	return model.NewOTPLockedError()
}

// ResendOTP は同じ保留トークンのまま新しい確認コードを発行・送信し、試行回数を0に戻す。
// 以前のコードは無効になる。メール送信に失敗しても新しいチャレンジは残る。
func (s *Service) ResendOTP(ctx context.Context, pendingToken string) error {
	if pendingToken == "" {
		return model.NewLoginRequiredError()
	}

	user, err := s.challenges.FindByPendingToken(ctx, pendingToken)
	if err != nil {
		return fmt.Errorf("failed to find pending login: %w", err)
	}
	if user == nil {
		return model.NewLoginRequiredError()
	}

	code, hash, expiresAt, err := s.newChallenge()
	if err != nil {
		return err
	}
	ok, err := s.challenges.ReissueChallenge(ctx, pendingToken, hash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to reissue challenge: %w", err)
	}
	if !ok {
		return model.NewLoginRequiredError()
	}

	if err := s.sendCode(ctx, user.Email, code); err != nil {
		return model.NewMailDeliveryFailedError()
	}

	slog.Info("otp challenge reissued", slog.String("user_id", user.ID))
	return nil
}

// CancelPending は保留中のログインを破棄する。
func (s *Service) CancelPending(ctx context.Context, pendingToken string) error {
	if pendingToken == "" {
		return nil
	}
	if err := s.challenges.ClearChallenge(ctx, pendingToken); err != nil {
		return fmt.Errorf("failed to cancel pending login: %w", err)
	}
	return nil
}

// BeginOAuth はOAuthのstateを保存し、リダイレクト先URLとstateを返す。
func (s *Service) BeginOAuth(ctx context.Context) (string, string, error) {
	state, err := generateToken()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	now := s.now()
	handshake := &model.OAuthHandshake{
		State:     state,
		ExpiresAt: now.Add(s.config.HandshakeTTL),
		CreatedAt: now,
	}
	if err := s.handshakes.Create(ctx, handshake); err != nil {
		return "", "", fmt.Errorf("failed to save oauth state: %w", err)
	}
	return s.oauth.GetLoginURL(state), state, nil
}

// CompleteOAuth はstateを消費し、認可コードからユーザーを特定してセッショントークンを発行する。
func (s *Service) CompleteOAuth(ctx context.Context, state, code string) (*model.Session, error) {
	if state == "" || code == "" {
		s.metrics.RecordOAuthLogin(metrics.ResultInvalid)
		return nil, model.NewLoginRequiredError()
	}
	ok, err := s.handshakes.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	if !ok {
		s.metrics.RecordOAuthLogin(metrics.ResultInvalid)
		return nil, model.NewLoginRequiredError()
	}

	profile, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordOAuthLogin(metrics.ResultError)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.linker.ResolveExternalIdentity(ctx, profile)
	if err != nil {
		s.metrics.RecordOAuthLogin(metrics.ResultError)
		return nil, fmt.Errorf("failed to resolve external identity: %w", err)
	}

	session, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOAuthLogin(metrics.ResultSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID), slog.String("method", profile.Provider))
	return session, nil
}

// ResolveIdentity はセッショントークンを検証し、現在のユーザー情報を取得する。
// トークンからはユーザーIDのみを信頼し、表示名・権限などは毎回ストアから取得する。
func (s *Service) ResolveIdentity(ctx context.Context, token string) (*model.Identity, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	identity, err := s.users.FindIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: user not found", ErrInvalidToken)
	}
	return identity, nil
}

// newChallenge は確認コードとそのハッシュ、有効期限を生成する。
func (s *Service) newChallenge() (code, hash string, expiresAt time.Time, err error) {
	code, err = generateOTPCode()
	if err != nil {
		return "", "", time.Time{}, err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(code), s.config.BcryptCost)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to hash otp code: %w", err)
	}
	return code, string(h), s.now().Add(s.config.OTPTTL), nil
}

// sendCode は確認コードをメールで送信する。失敗はログに記録して返す。
func (s *Service) sendCode(ctx context.Context, to, code string) error {
	minutes := int(s.config.OTPTTL / time.Minute)
	body := fmt.Sprintf("ログイン確認コード: %s\n\nこのコードの有効期限は%d分です。\n心当たりのない場合はこのメールを破棄してください。\n", code, minutes)
	if err := s.mailer.Send(ctx, to, otpMailSubject, body); err != nil {
		s.metrics.RecordMailFailure()
		slog.Error("failed to deliver otp mail", slog.String("error", err.Error()))
		return err
	}
	return nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/repository"
)

// IdentityLinker は外部IdPのプロフィールを既存アカウントと照合し、ユーザーを特定する。
type IdentityLinker interface {
	ResolveExternalIdentity(ctx context.Context, profile *OAuthUserInfo) (*model.User, error)
}

// Linker はメールアドレス、次にGoogle IDの順でアカウントを照合するIdentityLinker。
type Linker struct {
	users repository.UserRepository
	now   func() time.Time
}

// NewLinker はLinkerを生成する。
func NewLinker(users repository.UserRepository) *Linker {
	return &Linker{users: users, now: time.Now}
}

// ResolveExternalIdentity はプロフィールに対応するユーザーを返す。
// 見つからなければ作成し、見つかれば欠けている項目を補完する。
// パスワード登録済みのユーザーが同じメールアドレスでGoogleログインした場合は同一ユーザーに統合される。
func (l *Linker) ResolveExternalIdentity(ctx context.Context, profile *OAuthUserInfo) (*model.User, error) {
	if profile == nil || profile.ProviderUserID == "" {
		return nil, fmt.Errorf("provider user id is required")
	}
	email := model.NormalizeEmail(profile.Email)

	// 未確認のメールアドレスでは既存アカウントを特定しない
	lookupEmail := email
	if !profile.EmailVerified {
		lookupEmail = ""
	}

	user, err := l.find(ctx, lookupEmail, profile.ProviderUserID)
	if err != nil {
		return nil, err
	}

	if user == nil {
		if !profile.EmailVerified {
			return nil, fmt.Errorf("provider email is not verified")
		}
		user, err = l.create(ctx, email, profile)
		if errors.Is(err, repository.ErrDuplicate) {
			// 同時に初回ログインした別リクエストが先に作成した
			user, err = l.find(ctx, email, profile.ProviderUserID)
			if err == nil && user == nil {
				err = fmt.Errorf("user vanished after duplicate insert")
			}
		}
		if err != nil {
			return nil, err
		}
		return user, nil
	}

	if l.backfill(user, profile) {
		user.UpdatedAt = l.now()
		if err := l.users.UpdateProfile(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to update linked user: %w", err)
		}
		slog.Info("external identity linked",
			slog.String("user_id", user.ID),
			slog.String("provider", profile.Provider),
		)
	}
	return user, nil
}

func (l *Linker) find(ctx context.Context, email, providerUserID string) (*model.User, error) {
	if email != "" {
		user, err := l.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if user != nil {
			return user, nil
		}
	}
	user, err := l.users.FindByGoogleID(ctx, providerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider id: %w", err)
	}
	return user, nil
}

func (l *Linker) create(ctx context.Context, email string, profile *OAuthUserInfo) (*model.User, error) {
	if email == "" {
		return nil, fmt.Errorf("provider profile has no email")
	}
	now := l.now()
	username := strings.TrimSpace(profile.Name)
	if username == "" {
		username = localPart(email)
	}

	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Username:  username,
		GoogleID:  profile.ProviderUserID,
		AvatarURL: profile.AvatarURL,
		Role:      model.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)
	return user, nil
}

// backfill は欠けている項目をプロフィールで補完し、変更があったかを返す。
func (l *Linker) backfill(user *model.User, profile *OAuthUserInfo) bool {
	changed := false
	if user.GoogleID == "" {
		user.GoogleID = profile.ProviderUserID
		changed = true
	}
	if user.AvatarURL == "" && profile.AvatarURL != "" {
		user.AvatarURL = profile.AvatarURL
		changed = true
	}
	if name := strings.TrimSpace(profile.Name); name != "" && name != user.Username {
		user.Username = name
		changed = true
	}
	if user.Role == "" {
		user.Role = model.RoleUser
		changed = true
	}
	return changed
}

// localPart はメールアドレスの@より前を返す。
func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// compile-time interface check
var _ IdentityLinker = (*Linker)(nil)

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/mosaic/internal/model"
)

// ErrInvalidToken はセッショントークンの署名・期限・形式が不正な場合のエラー。
var ErrInvalidToken = errors.New("invalid session token")

// TokenIssuer はHS256署名のセッショントークンを発行・検証する。
// トークンにはユーザーIDのみを載せ、サーバー側には保存しない。
type TokenIssuer struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string, maxAge time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Issue はユーザーIDを主体とするトークンを発行する。
func (t *TokenIssuer) Issue(userID string) (*model.Session, error) {
	now := t.now()
	expiresAt := now.Add(t.maxAge)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &model.Session{
		Token:     signed,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}, nil
}

// Parse はトークンを検証し、ユーザーIDを返す。
// 署名アルゴリズムはHS256のみ受け付け、有効期限は必須とする。
func (t *TokenIssuer) Parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// MaxAge はトークンの有効期間を返す。
func (t *TokenIssuer) MaxAge() time.Duration {
	return t.maxAge
}

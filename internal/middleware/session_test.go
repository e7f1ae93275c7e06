package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/mosaic/internal/model"
)

// --- モック定義 ---

type mockIdentityResolver struct {
	resolveFn func(ctx context.Context, token string) (*model.Identity, error)
	calls     int
}

func (m *mockIdentityResolver) ResolveIdentity(ctx context.Context, token string) (*model.Identity, error) {
	m.calls++
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return nil, errors.New("invalid session token")
}

func validTokenResolver() *mockIdentityResolver {
	return &mockIdentityResolver{
		resolveFn: func(ctx context.Context, token string) (*model.Identity, error) {
			if token == "valid-token" {
				return &model.Identity{ID: "user-123", Username: "alice", Role: model.RoleUser}, nil
			}
			return nil, errors.New("invalid session token")
		},
	}
}

// --- NewIdentityMiddleware ---

func TestIdentityMiddleware_ValidToken_AttachesIdentity(t *testing.T) {
	mw := NewIdentityMiddleware(validTokenResolver())

	var captured *model.Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured == nil || captured.ID != "user-123" || captured.Username != "alice" {
		t.Errorf("identity = %+v", captured)
	}
}

func TestIdentityMiddleware_FailuresProceedAnonymously(t *testing.T) {
	tests := []struct {
		name   string
		cookie *http.Cookie
		calls  int
	}{
		{"Cookieなし", nil, 0},
		{"空のCookie", &http.Cookie{Name: SessionCookieName, Value: ""}, 0},
		{"不正なトークン", &http.Cookie{Name: SessionCookieName, Value: "tampered"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := validTokenResolver()
			mw := NewIdentityMiddleware(resolver)

			called := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if IdentityFromContext(r.Context()) != nil {
					t.Error("identity should not be attached")
				}
				if _, err := UserIDFromContext(r.Context()); err == nil {
					t.Error("UserIDFromContext should fail for anonymous request")
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if !called || w.Code != http.StatusOK {
				t.Errorf("called = %v, status = %d", called, w.Code)
			}
			if resolver.calls != tt.calls {
				t.Errorf("resolver calls = %d, want %d", resolver.calls, tt.calls)
			}
		})
	}
}

// --- RequireAuth ---

func TestRequireAuth_Anonymous_RedirectsToLogin(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chats", nil))

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != LoginPath {
		t.Errorf("Location = %q, want %q", loc, LoginPath)
	}
}

func TestRequireAuth_AnonymousJSONClient_Returns401(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	for _, header := range [][2]string{{"Accept", "application/json"}, {"X-Requested-With", "fetch"}} {
		req := httptest.NewRequest(http.MethodGet, "/api/notifications/unseen-count", nil)
		req.Header.Set(header[0], header[1])
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", header[0], w.Code, http.StatusUnauthorized)
		}
	}
}

func TestRequireAuth_WithIdentity_PassesThrough(t *testing.T) {
	called := false
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), &model.Identity{ID: "user-1"}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("handler should be called")
	}
}

// --- RequireAdmin ---

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name     string
		identity *model.Identity
		want     int
	}{
		{"管理者", &model.Identity{ID: "a", Role: model.RoleAdmin}, http.StatusOK},
		{"一般ユーザー", &model.Identity{ID: "u", Role: model.RoleUser}, http.StatusForbidden},
		{"未ログイン", nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
			if tt.identity != nil {
				req = req.WithContext(ContextWithIdentity(req.Context(), tt.identity))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

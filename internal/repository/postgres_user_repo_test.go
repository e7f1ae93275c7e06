package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/mosaic/internal/model"
)

func TestNewPostgresUserRepo_Initializes(t *testing.T) {
	repo := NewPostgresUserRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unique violation", &pq.Error{Code: "23505"}, true},
		{"wrapped unique violation", errors.Join(errors.New("insert"), &pq.Error{Code: "23505"}), true},
		{"foreign key violation", &pq.Error{Code: "23503"}, false},
		{"other error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNullString(t *testing.T) {
	if nullString("").Valid {
		t.Error("empty string should be NULL")
	}
	if ns := nullString("x"); !ns.Valid || ns.String != "x" {
		t.Errorf("nullString(x) = %+v", ns)
	}
}

func TestPostgresUserRepo_CreateAndFind(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()

	user := createTestUser(t, repo, "alice@example.com")

	got, err := repo.FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if got == nil || got.ID != user.ID {
		t.Fatalf("FindByEmail returned %+v, want ID %s", got, user.ID)
	}
	if got.GoogleID != "" || got.LoginPendingToken != "" {
		t.Errorf("nullable columns should scan as empty: %+v", got)
	}

	missing, err := repo.FindByID(ctx, uuid.New().String())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing user, got %+v", missing)
	}

	dup := *user
	dup.ID = uuid.New().String()
	if err := repo.Create(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Create duplicate email error = %v, want ErrDuplicate", err)
	}

	identity, err := repo.FindIdentity(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindIdentity: %v", err)
	}
	if identity.Email != user.Email || identity.Role != model.RoleUser {
		t.Errorf("FindIdentity = %+v", identity)
	}
}

func TestPostgresUserRepo_ClaimAttemptIsBoundedUnderConcurrency(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	user := createTestUser(t, repo, "claim@example.com")

	if err := repo.IssueChallenge(ctx, user.ID, "hash-1", "pending-claim", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempt, err := repo.ClaimAttempt(ctx, "pending-claim", 5, time.Now())
			if err != nil {
				t.Errorf("ClaimAttempt: %v", err)
				return
			}
			if attempt != nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 5 {
		t.Errorf("granted attempts = %d, want 5", granted)
	}
	got, _ := repo.FindByPendingToken(ctx, "pending-claim")
	if got == nil || got.LoginOTPAttempts != 5 {
		t.Errorf("attempt counter = %+v, want 5", got)
	}

	// 期限切れのチャレンジには照合権を払い出さない
	if err := repo.IssueChallenge(ctx, user.ID, "hash-2", "pending-expired", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	attempt, err := repo.ClaimAttempt(ctx, "pending-expired", 5, time.Now())
	if err != nil || attempt != nil {
		t.Errorf("ClaimAttempt on expired challenge = %+v, %v", attempt, err)
	}
}

func TestPostgresUserRepo_OTPChallenge(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	user := createTestUser(t, repo, "otp@example.com")
	expires := time.Now().Add(10 * time.Minute)

	if err := repo.IssueChallenge(ctx, user.ID, "hash-1", "pending-1", expires); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	attempt, err := repo.ClaimAttempt(ctx, "pending-1", 5, time.Now())
	if err != nil || attempt == nil {
		t.Fatalf("ClaimAttempt = %v, %v", attempt, err)
	}
	if attempt.UserID != user.ID || attempt.OTPHash != "hash-1" {
		t.Errorf("ClaimAttempt = %+v", attempt)
	}
	got, err := repo.FindByPendingToken(ctx, "pending-1")
	if err != nil || got == nil {
		t.Fatalf("FindByPendingToken = %v, %v", got, err)
	}
	if got.LoginOTPAttempts != 1 || got.LoginOTPHash != "hash-1" {
		t.Errorf("challenge state = attempts %d hash %q", got.LoginOTPAttempts, got.LoginOTPHash)
	}

	ok, err := repo.ReissueChallenge(ctx, "pending-1", "hash-2", expires)
	if err != nil || !ok {
		t.Fatalf("ReissueChallenge = %v, %v", ok, err)
	}
	got, _ = repo.FindByPendingToken(ctx, "pending-1")
	if got.LoginOTPAttempts != 0 || got.LoginOTPHash != "hash-2" {
		t.Errorf("reissue should reset attempts and replace hash: %+v", got)
	}

	// 再発行前のハッシュでは消費できない
	ok, err = repo.ConsumeChallenge(ctx, user.ID, "pending-1", "hash-1", 5, time.Now())
	if err != nil || ok {
		t.Fatalf("ConsumeChallenge with stale hash = %v, %v", ok, err)
	}
	// 期限を過ぎた時刻では消費できない
	ok, err = repo.ConsumeChallenge(ctx, user.ID, "pending-1", "hash-2", 5, expires.Add(time.Second))
	if err != nil || ok {
		t.Fatalf("ConsumeChallenge after expiry = %v, %v", ok, err)
	}
	ok, err = repo.ConsumeChallenge(ctx, user.ID, "pending-1", "hash-2", 5, time.Now())
	if err != nil || !ok {
		t.Fatalf("ConsumeChallenge = %v, %v", ok, err)
	}
	ok, _ = repo.ConsumeChallenge(ctx, user.ID, "pending-1", "hash-2", 5, time.Now())
	if ok {
		t.Error("second consume should fail")
	}

	got, _ = repo.FindByID(ctx, user.ID)
	if got.LoginPendingToken != "" || got.LoginOTPHash != "" || !got.LoginOTPExpiresAt.IsZero() {
		t.Errorf("challenge should be cleared: %+v", got)
	}

	ok, err = repo.ReissueChallenge(ctx, "pending-1", "hash-3", expires)
	if err != nil || ok {
		t.Errorf("ReissueChallenge after consume = %v, %v", ok, err)
	}
}

func TestPostgresUserRepo_UpdateProfileAndStats(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	user := createTestUser(t, repo, "linked@example.com")
	createTestUser(t, repo, "plain@example.com")

	user.GoogleID = "google-1"
	user.AvatarURL = "https://example.com/a.png"
	user.UpdatedAt = time.Now()
	if err := repo.UpdateProfile(ctx, user); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	got, err := repo.FindByGoogleID(ctx, "google-1")
	if err != nil || got == nil || got.ID != user.ID {
		t.Fatalf("FindByGoogleID = %+v, %v", got, err)
	}

	total, linked, err := repo.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	if total != 2 || linked != 1 {
		t.Errorf("CountUsers = %d, %d; want 2, 1", total, linked)
	}

	rows, err := repo.ListRecentUsers(ctx, 10, true)
	if err != nil {
		t.Fatalf("ListRecentUsers: %v", err)
	}
	if len(rows) != 1 || rows[0].GoogleID != "google-1" {
		t.Errorf("ListRecentUsers(googleOnly) = %+v", rows)
	}

	summaries, err := repo.ListSummaries(ctx, []string{user.ID, uuid.New().String()})
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].AvatarURL != user.AvatarURL {
		t.Errorf("ListSummaries = %+v", summaries)
	}
}

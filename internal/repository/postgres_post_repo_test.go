package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mosaic/internal/model"
)

func TestPostgresPostRepo_LikesAndComments(t *testing.T) {
	db := openTestDB(t)
	users := NewPostgresUserRepo(db)
	posts := NewPostgresPostRepo(db)
	ctx := context.Background()

	author := createTestUser(t, users, "author@example.com")
	viewer := createTestUser(t, users, "viewer@example.com")
	now := time.Now().UTC().Truncate(time.Microsecond)

	post := &model.Post{ID: uuid.New().String(), UserID: author.ID, Title: "sunset", ImageURL: "/uploads/a.png", CreatedAt: now, UpdatedAt: now}
	if err := posts.Create(ctx, post); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := posts.Like(ctx, post.ID, viewer.ID); err != nil {
			t.Fatalf("Like: %v", err)
		}
	}
	comment := &model.Comment{ID: uuid.New().String(), PostID: post.ID, UserID: viewer.ID, Text: "nice", CreatedAt: now}
	if err := posts.AddComment(ctx, comment); err != nil {
		t.Fatalf("AddComment: %v", err)
	}

	got, err := posts.FindWithStats(ctx, post.ID, viewer.ID)
	if err != nil || got == nil {
		t.Fatalf("FindWithStats = %+v, %v", got, err)
	}
	if got.LikesCount != 1 || !got.LikedByMe {
		t.Errorf("likes = %d likedByMe = %v; want 1 true", got.LikesCount, got.LikedByMe)
	}
	if len(got.Comments) != 1 || got.Comments[0].Author.ID != viewer.ID {
		t.Errorf("comments = %+v", got.Comments)
	}

	list, err := posts.ListRecent(ctx, author.ID, "", now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(list) != 1 || list[0].LikedByMe {
		t.Errorf("ListRecent for author = %+v", list)
	}

	mine, err := posts.ListRecent(ctx, "", viewer.ID, time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListRecent by author filter: %v", err)
	}
	if len(mine) != 0 {
		t.Errorf("viewer has no posts, got %d", len(mine))
	}

	if err := posts.Unlike(ctx, post.ID, viewer.ID); err != nil {
		t.Fatalf("Unlike: %v", err)
	}
	if err := posts.DeleteComment(ctx, post.ID, comment.ID); err != nil {
		t.Fatalf("DeleteComment: %v", err)
	}
	if c, _ := posts.FindComment(ctx, post.ID, comment.ID); c != nil {
		t.Error("comment should be deleted")
	}

	if err := posts.Delete(ctx, post.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if p, _ := posts.FindByID(ctx, post.ID); p != nil {
		t.Error("post should be deleted")
	}
}

package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/mosaic/internal/model"
)

func TestNewPostgresChatRepo_Initializes(t *testing.T) {
	require.NotNil(t, NewPostgresChatRepo(nil))
}

func TestPostgresChatRepo_UpsertConcurrent(t *testing.T) {
	db := openTestDB(t)
	users := NewPostgresUserRepo(db)
	chats := NewPostgresChatRepo(db)
	ctx := context.Background()

	a := createTestUser(t, users, "a@example.com")
	b := createTestUser(t, users, "b@example.com")
	low, high := model.CanonicalPair(a.ID, b.ID)

	const workers = 10
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chat, err := chats.Upsert(ctx, low, high, time.Now())
			if err == nil {
				ids[i] = chat.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, ids[0], ids[i], "concurrent upserts must resolve to the same chat")
	}
	assert.NotEmpty(t, ids[0])

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM chats`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestPostgresChatRepo_MessagesAscendingAndBounded(t *testing.T) {
	db := openTestDB(t)
	users := NewPostgresUserRepo(db)
	chats := NewPostgresChatRepo(db)
	ctx := context.Background()

	a := createTestUser(t, users, "a@example.com")
	b := createTestUser(t, users, "b@example.com")
	low, high := model.CanonicalPair(a.ID, b.ID)
	chat, err := chats.Upsert(ctx, low, high, time.Now())
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, chats.AppendMessage(ctx, &model.Message{
			ID:          uuid.New().String(),
			ChatID:      chat.ID,
			SenderID:    a.ID,
			RecipientID: b.ID,
			Text:        fmt.Sprintf("m%d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := chats.ListRecentMessages(ctx, chat.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m2", "m3", "m4"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})

	latest, err := chats.LatestMessages(ctx, []string{chat.ID})
	require.NoError(t, err)
	require.Contains(t, latest, chat.ID)
	assert.Equal(t, "m4", latest[chat.ID].Text)

	list, err := chats.ListByParticipant(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, chat.ID, list[0].ID)

	empty, err := chats.ListRecentMessages(ctx, uuid.New().String(), 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

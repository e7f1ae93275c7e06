package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/mosaic/internal/model"
)

// PostgresChatRepo はPostgreSQLを使用したチャットリポジトリ。
type PostgresChatRepo struct {
	db *sql.DB
}

// NewPostgresChatRepo はPostgresChatRepoを生成する。
func NewPostgresChatRepo(db *sql.DB) *PostgresChatRepo {
	return &PostgresChatRepo{db: db}
}

// Upsert は(low, high)のチャットを単一ステートメントで取得または作成する。
// DO UPDATEは既存行をRETURNINGで返すための自己代入であり、値は変わらない。
func (r *PostgresChatRepo) Upsert(ctx context.Context, low, high string, now time.Time) (*model.Chat, error) {
	chat := &model.Chat{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO chats (id, participant_a, participant_b, last_message_at, created_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (participant_a, participant_b)
		 DO UPDATE SET participant_a = EXCLUDED.participant_a
		 RETURNING id, participant_a, participant_b, last_message_at, created_at`,
		uuid.New().String(), low, high, now,
	).Scan(&chat.ID, &chat.ParticipantA, &chat.ParticipantB, &chat.LastMessageAt, &chat.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert chat: %w", err)
	}
	return chat, nil
}

// ListByParticipant はユーザーが参加するチャットを最終メッセージ日時の降順で返す。
func (r *PostgresChatRepo) ListByParticipant(ctx context.Context, userID string) ([]model.Chat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, participant_a, participant_b, last_message_at, created_at
		 FROM chats
		 WHERE participant_a = $1 OR participant_b = $1
		 ORDER BY last_message_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	return chats, nil
}

// AppendMessage はメッセージを作成し、チャットの最終メッセージ日時を更新する。
func (r *PostgresChatRepo) AppendMessage(ctx context.Context, msg *model.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, recipient_id, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.RecipientID, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE chats SET last_message_at = GREATEST(last_message_at, $2) WHERE id = $1`,
		msg.ChatID, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const messageColumns = `id, chat_id, sender_id, recipient_id, text, created_at, read_at`

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m      model.Message
		readAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.RecipientID, &m.Text, &m.CreatedAt, &readAt); err != nil {
		return nil, err
	}
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	return &m, nil
}

// ListRecentMessages は直近limit件のメッセージを作成日時の昇順で返す。
func (r *PostgresChatRepo) ListRecentMessages(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM (
		   SELECT `+messageColumns+` FROM messages
		   WHERE chat_id = $1
		   ORDER BY created_at DESC, id DESC
		   LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// LatestMessages はチャットごとの最新メッセージを返す。
func (r *PostgresChatRepo) LatestMessages(ctx context.Context, chatIDs []string) (map[string]*model.Message, error) {
	latest := make(map[string]*model.Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return latest, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT ON (chat_id) `+messageColumns+`
		 FROM messages
		 WHERE chat_id = ANY($1)
		 ORDER BY chat_id, created_at DESC, id DESC`,
		pq.Array(chatIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		latest[m.ChatID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate latest messages: %w", err)
	}
	return latest, nil
}

// compile-time interface check
var _ ChatRepository = (*PostgresChatRepo)(nil)

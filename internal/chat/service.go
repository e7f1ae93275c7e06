// Package chat は相互フォローのユーザー間の1対1チャットを提供する。
//
// チャットは参加者IDを辞書順に並べたペアをキーとして原子的に取得または作成され、
// 同じ2人の間には常に1つだけ存在する。新着メッセージは配信せず、クライアントがスレッドを定期取得する。
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/mosaic/internal/metrics"
	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/repository"
	"github.com/hitoshi/mosaic/internal/security"
)

// DefaultThreadLimit はスレッド取得時に返す直近メッセージの件数。
const DefaultThreadLimit = 200

// Gate は2ユーザー間でメッセージのやり取りが可能かを判定する。
type Gate interface {
	CanMessage(ctx context.Context, a, b string) (bool, error)
}

// Thread はスレッド取得の結果。
type Thread struct {
	Chat     *model.Chat
	Peer     *model.UserSummary
	Messages []model.Message
}

// Service はチャットのサービス層。
type Service struct {
	chats       repository.ChatRepository
	users       repository.UserRepository
	gate        Gate
	sanitizer   security.TextSanitizer
	metrics     metrics.MetricsCollector
	threadLimit int
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	chats repository.ChatRepository,
	users repository.UserRepository,
	gate Gate,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	threadLimit int,
) *Service {
	if threadLimit <= 0 {
		threadLimit = DefaultThreadLimit
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		chats:       chats,
		users:       users,
		gate:        gate,
		sanitizer:   sanitizer,
		metrics:     collector,
		threadLimit: threadLimit,
		now:         time.Now,
	}
}

// Resolve は2ユーザー間のチャットを原子的に取得または作成する。
// 引数の順序に関わらず同じチャットを返し、同時に呼ばれても2つ以上作成されることはない。
func (s *Service) Resolve(ctx context.Context, a, b string) (*model.Chat, error) {
	if a == b {
		return nil, model.NewSelfActionError("チャット")
	}
	low, high := model.CanonicalPair(a, b)
	chat, err := s.chats.Upsert(ctx, low, high, s.now())
	if err != nil {
		return nil, fmt.Errorf("チャットの取得に失敗しました: %w", err)
	}
	s.metrics.RecordChatResolved()
	return chat, nil
}

// Start はチャットを開始する。既に存在する場合は既存のチャットを返す。
func (s *Service) Start(ctx context.Context, userID, peerID string) (*model.Chat, error) {
	if err := s.authorize(ctx, userID, peerID); err != nil {
		return nil, err
	}
	return s.Resolve(ctx, userID, peerID)
}

// Thread は相手とのチャットの直近メッセージを作成日時の昇順で返す。
func (s *Service) Thread(ctx context.Context, userID, peerID string) (*Thread, error) {
	if err := s.authorize(ctx, userID, peerID); err != nil {
		return nil, err
	}
	chat, err := s.Resolve(ctx, userID, peerID)
	if err != nil {
		return nil, err
	}

	messages, err := s.chats.ListRecentMessages(ctx, chat.ID, s.threadLimit)
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}

	peers, err := s.users.ListSummaries(ctx, []string{peerID})
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	thread := &Thread{Chat: chat, Messages: messages}
	if len(peers) > 0 {
		thread.Peer = &peers[0]
	}
	return thread, nil
}

// Send はメッセージを送信する。
// 本文は前後の空白とマークアップを除去した上で空でないこと、MaxMessageLength文字以内であることを要求する。
func (s *Service) Send(ctx context.Context, userID, peerID, text string) (*model.Message, error) {
	text = s.sanitizer.Clean(strings.TrimSpace(text))
	if text == "" {
		return nil, model.NewEmptyTextError("メッセージ")
	}
	if utf8.RuneCountInString(text) > model.MaxMessageLength {
		return nil, model.NewTextTooLongError("メッセージ", model.MaxMessageLength)
	}

	if err := s.authorize(ctx, userID, peerID); err != nil {
		return nil, err
	}
	chat, err := s.Resolve(ctx, userID, peerID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:          uuid.New().String(),
		ChatID:      chat.ID,
		SenderID:    userID,
		RecipientID: peerID,
		Text:        text,
		CreatedAt:   s.now(),
	}
	if err := s.chats.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("メッセージの送信に失敗しました: %w", err)
	}

	s.metrics.RecordMessageSent()
	slog.Debug("message sent",
		slog.String("chat_id", chat.ID),
		slog.String("user_id", userID),
	)
	return msg, nil
}

// List はユーザーが参加するチャットを最終メッセージ日時の降順で、相手と最新メッセージ付きで返す。
// 一覧は相互フォローの判定を行わない。
func (s *Service) List(ctx context.Context, userID string) ([]model.ChatPreview, error) {
	chats, err := s.chats.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("チャット一覧の取得に失敗しました: %w", err)
	}
	if len(chats) == 0 {
		return []model.ChatPreview{}, nil
	}

	chatIDs := make([]string, len(chats))
	peerIDs := make([]string, len(chats))
	for i := range chats {
		chatIDs[i] = chats[i].ID
		peerIDs[i] = chats[i].Peer(userID)
	}

	summaries, err := s.users.ListSummaries(ctx, peerIDs)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	peers := make(map[string]*model.UserSummary, len(summaries))
	for i := range summaries {
		peers[summaries[i].ID] = &summaries[i]
	}

	latest, err := s.chats.LatestMessages(ctx, chatIDs)
	if err != nil {
		return nil, fmt.Errorf("最新メッセージの取得に失敗しました: %w", err)
	}

	previews := make([]model.ChatPreview, len(chats))
	for i, c := range chats {
		previews[i] = model.ChatPreview{
			Chat:        c,
			Peer:        peers[c.Peer(userID)],
			LastMessage: latest[c.ID],
		}
	}
	return previews, nil
}

// authorize は自分自身とのチャットを拒否し、相互フォローであることを確認する。
func (s *Service) authorize(ctx context.Context, userID, peerID string) error {
	if userID == peerID {
		return model.NewSelfActionError("チャット")
	}
	ok, err := s.gate.CanMessage(ctx, userID, peerID)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewNotMutualFollowersError()
	}
	return nil
}

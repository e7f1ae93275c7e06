package model

import "time"

// MaxMessageLength はメッセージ本文の最大文字数。
const MaxMessageLength = 2000

// Chat は2ユーザー間の唯一の会話スレッドを表す。
// ParticipantA < ParticipantB（文字列比較）を常に満たす。
type Chat struct {
	ID            string
	ParticipantA  string
	ParticipantB  string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// Peer は指定ユーザーから見た相手のIDを返す。
func (c *Chat) Peer(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Message はチャット内の1メッセージ。作成後は変更されない。
type Message struct {
	ID          string
	ChatID      string
	SenderID    string
	RecipientID string
	Text        string
	CreatedAt   time.Time
	ReadAt      *time.Time
}

// ChatPreview はチャット一覧の1行を表す。
type ChatPreview struct {
	Chat        Chat
	Peer        *UserSummary
	LastMessage *Message
}

// CanonicalPair は2つのユーザーIDを辞書順に並べ替えて返す。
// 呼び出し順序に依存しないチャットのキーとなる。
func CanonicalPair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

package handler

import (
	"time"

	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/repository"
	"github.com/hitoshi/mosaic/internal/user"
)

// PostResponse は投稿のレスポンス形式。
type PostResponse struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	ImageURL   string            `json:"imageUrl"`
	Author     model.UserSummary `json:"author"`
	LikesCount int               `json:"likesCount"`
	LikedByMe  bool              `json:"likedByMe"`
	Comments   []CommentResponse `json:"comments"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// CommentResponse はコメントのレスポンス形式。
type CommentResponse struct {
	ID        string             `json:"id"`
	PostID    string             `json:"postId"`
	Text      string             `json:"text"`
	Author    *model.UserSummary `json:"author,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// MessageResponse はメッセージのレスポンス形式。
type MessageResponse struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chatId"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ChatResponse はチャットのレスポンス形式。参加者は辞書順に並ぶ。
type ChatResponse struct {
	ID            string    `json:"id"`
	Participants  [2]string `json:"participants"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// ChatPreviewResponse はチャット一覧の1行のレスポンス形式。
type ChatPreviewResponse struct {
	ChatResponse
	Peer        *model.UserSummary `json:"peer"`
	LastMessage *MessageResponse   `json:"lastMessage"`
}

// NotificationResponse は通知のレスポンス形式。
type NotificationResponse struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	From      *model.UserSummary `json:"from"`
	Post      *model.PostSummary `json:"post,omitempty"`
	Seen      bool               `json:"seen"`
	CreatedAt time.Time          `json:"createdAt"`
}

// ProfileResponse はプロフィールのレスポンス形式。
type ProfileResponse struct {
	User             model.UserSummary   `json:"user"`
	Role             model.Role          `json:"role"`
	Posts            []PostResponse      `json:"posts"`
	PostsCount       int                 `json:"postsCount"`
	TotalLoves       int                 `json:"totalLoves"`
	FollowersCount   int                 `json:"followersCount"`
	FollowingCount   int                 `json:"followingCount"`
	Joined           time.Time           `json:"joined"`
	IsMe             bool                `json:"isMe"`
	IsFollowing      bool                `json:"isFollowing"`
	CanMessage       bool                `json:"canMessage"`
	FollowersPreview []model.UserSummary `json:"followersPreview"`
	FollowingPreview []model.UserSummary `json:"followingPreview"`
}

// AdminUserResponse は管理者向けユーザー一覧の1行のレスポンス形式。
type AdminUserResponse struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	GoogleLinked bool      `json:"googleLinked"`
	PostCount    int       `json:"postCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AdminStatsResponse は管理者向け集計のレスポンス形式。
type AdminStatsResponse struct {
	TotalUsers   int                 `json:"totalUsers"`
	GoogleUsers  int                 `json:"googleUsers"`
	RecentUsers  []AdminUserResponse `json:"recentUsers"`
	RecentGoogle []AdminUserResponse `json:"recentGoogleUsers"`
}

// DashboardResponse はダッシュボードのレスポンス形式。
type DashboardResponse struct {
	Profile ProfileResponse     `json:"profile"`
	Admin   *AdminStatsResponse `json:"admin,omitempty"`
}

func toPostResponse(p *model.PostWithStats) PostResponse {
	comments := make([]CommentResponse, len(p.Comments))
	for i := range p.Comments {
		author := p.Comments[i].Author
		comments[i] = toCommentResponse(&p.Comments[i].Comment, &author)
	}
	return PostResponse{
		ID:         p.ID,
		Title:      p.Title,
		ImageURL:   p.ImageURL,
		Author:     p.Author,
		LikesCount: p.LikesCount,
		LikedByMe:  p.LikedByMe,
		Comments:   comments,
		CreatedAt:  p.CreatedAt,
	}
}

func toPostResponses(posts []model.PostWithStats) []PostResponse {
	resp := make([]PostResponse, len(posts))
	for i := range posts {
		resp[i] = toPostResponse(&posts[i])
	}
	return resp
}

func toCommentResponse(c *model.Comment, author *model.UserSummary) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		PostID:    c.PostID,
		Text:      c.Text,
		Author:    author,
		CreatedAt: c.CreatedAt,
	}
}

func toMessageResponse(m *model.Message) MessageResponse {
	return MessageResponse{
		ID:          m.ID,
		ChatID:      m.ChatID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Text:        m.Text,
		CreatedAt:   m.CreatedAt,
	}
}

func toMessageResponses(messages []model.Message) []MessageResponse {
	resp := make([]MessageResponse, len(messages))
	for i := range messages {
		resp[i] = toMessageResponse(&messages[i])
	}
	return resp
}

func toChatResponse(c *model.Chat) ChatResponse {
	return ChatResponse{
		ID:            c.ID,
		Participants:  [2]string{c.ParticipantA, c.ParticipantB},
		LastMessageAt: c.LastMessageAt,
	}
}

func toChatPreviewResponses(previews []model.ChatPreview) []ChatPreviewResponse {
	resp := make([]ChatPreviewResponse, len(previews))
	for i, p := range previews {
		resp[i] = ChatPreviewResponse{
			ChatResponse: toChatResponse(&p.Chat),
			Peer:         p.Peer,
		}
		if p.LastMessage != nil {
			m := toMessageResponse(p.LastMessage)
			resp[i].LastMessage = &m
		}
	}
	return resp
}

func toNotificationResponses(views []model.NotificationView) []NotificationResponse {
	resp := make([]NotificationResponse, len(views))
	for i, v := range views {
		resp[i] = NotificationResponse{
			ID:        v.ID,
			From:      v.From,
			Post:      v.Post,
			Seen:      v.Seen,
			CreatedAt: v.CreatedAt,
		}
		if v.Payload != nil {
			resp[i].Type = string(v.Payload.Kind())
		}
	}
	return resp
}

func toProfileResponse(p *user.Profile) ProfileResponse {
	return ProfileResponse{
		User:             p.User,
		Role:             p.Role,
		Posts:            toPostResponses(p.Posts),
		PostsCount:       p.Stats.PostsCount,
		TotalLoves:       p.Stats.TotalLoves,
		FollowersCount:   p.Stats.FollowersCount,
		FollowingCount:   p.Stats.FollowingCount,
		Joined:           p.Stats.Joined,
		IsMe:             p.IsMe,
		IsFollowing:      p.IsFollowing,
		CanMessage:       p.CanMessage,
		FollowersPreview: nonNilSummaries(p.FollowersPreview),
		FollowingPreview: nonNilSummaries(p.FollowingPreview),
	}
}

func toAdminStatsResponse(s *user.AdminStats) *AdminStatsResponse {
	return &AdminStatsResponse{
		TotalUsers:   s.TotalUsers,
		GoogleUsers:  s.GoogleUsers,
		RecentUsers:  toAdminUserResponses(s.RecentUsers),
		RecentGoogle: toAdminUserResponses(s.RecentGoogle),
	}
}

func toAdminUserResponses(rows []repository.AdminUserRow) []AdminUserResponse {
	resp := make([]AdminUserResponse, len(rows))
	for i, row := range rows {
		resp[i] = AdminUserResponse{
			ID:           row.ID,
			Username:     row.Username,
			Email:        row.Email,
			GoogleLinked: row.GoogleID != "",
			PostCount:    row.PostCount,
			CreatedAt:    row.CreatedAt,
		}
	}
	return resp
}

// nonNilSummaries はJSONでnullではなく空配列を返すためにnilを空スライスに置き換える。
func nonNilSummaries(s []model.UserSummary) []model.UserSummary {
	if s == nil {
		return []model.UserSummary{}
	}
	return s
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/mosaic/internal/middleware"
	"github.com/hitoshi/mosaic/internal/model"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, userID, title, imageURL string) (*model.Post, error)
	List(ctx context.Context, viewerID string, limit int) ([]model.PostWithStats, error)
	ThisWeek(ctx context.Context, viewerID string) ([]model.PostWithStats, time.Time, error)
	Get(ctx context.Context, viewerID, postID string) (*model.PostWithStats, error)
	Like(ctx context.Context, userID, postID string) error
	Unlike(ctx context.Context, userID, postID string) error
	Delete(ctx context.Context, actor *model.Identity, postID string) error
	AddComment(ctx context.Context, userID, postID, text string) (*model.Comment, error)
	DeleteComment(ctx context.Context, actor *model.Identity, postID, commentID string) error
}

// PostHandler は投稿・いいね・コメントのHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
	images  ImageResolver
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface, images ImageResolver) *PostHandler {
	return &PostHandler{
		service: service,
		images:  images,
	}
}

type weekResponse struct {
	Since time.Time      `json:"since"`
	Posts []PostResponse `json:"posts"`
}

// ListPosts は新しい順の投稿一覧を返す。
// GET /api/posts?limit=50
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.List(r.Context(), viewerID(r), queryInt(r, "limit", 0))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

// ThisWeek は直近7日間の投稿を返す。
// GET /posts/week
func (h *PostHandler) ThisWeek(w http.ResponseWriter, r *http.Request) {
	posts, since, err := h.service.ThisWeek(r.Context(), viewerID(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, weekResponse{Since: since, Posts: toPostResponses(posts)})
}

// CreatePost は画像投稿を作成する。画像はmultipartのファイルまたはimageUrlで指定する。
// POST /posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	values, err := formValues(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	imageURL, err := resolveImage(r, values, h.images)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	post, err := h.service.Create(r.Context(), viewerID(r), values.Get("title"), imageURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if middleware.WantsJSON(r) {
		writeJSON(w, http.StatusCreated, map[string]string{
			"id":       post.ID,
			"title":    post.Title,
			"imageUrl": post.ImageURL,
		})
		return
	}
	http.Redirect(w, r, "/posts/"+post.ID, http.StatusSeeOther)
}

// GetPost は投稿を作成者・いいね・コメント付きで返す。
// GET /posts/{id}
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	postID, err := parseIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	post, err := h.service.Get(r.Context(), viewerID(r), postID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// Like は投稿にいいねする。
// POST /posts/{id}/like
func (h *PostHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.toggleLike(w, r, h.service.Like)
}

// Unlike は投稿のいいねを取り消す。
// POST /posts/{id}/unlike
func (h *PostHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	h.toggleLike(w, r, h.service.Unlike)
}

func (h *PostHandler) toggleLike(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, postID string) error) {
	postID, err := parseIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := op(r.Context(), viewerID(r), postID); err != nil {
		handleServiceError(w, err)
		return
	}
	respondDone(w, r, "/posts/"+postID, nil)
}

// DeletePost は投稿を削除する。投稿者本人または管理者のみ実行できる。
// POST /posts/{id}/delete
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	postID, err := parseIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.Delete(r.Context(), currentIdentity(r), postID); err != nil {
		handleServiceError(w, err)
		return
	}
	respondDone(w, r, homePath, nil)
}

// AddComment は投稿にコメントする。
// POST /posts/{id}/comments
func (h *PostHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	postID, err := parseIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	values, err := formValues(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	comment, err := h.service.AddComment(r.Context(), viewerID(r), postID, values.Get("text"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if middleware.WantsJSON(r) {
		writeJSON(w, http.StatusCreated, toCommentResponse(comment, nil))
		return
	}
	http.Redirect(w, r, "/posts/"+postID, http.StatusSeeOther)
}

// DeleteComment はコメントを削除する。コメント投稿者・投稿者・管理者のみ実行できる。
// POST /posts/{id}/comments/{cid}/delete
func (h *PostHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	postID, err := parseIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	commentID, err := parseIDParam(r, "cid")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.DeleteComment(r.Context(), currentIdentity(r), postID, commentID); err != nil {
		handleServiceError(w, err)
		return
	}
	respondDone(w, r, "/posts/"+postID, nil)
}

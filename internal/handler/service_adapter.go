package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/mosaic/internal/model"
	"github.com/hitoshi/mosaic/internal/security"
	"github.com/hitoshi/mosaic/internal/upload"
)

const (
	imageFileField = "image"
	imageURLField  = "imageUrl"
)

// ImageResolver は投稿画像・アバターの最終URLを決定するインターフェース。
type ImageResolver interface {
	// FromUpload はアップロードされた画像を保存し、参照URLを返す。
	FromUpload(ctx context.Context, r io.Reader) (string, error)
	// FromURL は外部画像URLを検証し、そのまま返す。
	FromURL(ctx context.Context, rawURL string) (string, error)
}

// ImageServiceAdapter は upload.Uploader と security.ImageURLGuard を ImageResolver に適合させるアダプタ。
type ImageServiceAdapter struct {
	uploader *upload.Uploader
	guard    security.ImageURLGuard
}

// NewImageServiceAdapter はImageServiceAdapterを生成する。
func NewImageServiceAdapter(uploader *upload.Uploader, guard security.ImageURLGuard) *ImageServiceAdapter {
	return &ImageServiceAdapter{uploader: uploader, guard: guard}
}

// FromUpload はアップロード画像を保存する。
func (a *ImageServiceAdapter) FromUpload(ctx context.Context, r io.Reader) (string, error) {
	return a.uploader.Save(ctx, r)
}

// FromURL は外部画像URLがSSRFの対象とならず、到達可能な画像であることを確認する。
func (a *ImageServiceAdapter) FromURL(ctx context.Context, rawURL string) (string, error) {
	if err := a.guard.CheckImage(ctx, rawURL); err != nil {
		slog.Warn("image url rejected",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return "", model.NewInvalidImageError("画像URLを確認できませんでした")
	}
	return rawURL, nil
}

// resolveImage はmultipartの画像ファイル、またはフォームの画像URLから最終的な画像URLを返す。
// ファイルが添付されている場合はURLより優先する。どちらも指定がない場合は空文字列を返す。
func resolveImage(r *http.Request, values url.Values, images ImageResolver) (string, error) {
	if r.MultipartForm != nil {
		file, _, err := r.FormFile(imageFileField)
		switch {
		case err == nil:
			defer file.Close()
			return images.FromUpload(r.Context(), file)
		case !errors.Is(err, http.ErrMissingFile):
			return "", model.NewInvalidImageError("ファイルを読み込めませんでした")
		}
	}

	if raw := strings.TrimSpace(values.Get(imageURLField)); raw != "" {
		return images.FromURL(r.Context(), raw)
	}
	return "", nil
}

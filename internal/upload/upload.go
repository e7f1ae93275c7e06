// Package upload は投稿画像・アバター画像の保存を提供する。
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/mosaic/internal/model"
)

// DefaultMaxBytes はアップロード画像サイズの既定上限（5MB）。
const DefaultMaxBytes int64 = 5 << 20

// sniffLen はContent-Type判定に使用する先頭バイト数。
const sniffLen = 512

// allowedTypes は受け付ける画像のContent-Typeと保存時の拡張子。
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/avif": ".avif",
}

// Store は画像の保存先。
type Store interface {
	// Put はオブジェクトを保存し、クライアントから参照可能なURLを返す。
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
	// Delete はオブジェクトを削除する。
	Delete(ctx context.Context, name string) error
}

// Uploader は画像を検証して保存する。
type Uploader struct {
	store    Store
	maxBytes int64
}

// NewUploader はUploaderを生成する。maxBytesが0以下の場合はDefaultMaxBytesを使用する。
func NewUploader(store Store, maxBytes int64) *Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Uploader{store: store, maxBytes: maxBytes}
}

// MaxBytes は受け付ける最大サイズを返す。
func (u *Uploader) MaxBytes() int64 {
	return u.maxBytes
}

// Save は画像を読み込み、内容から判定した形式が許可リストに含まれ、サイズが上限以下の場合のみ保存する。
// クライアントが申告したファイル名やContent-Typeは使用しない。
func (u *Uploader) Save(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, u.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return "", model.NewInvalidImageError("ファイルが空です")
	}
	if int64(len(data)) > u.maxBytes {
		return "", model.NewInvalidImageError(fmt.Sprintf("%dMBを超えています", u.maxBytes>>20))
	}

	contentType := DetectImageType(data)
	ext, ok := allowedTypes[contentType]
	if !ok {
		return "", model.NewInvalidImageError("対応していない形式です")
	}

	name := uuid.New().String() + ext
	url, err := u.store.Put(ctx, name, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	slog.Info("image uploaded",
		slog.String("object", name),
		slog.String("content_type", contentType),
		slog.Int("size", len(data)),
	)
	return url, nil
}

// DetectImageType はデータの先頭からContent-Typeを判定する。
// AVIFはISO BMFFのftypボックスで判定する。
func DetectImageType(data []byte) string {
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		switch string(data[8:12]) {
		case "avif", "avis":
			return "image/avif"
		}
	}
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	return http.DetectContentType(head)
}

package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/mosaic/internal/middleware"
	"github.com/hitoshi/mosaic/internal/model"
)

// maxFormMemory はmultipartフォームをメモリに保持する上限。超過分は一時ファイルに書き出される。
const maxFormMemory = 8 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを統一フォーマットで書き込む。
func handleServiceError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}

// respondDone は状態変更の完了を返す。
// JSONクライアントにはpayload（nilの場合は204）を、それ以外にはlocationへの303リダイレクトを返す。
func respondDone(w http.ResponseWriter, r *http.Request, location string, payload any) {
	if middleware.WantsJSON(r) {
		if payload == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// currentIdentity はログイン中のIdentityを返す。RequireAuthの後でのみ呼び出す。
func currentIdentity(r *http.Request) *model.Identity {
	return middleware.IdentityFromContext(r.Context())
}

// viewerID はログイン中のユーザーID、未ログインの場合は空文字列を返す。
func viewerID(r *http.Request) string {
	if identity := currentIdentity(r); identity != nil {
		return identity.ID
	}
	return ""
}

// parseIDParam はURLパラメータのUUIDを検証し、正規化した文字列で返す。
func parseIDParam(r *http.Request, name string) (string, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return "", model.NewInvalidIDError(name)
	}
	return id.String(), nil
}

// queryInt はクエリパラメータの整数値を返す。未指定・不正な場合はdefaultValを返す。
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// formValues はリクエストボディの入力値を返す。
// application/json（文字列値のみのオブジェクト）、multipart/form-data、
// application/x-www-form-urlencodedに対応する。
func formValues(r *http.Request) (url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, invalidBodyError()
		}
		values := url.Values{}
		for k, v := range body {
			switch tv := v.(type) {
			case string:
				values.Set(k, tv)
			case float64, bool:
				values.Set(k, fmt.Sprint(tv))
			}
		}
		return values, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, model.NewInvalidImageError("サイズが大きすぎます")
			}
			return nil, invalidBodyError()
		}
		return r.PostForm, nil
	default:
		if err := r.ParseForm(); err != nil {
			return nil, invalidBodyError()
		}
		return r.PostForm, nil
	}
}

func invalidBodyError() *model.APIError {
	return model.NewInvalidInputError("body", "リクエストボディの解析に失敗しました")
}

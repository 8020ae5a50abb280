// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/solify/internal/middleware"
	"github.com/hitoshi/solify/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
// シリアライズ済みトランザクションは最大1232バイトのため、base64でも十分に収まる。
const maxRequestBodyBytes = 64 << 10

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをdstにデコードする。
// 解析に失敗した場合はInvalidRequestのAPIErrorを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewInvalidRequestError()
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Kind == model.KindUpstreamFailure {
			slog.Error("upstream failure",
				slog.String("path", r.URL.Path),
				slog.String("code", apiErr.Code),
				slog.String("details", apiErr.Details),
			)
		}
		middleware.WriteAPIError(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱い、詳細はログにのみ残す
	slog.Error("internal server error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// requireUsername は認証ミドルウェアが注入したユーザー名を取り出す。
// 取り出せない場合は401を書き込んでfalseを返す。
func requireUsername(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, err := middleware.UsernameFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return "", false
	}
	return username, true
}

package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/careportal/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string              `json:"code"`
	Message  string              `json:"message"`
	Category string              `json:"category"`
	Action   string              `json:"action"`
	Fields   map[string][]string `json:"fields,omitempty"`
}

// StatusForKind はエラー分類に対応するHTTPステータスを返す。
// リモートAPIの通信障害・サーバー障害はブリッジから見て上流の障害として502を返す。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindAuth:
		return http.StatusUnauthorized
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindNetwork, model.KindServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: string(apiErr.Category),
		Action:   apiErr.Action,
		Fields:   apiErr.Fields,
	})
}

// WriteError はエラーを分類してレスポンスを書き込む。
// APIErrorを含まないエラーは内部エラーとして扱い、詳細は返さない。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return
	}
	status := StatusForKind(apiErr.Category)
	if apiErr.Category == model.KindAuth && apiErr.Status == http.StatusForbidden {
		status = http.StatusForbidden
	}
	WriteErrorResponse(w, status, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: model.KindUnknown,
		Action:   "しばらく待ってから再度お試しください。",
	})
}

func forbiddenOriginError() *model.APIError {
	return &model.APIError{
		Code:     "FORBIDDEN_ORIGIN",
		Message:  "許可されていないオリジンからのリクエストです。",
		Category: model.KindAuth,
		Action:   "ポータルの画面から操作してください。",
		Status:   http.StatusForbidden,
	}
}

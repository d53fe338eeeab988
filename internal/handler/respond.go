// Package handler はビュー層向けのHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/careportal/internal/middleware"
	"github.com/hitoshi/careportal/internal/model"
)

// maxRequestBodySize はリクエストボディの上限（1MB）。
const maxRequestBodySize = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRawJSON は整形済みのJSONをそのまま書き込む。
func writeRawJSON(w http.ResponseWriter, status int, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// readBody はリクエストボディを読み込み、JSONとして妥当か検証する。
func readBody(r *http.Request, w http.ResponseWriter) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, model.NewValidationError("リクエストボディが大きすぎます。", nil)
		}
		return nil, model.NewValidationError("リクエストボディを読み込めませんでした。", nil)
	}
	if !json.Valid(body) {
		return nil, model.NewValidationError("リクエストボディが不正なJSONです。", nil)
	}
	return body, nil
}

// decodeBody はリクエストボディをvへデコードする。
func decodeBody(r *http.Request, w http.ResponseWriter, v any) error {
	body, err := readBody(r, w)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return model.NewValidationError("リクエストボディの形式が不正です。", nil)
	}
	return nil
}

// writeError はエラーを統一フォーマットで書き込む。
func writeError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}

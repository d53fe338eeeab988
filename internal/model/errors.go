// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。通知やHTTPステータスの決定に使用する。
type ErrorKind string

const (
	// KindNetwork は通信経路の障害（接続失敗、タイムアウト等）。
	KindNetwork ErrorKind = "network"
	// KindServer はリモートAPIが2xx以外を返した障害。
	KindServer ErrorKind = "server"
	// KindValidation はペイロードがリモートAPIに拒否された。
	KindValidation ErrorKind = "validation"
	// KindNotFound は指定IDのレコードが存在しない。
	KindNotFound ErrorKind = "not_found"
	// KindAuth は認証情報またはセッションの障害。
	KindAuth ErrorKind = "auth"
	// KindUnknown は上記に分類できないエラー。
	KindUnknown ErrorKind = "unknown"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string              // エラーコード
	Message  string              // エラーメッセージ
	Category ErrorKind           // カテゴリ: network, server, validation, not_found, auth
	Action   string              // ユーザー向け対処方法
	Status   int                 // リモートAPIのHTTPステータス（通信障害時は0）
	Fields   map[string][]string // フィールド単位のバリデーションエラー
	Err      error               // 元のエラー
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeNetwork         = "NETWORK_ERROR"
	ErrCodeServer          = "SERVER_ERROR"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeUnknownResource = "UNKNOWN_RESOURCE"
)

// KindOf はエラーの分類を返す。
// APIErrorを含まないエラーはKindUnknownとして扱う。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return KindUnknown
}

// NewNetworkError は通信障害エラーを生成する。
func NewNetworkError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeNetwork,
		Message:  fmt.Sprintf("サーバーに接続できませんでした: %v", err),
		Category: KindNetwork,
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewServerError はリモートAPIの障害エラーを生成する。
func NewServerError(status int, message string) *APIError {
	if message == "" {
		message = fmt.Sprintf("サーバーがステータス %d を返しました", status)
	}
	return &APIError{
		Code:     ErrCodeServer,
		Message:  message,
		Category: KindServer,
		Action:   "しばらく待ってから再度お試しください。",
		Status:   status,
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(message string, fields map[string][]string) *APIError {
	if message == "" {
		message = "入力内容に誤りがあります。"
	}
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: KindValidation,
		Action:   "入力内容を確認してください。",
		Status:   400,
		Fields:   fields,
	}
}

// NewNotFoundError は指定IDのレコードが見つからない場合のエラーを生成する。
func NewNotFoundError(resource, id string) *APIError {
	msg := fmt.Sprintf("指定されたレコードが見つかりません: %s", resource)
	if id != "" {
		msg = fmt.Sprintf("指定されたレコードが見つかりません: %s/%s", resource, id)
	}
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  msg,
		Category: KindNotFound,
		Action:   "IDを確認してください。",
		Status:   404,
	}
}

// NewAuthError は認証エラーを生成する。
func NewAuthError(status int, message string) *APIError {
	if message == "" {
		message = "認証に失敗しました。"
	}
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: KindAuth,
		Action:   "ログインし直してください。",
		Status:   status,
	}
}

// NewUnknownResourceError は未定義のリソース名が指定された場合のエラーを生成する。
func NewUnknownResourceError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownResource,
		Message:  fmt.Sprintf("未定義のリソースです: %s", resource),
		Category: KindNotFound,
		Action:   "リソース名を確認してください。",
		Status:   404,
	}
}

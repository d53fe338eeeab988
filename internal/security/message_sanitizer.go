// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer はリモートAPIが返したエラーメッセージなど、信頼できない文字列を
// 通知（トースト）として表示する前にプレーンテキストへ変換する。
// bluemondayのStrictPolicyで全てのタグを除去し、script/styleの中身も捨てる。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxMessageLength は通知メッセージの最大文字数（rune数）。
const DefaultMaxMessageLength = 300

// MessageSanitizer は表示用メッセージのサニタイズ機能のインターフェース。
type MessageSanitizer interface {
	// Sanitize はHTMLを除去したプレーンテキストを返す。
	// 連続する空白は1つにまとめ、最大文字数を超える部分は省略記号に置き換える。
	Sanitize(raw string) string
}

// messageSanitizer はMessageSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに利用できる。
type messageSanitizer struct {
	policy    *bluemonday.Policy
	maxLength int
}

// NewMessageSanitizer はMessageSanitizerの新しいインスタンスを生成する。
// maxLengthが0以下の場合はDefaultMaxMessageLengthを使用する。
func NewMessageSanitizer(maxLength int) MessageSanitizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &messageSanitizer{
		policy:    bluemonday.StrictPolicy(),
		maxLength: maxLength,
	}
}

// Sanitize はHTMLを除去したプレーンテキストを返す。
func (s *messageSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyはテキストをHTMLエスケープして返すため、表示用に戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > s.maxLength {
		runes := []rune(text)
		text = string(runes[:s.maxLength-1]) + "…"
	}
	return text
}

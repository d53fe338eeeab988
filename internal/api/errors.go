package api

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/hitoshi/careportal/internal/model"
)

// messagePaths はエラーレスポンスからメッセージを探すパス。先頭から順に評価する。
var messagePaths = []string{"message", "detail", "error.message", "error"}

// classify は2xx以外のレスポンスをAPIErrorに分類する。
func classify(resource, id string, status int, body []byte) *model.APIError {
	msg := serverMessage(body)

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		apiErr := model.NewValidationError(msg, fieldErrors(body))
		apiErr.Status = status
		return apiErr
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.NewAuthError(status, msg)
	case status == http.StatusNotFound:
		apiErr := model.NewNotFoundError(resource, id)
		if msg != "" {
			apiErr.Message = msg
		}
		return apiErr
	default:
		return model.NewServerError(status, msg)
	}
}

// serverMessage はレスポンスボディからユーザー向けメッセージを取り出す。
func serverMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range messagePaths {
		r := gjson.GetBytes(body, path)
		if r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

// fieldErrors はフィールド単位のバリデーションエラーを取り出す。
// {"errors": {"field": ["..."]}} 形式と、トップレベルにフィールドが並ぶ形式の両方を受け付ける。
func fieldErrors(body []byte) map[string][]string {
	if !gjson.ValidBytes(body) {
		return nil
	}
	root := gjson.ParseBytes(body)
	if errs := root.Get("errors"); errs.IsObject() {
		root = errs
	}
	if !root.IsObject() {
		return nil
	}

	fields := make(map[string][]string)
	root.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		switch name {
		case "message", "detail", "error", "errors", "code":
			return true
		}
		switch {
		case value.IsArray():
			for _, v := range value.Array() {
				if v.Type == gjson.String {
					fields[name] = append(fields[name], v.String())
				}
			}
		case value.Type == gjson.String:
			fields[name] = append(fields[name], value.String())
		}
		return true
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

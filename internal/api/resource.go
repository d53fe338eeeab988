package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// listPaths はページング付きレスポンスで一覧が格納されるパス。
var listPaths = []string{"results", "data", "items"}

// ResourceClient は/{resource}配下のCRUDクライアント。
type ResourceClient[T any] struct {
	client *Client
	name   string
}

// NewResourceClient はリソース名nameのクライアントを生成する。
func NewResourceClient[T any](client *Client, name string) *ResourceClient[T] {
	return &ResourceClient[T]{client: client, name: name}
}

// Name はリソース名を返す。
func (r *ResourceClient[T]) Name() string {
	return r.name
}

func (r *ResourceClient[T]) collectionPath() string {
	return "/" + r.name
}

func (r *ResourceClient[T]) itemPath(id string) string {
	return "/" + r.name + "/" + url.PathEscape(id)
}

// List は一覧を取得する。
// レスポンスはJSON配列、または{"results": [...]}形式のページング付きオブジェクトを受け付ける。
func (r *ResourceClient[T]) List(ctx context.Context) ([]T, error) {
	body, err := r.client.do(ctx, r.name, "", http.MethodGet, r.collectionPath(), nil)
	if err != nil {
		return nil, err
	}

	raw, err := listRaw(body)
	if err != nil {
		return nil, decodeError(http.StatusOK, err)
	}
	items := make([]T, 0)
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, decodeError(http.StatusOK, err)
	}
	return items, nil
}

// Get は指定IDのレコードを取得する。
func (r *ResourceClient[T]) Get(ctx context.Context, id string) (T, error) {
	body, err := r.client.do(ctx, r.name, id, http.MethodGet, r.itemPath(id), nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeItem[T](http.StatusOK, body)
}

// Create はレコードを作成し、作成されたレコードを返す。
func (r *ResourceClient[T]) Create(ctx context.Context, payload any) (T, error) {
	body, err := r.client.do(ctx, r.name, "", http.MethodPost, r.collectionPath(), payload)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeItem[T](http.StatusCreated, body)
}

// Update はレコードを部分更新（PATCH）し、更新後のレコードを返す。
func (r *ResourceClient[T]) Update(ctx context.Context, id string, payload any) (T, error) {
	body, err := r.client.do(ctx, r.name, id, http.MethodPatch, r.itemPath(id), payload)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeItem[T](http.StatusOK, body)
}

// Delete はレコードを削除する。
func (r *ResourceClient[T]) Delete(ctx context.Context, id string) error {
	_, err := r.client.do(ctx, r.name, id, http.MethodDelete, r.itemPath(id), nil)
	return err
}

// listRaw は一覧レスポンスから配列部分のJSONを取り出す。
func listRaw(body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, errInvalidJSON
	}
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return []byte(root.Raw), nil
	}
	for _, path := range listPaths {
		if r := root.Get(path); r.IsArray() {
			return []byte(r.Raw), nil
		}
	}
	return nil, errNotAList
}

// decodeItem は単一レコードのレスポンスをデコードする。
// {"data": {...}}形式のエンベロープも受け付ける。
func decodeItem[T any](status int, body []byte) (T, error) {
	var item T
	if len(body) == 0 {
		return item, nil
	}
	if !gjson.ValidBytes(body) {
		return item, decodeError(status, errInvalidJSON)
	}
	raw := body
	root := gjson.ParseBytes(body)
	if data := root.Get("data"); data.IsObject() && !root.Get("id").Exists() {
		raw = []byte(data.Raw)
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return item, decodeError(status, err)
	}
	return item, nil
}

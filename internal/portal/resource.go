package portal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hitoshi/careportal/internal/api"
	"github.com/hitoshi/careportal/internal/notify"
	"github.com/hitoshi/careportal/internal/query"
)

// 書き込み操作名。通知とメトリクスのラベルに使用する。
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

var operationLabels = map[string]string{
	OpCreate: "作成",
	OpUpdate: "更新",
	OpDelete: "削除",
}

// Document はJSONで表現した読み取り結果。ビューブリッジとCLIが使用する。
// Errが非nilでもHasDataがtrueであれば、Dataは直前に取得できたデータである。
type Document struct {
	Data      json.RawMessage
	HasData   bool
	Stale     bool
	FetchedAt time.Time
	Err       error
}

// Endpoint は型に依存しないリソース操作のインターフェース。
type Endpoint interface {
	Name() string
	ListJSON(ctx context.Context) Document
	GetJSON(ctx context.Context, id string) Document
	CreateJSON(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
	UpdateJSON(ctx context.Context, id string, payload json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, id string) error
	// Warm は一覧をキャッシュへ読み込む。データを得られなかった場合はエラーを返す。
	Warm(ctx context.Context) error
}

// Resource は1つのリソースに対する読み取りと書き込みを提供する。
// 読み取りはキャッシュを経由し、書き込みは成功時に関連リソースを無効化する。
type Resource[T any] struct {
	name     string
	label    string
	client   *api.ResourceClient[T]
	cache    *query.Cache
	notifier notify.Notifier
}

var _ Endpoint = (*Resource[struct{}])(nil)

func newResource[T any](client *api.Client, cache *query.Cache, notifier notify.Notifier, name, label string) *Resource[T] {
	return &Resource[T]{
		name:     name,
		label:    label,
		client:   api.NewResourceClient[T](client, name),
		cache:    cache,
		notifier: notifier,
	}
}

// Name はリソース名を返す。
func (r *Resource[T]) Name() string {
	return r.name
}

// List は一覧を読み取る。
func (r *Resource[T]) List(ctx context.Context) query.Result[[]T] {
	return query.Read(ctx, r.cache, query.ListKey(r.name), r.client.List)
}

// Get は指定IDのレコードを読み取る。
func (r *Resource[T]) Get(ctx context.Context, id string) query.Result[T] {
	return query.Read(ctx, r.cache, query.ItemKey(r.name, id), func(ctx context.Context) (T, error) {
		return r.client.Get(ctx, id)
	})
}

// ObserveList はリモート呼び出しを行わずに一覧の現在の状態を返す。
func (r *Resource[T]) ObserveList() query.Result[[]T] {
	return query.Observe[[]T](r.cache, query.ListKey(r.name))
}

// PrefetchList は一覧の読み込みをバックグラウンドで開始する。
func (r *Resource[T]) PrefetchList(ctx context.Context) {
	query.Prefetch(ctx, r.cache, query.ListKey(r.name), r.client.List)
}

// Create はレコードを作成する。
func (r *Resource[T]) Create(ctx context.Context, payload any) (T, error) {
	return query.Mutate(ctx, r.cache, r.notifier, r.spec(OpCreate), func(ctx context.Context) (T, error) {
		return r.client.Create(ctx, payload)
	})
}

// Update はレコードを部分更新する。
func (r *Resource[T]) Update(ctx context.Context, id string, payload any) (T, error) {
	return query.Mutate(ctx, r.cache, r.notifier, r.spec(OpUpdate), func(ctx context.Context) (T, error) {
		return r.client.Update(ctx, id, payload)
	})
}

// Delete はレコードを削除する。
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	_, err := query.Mutate(ctx, r.cache, r.notifier, r.spec(OpDelete), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.client.Delete(ctx, id)
	})
	return err
}

func (r *Resource[T]) spec(op string) query.MutationSpec {
	return query.MutationSpec{
		Resource:       r.name,
		Operation:      op,
		Invalidates:    query.InvalidationTargets(r.name),
		SuccessMessage: r.label + "を" + operationLabels[op] + "しました",
	}
}

// ListJSON は一覧をJSONで返す。
func (r *Resource[T]) ListJSON(ctx context.Context) Document {
	return toDocument(r.List(ctx))
}

// GetJSON は指定IDのレコードをJSONで返す。
func (r *Resource[T]) GetJSON(ctx context.Context, id string) Document {
	return toDocument(r.Get(ctx, id))
}

// CreateJSON はJSONペイロードでレコードを作成する。
func (r *Resource[T]) CreateJSON(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	created, err := r.Create(ctx, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(created)
}

// UpdateJSON はJSONペイロードでレコードを部分更新する。
func (r *Resource[T]) UpdateJSON(ctx context.Context, id string, payload json.RawMessage) (json.RawMessage, error) {
	updated, err := r.Update(ctx, id, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(updated)
}

// Warm は一覧をキャッシュへ読み込む。
func (r *Resource[T]) Warm(ctx context.Context) error {
	res := r.List(ctx)
	if !res.HasData {
		return res.Err
	}
	return nil
}

func toDocument[T any](res query.Result[T]) Document {
	doc := Document{
		HasData:   res.HasData,
		Stale:     res.Stale,
		FetchedAt: res.FetchedAt,
		Err:       res.Err,
	}
	if !res.HasData {
		return doc
	}
	data, err := json.Marshal(res.Data)
	if err != nil {
		doc.HasData = false
		doc.Err = err
		return doc
	}
	doc.Data = data
	return doc
}

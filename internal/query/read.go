package query

import (
	"context"
	"fmt"
	"time"
)

// Result は読み取り結果を表す。
// Errが非nilでもHasDataがtrueであれば、Dataは直前に取得できたデータである。
type Result[T any] struct {
	Data      T
	HasData   bool
	Err       error
	IsLoading bool
	FetchedAt time.Time
	// Stale はデータが無効化済み、またはStaleTimeを過ぎていることを示す。
	Stale bool
}

func resultOf[T any](snap snapshot) Result[T] {
	r := Result[T]{
		Err:       snap.err,
		IsLoading: snap.loading,
		FetchedAt: snap.fetchedAt,
		Stale:     snap.invalidated,
	}
	if !snap.hasData {
		return r
	}
	r.HasData = true
	if snap.data == nil {
		return r
	}
	v, ok := snap.data.(T)
	if !ok {
		r.HasData = false
		var zero T
		r.Err = fmt.Errorf("query: cached value has type %T, want %T", snap.data, zero)
		return r
	}
	r.Data = v
	return r
}

// Read はkeyのデータを取得する。
// 新鮮なキャッシュがあればfetchを呼ばずに返す。同じキーの取得が実行中であれば合流して結果を待つ。
// fetchに渡されるコンテキストは呼び出し元のキャンセルから切り離され、FetchTimeoutで打ち切られる。
func Read[T any](ctx context.Context, c *Cache, key Key, fetch func(ctx context.Context) (T, error)) Result[T] {
	snap := c.read(ctx, key, func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	return resultOf[T](snap)
}

// Observe はリモート呼び出しを行わずにkeyの現在の状態を返す。
// エントリが存在しない場合はゼロ値のResultを返す。
func Observe[T any](c *Cache, key Key) Result[T] {
	snap, ok := c.observe(key)
	if !ok {
		return Result[T]{}
	}
	return resultOf[T](snap)
}

// Prefetch はkeyの読み取りをバックグラウンドで開始し、完了を待たずに戻る。
// 新鮮なキャッシュがあれば何もしない。
func Prefetch[T any](ctx context.Context, c *Cache, key Key, fetch func(ctx context.Context) (T, error)) {
	go Read(context.WithoutCancel(ctx), c, key, fetch)
}

// Package storage はセッション状態などの小さなJSONブロブを永続化するクライアント側ストレージを提供する。
// ブラウザのlocalStorageに相当し、名前空間キー単位で値を読み書きする。
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound は指定キーの値が存在しないことを表す。
var ErrNotFound = errors.New("storage: key not found")

// Storage は名前空間キー単位の永続化インターフェース。
type Storage interface {
	// Load は指定キーの値を返す。存在しない場合はErrNotFoundを返す。
	Load(ctx context.Context, key string) ([]byte, error)
	// Save は指定キーに値を書き込む。既存の値は置き換える。
	Save(ctx context.Context, key string, data []byte) error
	// Delete は指定キーの値を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
	// Close は保持しているリソースを解放する。
	Close() error
}

// Config はストレージドライバの選択と接続先を表す。
type Config struct {
	Driver   string // file, bolt, redis, memory
	Path     string // file/boltのディレクトリ
	RedisURL string
}

// Open は設定に応じたStorageを生成する。
func Open(cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStorage(cfg.Path)
	case "bolt":
		return NewBoltStorage(cfg.Path)
	case "redis":
		return NewRedisStorage(cfg.RedisURL)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}

// validateKey はファイル名やバケットキーとして安全なキーかを検証する。
func validateKey(key string) error {
	if key == "" {
		return errors.New("storage: empty key")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	return nil
}

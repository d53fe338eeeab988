package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "careportal:"

// RedisStorage はRedisに値を保存するStorage実装。
// 複数端末（キオスク等）で同じセッションを共有する構成で使用する。
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage はredis://形式のURLからクライアントを生成する。
func NewRedisStorage(url string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	return &RedisStorage{client: redis.NewClient(opts)}, nil
}

// NewRedisStorageWithClient は既存のクライアントからRedisStorageを生成する。
func NewRedisStorageWithClient(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

// Load はRedisから値を読み込む。
func (s *RedisStorage) Load(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// Save はRedisに値を書き込む。有効期限は設定しない。
func (s *RedisStorage) Save(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete はRedisから値を削除する。
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close はクライアントの接続を閉じる。
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

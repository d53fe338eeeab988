package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

const (
	boltFileName = "careportal.db"
	boltBucket   = "careportal"
)

// BoltStorage はboltの単一バケットにキーと値を保存するStorage実装。
// 同じファイルを別プロセスが開いている場合、Openはタイムアウトでエラーになる。
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage はディレクトリ配下のデータベースファイルを開く。
func NewBoltStorage(dir string) (*BoltStorage, error) {
	if dir == "" {
		return nil, errors.New("storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, boltFileName), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStorage{db: db}, nil
}

// Load はバケットから値を読み込む。
func (s *BoltStorage) Load(_ context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// トランザクション外では値のスライスが無効になるためコピーする
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Save はバケットに値を書き込む。
func (s *BoltStorage) Save(_ context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(key), data)
	})
}

// Delete はバケットから値を削除する。
func (s *BoltStorage) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(key))
	})
}

// Close はデータベースを閉じてファイルロックを解放する。
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

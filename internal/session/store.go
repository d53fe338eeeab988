// Package session は認証済みユーザーの状態を保持するセッションストアを提供する。
//
// ストアはメモリ上の状態を唯一の正とし、変更のたびに状態全体を1つのJSONブロブとして
// ストレージの名前空間キーへ書き込む。起動時にはそのブロブから状態を復元するため、
// 明示的なClearUserまで再起動後もログイン状態が維持される。
// トークンの形式や有効期限は検証しない。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/storage"
)

// ErrMissingUser はユーザーを含まない認証レスポンスでSetUserが呼ばれたことを表す。
var ErrMissingUser = errors.New("session: auth response has no user")

// State はセッション状態を表す。永続化レイアウトもこの構造体のJSON表現となる。
// IsAuthenticated は User が非nilのときに限りtrueとなる。
type State struct {
	IsAuthenticated bool        `json:"isAuthenticated"`
	User            *model.User `json:"user"`
	AccessToken     string      `json:"accessToken"`
	RefreshToken    string      `json:"refreshToken"`
}

// MarshalJSON は空のトークンをnullとして書き出す。
// ログアウト後のブロブは {"isAuthenticated":false,"user":null,"accessToken":null,"refreshToken":null} となる。
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		IsAuthenticated bool        `json:"isAuthenticated"`
		User            *model.User `json:"user"`
		AccessToken     *string     `json:"accessToken"`
		RefreshToken    *string     `json:"refreshToken"`
	}{
		IsAuthenticated: s.IsAuthenticated,
		User:            s.User,
		AccessToken:     nullIfEmpty(s.AccessToken),
		RefreshToken:    nullIfEmpty(s.RefreshToken),
	})
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// clone はUserを複製したStateを返す。呼び出し元による変更がストアへ波及しないようにする。
func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// Store はセッション状態のストア。
type Store struct {
	// writeMu はメモリへの反映と永続化を1つの単位として直列化する。
	writeMu sync.Mutex

	mu      sync.RWMutex
	state   State
	storage storage.Storage
	key     string
	logger  *slog.Logger

	subMu       sync.Mutex
	subscribers map[int]func(State)
	nextSubID   int
}

// NewStore はストレージの名前空間キーから状態を復元したStoreを生成する。
// 保存済みの状態がない場合は空の状態で開始する。
// 保存済みの状態が壊れている場合は警告を記録して空の状態で開始する。
func NewStore(ctx context.Context, st storage.Storage, namespace string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		storage:     st,
		key:         namespace,
		logger:      logger,
		subscribers: make(map[int]func(State)),
	}

	data, err := st.Load(ctx, namespace)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}

	var restored State
	if err := json.Unmarshal(data, &restored); err != nil {
		logger.Warn("保存済みセッション状態の復元に失敗したため空の状態で開始します",
			slog.String("namespace", namespace),
			slog.String("error", err.Error()),
		)
		return s, nil
	}
	restored.IsAuthenticated = restored.User != nil
	s.state = restored

	logger.Debug("session state rehydrated",
		slog.String("namespace", namespace),
		slog.Bool("is_authenticated", restored.IsAuthenticated),
	)
	return s, nil
}

// State は現在のセッション状態のコピーを返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// AccessToken は現在のアクセストークンを返す。未ログインの場合は空文字列。
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AccessToken
}

// SetUser はログイン・登録成功時のレスポンスで状態全体を置き換える。
func (s *Store) SetUser(ctx context.Context, resp model.AuthResponse) error {
	if resp.User == nil {
		return ErrMissingUser
	}
	u := *resp.User
	return s.replace(ctx, State{
		IsAuthenticated: true,
		User:            &u,
		AccessToken:     resp.AccessToken,
		RefreshToken:    resp.RefreshToken,
	})
}

// ClearUser は状態を初期値に戻す。ログアウトで使用する。
func (s *Store) ClearUser(ctx context.Context) error {
	return s.replace(ctx, State{})
}

// UpdateUser は現在のユーザーにパッチの非nilフィールドをマージする。
// ユーザーが存在しない場合は何もしない。
func (s *Store) UpdateUser(ctx context.Context, patch model.UserPatch) error {
	return s.commit(ctx, func(cur State) (State, bool) {
		if cur.User == nil {
			return cur, false
		}
		merged := patch.Apply(*cur.User)
		cur.User = &merged
		return cur, true
	})
}

// replace は状態全体を置き換えて永続化する。
func (s *Store) replace(ctx context.Context, next State) error {
	return s.commit(ctx, func(State) (State, bool) { return next, true })
}

// commit はmutateの結果をメモリへ反映し、同じ順序で永続化する。
// mutateがfalseを返した場合は何もしない。購読者への通知はロック解放後に行う。
// 永続化に失敗してもメモリ上の状態は更新済みのまま維持する。
func (s *Store) commit(ctx context.Context, mutate func(State) (State, bool)) error {
	s.writeMu.Lock()

	s.mu.Lock()
	next, changed := mutate(s.state.clone())
	if !changed {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return nil
	}
	s.state = next
	s.mu.Unlock()

	err := s.persist(ctx, next)
	s.writeMu.Unlock()

	s.publish(next)
	return err
}

// persist は状態をストレージへ書き込む。
func (s *Store) persist(ctx context.Context, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := s.storage.Save(ctx, s.key, data); err != nil {
		s.logger.Error("セッション状態の永続化に失敗しました",
			slog.String("namespace", s.key),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	return nil
}

// Subscribe は状態変更時に呼び出される関数を登録し、登録解除関数を返す。
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(st State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(st.clone())
	}
}

// Package notify は書き込み結果をユーザー通知（トースト）として配信するイベント発行機構を提供する。
// 同期層はUIに直接依存せず、Eventを発行するだけとする。表示はSubscribeした側の責務。
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/security"
)

// Kind は通知の種別。
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Event はユーザーに表示する通知を表す。
type Event struct {
	Kind      Kind            `json:"kind"`
	Message   string          `json:"message"`
	ErrorKind model.ErrorKind `json:"errorKind,omitempty"`
	Resource  string          `json:"resource,omitempty"`
	Operation string          `json:"operation,omitempty"`
	At        time.Time       `json:"at"`
}

// Notifier は通知の発行インターフェース。
type Notifier interface {
	Notify(ev Event)
}

// Success は成功通知を生成する。
func Success(resource, operation, message string) Event {
	return Event{
		Kind:      KindSuccess,
		Message:   message,
		Resource:  resource,
		Operation: operation,
	}
}

// Failure はエラーから失敗通知を生成する。
// APIErrorの場合はユーザー向けメッセージを、それ以外はerr.Error()を使用する。
func Failure(resource, operation string, err error) Event {
	msg := err.Error()
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	return Event{
		Kind:      KindError,
		Message:   msg,
		ErrorKind: model.KindOf(err),
		Resource:  resource,
		Operation: operation,
	}
}

// recentCapacity は保持する直近の通知数。
const recentCapacity = 50

// Emitter はNotifierの実装。メッセージをサニタイズしてから購読者へ配信する。
// 購読していないビュー（ポーリングするブラウザ等）向けに直近の通知も保持する。
type Emitter struct {
	mu          sync.Mutex
	subscribers map[int]func(Event)
	nextID      int
	recent      []Event

	sanitizer security.MessageSanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewEmitter はEmitterを生成する。sanitizerがnilの場合はデフォルトのサニタイザを使用する。
func NewEmitter(logger *slog.Logger, sanitizer security.MessageSanitizer) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = security.NewMessageSanitizer(0)
	}
	return &Emitter{
		subscribers: make(map[int]func(Event)),
		sanitizer:   sanitizer,
		logger:      logger,
		now:         time.Now,
	}
}

// Notify は通知を購読者へ配信する。購読者はNotifyを呼んだgoroutineで同期的に呼ばれる。
func (e *Emitter) Notify(ev Event) {
	ev.Message = e.sanitizer.Sanitize(ev.Message)
	if ev.At.IsZero() {
		ev.At = e.now()
	}

	level := slog.LevelInfo
	if ev.Kind == KindError {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "notification",
		slog.String("kind", string(ev.Kind)),
		slog.String("resource", ev.Resource),
		slog.String("operation", ev.Operation),
		slog.String("error_kind", string(ev.ErrorKind)),
		slog.String("message", ev.Message),
	)

	e.mu.Lock()
	e.recent = append(e.recent, ev)
	if len(e.recent) > recentCapacity {
		e.recent = e.recent[len(e.recent)-recentCapacity:]
	}
	fns := make([]func(Event), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Recent は時刻sinceより後に発行された通知を古い順に返す。
func (e *Emitter) Recent(since time.Time) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Event, 0, len(e.recent))
	for _, ev := range e.recent {
		if ev.At.After(since) {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe は通知を受け取る関数を登録し、登録解除関数を返す。
func (e *Emitter) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subscribers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// Package query はリモートAPIの読み取り結果をキーごとにキャッシュし、
// 書き込み成功時にリソース名単位で無効化するクエリ層を提供する。
//
// 同一キーへの並行した読み取りは1回のリモート呼び出しに集約される。
// 読み取り失敗時は直前のデータを保持したままエラーを返す。
// 再試行は行わない。
package query

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/careportal/internal/model"
)

// デフォルト値
const (
	DefaultStaleTime    = time.Minute
	DefaultGCTime       = 5 * time.Minute
	DefaultFetchTimeout = 15 * time.Second
)

// Options はCacheの設定。ゼロ値のフィールドはデフォルト値で補完される。
type Options struct {
	// StaleTime は取得したデータを再取得なしで返す期間。
	StaleTime time.Duration
	// GCTime は最後のアクセスからエントリを破棄するまでの期間。
	GCTime time.Duration
	// FetchTimeout は1回のリモート呼び出しの上限時間。
	FetchTimeout time.Duration
	Logger       *slog.Logger
	Metrics      MetricsRecorder
	Now          func() time.Time
}

// EventType はキャッシュイベントの種別。
type EventType string

const (
	EventPopulated   EventType = "populated"
	EventFailed      EventType = "failed"
	EventInvalidated EventType = "invalidated"
	EventRemoved     EventType = "removed"
)

// Event はキャッシュの状態変化を表す。
type Event struct {
	Type EventType
	Key  Key
	Err  error
}

type fetchFunc func(ctx context.Context) (any, error)

type entry struct {
	data        any
	hasData     bool
	err         error
	fetchedAt   time.Time
	lastAccess  time.Time
	invalidated bool
	// dataGen は保持中のデータを取得した時点のリソース世代。
	dataGen uint64
	// loading は実行中のリモート呼び出し数。
	loading int
}

// flight はキーごとに実行中のリモート呼び出し。キーあたり同時に1つまでしか存在しない。
type flight struct {
	cancel context.CancelFunc
	done   chan struct{}
	epoch  uint64
	// superseded はInvalidateで打ち切られたことを示す。呼び出し終了後に取得をやり直す。
	superseded bool
}

// snapshot はロック外へ持ち出すエントリの写し。
type snapshot struct {
	data        any
	hasData     bool
	err         error
	fetchedAt   time.Time
	invalidated bool
	loading     bool
}

// Cache はクエリキャッシュ。ゼロ値では使用できないためNewCacheで生成する。
type Cache struct {
	mu          sync.Mutex
	entries     map[Key]*entry
	flights     map[Key]*flight
	generations map[string]uint64
	// epoch はClearのたびに進み、Clear前に開始した取得結果の書き戻しを防ぐ。
	epoch uint64
	group singleflight.Group

	opts    Options
	logger  *slog.Logger
	metrics MetricsRecorder

	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int
}

// NewCache はCacheを生成する。
func NewCache(opts Options) *Cache {
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}
	if opts.GCTime <= 0 {
		opts.GCTime = DefaultGCTime
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var metrics MetricsRecorder = nopMetrics{}
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}
	return &Cache{
		entries:     make(map[Key]*entry),
		flights:     make(map[Key]*flight),
		generations: make(map[string]uint64),
		opts:        opts,
		logger:      logger,
		metrics:     metrics,
		subscribers: make(map[int]func(Event)),
	}
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) isFreshLocked(e *entry, now time.Time) bool {
	return e.hasData && !e.invalidated && now.Sub(e.fetchedAt) < c.opts.StaleTime
}

func (e *entry) snapshot() snapshot {
	return snapshot{
		data:        e.data,
		hasData:     e.hasData,
		err:         e.err,
		fetchedAt:   e.fetchedAt,
		invalidated: e.invalidated,
		loading:     e.loading > 0,
	}
}

// read はkeyのデータを返す。新鮮なデータがあればリモート呼び出しを行わない。
// そうでなければ取得を開始するか、実行中の取得に合流して結果を待つ。
// ctxが終了した場合は待機のみを打ち切り、取得自体は継続する。
func (c *Cache) read(ctx context.Context, key Key, fetch fetchFunc) snapshot {
	now := c.opts.Now()

	c.mu.Lock()
	epoch := c.epoch
	e := c.entryLocked(key)
	e.lastAccess = now
	if c.isFreshLocked(e, now) {
		snap := e.snapshot()
		c.mu.Unlock()
		c.metrics.RecordCacheHit(key.Resource)
		return snap
	}
	joining := e.loading > 0
	c.mu.Unlock()

	if joining {
		c.metrics.RecordDedup(key.Resource)
	} else {
		c.metrics.RecordCacheMiss(key.Resource)
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.runFetch(detached, key, fetch)
	})

	select {
	case res := <-ch:
		if res.Err == nil {
			return snapshot{data: res.Val, hasData: true, fetchedAt: c.opts.Now()}
		}
		return c.failedSnapshot(key, epoch, res.Err)
	case <-ctx.Done():
		return c.failedSnapshot(key, epoch, ctx.Err())
	}
}

// failedSnapshot は直前のデータとerrを組み合わせたスナップショットを返す。
// 読み取り開始後にClearされていれば、Clear後に取得されたデータは含めない。
func (c *Cache) failedSnapshot(key Key, epoch uint64, err error) snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := snapshot{err: err}
	if epoch != c.epoch {
		return snap
	}
	if e, ok := c.entries[key]; ok {
		snap = e.snapshot()
		snap.err = err
	}
	return snap
}

// runFetch はリモート呼び出しを実行し、結果をエントリへ書き戻す。
// 呼び出し中にInvalidateされた場合は結果を捨てて取得をやり直す。
// Clearで打ち切られた同じキーの呼び出しが残っている場合は、その終了を待ってから開始する。
func (c *Cache) runFetch(ctx context.Context, key Key, fetch fetchFunc) (any, error) {
	c.mu.Lock()
	c.entryLocked(key).loading++
	c.mu.Unlock()

	for {
		f, gen, wait := c.beginFlight(ctx, key)
		if wait != nil {
			<-wait
			continue
		}

		v, err := fetch(f.ctx)
		if c.endFlight(key, f.flight) {
			c.logger.Debug("refetching after invalidation",
				slog.String("key", key.String()),
			)
			continue
		}
		c.store(key, gen, f.epoch, v, err)
		return v, err
	}
}

type startedFlight struct {
	*flight
	ctx context.Context
}

// beginFlight はkeyの呼び出しを登録する。既存の呼び出しが残っている場合はその完了チャネルを返す。
func (c *Cache) beginFlight(ctx context.Context, key Key) (startedFlight, uint64, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.flights[key]; ok {
		return startedFlight{}, 0, prev.done
	}
	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	f := &flight{cancel: cancel, done: make(chan struct{}), epoch: c.epoch}
	c.flights[key] = f
	return startedFlight{flight: f, ctx: fetchCtx}, c.generations[key.Resource], nil
}

// endFlight は呼び出しの登録を解除し、取得をやり直すべきかを返す。
func (c *Cache) endFlight(key Key, f *flight) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	close(f.done)
	return f.superseded && f.epoch == c.epoch
}

func (c *Cache) store(key Key, gen, epoch uint64, v any, err error) {
	now := c.opts.Now()

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.logger.Debug("discarding fetch result started before cache clear",
			slog.String("key", key.String()),
		)
		return
	}
	e := c.entryLocked(key)
	if e.loading > 0 {
		e.loading--
	}
	e.lastAccess = now

	// 後発の取得が既に書き戻していれば古い結果で上書きしない
	if e.hasData && gen < e.dataGen {
		c.mu.Unlock()
		return
	}

	var ev Event
	if err != nil {
		e.err = err
		ev = Event{Type: EventFailed, Key: key, Err: err}
	} else {
		e.data = v
		e.hasData = true
		e.err = nil
		e.fetchedAt = now
		e.dataGen = gen
		e.invalidated = gen < c.generations[key.Resource]
		ev = Event{Type: EventPopulated, Key: key}
	}
	hadData := e.hasData
	c.mu.Unlock()

	if err != nil {
		kind := model.KindOf(err)
		c.metrics.RecordFetchFailure(key.Resource, string(kind))
		c.logger.Warn("リモートAPIからの取得に失敗しました",
			slog.String("key", key.String()),
			slog.String("kind", string(kind)),
			slog.Bool("stale_data_available", hadData),
			slog.String("error", err.Error()),
		)
	}
	c.publish(ev)
}

// observe はリモート呼び出しを行わずに現在のエントリの状態を返す。
func (c *Cache) observe(key Key) (snapshot, bool) {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return snapshot{}, false
	}
	e.lastAccess = now
	snap := e.snapshot()
	if e.hasData && now.Sub(e.fetchedAt) >= c.opts.StaleTime {
		snap.invalidated = true
	}
	return snap, true
}

// Invalidate は指定リソースの全エントリを無効化する。
// 無効化されたキーの次回の読み取りは必ずリモート呼び出しを行う。
// 実行中の取得はキャンセルされ、同じ呼び出しの中でやり直される。
// 待機中の読み取りと以降の読み取りはやり直した結果を受け取る。
func (c *Cache) Invalidate(resources ...string) {
	var events []Event

	c.mu.Lock()
	for _, r := range resources {
		c.generations[r]++
		for k, e := range c.entries {
			if k.Resource != r {
				continue
			}
			e.invalidated = true
			events = append(events, Event{Type: EventInvalidated, Key: k})
		}
		for k, f := range c.flights {
			if k.Resource != r {
				continue
			}
			f.superseded = true
			f.cancel()
		}
	}
	c.mu.Unlock()

	for _, r := range resources {
		c.metrics.RecordInvalidation(r)
	}
	if len(resources) > 0 {
		c.logger.Debug("cache invalidated",
			slog.Any("resources", resources),
			slog.Int("entries", len(events)),
		)
	}
	for _, ev := range events {
		c.publish(ev)
	}
}

// Clear は全エントリを破棄する。ログアウト時に使用する。
// 実行中の取得はキャンセルされ、その結果は書き戻されない。
func (c *Cache) Clear() {
	c.mu.Lock()
	c.epoch++
	for k, f := range c.flights {
		f.cancel()
		c.group.Forget(k.String())
	}
	events := make([]Event, 0, len(c.entries))
	for k := range c.entries {
		c.group.Forget(k.String())
		events = append(events, Event{Type: EventRemoved, Key: k})
	}
	c.entries = make(map[Key]*entry)
	c.mu.Unlock()

	for _, ev := range events {
		c.publish(ev)
	}
}

// Collect はGCTimeより長くアクセスされていないエントリを破棄し、破棄した件数を返す。
// 取得中のエントリは破棄しない。
func (c *Cache) Collect(now time.Time) int {
	var events []Event

	c.mu.Lock()
	for k, e := range c.entries {
		if e.loading > 0 || now.Sub(e.lastAccess) <= c.opts.GCTime {
			continue
		}
		delete(c.entries, k)
		events = append(events, Event{Type: EventRemoved, Key: k})
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.publish(ev)
	}
	return len(events)
}

// Len は保持しているエントリ数を返す。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Subscribe はキャッシュイベントを受け取る関数を登録し、登録解除関数を返す。
// 関数はイベントを発生させたgoroutineで同期的に呼ばれる。
func (c *Cache) Subscribe(fn func(Event)) func() {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subscribers, id)
		c.subMu.Unlock()
	}
}

func (c *Cache) publish(ev Event) {
	c.subMu.Lock()
	fns := make([]func(Event), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"postal-dispatch/internal/events"
	"postal-dispatch/internal/logger"
	"postal-dispatch/internal/metrics"
)

// Pool errors
var (
	ErrNoQueue      = errors.New("worker pool has no shared queue")
	ErrNoProcessor  = errors.New("worker pool has no processor")
	ErrPoolStopped  = errors.New("worker pool already stopped")
	ErrProcessPanic = errors.New("processor panicked")
)

// Processor はキューから取り出した要素を 1 つ処理する
// workerID は処理しているワーカーの番号（ログ用）
type Processor[T any] func(ctx context.Context, workerID int, item T) error

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers   int           // ワーカー数（0でCPU数）
	PollInterval time.Duration // 停止フラグを確認する間隔（Wait のタイムアウト）
	Name         string        // ログに出すワーカー名
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:   0,           // CPU数
		PollInterval: time.Second, // 1秒ごとに停止フラグを確認
		Name:         "worker",
	}
}

// Option はプールの追加設定
type Option func(*options)

type options struct {
	events  *events.Bus
	metrics *metrics.Metrics
}

// WithEvents はワーカーのイベントを bus に流す
func WithEvents(bus *events.Bus) Option {
	return func(o *options) { o.events = bus }
}

// WithMetrics は処理結果を m に記録する
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Pool は共有キューを消費する固定数のワーカーゴルーチンを管理する
type Pool[T any] struct {
	numWorkers int
	poll       time.Duration
	name       string
	shared     *Shared[T]
	process    Processor[T]
	events     *events.Bus
	metrics    *metrics.Metrics

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	mu      sync.Mutex

	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewPool は shared のキューを消費するワーカープールを作成する
// NumWorkers が 0 以下の場合は CPU 数を使用
func NewPool[T any](shared *Shared[T], config PoolConfig, process Processor[T], opts ...Option) *Pool[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	poll := config.PollInterval
	if poll <= 0 {
		poll = DefaultPoolConfig().PollInterval
	}
	name := config.Name
	if name == "" {
		name = DefaultPoolConfig().Name
	}

	return &Pool[T]{
		numWorkers: numWorkers,
		poll:       poll,
		name:       name,
		shared:     shared,
		process:    process,
		events:     o.events,
		metrics:    o.metrics,
	}
}

// Start はワーカーを起動する
// 共有キューや処理関数が無い場合は起動せずにエラーを返す（起動失敗は致命的）
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return nil
	}
	if p.shared == nil || p.shared.Queue == nil || p.shared.Stop == nil {
		return ErrNoQueue
	}
	if p.process == nil {
		return ErrNoProcessor
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for i := range p.numWorkers {
		p.wg.Add(1)
		go p.worker(i)
	}

	logger.Info("", "WorkerPool started with %d workers (poll %v)", p.numWorkers, p.poll)
	return nil
}

// worker は個々のワーカーゴルーチン
// 停止フラグを PollInterval ごとに確認しながら Wait と Pop を繰り返す
func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()

	source := fmt.Sprintf("%s#%d", p.name, id)
	logger.Debug(source, "Start %s", source)
	p.events.Publish(events.NewWorkerStartedEvent(source))

	q := p.shared.Queue
	for !p.shared.Stop.IsSet() && p.ctx.Err() == nil {
		if !q.WaitContext(p.ctx, p.poll) {
			continue // タイムアウトしたので停止フラグを確認してリトライ
		}
		item, ok := q.Pop()
		if !ok {
			continue // 他のワーカーに先に取られた
		}
		p.run(source, id, item)
	}

	logger.Debug(source, "Finish %s", source)
	p.events.Publish(events.NewWorkerStoppedEvent(source))
}

// run は要素を 1 つ処理する。失敗してもワーカーのループは続ける
func (p *Pool[T]) run(source string, id int, item T) {
	start := time.Now()
	done := p.metrics.Begin()

	err := p.safeProcess(id, item)
	done(err)

	if err != nil {
		p.failed.Add(1)
		logger.Warn(source, "Processing failed: %v", err)
		p.events.Publish(events.NewItemFailedEvent(source, err))
		return
	}
	p.processed.Add(1)
	p.events.Publish(events.NewItemProcessedEvent(source, time.Since(start)))
}

// safeProcess は処理関数の panic をエラーに変換する
func (p *Pool[T]) safeProcess(id int, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProcessPanic, r)
		}
	}()
	return p.process(p.ctx, id, item)
}

// Stop は停止フラグを立て、全ワーカーの終了を待つ
// 処理中の要素は最後まで処理される。キューに残った要素は破棄しない
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.shared.Stop.Set()
	p.wg.Wait()
	p.cancel()

	logger.Info("", "WorkerPool stopped (processed %d, failed %d)", p.processed.Load(), p.failed.Load())
}

// NumWorkers はワーカー数を返す
func (p *Pool[T]) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在キューに積まれている要素数を返す
func (p *Pool[T]) QueueSize() int {
	if p.shared == nil {
		return 0
	}
	return p.shared.Queue.Count()
}

// Processed は処理に成功した要素数を返す
func (p *Pool[T]) Processed() uint64 {
	return p.processed.Load()
}

// Failed は処理に失敗した要素数を返す
func (p *Pool[T]) Failed() uint64 {
	return p.failed.Load()
}

// Metrics はプールが記録しているメトリクスを返す
func (p *Pool[T]) Metrics() *metrics.Metrics {
	return p.metrics
}

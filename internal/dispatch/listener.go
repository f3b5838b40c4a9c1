package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"postal-dispatch/internal/events"
	"postal-dispatch/internal/logger"
	"postal-dispatch/internal/metrics"
	"postal-dispatch/internal/worker"
)

// Dispatch errors
var (
	ErrNoWork   = errors.New("no work arrived before the poll deadline")
	ErrNoSource = errors.New("listener has no source")
	ErrNoQueue  = errors.New("listener has no shared queue")
)

// Source は外部から届く作業単位を 1 つずつ受け付ける
// 一定時間内に何も届かなければ ErrNoWork を返すこと（停止フラグ確認のため）
type Source[T any] interface {
	Accept() (T, error)
}

// RejectFunc はキューが満杯で受け付けられなかった作業単位を処分する
type RejectFunc[T any] func(item T)

// Describer は作業単位がイベント・ログ用の識別情報を持つ場合に実装する
type Describer interface {
	Describe() (sessionID, remote string)
}

// Option はリスナーの追加設定
type Option func(*options)

type options struct {
	name    string
	events  *events.Bus
	metrics *metrics.Metrics
}

// WithName はログに出すリスナー名を設定する
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithEvents は受付・拒否のイベントを bus に流す
func WithEvents(bus *events.Bus) Option {
	return func(o *options) { o.events = bus }
}

// WithMetrics は受付・拒否を m に記録する
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Listener は作業単位を受け付けて共有キューに入れる
// キューが満杯なら待たずに RejectFunc で処分する。これが唯一の流量制御
type Listener[T any] struct {
	shared  *worker.Shared[T]
	source  Source[T]
	reject  RejectFunc[T]
	name    string
	events  *events.Bus
	metrics *metrics.Metrics

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewListener は shared のキューへ投入するリスナーを作成する
// reject が nil の場合、拒否した作業単位はそのまま捨てる
func NewListener[T any](shared *worker.Shared[T], source Source[T], reject RejectFunc[T], opts ...Option) *Listener[T] {
	o := options{name: "listener"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if reject == nil {
		reject = func(T) {}
	}
	return &Listener[T]{
		shared:  shared,
		source:  source,
		reject:  reject,
		name:    o.name,
		events:  o.events,
		metrics: o.metrics,
	}
}

// Run は停止フラグが立つか ctx が終了するまで受付を続ける
// 協調的に停止した場合と Source が io.EOF を返した場合は nil、
// 受付で回復できないエラーが起きた場合はそのエラーを返す
func (l *Listener[T]) Run(ctx context.Context) error {
	if l.source == nil {
		return ErrNoSource
	}
	if l.shared == nil || l.shared.Queue == nil || l.shared.Stop == nil {
		return ErrNoQueue
	}

	logger.Info(l.name, "Waiting for work (queue size %d)", l.shared.Queue.Size())

	for !l.stopping(ctx) {
		item, err := l.source.Accept()
		if err != nil {
			if errors.Is(err, ErrNoWork) {
				continue
			}
			if errors.Is(err, io.EOF) {
				logger.Info(l.name, "Source exhausted")
				break
			}
			if l.stopping(ctx) {
				// 停止中に受付側が閉じられた
				break
			}
			logger.Error(l.name, "Error on accept: %v", err)
			return fmt.Errorf("accept failed: %w", err)
		}

		if l.stopping(ctx) {
			// 受け付けたがキューに入れていないものは破棄する
			l.reject(item)
			break
		}

		l.dispatch(item)
	}

	logger.Info(l.name, "Stopped (accepted %d, rejected %d)", l.accepted.Load(), l.rejected.Load())
	return nil
}

// dispatch は 1 件をキューに入れ、満杯なら拒否する
func (l *Listener[T]) dispatch(item T) {
	sessionID, remote := describe(item)

	if !l.shared.Queue.Push(item) {
		l.rejected.Add(1)
		l.metrics.RecordRejected()
		logger.Warn(l.name, "Queue overflow, rejecting %s", remote)
		l.events.Publish(events.NewConnRejectedEvent(l.name, sessionID, remote))
		l.reject(item)
		return
	}

	l.accepted.Add(1)
	l.metrics.RecordAccepted()
	logger.Debug(l.name, "Queued %s", remote)
	l.events.Publish(events.NewConnAcceptedEvent(l.name, sessionID, remote, l.shared.Queue.Count()))
}

func (l *Listener[T]) stopping(ctx context.Context) bool {
	return l.shared.Stop.IsSet() || ctx.Err() != nil
}

// Accepted はキューに入れた数を返す
func (l *Listener[T]) Accepted() uint64 {
	return l.accepted.Load()
}

// Rejected は拒否した数を返す
func (l *Listener[T]) Rejected() uint64 {
	return l.rejected.Load()
}

func describe(item any) (string, string) {
	if d, ok := item.(Describer); ok {
		return d.Describe()
	}
	return "", fmt.Sprintf("%v", item)
}

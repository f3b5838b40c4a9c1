package worker

import (
	"sync/atomic"

	"postal-dispatch/internal/queue"
)

// StopFlag は協調的な停止要求を伝えるフラグ
// 停止を指示する側が一度だけ Set し、リスナーと各ワーカーがループごとに確認する
type StopFlag struct {
	set atomic.Bool
}

// Set は停止を要求する
func (f *StopFlag) Set() {
	f.set.Store(true)
}

// IsSet は停止が要求されているかを返す
func (f *StopFlag) IsSet() bool {
	return f.set.Load()
}

// Shared はリスナーとワーカーが共有する状態
// 各ゴルーチンの起点にはこれを明示的に渡す
type Shared[T any] struct {
	Queue *queue.Queue[T]
	Stop  *StopFlag
}

// NewShared は容量 capacity のキューと停止フラグを作成する
func NewShared[T any](capacity int) (*Shared[T], error) {
	q, err := queue.New[T](capacity)
	if err != nil {
		return nil, err
	}
	return &Shared[T]{
		Queue: q,
		Stop:  &StopFlag{},
	}, nil
}

// Close はキューを破棄する
// 全てのリスナーとワーカーが終了した後に呼ぶこと
func (s *Shared[T]) Close() {
	if s == nil {
		return
	}
	s.Queue.Destroy()
}
